package consensus

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
)

// Metrics counts what one stage saw. Counters are cumulative across
// segments of one sample.
type Metrics struct {
	// TotalReads is the number of input records examined by the SSCS
	// stage, bad reads included.
	TotalReads int
	// BadReads is the number of records that could not join a family:
	// unmapped, secondary, supplementary, or missing a UMI.
	BadReads int
	// Families is the number of families formed (singletons included).
	Families int
	// Singletons is the number of size-1 families.
	Singletons int
	// SSCS is the number of single-strand consensus records emitted.
	SSCS int
	// DCS is the number of duplex consensus records emitted.
	DCS int
	// UnpairedSSCS is the number of SSCS that found no duplex partner.
	UnpairedSSCS int
	// CorrectedSSCS / CorrectedSingleton / Uncorrected partition the
	// singletons once the correction stage has run.
	CorrectedSSCS      int
	CorrectedSingleton int
	Uncorrected        int
	// FinalMolecules is the record count of the all-unique output.
	FinalMolecules int
}

// Add adds other's counters to m.
func (m *Metrics) Add(other *Metrics) {
	m.TotalReads += other.TotalReads
	m.BadReads += other.BadReads
	m.Families += other.Families
	m.Singletons += other.Singletons
	m.SSCS += other.SSCS
	m.DCS += other.DCS
	m.UnpairedSSCS += other.UnpairedSSCS
	m.CorrectedSSCS += other.CorrectedSSCS
	m.CorrectedSingleton += other.CorrectedSingleton
	m.Uncorrected += other.Uncorrected
	m.FinalMolecules += other.FinalMolecules
}

// MetricsCollection accumulates metrics and the family-size histogram
// across segments and stages of one sample. Thread safe.
type MetricsCollection struct {
	mu          sync.Mutex
	metrics     Metrics
	familySizes map[int]int
}

// NewMetricsCollection returns an empty collection.
func NewMetricsCollection() *MetricsCollection {
	return &MetricsCollection{familySizes: map[int]int{}}
}

// Merge folds one segment's metrics and histogram into the totals.
func (mc *MetricsCollection) Merge(m *Metrics, familySizes map[int]int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.Add(m)
	for size, n := range familySizes {
		mc.familySizes[size] += n
	}
}

// Metrics returns a copy of the current totals.
func (mc *MetricsCollection) Metrics() Metrics {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.metrics
}

// FamilySizes returns a copy of the family-size histogram.
func (mc *MetricsCollection) FamilySizes() map[int]int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	h := make(map[int]int, len(mc.familySizes))
	for k, v := range mc.familySizes {
		h[k] = v
	}
	return h
}

// String renders the stats file body.
func (mc *MetricsCollection) String() string {
	m := mc.Metrics()
	var meanFamily float64
	if m.Families > 0 {
		meanFamily = float64(m.TotalReads-m.BadReads) / float64(m.Families)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Consensus summary\n")
	fmt.Fprintf(&b, "Total reads:\t%d\n", m.TotalReads)
	fmt.Fprintf(&b, "Bad reads:\t%d\n", m.BadReads)
	fmt.Fprintf(&b, "Families:\t%d\n", m.Families)
	fmt.Fprintf(&b, "Mean family size:\t%0.2f\n", meanFamily)
	fmt.Fprintf(&b, "Singletons:\t%d\n", m.Singletons)
	fmt.Fprintf(&b, "SSCS built:\t%d\n", m.SSCS)
	fmt.Fprintf(&b, "DCS built:\t%d\n", m.DCS)
	fmt.Fprintf(&b, "SSCS without duplex:\t%d\n", m.UnpairedSSCS)
	fmt.Fprintf(&b, "Singletons corrected by SSCS:\t%d\n", m.CorrectedSSCS)
	fmt.Fprintf(&b, "Singletons corrected by singleton:\t%d\n", m.CorrectedSingleton)
	fmt.Fprintf(&b, "Singletons uncorrected:\t%d\n", m.Uncorrected)
	fmt.Fprintf(&b, "Unique molecules:\t%d\n", m.FinalMolecules)
	return b.String()
}

// HistogramString renders the family-size histogram, one
// "size<TAB>count" line per observed size, ascending.
func (mc *MetricsCollection) HistogramString() string {
	hist := mc.FamilySizes()
	sizes := make([]int, 0, len(hist))
	for size := range hist {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	var b strings.Builder
	for _, size := range sizes {
		fmt.Fprintf(&b, "%d\t%d\n", size, hist[size])
	}
	return b.String()
}

// WriteStats writes the stats file to path.
func (mc *MetricsCollection) WriteStats(path string) error {
	return writeTextFile(path, mc.String())
}

// WriteHistogram writes the family-size histogram to path.
func (mc *MetricsCollection) WriteHistogram(path string) error {
	return writeTextFile(path, mc.HistogramString())
}

func writeTextFile(path, body string) error {
	ctx := vcontext.Background()
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "couldn't create file:", path)
	}
	if _, err := out.Writer(ctx).Write([]byte(body)); err != nil {
		out.Close(ctx) // nolint: errcheck
		return errors.E(err, "error writing to file:", path)
	}
	return out.Close(ctx)
}
