package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/crunch/consensus"
)

// Opts configures one sample's run through the sequencer.
type Opts struct {
	// InputBAM is the sorted, indexed, barcode-tagged alignment file.
	InputBAM string
	// OutputDir is the project directory; the sample gets a
	// subdirectory named after the input file.
	OutputDir string
	// Consensus carries the engine configuration (region list,
	// cutoff, parallelism).
	Consensus consensus.Opts
	// SingletonCorrection enables the SC stages. Default on.
	SingletonCorrection bool
	// Cleanup removes intermediate artifacts at finalization.
	Cleanup bool
}

// stageTiming records how long one transition took.
type stageTiming struct {
	stage   string
	elapsed time.Duration
}

// Sequencer drives one sample RAW -> FINALIZED. Samples are
// independent: a failure halts this sample only, leaves completed
// artifacts in place, and performs no rollback.
type Sequencer struct {
	Opts    Opts
	Tool    ExternalTool
	Metrics *consensus.MetricsCollection

	state   State
	timings []stageTiming
	art     artifacts

	// Sorted artifact paths, filled in as sort transitions complete.
	sortedSSCS          string
	sortedSingleton     string
	sortedDCS           string
	sortedSSCSSingleton string
	sortedSSCSCor       string
	sortedSingletonCor  string
	sortedUncorrected   string
	sortedSSCSSC        string
	sortedDCSSC         string
	sortedSCSingleton   string
	sortedAllUnique     string
}

// artifacts holds the per-sample directory layout.
type artifacts struct {
	id        string
	sampleDir string
}

func newArtifacts(inputBAM, outputDir string) artifacts {
	id := strings.TrimSuffix(filepath.Base(inputBAM), ".bam")
	id = strings.TrimSuffix(id, ".sorted")
	return artifacts{id: id, sampleDir: filepath.Join(outputDir, id)}
}

func (a *artifacts) path(subdir, suffix string) string {
	return filepath.Join(a.sampleDir, subdir, a.id+suffix)
}

func (a *artifacts) rootPath(suffix string) string {
	return filepath.Join(a.sampleDir, a.id+suffix)
}

// State returns the sample's current checkpoint.
func (s *Sequencer) State() State { return s.state }

// SampleDir returns the per-sample output directory.
func (s *Sequencer) SampleDir() string {
	return s.art.sampleDir
}

// FinalBAM returns the all-unique-molecules path; valid once the
// sample reaches MERGED.
func (s *Sequencer) FinalBAM() string { return s.sortedAllUnique }

// Run advances the sample through every transition to FINALIZED.
func (s *Sequencer) Run(ctx context.Context) error {
	s.art = newArtifacts(s.Opts.InputBAM, s.Opts.OutputDir)
	if s.Metrics == nil {
		s.Metrics = consensus.NewMetricsCollection()
	}
	if err := os.MkdirAll(s.art.sampleDir, 0775); err != nil {
		return err
	}
	for s.state != StateFinalized {
		next := Next(s.state, s.Opts.SingletonCorrection)
		start := time.Now()
		if err := s.transition(ctx, next); err != nil {
			return errors.E(err, fmt.Sprintf("sample %s: transition %s -> %s failed", s.art.id, s.state, next))
		}
		s.timings = append(s.timings, stageTiming{next.String(), time.Since(start)})
		log.Debug.Printf("sample %s: reached %s in %v", s.art.id, next, s.timings[len(s.timings)-1].elapsed)
		s.state = next
	}
	return nil
}

func (s *Sequencer) transition(ctx context.Context, next State) error {
	switch next {
	case StateSSCSDone:
		return s.runSSCS(ctx)
	case StateSSCSSorted:
		return s.sortSSCS(ctx)
	case StateDCSDone:
		return s.runDCS(ctx)
	case StateDCSSorted:
		return s.sortDCS(ctx)
	case StateSCDone:
		return s.runCorrection(ctx)
	case StateSCSorted:
		return s.sortCorrection(ctx)
	case StateMerged:
		return s.runMerge(ctx)
	case StateFinalized:
		return s.finalize()
	}
	return fmt.Errorf("unexpected transition to %s", next)
}

func (s *Sequencer) runSSCS(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.art.sampleDir, "sscs"), 0775); err != nil {
		return err
	}
	provider := bamprovider.NewProvider(s.Opts.InputBAM, bamprovider.ProviderOpts{})
	caller := &consensus.Caller{Provider: provider, Opts: &s.Opts.Consensus, Metrics: s.Metrics}
	err := caller.Run(ctx,
		s.art.path("sscs", ".sscs.bam"),
		s.art.path("sscs", ".singleton.bam"),
		s.art.path("sscs", ".badreads.bam"))
	if cerr := provider.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Sequencer) sortSSCS(ctx context.Context) (err error) {
	if s.sortedSSCS, err = s.Tool.SortIndex(ctx, s.art.path("sscs", ".sscs.bam")); err != nil {
		return err
	}
	s.sortedSingleton, err = s.Tool.SortIndex(ctx, s.art.path("sscs", ".singleton.bam"))
	return err
}

// duplexPassMetrics returns the collection the first duplex pass
// reports into. With correction enabled that pass is a staging step:
// the pass over sscs.sc re-pairs every consensus record, so letting
// both passes report would count each duplex molecule and each
// unpaired record twice. Only the pass whose output reaches the final
// merge feeds the sample's statistics.
func (s *Sequencer) duplexPassMetrics() *consensus.MetricsCollection {
	if s.Opts.SingletonCorrection {
		return consensus.NewMetricsCollection()
	}
	return s.Metrics
}

func (s *Sequencer) runDCS(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.art.sampleDir, "dcs"), 0775); err != nil {
		return err
	}
	provider := bamprovider.NewProvider(s.sortedSSCS, bamprovider.ProviderOpts{})
	merger := &consensus.Merger{Provider: provider, Opts: &s.Opts.Consensus, Metrics: s.duplexPassMetrics()}
	err := merger.Run(ctx,
		s.art.path("dcs", ".dcs.bam"),
		s.art.path("dcs", ".sscs.singleton.bam"))
	if cerr := provider.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Sequencer) sortDCS(ctx context.Context) (err error) {
	if s.sortedDCS, err = s.Tool.SortIndex(ctx, s.art.path("dcs", ".dcs.bam")); err != nil {
		return err
	}
	s.sortedSSCSSingleton, err = s.Tool.SortIndex(ctx, s.art.path("dcs", ".sscs.singleton.bam"))
	return err
}

func (s *Sequencer) runCorrection(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(s.art.sampleDir, "sscs_sc"), 0775); err != nil {
		return err
	}
	singletons := bamprovider.NewProvider(s.sortedSingleton, bamprovider.ProviderOpts{})
	sscs := bamprovider.NewProvider(s.sortedSSCS, bamprovider.ProviderOpts{})
	corrector := &consensus.Corrector{
		Singletons: singletons,
		SSCS:       sscs,
		Opts:       &s.Opts.Consensus,
		Metrics:    s.Metrics,
	}
	err := corrector.Run(ctx,
		s.art.path("sscs_sc", ".sscs.correction.bam"),
		s.art.path("sscs_sc", ".singleton.correction.bam"),
		s.art.path("sscs_sc", ".uncorrected.bam"))
	e := errors.Once{}
	e.Set(err)
	e.Set(singletons.Close())
	e.Set(sscs.Close())
	return e.Err()
}

func (s *Sequencer) sortCorrection(ctx context.Context) (err error) {
	if s.sortedSSCSCor, err = s.Tool.SortIndex(ctx, s.art.path("sscs_sc", ".sscs.correction.bam")); err != nil {
		return err
	}
	if s.sortedSingletonCor, err = s.Tool.SortIndex(ctx, s.art.path("sscs_sc", ".singleton.correction.bam")); err != nil {
		return err
	}
	if s.sortedUncorrected, err = s.Tool.SortIndex(ctx, s.art.path("sscs_sc", ".uncorrected.bam")); err != nil {
		return err
	}
	// SSCS + SC: the consensus records plus every corrected singleton.
	sscsSC := s.art.path("sscs_sc", ".sscs.sc.bam")
	if _, err = consensus.MergeBAMs(sscsSC, s.sortedSSCS, s.sortedSSCSCor, s.sortedSingletonCor); err != nil {
		return err
	}
	s.sortedSSCSSC, err = s.Tool.SortIndex(ctx, sscsSC)
	return err
}

// runMerge produces the final all-unique-molecules BAM. With
// correction enabled, corrected singletons get a second duplex pass
// (they may now have duplex partners) and the union is DCS+SC, its
// unpaired leftovers, and the uncorrected singletons. Without
// correction the union is DCS, unpaired SSCS, and singletons.
func (s *Sequencer) runMerge(ctx context.Context) error {
	var inputs []string
	var allUnique string
	if s.Opts.SingletonCorrection {
		if err := os.MkdirAll(filepath.Join(s.art.sampleDir, "dcs_sc"), 0775); err != nil {
			return err
		}
		provider := bamprovider.NewProvider(s.sortedSSCSSC, bamprovider.ProviderOpts{})
		merger := &consensus.Merger{Provider: provider, Opts: &s.Opts.Consensus, Metrics: s.Metrics}
		err := merger.Run(ctx,
			s.art.path("dcs_sc", ".dcs.sc.bam"),
			s.art.path("dcs_sc", ".sscs.sc.singleton.bam"))
		if cerr := provider.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		if s.sortedDCSSC, err = s.Tool.SortIndex(ctx, s.art.path("dcs_sc", ".dcs.sc.bam")); err != nil {
			return err
		}
		if s.sortedSCSingleton, err = s.Tool.SortIndex(ctx, s.art.path("dcs_sc", ".sscs.sc.singleton.bam")); err != nil {
			return err
		}
		allUnique = s.art.path("dcs_sc", ".all.unique.dcs.bam")
		inputs = []string{s.sortedDCSSC, s.sortedSCSingleton, s.sortedUncorrected}
	} else {
		allUnique = s.art.path("dcs", ".all.unique.dcs.bam")
		inputs = []string{s.sortedDCS, s.sortedSSCSSingleton, s.sortedSingleton}
	}
	n, err := consensus.MergeBAMs(allUnique, inputs...)
	if err != nil {
		return err
	}
	s.Metrics.Merge(&consensus.Metrics{FinalMolecules: n}, nil)
	s.sortedAllUnique, err = s.Tool.SortIndex(ctx, allUnique)
	return err
}

func (s *Sequencer) finalize() error {
	if err := s.Metrics.WriteStats(s.art.rootPath(".stats.txt")); err != nil {
		return err
	}
	if err := s.Metrics.WriteHistogram(s.art.rootPath(".read_families.txt")); err != nil {
		return err
	}
	if err := s.writeTimingLog(s.art.rootPath(".time_tracker.txt")); err != nil {
		return err
	}
	if err := consensus.WriteFamilySizePlot(s.Metrics.FamilySizes(), s.art.rootPath(".tag_fam_size.png")); err != nil {
		return err
	}
	if s.Opts.Cleanup {
		s.cleanup()
	}
	return nil
}

func (s *Sequencer) writeTimingLog(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, t := range s.timings {
		fmt.Fprintf(f, "%s\t%v\n", t.stage, t.elapsed)
	}
	return f.Close()
}

// cleanup removes intermediates that are recoverable from the merged
// outputs. Removal failures are logged, not fatal: cleanup is best
// effort and the sample is already FINALIZED in substance.
func (s *Sequencer) cleanup() {
	intermediates := []string{
		s.art.path("sscs", ".badreads.bam"),
		s.sortedSSCSSingleton, s.sortedSSCSSingleton + ".bai",
		s.art.rootPath(".time_tracker.txt"),
	}
	if s.Opts.SingletonCorrection {
		intermediates = append(intermediates,
			s.sortedSSCSCor, s.sortedSSCSCor+".bai",
			s.sortedSingletonCor, s.sortedSingletonCor+".bai",
			s.sortedUncorrected, s.sortedUncorrected+".bai",
			s.sortedSCSingleton, s.sortedSCSingleton+".bai",
		)
	}
	for _, path := range intermediates {
		if path == "" || path == ".bai" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Error.Printf("cleanup: %v", err)
		}
	}
}
