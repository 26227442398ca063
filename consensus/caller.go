package consensus

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// Caller is the SSCS stage: it groups one sample's reads into
// families and emits one consensus record per family of two or more
// reads, one singleton record per family of one, and a bad-reads
// record for everything that could not join a family.
type Caller struct {
	Provider bamprovider.Provider
	Opts     *Opts
	Metrics  *MetricsCollection
}

// Run processes every segment of the input and writes the three
// output BAMs. Outputs are unsorted; sorting and indexing are the
// sequencer's business.
func (c *Caller) Run(ctx context.Context, sscsPath, singletonPath, badReadsPath string) error {
	header, err := c.Provider.GetHeader()
	if err != nil {
		return err
	}
	segments, err := Segments(header, c.Opts.BedPath)
	if err != nil {
		return err
	}
	log.Debug.Printf("sscs: processing %d segments", len(segments))

	outputs, err := openOutputs(ctx, header, len(segments), sscsPath, singletonPath, badReadsPath)
	if err != nil {
		return err
	}
	err = runSegments(segments, c.Opts.parallelism(), outputs, c.processSegment)
	if cerr := finishOutputs(ctx, outputs); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (c *Caller) processSegment(shard gbam.Shard, comps []*gbam.ShardedBAMCompressor) error {
	sscsComp, singletonComp, badComp := comps[0], comps[1], comps[2]
	iter := c.Provider.NewIterator(shard)
	metrics := &Metrics{}
	e := errors.Once{}
	families, err := collectFamilies(iter, metrics, func(r *sam.Record) {
		e.Set(badComp.AddRecord(r))
	})
	e.Set(err)
	e.Set(iter.Close())
	if e.Err() != nil {
		return e.Err()
	}

	hist := make(map[int]int)
	for i := range families {
		fam := &families[i]
		metrics.Families++
		hist[fam.size()]++
		if fam.size() == 1 {
			// A singleton is its own consensus; its bases pass through
			// verbatim and it stays eligible for correction.
			metrics.Singletons++
			if err := singletonComp.AddRecord(fam.reads[0]); err != nil {
				return err
			}
			continue
		}
		rec := callConsensus(fam, c.Opts.Cutoff)
		metrics.SSCS++
		if err := sscsComp.AddRecord(rec); err != nil {
			return err
		}
	}
	c.Metrics.Merge(metrics, hist)
	return nil
}
