package consensus

import (
	"context"

	"github.com/grailbio/base/log"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// Corrector is the singleton correction stage. A singleton whose
// complementary strand produced a consensus is rewritten against that
// consensus; failing that, a complementary-strand singleton can vouch
// for it instead. Singletons with no complementary evidence pass
// through to the uncorrected output unchanged.
type Corrector struct {
	// Singletons yields the singleton records, SSCS the consensus
	// records, both from the sorted SSCS-stage outputs.
	Singletons bamprovider.Provider
	SSCS       bamprovider.Provider
	Opts       *Opts
	Metrics    *MetricsCollection
}

// Run writes three outputs: singletons corrected against an SSCS,
// singletons corrected against a complementary singleton, and
// singletons left uncorrected.
func (c *Corrector) Run(ctx context.Context, sscsCorrectionPath, singletonCorrectionPath, uncorrectedPath string) error {
	header, err := c.Singletons.GetHeader()
	if err != nil {
		return err
	}
	segments, err := Segments(header, c.Opts.BedPath)
	if err != nil {
		return err
	}
	log.Debug.Printf("singleton correction: processing %d segments", len(segments))

	outputs, err := openOutputs(ctx, header, len(segments),
		sscsCorrectionPath, singletonCorrectionPath, uncorrectedPath)
	if err != nil {
		return err
	}
	err = runSegments(segments, c.Opts.parallelism(), outputs, c.processSegment)
	if cerr := finishOutputs(ctx, outputs); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (c *Corrector) processSegment(shard gbam.Shard, comps []*gbam.ShardedBAMCompressor) error {
	sscsCorComp, singleCorComp, uncorrectedComp := comps[0], comps[1], comps[2]

	sscsIndex, _, err := indexByKey(c.SSCS, shard)
	if err != nil {
		return err
	}
	singletonIndex, ordered, err := indexByKey(c.Singletons, shard)
	if err != nil {
		return err
	}

	metrics := &Metrics{}
	for _, ent := range ordered {
		comp := ent.key.complement()
		if cons, ok := sscsIndex[comp]; ok {
			metrics.CorrectedSSCS++
			if err := sscsCorComp.AddRecord(correctWithConsensus(ent.rec, cons)); err != nil {
				return err
			}
			continue
		}
		if partner, ok := singletonIndex[comp]; ok {
			metrics.CorrectedSingleton++
			if err := singleCorComp.AddRecord(correctWithSingleton(ent.rec, partner)); err != nil {
				return err
			}
			continue
		}
		metrics.Uncorrected++
		if err := uncorrectedComp.AddRecord(ent.rec); err != nil {
			return err
		}
	}
	c.Metrics.Merge(metrics, nil)
	return nil
}

type keyedRecord struct {
	key familyKey
	rec *sam.Record
}

// indexByKey drains one segment of a provider into a key index plus
// the input-ordered record list. Records without a derivable key are
// dropped with a logged anomaly; they were already routed to bad
// reads by the SSCS stage.
func indexByKey(provider bamprovider.Provider, shard gbam.Shard) (map[familyKey]*sam.Record, []keyedRecord, error) {
	index := make(map[familyKey]*sam.Record)
	var ordered []keyedRecord
	iter := provider.NewIterator(shard)
	for iter.Scan() {
		rec := iter.Record()
		key, ok := keyFromRecord(rec)
		if !ok {
			log.Error.Printf("segment %d: record %q has no UMI, dropping from correction index", shard.ShardIdx, rec.Name)
			continue
		}
		if _, dup := index[key]; !dup {
			index[key] = rec
		}
		ordered = append(ordered, keyedRecord{key, rec})
	}
	if err := iter.Err(); err != nil {
		iter.Close() // nolint: errcheck
		return nil, nil, err
	}
	return index, ordered, iter.Close()
}

// correctWithConsensus rewrites a singleton against its complementary
// strand's consensus: wherever the consensus called a base, that base
// replaces the singleton's, keeping the larger of the two qualities;
// N columns keep the singleton's own base. Length differences keep
// the singleton's own tail.
func correctWithConsensus(single, cons *sam.Record) *sam.Record {
	rec := cloneRecord(single)
	seq := rec.Seq.Expand()
	consSeq := cons.Seq.Expand()
	cols := len(seq)
	if len(consSeq) < cols {
		cols = len(consSeq)
	}
	for i := 0; i < cols; i++ {
		if consSeq[i] == 'N' {
			continue
		}
		seq[i] = consSeq[i]
		if i < len(cons.Qual) && i < len(rec.Qual) && cons.Qual[i] > rec.Qual[i] {
			rec.Qual[i] = cons.Qual[i]
		}
	}
	rec.Seq = sam.NewSeq(seq)
	rec.AuxFields = append(rec.AuxFields, newAux(rcTag, "sc.sscs"))
	return rec
}

// correctWithSingleton rewrites a singleton against the only other
// observation of its molecule, a complementary-strand singleton.
// With no family vote on either side, only agreement is trustworthy:
// matching columns keep the base, disagreements become N. This
// mirrors the duplex column rule.
func correctWithSingleton(single, partner *sam.Record) *sam.Record {
	rec := cloneRecord(single)
	seq := rec.Seq.Expand()
	partnerSeq := partner.Seq.Expand()
	cols := len(seq)
	if len(partnerSeq) < cols {
		cols = len(partnerSeq)
	}
	for i := 0; i < cols; i++ {
		if seq[i] != partnerSeq[i] || seq[i] == 'N' {
			seq[i] = 'N'
			if i < len(rec.Qual) {
				rec.Qual[i] = 0
			}
		}
	}
	rec.Seq = sam.NewSeq(seq)
	rec.AuxFields = append(rec.AuxFields, newAux(rcTag, "sc.singleton"))
	return rec
}
