package consensus

import (
	"context"

	"github.com/grailbio/base/log"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// Merger is the DCS stage: it pairs single-strand consensus records
// with their complementary-strand partners and synthesizes duplex
// consensus records by column-wise agreement. Records with no partner
// pass through to the leftover output unchanged.
type Merger struct {
	Provider bamprovider.Provider
	Opts     *Opts
	Metrics  *MetricsCollection
}

// Run reads the (sorted) SSCS input segment by segment and writes the
// duplex records to dcsPath and the unpaired records to leftoverPath.
func (m *Merger) Run(ctx context.Context, dcsPath, leftoverPath string) error {
	header, err := m.Provider.GetHeader()
	if err != nil {
		return err
	}
	segments, err := Segments(header, m.Opts.BedPath)
	if err != nil {
		return err
	}
	log.Debug.Printf("dcs: processing %d segments", len(segments))

	outputs, err := openOutputs(ctx, header, len(segments), dcsPath, leftoverPath)
	if err != nil {
		return err
	}
	err = runSegments(segments, m.Opts.parallelism(), outputs, m.processSegment)
	if cerr := finishOutputs(ctx, outputs); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (m *Merger) processSegment(shard gbam.Shard, comps []*gbam.ShardedBAMCompressor) error {
	dcsComp, leftoverComp := comps[0], comps[1]

	// The whole segment's consensus index must be materialized before
	// pairing: a partner may sit anywhere in the segment.
	type entry struct {
		key familyKey
		rec *sam.Record
	}
	var ordered []entry
	index := make(map[familyKey]*sam.Record)
	iter := m.Provider.NewIterator(shard)
	for iter.Scan() {
		rec := iter.Record()
		key, ok := keyFromRecord(rec)
		if !ok {
			log.Error.Printf("segment %d: consensus record %q has no UMI, passing through", shard.ShardIdx, rec.Name)
			if err := leftoverComp.AddRecord(rec); err != nil {
				return err
			}
			continue
		}
		if _, dup := index[key]; dup {
			log.Error.Printf("segment %d: duplicate consensus key %v, passing extra through", shard.ShardIdx, key)
			if err := leftoverComp.AddRecord(rec); err != nil {
				return err
			}
			continue
		}
		index[key] = rec
		ordered = append(ordered, entry{key, rec})
	}
	if err := iter.Err(); err != nil {
		iter.Close() // nolint: errcheck
		return err
	}
	if err := iter.Close(); err != nil {
		return err
	}

	metrics := &Metrics{}
	consumed := make(map[familyKey]bool)
	for _, ent := range ordered {
		if consumed[ent.key] {
			continue
		}
		consumed[ent.key] = true
		comp := ent.key.complement()
		partner, ok := index[comp]
		if !ok || consumed[comp] {
			metrics.UnpairedSSCS++
			if err := leftoverComp.AddRecord(ent.rec); err != nil {
				return err
			}
			continue
		}
		// The pair is consumed here, once, no matter which side was
		// seen first.
		consumed[comp] = true
		dcs := mergeDuplex(ent.key, ent.rec, comp, partner)
		metrics.DCS++
		if err := dcsComp.AddRecord(dcs); err != nil {
			return err
		}
	}
	m.Metrics.Merge(metrics, nil)
	return nil
}

// mergeDuplex builds the duplex consensus of two complementary-strand
// consensus records. A column keeps the shared base only when both
// strands agree and neither is N; everything else becomes N. The
// record whose UMI ordering is canonical serves as template, which
// makes the merge symmetric in its arguments. Partners of unequal
// length should not occur, but indel edge cases can produce them; the
// shorter length wins and the excess is dropped with a logged
// anomaly.
func mergeDuplex(aKey familyKey, a *sam.Record, bKey familyKey, b *sam.Record) *sam.Record {
	tKey, template := aKey, a
	if canonicalUMI(aKey.umi) != aKey.umi {
		tKey, template = bKey, b
	} else if aKey.umi == bKey.umi && aKey.reverse {
		// Palindromic UMI pair: fall back to the forward strand.
		tKey, template = bKey, b
	}

	seqA, seqB := a.Seq.Expand(), b.Seq.Expand()
	cols := len(seqA)
	if len(seqB) < cols {
		cols = len(seqB)
	}
	if len(seqA) != len(seqB) {
		log.Error.Printf("duplex partners %v and %v have lengths %d and %d; truncating to %d",
			aKey, bKey, len(seqA), len(seqB), cols)
	}

	consensus := make([]byte, cols)
	quals := make([]byte, cols)
	for i := 0; i < cols; i++ {
		if seqA[i] == seqB[i] && seqA[i] != 'N' {
			consensus[i] = seqA[i]
			quals[i] = minQual(a.Qual, b.Qual, i)
		} else {
			consensus[i] = 'N'
		}
	}

	rec := sam.GetFromFreePool()
	rec.Name = tKey.name(template.Ref)
	rec.Ref = template.Ref
	rec.Pos = template.Pos
	rec.MapQ = template.MapQ
	rec.Flags = template.Flags
	rec.Cigar = append(sam.Cigar(nil), template.Cigar...)
	rec.MateRef = template.MateRef
	rec.MatePos = template.MatePos
	rec.TempLen = template.TempLen
	rec.Seq = sam.NewSeq(consensus)
	rec.Qual = quals
	rec.AuxFields = append(rec.AuxFields, newAux(rcTag, "dcs"))
	return rec
}

func minQual(a, b []byte, i int) byte {
	var qa, qb byte
	if i < len(a) {
		qa = a[i]
	}
	if i < len(b) {
		qb = b[i]
	}
	if qa < qb {
		return qa
	}
	return qb
}
