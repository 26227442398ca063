package consensus

import (
	"math/big"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

const maxQual = 93

var (
	fsTag = sam.NewTag("FS")
	rcTag = sam.NewTag("RC")
)

// callConsensus computes the majority-vote consensus of a family of
// two or more reads. A column is called with its majority base iff
// count/familySize >= cutoff under exact rational comparison; a
// fraction exactly at the cutoff calls the base. Columns where no
// base meets the cutoff are called N with quality 0. The vote
// denominator is always the family size, so reads too short to cover
// a column count against it. The consensus spans the template (first
// read), whose CIGAR the record inherits; reads of one family share a
// key, so a member only outruns the template when indels shifted its
// query span, and those excess bases have no CIGAR to describe them
// and are dropped.
func callConsensus(fam *family, cutoff *big.Rat) *sam.Record {
	size := fam.size()
	template := fam.reads[0]
	seqs := make([][]byte, size)
	cols := template.Seq.Length
	for i, r := range fam.reads {
		seqs[i] = r.Seq.Expand()
		if len(seqs[i]) > cols {
			log.Debug.Printf("family %v: read %s outruns template by %d bases, ignoring the excess",
				fam.key, r.Name, len(seqs[i])-cols)
		}
	}

	consensus := make([]byte, cols)
	quals := make([]byte, cols)
	for col := 0; col < cols; col++ {
		consensus[col], quals[col] = voteColumn(fam, seqs, col, size, cutoff)
	}

	rec := sam.GetFromFreePool()
	rec.Name = fam.key.name(template.Ref)
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
	rec.AuxFields = append(rec.AuxFields, newAux(fsTag, size), newAux(rcTag, "sscs"))
	return rec
}

// voteColumn tallies one alignment column. Candidate bases keep their
// first-seen order, which breaks count ties deterministically given
// the grouper's read order. N never wins a vote; it only marks the
// absence of one.
func voteColumn(fam *family, seqs [][]byte, col, size int, cutoff *big.Rat) (byte, byte) {
	var order []byte
	counts := make(map[byte]int)
	qualSums := make(map[byte]int)
	for i, seq := range seqs {
		if col >= len(seq) {
			continue
		}
		base := seq[col]
		if base == 'N' || base == 'n' {
			continue
		}
		if _, seen := counts[base]; !seen {
			order = append(order, base)
		}
		counts[base]++
		if col < len(fam.reads[i].Qual) {
			qualSums[base] += int(fam.reads[i].Qual[col])
		}
	}
	var winner byte
	best := 0
	for _, base := range order {
		if counts[base] > best {
			winner = base
			best = counts[base]
		}
	}
	if winner == 0 {
		return 'N', 0
	}
	frac := new(big.Rat).SetFrac64(int64(best), int64(size))
	if frac.Cmp(cutoff) < 0 {
		return 'N', 0
	}
	q := qualSums[winner]
	if q > maxQual {
		q = maxQual
	}
	return winner, byte(q)
}

func newAux(tag sam.Tag, value interface{}) sam.Aux {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		log.Fatalf("error creating %v:%v tag: %v", tag, value, err)
	}
	return aux
}
