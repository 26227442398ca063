package consensus

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/grailbio/hts/sam"
)

// umiRe matches the UMI pair embedded in a read name, e.g.
// "E100:1:FC:8:1234:ACGTA+TTGCA". The first half is the read's own
// barcode, the second its mate's.
var umiRe = regexp.MustCompile(`([ACGTNacgtn]+)\+([ACGTNacgtn]+)`)

// familyKey identifies one read family: all reads with the same key
// derive from the same strand of the same source molecule (up to UMI
// collisions, which are accepted as statistically rare).
type familyKey struct {
	refID   int
	start   int // alignment start, 0-based
	end     int // alignment end from the CIGAR
	reverse bool
	umi     string // "AAA+TTT", own barcode first
}

// complement returns the key the complementary strand's family would
// have: same coordinates, strand flipped, UMI halves swapped.
func (k familyKey) complement() familyKey {
	k.reverse = !k.reverse
	k.umi = swapUMI(k.umi)
	return k
}

func (k familyKey) strandChar() byte {
	if k.reverse {
		return '-'
	}
	return '+'
}

func swapUMI(umi string) string {
	i := strings.IndexByte(umi, '+')
	if i < 0 {
		return umi
	}
	return umi[i+1:] + "+" + umi[:i]
}

// canonicalUMI returns the lexicographically smaller of the two
// orderings of a UMI pair, so that both strands of a molecule map to
// one name.
func canonicalUMI(umi string) string {
	if s := swapUMI(umi); s < umi {
		return s
	}
	return umi
}

// umiFromName extracts the UMI pair from a read name, upper-cased.
// ok is false when the name carries no parseable pair.
func umiFromName(name string) (string, bool) {
	m := umiRe.FindString(name)
	if m == "" {
		return "", false
	}
	return strings.ToUpper(m), true
}

// keyFromRecord derives the family key of a mapped record. Returns ok
// false for records without a UMI in the name.
func keyFromRecord(r *sam.Record) (familyKey, bool) {
	umi, ok := umiFromName(r.Name)
	if !ok {
		return familyKey{}, false
	}
	return familyKey{
		refID:   r.Ref.ID(),
		start:   r.Pos,
		end:     r.End(),
		reverse: r.Flags&sam.Reverse != 0,
		umi:     umi,
	}, true
}

// name renders the key as a consensus read name. The UMI stays in the
// read's own ordering so the complementary consensus remains
// distinguishable downstream.
func (k familyKey) name(ref *sam.Reference) string {
	return fmt.Sprintf("%s:%s:%d:%d:%c", k.umi, ref.Name(), k.start, k.end, k.strandChar())
}

func (k familyKey) String() string {
	return fmt.Sprintf("(%d,%d,%d,%c,%s)", k.refID, k.start, k.end, k.strandChar(), k.umi)
}

// less orders keys for deterministic family emission: ascending by
// start, end, strand, then UMI pair.
func (k familyKey) less(o familyKey) bool {
	if k.refID != o.refID {
		return k.refID < o.refID
	}
	if k.start != o.start {
		return k.start < o.start
	}
	if k.end != o.end {
		return k.end < o.end
	}
	if k.reverse != o.reverse {
		return !k.reverse
	}
	return k.umi < o.umi
}
