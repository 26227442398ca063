package consensus

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
)

func TestSwapUMI(t *testing.T) {
	assert.Equal(t, "TTT+AAA", swapUMI("AAA+TTT"))
	assert.Equal(t, "AAA+TTT", swapUMI(swapUMI("AAA+TTT")))
	// No separator: returned as is.
	assert.Equal(t, "AAATTT", swapUMI("AAATTT"))
}

func TestCanonicalUMI(t *testing.T) {
	assert.Equal(t, "AAA+TTT", canonicalUMI("AAA+TTT"))
	assert.Equal(t, "AAA+TTT", canonicalUMI("TTT+AAA"))
	assert.Equal(t, "CGC+CGC", canonicalUMI("CGC+CGC"))
}

func TestUMIFromName(t *testing.T) {
	umi, ok := umiFromName("E100:1:FC:8:1234:ACGTA+TTGCA")
	assert.True(t, ok)
	assert.Equal(t, "ACGTA+TTGCA", umi)

	umi, ok = umiFromName("E100:1:FC:8:1234:acgta+ttgca")
	assert.True(t, ok)
	assert.Equal(t, "ACGTA+TTGCA", umi)

	_, ok = umiFromName("E100:1:FC:8:1234")
	assert.False(t, ok)
}

func TestComplement(t *testing.T) {
	k := familyKey{refID: 0, start: 10, end: 110, reverse: false, umi: "AAA+TTT"}
	c := k.complement()
	assert.Equal(t, familyKey{refID: 0, start: 10, end: 110, reverse: true, umi: "TTT+AAA"}, c)
	// Complement is an involution.
	assert.Equal(t, k, c.complement())
}

func TestKeyFromRecord(t *testing.T) {
	r := newRead("x:AAA+TTT", chr1, 100, fwd, "ACGT", "####")
	key, ok := keyFromRecord(r)
	assert.True(t, ok)
	assert.Equal(t, familyKey{refID: 0, start: 100, end: 104, reverse: false, umi: "AAA+TTT"}, key)

	r = newRead("x:AAA+TTT", chr2, 100, rev, "ACGT", "####")
	key, ok = keyFromRecord(r)
	assert.True(t, ok)
	assert.Equal(t, familyKey{refID: 1, start: 100, end: 104, reverse: true, umi: "AAA+TTT"}, key)

	// The end comes from the CIGAR, so clipping changes the key.
	r = newRead("x:AAA+TTT", chr1, 100, fwd, "ACGT", "####")
	r.Cigar = sam.Cigar{
		sam.NewCigarOp(sam.CigarMatch, 3),
		sam.NewCigarOp(sam.CigarSoftClipped, 1),
	}
	key, ok = keyFromRecord(r)
	assert.True(t, ok)
	assert.Equal(t, 103, key.end)

	_, ok = keyFromRecord(newRead("noumi", chr1, 100, fwd, "ACGT", "####"))
	assert.False(t, ok)
}

func TestKeyName(t *testing.T) {
	k := familyKey{refID: 0, start: 10, end: 110, reverse: false, umi: "AAA+TTT"}
	assert.Equal(t, "AAA+TTT:chr1:10:110:+", k.name(chr1))
	assert.Equal(t, "TTT+AAA:chr1:10:110:-", k.complement().name(chr1))
}

func TestKeyLess(t *testing.T) {
	ordered := []familyKey{
		{refID: 0, start: 10, end: 110, reverse: false, umi: "AAA+TTT"},
		{refID: 0, start: 10, end: 110, reverse: false, umi: "CCC+GGG"},
		{refID: 0, start: 10, end: 110, reverse: true, umi: "AAA+TTT"},
		{refID: 0, start: 10, end: 120, reverse: false, umi: "AAA+TTT"},
		{refID: 0, start: 20, end: 110, reverse: false, umi: "AAA+TTT"},
		{refID: 1, start: 0, end: 50, reverse: false, umi: "AAA+TTT"},
	}
	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			assert.Equal(t, i < j, ordered[i].less(ordered[j]), "ordered[%d] < ordered[%d]", i, j)
		}
	}
}
