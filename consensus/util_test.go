package consensus

import (
	"io"
	"io/ioutil"
	"os"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	chr1, _       = sam.NewReference("chr1", "", "", 1000, nil, nil)
	chr2, _       = sam.NewReference("chr2", "", "", 2000, nil, nil)
	testHeader, _ = sam.NewHeader(nil, []*sam.Reference{chr1, chr2})

	fwd = sam.Flags(0)
	rev = sam.Reverse
)

// newRead builds a mapped record whose CIGAR is a full-length match,
// so its key end is pos+len(seq).
func newRead(name string, ref *sam.Reference, pos int, flags sam.Flags, seq, qual string) *sam.Record {
	if len(seq) != len(qual) {
		panic("seq and qual must be equal length")
	}
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MapQ = 60
	r.Flags = flags
	r.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, len(seq))}
	r.MateRef = nil
	r.MatePos = -1
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = []byte(qual)
	return r
}

func newUnmappedRead(name string) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = nil
	r.Pos = 0
	r.Flags = sam.Unmapped
	r.MateRef = nil
	r.MatePos = -1
	r.Seq = sam.NewSeq([]byte("A"))
	r.Qual = []byte{30}
	return r
}

// readBAM reads back all records of an output BAM, in order. The
// outputs under test carry no index, so use the raw reader.
func readBAM(t *testing.T, path string) []*sam.Record {
	in, err := os.Open(path)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, in.Close())
	}()
	reader, err := bam.NewReader(in, 1)
	require.NoError(t, err)
	defer reader.Close() // nolint: errcheck
	var records []*sam.Record
	for {
		r, err := reader.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		records = append(records, r)
	}
	return records
}

func auxString(t *testing.T, r *sam.Record, name string) string {
	aux := r.AuxFields.Get(sam.NewTag(name))
	require.NotNil(t, aux, "record %s has no %s tag", r.Name, name)
	return aux.Value().(string)
}

func auxInt(t *testing.T, r *sam.Record, name string) int {
	aux := r.AuxFields.Get(sam.NewTag(name))
	require.NotNil(t, aux, "record %s has no %s tag", r.Name, name)
	switch v := aux.Value().(type) {
	case int:
		return v
	case int8:
		return int(v)
	case uint8:
		return int(v)
	case int16:
		return int(v)
	case uint16:
		return int(v)
	case int32:
		return int(v)
	case uint32:
		return int(v)
	}
	t.Fatalf("record %s: %s is not an integer tag", r.Name, name)
	return 0
}

func recordNames(records []*sam.Record) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

func seqString(r *sam.Record) string {
	return string(r.Seq.Expand())
}

func writeFile(t *testing.T, path, body string) {
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))
}
