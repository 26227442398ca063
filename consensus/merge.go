package consensus

import (
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// MergeBAMs unions the records of the input BAMs into one output,
// taking the header from the first input. The inputs are disjoint by
// construction - each source read reached exactly one of them - so
// this is a plain union with no deduplication; the caller re-sorts
// the result. Returns the number of records written.
func MergeBAMs(outPath string, inputPaths ...string) (int, error) {
	if len(inputPaths) == 0 {
		return 0, fmt.Errorf("merge: no inputs for %s", outPath)
	}
	header, err := readHeader(inputPaths[0])
	if err != nil {
		return 0, err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return 0, errors.E(err, "couldn't create merge output:", outPath)
	}
	writer, err := bam.NewWriter(out, header, 1)
	if err != nil {
		out.Close() // nolint: errcheck
		return 0, err
	}

	n := 0
	for _, path := range inputPaths {
		added, err := copyRecords(writer, path)
		if err != nil {
			out.Close() // nolint: errcheck
			return 0, errors.E(err, "merging", path, "into", outPath)
		}
		log.Debug.Printf("merge: %d records from %s", added, path)
		n += added
	}
	e := errors.Once{}
	e.Set(writer.Close())
	e.Set(out.Close())
	return n, e.Err()
}

func readHeader(path string) (h *sam.Header, err error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close() // nolint: errcheck
	reader, err := bam.NewReader(in, 1)
	if err != nil {
		return nil, err
	}
	defer reader.Close() // nolint: errcheck
	return reader.Header(), nil
}

func copyRecords(writer *bam.Writer, path string) (int, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close() // nolint: errcheck
	reader, err := bam.NewReader(in, 1)
	if err != nil {
		return 0, err
	}
	defer reader.Close() // nolint: errcheck
	n := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if err := writer.Write(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
