package consensus

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

// Segments partitions the input into independently processable
// genomic segments. With an empty bedPath the whole input, unmapped
// reads included, is a single segment. Otherwise each well-formed
// (contig, start, end) line of the BED-style file becomes one
// segment; malformed lines are skipped with a warning so one bad
// region cannot abort a run. A read belongs to the segment containing
// its alignment start, so segments never share reads.
func Segments(header *sam.Header, bedPath string) ([]gbam.Shard, error) {
	if bedPath == "" {
		return []gbam.Shard{gbam.UniversalShard(header)}, nil
	}
	ctx := vcontext.Background()
	infile, err := file.Open(ctx, bedPath)
	if err != nil {
		return nil, err
	}
	defer infile.Close(ctx) // nolint: errcheck
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(bedPath) == fileio.Gzip {
		if reader, err = gzip.NewReader(reader); err != nil {
			return nil, err
		}
	}
	return parseSegments(header, reader)
}

func parseSegments(header *sam.Header, reader io.Reader) ([]gbam.Shard, error) {
	refByName := make(map[string]*sam.Reference)
	for _, ref := range header.Refs() {
		refByName[ref.Name()] = ref
	}

	var shards []gbam.Shard
	scanner := bufio.NewScanner(reader)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0][0] == '#' {
			continue
		}
		shard, err := parseRegion(refByName, fields)
		if err != nil {
			log.Error.Printf("skipping malformed region at line %d (%q): %v", lineNo, line, err)
			continue
		}
		shard.ShardIdx = len(shards)
		shards = append(shards, shard)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("region list contains no usable regions")
	}
	return shards, nil
}

func parseRegion(refByName map[string]*sam.Reference, fields []string) (gbam.Shard, error) {
	if len(fields) < 3 {
		return gbam.Shard{}, fmt.Errorf("expected at least 3 columns, got %d", len(fields))
	}
	ref, ok := refByName[fields[0]]
	if !ok {
		return gbam.Shard{}, fmt.Errorf("unknown contig %q", fields[0])
	}
	start, err := strconv.Atoi(fields[1])
	if err != nil {
		return gbam.Shard{}, fmt.Errorf("bad start: %v", err)
	}
	end, err := strconv.Atoi(fields[2])
	if err != nil {
		return gbam.Shard{}, fmt.Errorf("bad end: %v", err)
	}
	if end > ref.Len() {
		end = ref.Len()
	}
	if start < 0 || start >= end {
		return gbam.Shard{}, fmt.Errorf("empty interval [%d,%d)", start, end)
	}
	return gbam.Shard{
		StartRef: ref,
		EndRef:   ref,
		Start:    start,
		End:      end,
	}, nil
}
