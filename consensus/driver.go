package consensus

import (
	"compress/gzip"
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	gbam "github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// bamOutput couples an output BAM with the file it writes to.
type bamOutput struct {
	path   string
	file   file.File
	writer *gbam.ShardedBAMWriter
}

// openOutputs creates one sharded BAM writer per path. The queue is
// sized to hold every segment so out-of-order segment completion
// never blocks a worker.
func openOutputs(ctx context.Context, header *sam.Header, nSegments int, paths ...string) ([]*bamOutput, error) {
	outputs := make([]*bamOutput, 0, len(paths))
	for _, path := range paths {
		f, err := file.Create(ctx, path)
		if err != nil {
			closeOutputs(ctx, outputs)
			return nil, errors.E(err, "couldn't create output:", path)
		}
		w, err := gbam.NewShardedBAMWriter(f.Writer(ctx), gzip.DefaultCompression, nSegments+1, header)
		if err != nil {
			f.Close(ctx) // nolint: errcheck
			closeOutputs(ctx, outputs)
			return nil, errors.E(err, "couldn't create BAM writer:", path)
		}
		outputs = append(outputs, &bamOutput{path: path, file: f, writer: w})
	}
	return outputs, nil
}

func finishOutputs(ctx context.Context, outputs []*bamOutput) error {
	e := errors.Once{}
	for _, o := range outputs {
		e.Set(o.writer.Close())
		e.Set(o.file.Close(ctx))
		o.writer = nil
	}
	return e.Err()
}

func closeOutputs(ctx context.Context, outputs []*bamOutput) {
	for _, o := range outputs {
		o.file.Close(ctx) // nolint: errcheck
	}
}

// runSegments processes segments on parallel workers. Each worker
// owns one compressor per output; fn gets compressors already
// positioned at the segment's shard index. Segments share no state,
// so no synchronization beyond the shard queue is needed.
func runSegments(segments []gbam.Shard, parallelism int, outputs []*bamOutput,
	fn func(shard gbam.Shard, comps []*gbam.ShardedBAMCompressor) error) error {
	segCh := make(chan gbam.Shard, len(segments))
	for _, s := range segments {
		segCh <- s
	}
	close(segCh)
	if parallelism > len(segments) {
		parallelism = len(segments)
	}
	return traverse.Each(parallelism, func(_ int) error {
		comps := make([]*gbam.ShardedBAMCompressor, len(outputs))
		for i, o := range outputs {
			comps[i] = o.writer.GetCompressor()
		}
		for shard := range segCh {
			for _, c := range comps {
				if err := c.StartShard(shard.ShardIdx); err != nil {
					return err
				}
			}
			if err := fn(shard, comps); err != nil {
				return err
			}
			for _, c := range comps {
				if err := c.CloseShard(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// cloneRecord deep-copies the fields this package mutates when
// rewriting a read, leaving shared immutable fields (ref, mate)
// aliased.
func cloneRecord(r *sam.Record) *sam.Record {
	c := sam.GetFromFreePool()
	c.Name = r.Name
	c.Ref = r.Ref
	c.Pos = r.Pos
	c.MapQ = r.MapQ
	c.Flags = r.Flags
	c.Cigar = append(sam.Cigar(nil), r.Cigar...)
	c.MateRef = r.MateRef
	c.MatePos = r.MatePos
	c.TempLen = r.TempLen
	c.Seq = sam.NewSeq(r.Seq.Expand())
	c.Qual = append([]byte(nil), r.Qual...)
	c.AuxFields = append(sam.AuxFields(nil), r.AuxFields...)
	return c
}
