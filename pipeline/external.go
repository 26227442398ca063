package pipeline

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// ExternalTool is the capability interface for the external
// collaborators this pipeline orchestrates but does not implement:
// barcode extraction, alignment, and BAM sort/index. Implementations
// must check exit status; a non-zero exit aborts the calling sample's
// pipeline. Calls are synchronous with no enforced timeout, so a hung
// tool stalls only its own sample; the context is honored for
// cancellation.
type ExternalTool interface {
	// ExtractBarcodes trims the UMIs and spacer bases from a FASTQ
	// pair and tags each read name, writing
	// <outPrefix>_barcode_R{1,2}.fastq. Exactly one of pattern and
	// listPath may be empty.
	ExtractBarcodes(ctx context.Context, fastq1, fastq2, outPrefix, pattern, listPath string) error

	// Align maps a barcode-tagged FASTQ pair against ref and writes a
	// coordinate-sorted BAM to outBAM.
	Align(ctx context.Context, ref, fastq1, fastq2, readGroup, outBAM string) error

	// SortIndex coordinate-sorts bamPath into a new ".sorted.bam"
	// file, removes the unsorted original, indexes the result, and
	// returns its path.
	SortIndex(ctx context.Context, bamPath string) (string, error)

	// Index builds a .bai index for bamPath.
	Index(ctx context.Context, bamPath string) error
}

// Tools runs the real external binaries.
type Tools struct {
	BWA       string // path to bwa
	Samtools  string // path to samtools
	Extractor string // path to the barcode extraction tool
}

// ExtractBarcodes implements ExternalTool.
func (t *Tools) ExtractBarcodes(ctx context.Context, fastq1, fastq2, outPrefix, pattern, listPath string) error {
	args := []string{"--read1", fastq1, "--read2", fastq2, "--outfile", outPrefix}
	if pattern != "" {
		args = append(args, "--bpattern", pattern)
	}
	if listPath != "" {
		args = append(args, "--blist", listPath)
	}
	return t.run(ctx, t.Extractor, args...)
}

// Align implements ExternalTool by piping bwa mem into samtools sort.
func (t *Tools) Align(ctx context.Context, ref, fastq1, fastq2, readGroup, outBAM string) error {
	bwa := exec.CommandContext(ctx, t.BWA, "mem", "-M", "-t", "4", "-R", readGroup, ref, fastq1, fastq2)
	sort := exec.CommandContext(ctx, t.Samtools, "sort", "-o", outBAM, "-")
	pipe, err := bwa.StdoutPipe()
	if err != nil {
		return err
	}
	sort.Stdin = pipe
	bwa.Stderr = os.Stderr
	sort.Stderr = os.Stderr
	log.Debug.Printf("running: %s | %s", strings.Join(bwa.Args, " "), strings.Join(sort.Args, " "))
	if err := sort.Start(); err != nil {
		return errors.E(err, "starting samtools sort")
	}
	if err := bwa.Run(); err != nil {
		sort.Process.Kill() // nolint: errcheck
		sort.Wait()         // nolint: errcheck
		return errors.E(err, "bwa mem failed for", fastq1)
	}
	if err := sort.Wait(); err != nil {
		return errors.E(err, "samtools sort failed for", outBAM)
	}
	return nil
}

// SortIndex implements ExternalTool.
func (t *Tools) SortIndex(ctx context.Context, bamPath string) (string, error) {
	sorted := strings.TrimSuffix(bamPath, ".bam") + ".sorted.bam"
	if err := t.run(ctx, t.Samtools, "sort", "-o", sorted, bamPath); err != nil {
		return "", err
	}
	if err := os.Remove(bamPath); err != nil {
		return "", err
	}
	if err := t.Index(ctx, sorted); err != nil {
		return "", err
	}
	return sorted, nil
}

// Index implements ExternalTool.
func (t *Tools) Index(ctx context.Context, bamPath string) error {
	return t.run(ctx, t.Samtools, "index", bamPath)
}

func (t *Tools) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout
	log.Debug.Printf("running: %s", strings.Join(cmd.Args, " "))
	if err := cmd.Run(); err != nil {
		return errors.E(err, name, "failed:", strings.Join(args, " "))
	}
	return nil
}
