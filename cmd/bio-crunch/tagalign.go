package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/crunch/barcode"
	"github.com/grailbio/crunch/pipeline"
	"v.io/x/lib/cmdline"
)

type tagAlignFlags struct {
	fastq1    *string
	fastq2    *string
	output    *string
	nameSep   *string
	bwa       *string
	ref       *string
	samtools  *string
	extractor *string
	bpattern  *string
	blist     *string
	config    *string
}

func newCmdTagAlign() *cmdline.Command {
	cmd := &cmdline.Command{
		Name: "tag-align",
		Short: "Extract molecular barcodes from paired-end reads and align them. " +
			"Barcodes move from the read bases into the read name, spacer bases are removed, " +
			"and the tagged reads are aligned, sorted, and indexed.",
	}
	flags := tagAlignFlags{
		fastq1:    cmd.Flags.String("fastq1", "", "FASTQ containing read 1 of paired-end reads"),
		fastq2:    cmd.Flags.String("fastq2", "", "FASTQ containing read 2 of paired-end reads"),
		output:    cmd.Flags.String("output", "", "Output directory; tagged FASTQs land in fastq_tag/, BAMs in bamfiles/"),
		nameSep:   cmd.Flags.String("name-sep", "_R", "Sample name is everything left of this separator in the fastq1 filename"),
		bwa:       cmd.Flags.String("bwa", "", "Path to the bwa executable"),
		ref:       cmd.Flags.String("ref", "", "Reference (BWA index)"),
		samtools:  cmd.Flags.String("samtools", "", "Path to the samtools executable"),
		extractor: cmd.Flags.String("extractor", "", "Path to the barcode extraction tool"),
		bpattern:  cmd.Flags.String("bpattern", "", "Barcode pattern (N = random barcode base, A|C|G|T = fixed spacer base)"),
		blist:     cmd.Flags.String("blist", "", "Barcode list (text file with one barcode per line)"),
		config:    cmd.Flags.String("config", "", "YAML config file; explicit command-line flags take precedence"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("tag-align takes no positional arguments, got %v", argv)
		}
		if err := applyConfig(*flags.config, "tag-align", &cmd.Flags); err != nil {
			return err
		}
		return tagAlign(flags)
	})
	return cmd
}

func tagAlign(flags tagAlignFlags) error {
	var missing []string
	for _, required := range []struct {
		name  string
		value string
	}{
		{"fastq1", *flags.fastq1}, {"fastq2", *flags.fastq2}, {"output", *flags.output},
		{"bwa", *flags.bwa}, {"ref", *flags.ref}, {"samtools", *flags.samtools},
		{"extractor", *flags.extractor},
	} {
		if required.value == "" {
			missing = append(missing, required.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	if *flags.bpattern == "" && *flags.blist == "" {
		return fmt.Errorf("at least one of -bpattern or -blist is required")
	}

	// Barcode inputs are validated before any processing starts.
	if *flags.bpattern != "" {
		if err := barcode.ValidatePattern(*flags.bpattern); err != nil {
			return err
		}
	}
	if *flags.blist != "" {
		if _, err := barcode.LoadList(*flags.blist); err != nil {
			return err
		}
	}

	fastqDir := filepath.Join(*flags.output, "fastq_tag")
	bamDir := filepath.Join(*flags.output, "bamfiles")
	for _, dir := range []string{fastqDir, bamDir} {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return err
		}
	}

	name := filepath.Base(*flags.fastq1)
	if i := strings.Index(name, *flags.nameSep); i > 0 {
		name = name[:i]
	}
	outPrefix := filepath.Join(fastqDir, name)

	ctx := vcontext.Background()
	tool := &pipeline.Tools{
		BWA:       *flags.bwa,
		Samtools:  *flags.samtools,
		Extractor: *flags.extractor,
	}
	if err := tool.ExtractBarcodes(ctx, *flags.fastq1, *flags.fastq2, outPrefix, *flags.bpattern, *flags.blist); err != nil {
		return err
	}
	outBAM := filepath.Join(bamDir, name+".bam")
	readGroup := "@RG\tID:1\tSM:" + name + "\tPL:Illumina"
	if err := tool.Align(ctx, *flags.ref,
		outPrefix+"_barcode_R1.fastq", outPrefix+"_barcode_R2.fastq",
		readGroup, outBAM); err != nil {
		return err
	}
	return tool.Index(ctx, outBAM)
}
