package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/crunch/consensus"
	"github.com/grailbio/crunch/pipeline"
	"v.io/x/lib/cmdline"
)

type consensusFlags struct {
	input       *string
	output      *string
	bed         *string
	cutoff      *string
	scorrect    *bool
	cleanup     *bool
	samtools    *string
	parallelism *int
	config      *string
}

func newCmdConsensus() *cmdline.Command {
	cmd := &cmdline.Command{
		Name: "consensus",
		Short: "Amalgamate duplicate reads into single-strand consensus sequences (SSCS) " +
			"and duplex consensus sequences (DCS), optionally correct singletons with their " +
			"complementary strand, and write a BAM of all unique molecules.",
	}
	flags := consensusFlags{
		input:  cmd.Flags.String("input", "", "Input barcode-tagged, sorted, indexed BAM"),
		output: cmd.Flags.String("output", "", "Output project directory; a subdirectory is created per sample"),
		bed: cmd.Flags.String("bed", "", "Region list (BED) used to segment the data so large inputs fit in memory; "+
			"empty or 'off' processes everything as one segment"),
		cutoff: cmd.Flags.String("cutoff", consensus.DefaultCutoff,
			"Consensus cutoff: minimum fraction of a family that must share a base to call it"),
		scorrect:    cmd.Flags.Bool("scorrect", true, "Correct singletons using their complementary strand"),
		cleanup:     cmd.Flags.Bool("cleanup", false, "Remove intermediate files after the final merge"),
		samtools:    cmd.Flags.String("samtools", "", "Path to the samtools executable"),
		parallelism: cmd.Flags.Int("parallelism", runtime.NumCPU(), "Number of segments to process in parallel"),
		config:      cmd.Flags.String("config", "", "YAML config file; explicit command-line flags take precedence"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("consensus takes no positional arguments, got %v", argv)
		}
		if err := applyConfig(*flags.config, "consensus", &cmd.Flags); err != nil {
			return err
		}
		return runConsensus(flags)
	})
	return cmd
}

func runConsensus(flags consensusFlags) error {
	var missing []string
	for _, required := range []struct {
		name  string
		value string
	}{
		{"input", *flags.input}, {"output", *flags.output}, {"samtools", *flags.samtools},
	} {
		if required.value == "" {
			missing = append(missing, required.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	cutoff, err := consensus.ParseCutoff(*flags.cutoff)
	if err != nil {
		return err
	}
	bed := *flags.bed
	if strings.EqualFold(bed, "off") {
		bed = ""
	}

	seq := &pipeline.Sequencer{
		Opts: pipeline.Opts{
			InputBAM:  *flags.input,
			OutputDir: *flags.output,
			Consensus: consensus.Opts{
				BedPath:     bed,
				Cutoff:      cutoff,
				Parallelism: *flags.parallelism,
			},
			SingletonCorrection: *flags.scorrect,
			Cleanup:             *flags.cleanup,
		},
		Tool: &pipeline.Tools{Samtools: *flags.samtools},
	}
	return seq.Run(vcontext.Background())
}
