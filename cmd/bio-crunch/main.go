package main

/*
bio-crunch collapses PCR-duplicate reads into error-corrected
consensus sequences using unique molecular identifiers (UMIs).

The tag-align subcommand extracts barcodes from a FASTQ pair and
aligns the tagged reads; the consensus subcommand builds single-strand
and duplex consensus sequences from the tagged alignment and emits a
final BAM of unique molecules.
*/

import (
	"log"

	"v.io/x/lib/cmdline"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-crunch",
			Short:    "Build UMI consensus sequences from duplicate reads",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdTagAlign(),
				newCmdConsensus(),
			},
		})
}
