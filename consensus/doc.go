// Package consensus collapses PCR-duplicate reads into error-corrected
// consensus sequences using the unique molecular identifiers (UMIs)
// embedded in read names.
//
// Reads are grouped into families keyed by (contig, 5' start, CIGAR
// end, strand, UMI pair). Each family of two or more reads yields a
// single-strand consensus sequence (SSCS) by per-column majority vote.
// SSCS whose families sit on complementary strands of the same source
// molecule - same coordinates, strand flipped, UMI halves swapped -
// are merged into duplex consensus sequences (DCS) by column-wise
// agreement. Families of one read (singletons) can be rescued using
// the consensus, or the singleton, of their complementary strand.
//
// The three stage drivers (Caller, Merger, Corrector) all read BAM
// input through a bamprovider.Provider and process genomic segments
// independently in parallel. Segments come from a BED-style region
// list so that the per-segment family and consensus indexes stay
// within bounded memory; without a region list the whole input is one
// segment.
package consensus
