package pipeline

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/crunch/consensus"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testChr1, _    = sam.NewReference("chr1", "", "", 1000, nil, nil)
	testBAMHead, _ = sam.NewHeader(nil, []*sam.Reference{testChr1})
)

// writeTestBAM writes a small BAM with one record per name.
func writeTestBAM(t *testing.T, path string, names ...string) {
	out, err := os.Create(path)
	require.NoError(t, err)
	writer, err := bam.NewWriter(out, testBAMHead, 1)
	require.NoError(t, err)
	for i, name := range names {
		r := sam.GetFromFreePool()
		r.Name = name
		r.Ref = testChr1
		r.Pos = 100 + i
		r.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 4)}
		r.MateRef = nil
		r.MatePos = -1
		r.Seq = sam.NewSeq([]byte("ACGT"))
		r.Qual = []byte("####")
		require.NoError(t, writer.Write(r))
	}
	require.NoError(t, writer.Close())
	require.NoError(t, out.Close())
}

// fakeTool stands in for samtools: SortIndex renames the input in
// place and records the call.
type fakeTool struct {
	sorted  []string
	indexed []string
}

func (f *fakeTool) ExtractBarcodes(ctx context.Context, fastq1, fastq2, outPrefix, pattern, listPath string) error {
	return nil
}

func (f *fakeTool) Align(ctx context.Context, ref, fastq1, fastq2, readGroup, outBAM string) error {
	return nil
}

func (f *fakeTool) SortIndex(ctx context.Context, bamPath string) (string, error) {
	sorted := strings.TrimSuffix(bamPath, ".bam") + ".sorted.bam"
	if err := os.Rename(bamPath, sorted); err != nil {
		return "", err
	}
	f.sorted = append(f.sorted, sorted)
	return sorted, nil
}

func (f *fakeTool) Index(ctx context.Context, bamPath string) error {
	f.indexed = append(f.indexed, bamPath)
	return nil
}

func TestArtifactPaths(t *testing.T) {
	a := newArtifacts("/data/sample1.sorted.bam", "/out")
	assert.Equal(t, "sample1", a.id)
	assert.Equal(t, "/out/sample1", a.sampleDir)
	assert.Equal(t, "/out/sample1/sscs/sample1.sscs.bam", a.path("sscs", ".sscs.bam"))
	assert.Equal(t, "/out/sample1/sample1.stats.txt", a.rootPath(".stats.txt"))

	a = newArtifacts("sample2.bam", "/out")
	assert.Equal(t, "sample2", a.id)
}

func TestRunHaltsOnFailure(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	// The input does not exist, so the very first transition fails.
	seq := &Sequencer{
		Opts: Opts{
			InputBAM:  filepath.Join(tempDir, "missing.bam"),
			OutputDir: tempDir,
		},
		Tool: &fakeTool{},
	}
	err := seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transition RAW -> SSCS_DONE failed")
	// The sample halts where it stands.
	assert.Equal(t, StateRaw, seq.State())
	// The sample directory was still created.
	info, statErr := os.Stat(filepath.Join(tempDir, "missing"))
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestDuplexStatsSinglePass(t *testing.T) {
	// With correction on, a duplex molecule is paired once by the
	// staging pass over sorted SSCS and again by the pass over
	// sscs.sc; only the latter may report, or the sample's DCS and
	// unpaired counts come out doubled.
	seq := &Sequencer{
		Opts:    Opts{SingletonCorrection: true},
		Metrics: consensus.NewMetricsCollection(),
	}
	staging := seq.duplexPassMetrics()
	assert.True(t, staging != seq.Metrics)
	staging.Merge(&consensus.Metrics{DCS: 1, UnpairedSSCS: 1}, nil)
	seq.Metrics.Merge(&consensus.Metrics{DCS: 1, UnpairedSSCS: 1}, nil)

	m := seq.Metrics.Metrics()
	assert.Equal(t, 1, m.DCS)
	assert.Equal(t, 1, m.UnpairedSSCS)

	// Without correction there is only one pass and it reports
	// directly.
	seq.Opts.SingletonCorrection = false
	assert.True(t, seq.duplexPassMetrics() == seq.Metrics)
}

func TestMergeWithoutCorrection(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	// With correction off the final union is DCS + unpaired SSCS +
	// singletons, and no SC artifacts exist.
	seq := &Sequencer{
		Opts:    Opts{SingletonCorrection: false},
		Tool:    &fakeTool{},
		Metrics: consensus.NewMetricsCollection(),
	}
	seq.art = artifacts{id: "s", sampleDir: tempDir}
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "dcs"), 0775))

	seq.sortedDCS = filepath.Join(tempDir, "dcs", "s.dcs.sorted.bam")
	seq.sortedSSCSSingleton = filepath.Join(tempDir, "dcs", "s.sscs.singleton.sorted.bam")
	seq.sortedSingleton = filepath.Join(tempDir, "sscs", "s.singleton.sorted.bam")
	require.NoError(t, os.MkdirAll(filepath.Join(tempDir, "sscs"), 0775))
	writeTestBAM(t, seq.sortedDCS, "d1", "d2")
	writeTestBAM(t, seq.sortedSSCSSingleton, "u1")
	writeTestBAM(t, seq.sortedSingleton, "s1")

	require.NoError(t, seq.runMerge(context.Background()))
	assert.Equal(t, filepath.Join(tempDir, "dcs", "s.all.unique.dcs.sorted.bam"), seq.FinalBAM())
	_, err := os.Stat(seq.FinalBAM())
	require.NoError(t, err)
	assert.Equal(t, 4, seq.Metrics.Metrics().FinalMolecules)

	_, err = os.Stat(filepath.Join(tempDir, "dcs_sc"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(tempDir, "sscs_sc"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteTimingLog(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	seq := &Sequencer{}
	seq.timings = []stageTiming{
		{stage: "SSCS_DONE", elapsed: 1000},
		{stage: "SSCS_SORTED", elapsed: 2000},
	}
	path := filepath.Join(tempDir, "time_tracker.txt")
	require.NoError(t, seq.writeTimingLog(path))
	body, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(body), "\n"), "\n")
	require.Equal(t, 2, len(lines))
	assert.True(t, strings.HasPrefix(lines[0], "SSCS_DONE\t"))
	assert.True(t, strings.HasPrefix(lines[1], "SSCS_SORTED\t"))
}

func TestCleanup(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	touch := func(name string) string {
		path := filepath.Join(tempDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0775))
		require.NoError(t, ioutil.WriteFile(path, []byte("x"), 0644))
		return path
	}

	seq := &Sequencer{Opts: Opts{SingletonCorrection: true, Cleanup: true}}
	seq.art = artifacts{id: "s", sampleDir: tempDir}
	badReads := touch("sscs/s.badreads.bam")
	keepSSCS := touch("sscs/s.sscs.sorted.bam")
	seq.sortedSSCSSingleton = touch("dcs/s.sscs.singleton.sorted.bam")
	touch("dcs/s.sscs.singleton.sorted.bam.bai")
	seq.sortedUncorrected = touch("sscs_sc/s.uncorrected.sorted.bam")
	timing := touch("s.time_tracker.txt")
	stats := touch("s.stats.txt")

	seq.cleanup()

	for _, gone := range []string{
		badReads,
		seq.sortedSSCSSingleton,
		seq.sortedSSCSSingleton + ".bai",
		seq.sortedUncorrected,
		timing,
	} {
		_, err := os.Stat(gone)
		assert.True(t, os.IsNotExist(err), "%s should have been removed", gone)
	}
	for _, kept := range []string{keepSSCS, stats} {
		_, err := os.Stat(kept)
		assert.NoError(t, err, "%s should have survived cleanup", kept)
	}
}

func TestCleanupMissingFilesTolerated(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	// Nothing exists; cleanup must not panic or create anything.
	seq := &Sequencer{Opts: Opts{SingletonCorrection: true, Cleanup: true}}
	seq.art = artifacts{id: "s", sampleDir: tempDir}
	seq.cleanup()
	entries, err := ioutil.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
