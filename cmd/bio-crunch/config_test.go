package main

import (
	"flag"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(body), 0644))
	return path
}

func TestApplyConfig(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := writeConfig(t, tempDir, `
consensus:
  cutoff: "0.8"
  cleanup: "true"
`)
	flags := flag.NewFlagSet("consensus", flag.ContinueOnError)
	cutoff := flags.String("cutoff", "0.7", "")
	cleanupFlag := flags.Bool("cleanup", false, "")
	scorrect := flags.Bool("scorrect", true, "")
	require.NoError(t, flags.Parse(nil))

	require.NoError(t, applyConfig(path, "consensus", flags))
	assert.Equal(t, "0.8", *cutoff)
	assert.True(t, *cleanupFlag)
	// Options absent from the config keep their defaults.
	assert.True(t, *scorrect)
}

func TestApplyConfigFlagWins(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := writeConfig(t, tempDir, `
consensus:
  cutoff: "0.8"
`)
	flags := flag.NewFlagSet("consensus", flag.ContinueOnError)
	cutoff := flags.String("cutoff", "0.7", "")
	// An explicit command line value beats the config file.
	require.NoError(t, flags.Parse([]string{"-cutoff", "0.9"}))

	require.NoError(t, applyConfig(path, "consensus", flags))
	assert.Equal(t, "0.9", *cutoff)
}

func TestApplyConfigErrors(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	flags := flag.NewFlagSet("consensus", flag.ContinueOnError)
	flags.String("cutoff", "0.7", "")
	require.NoError(t, flags.Parse(nil))

	// Unknown keys are typos, not defaults.
	path := writeConfig(t, tempDir, "consensus:\n  cutof: \"0.8\"\n")
	assert.Error(t, applyConfig(path, "consensus", flags))

	// A section for another subcommand is ignored.
	path = writeConfig(t, tempDir, "tagalign:\n  bpattern: \"NNT\"\n")
	assert.NoError(t, applyConfig(path, "consensus", flags))

	// Missing file, empty path, malformed YAML.
	assert.Error(t, applyConfig(filepath.Join(tempDir, "missing.yaml"), "consensus", flags))
	assert.NoError(t, applyConfig("", "consensus", flags))
	path = writeConfig(t, tempDir, "consensus: [not, a, map]\n")
	assert.Error(t, applyConfig(path, "consensus", flags))
}
