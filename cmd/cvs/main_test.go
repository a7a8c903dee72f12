package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/barakmich/cvs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDeterministic(t *testing.T) {
	cfg := cvs.DefaultConfig()
	cfg.Space = toyProblem.space
	e, err := cvs.NewEngine(cfg)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, runToy(&out, e))
	assert.NotContains(t, out.String(), "MISMATCH")

	s, err := execute(t, "deterministic")
	require.NoError(t, err)
	// Eight methods, each through two entry points, two lines apiece.
	assert.Equal(t, 32, strings.Count(s, " ok "))
}

func TestGenerateAndSearch(t *testing.T) {
	dir := t.TempDir()
	s, err := execute(t, "generate", "--dir", dir, "--items", "50", "--queries", "4",
		"--item-size", "10", "--query-size", "30", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, s, "wrote 50 items")

	refs, err := loadGroups(filepath.Join(dir, "refs.csv"))
	require.NoError(t, err)
	assert.Equal(t, 50, refs.Len())

	outPath := filepath.Join(dir, "out.csv")
	_, err = execute(t, "search", "--refs", filepath.Join(dir, "refs.csv"),
		"--queries", filepath.Join(dir, "queries.csv"), "-n", "3", "-o", outPath)
	require.NoError(t, err)
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	for q, l := range lines {
		fields := strings.Split(l, ",")
		assert.Len(t, fields, 4, "query %d", q)
		assert.Contains(t, fields[1], ":")
	}

	_, err = execute(t, "search", "--refs", filepath.Join(dir, "refs.csv"),
		"--queries", filepath.Join(dir, "queries.csv"), "--domain", "f16")
	assert.ErrorIs(t, err, cvs.ErrInvalidArgument)
}

func TestSearchWithSettings(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "generate", "--dir", dir, "--items", "20", "--queries", "2",
		"--item-size", "5", "--query-size", "10")
	require.NoError(t, err)

	settings := filepath.Join(dir, "cvs.toml")
	require.NoError(t, os.WriteFile(settings, []byte("[search]\ntop_n = 2\nbackend = \"accelerator\"\n"), 0o644))
	s, err := execute(t, "--config", settings, "search",
		"--refs", filepath.Join(dir, "refs.bin"), "--queries", filepath.Join(dir, "queries.bin"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(s), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, strings.Split(lines[0], ","), 3)

	_, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "deterministic")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMethodMatrix(t *testing.T) {
	base := cvs.Params{BatchSize: 10}
	all := methodMatrix(base, []cvs.BackendKind{cvs.CPU, cvs.Accelerator}, []cvs.Domain{cvs.Float32, cvs.FixedPoint})
	assert.Len(t, all, 16)
	assert.Len(t, methodMatrix(cvs.Params{BatchSize: 1}, []cvs.BackendKind{cvs.CPU}, []cvs.Domain{cvs.Float32}), 2)
	seen := map[string]bool{}
	for _, p := range all {
		assert.False(t, seen[p.Method()], p.Method())
		seen[p.Method()] = true
	}
}
