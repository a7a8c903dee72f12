package main

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/barakmich/cvs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CSV has no way to write an empty group, so sample has none.
var sample = cvs.NewGroups([][]float64{{1.5, 2.25, 100}, {0.01}, {7, 8}})

func TestGroupFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".csv", ".bin"} {
		path := filepath.Join(dir, "groups"+ext)
		require.NoError(t, saveGroups(path, sample))
		got, err := loadGroups(path)
		require.NoError(t, err, ext)
		assert.Equal(t, sample, got, ext)
	}

	require.Error(t, saveGroups(filepath.Join(dir, "x.txt"), sample))
	_, err := loadGroups(filepath.Join(dir, "x.txt"))
	assert.Error(t, err)
	_, err = loadGroups(filepath.Join(dir, "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadCSV(t *testing.T) {
	g, err := readCSV(strings.NewReader("1, 2 ,3\n\n4,,5\n"))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, g.Offsets)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, g.Values)

	_, err = readCSV(strings.NewReader("1,abc\n"))
	assert.Error(t, err)
}

func TestDecodeBinary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBinary(&buf, sample))
	good := buf.Bytes()
	g, err := decodeBinary(good)
	require.NoError(t, err)
	assert.Equal(t, sample, g)

	for name, bad := range map[string][]byte{
		"empty":     nil,
		"magic":     append([]byte("XXXX"), good[4:]...),
		"truncated": good[:len(good)-1],
		"trailing":  append(slices.Clone(good), 0),
	} {
		_, err := decodeBinary(bad)
		assert.Error(t, err, name)
	}

	// Corrupt the final offset.
	corrupt := slices.Clone(good)
	corrupt[binaryHeaderSize+4*sample.Len()] ^= 1
	_, err = decodeBinary(corrupt)
	assert.ErrorContains(t, err, "final offset")
}

func TestSynthetic(t *testing.T) {
	space := cvs.EncodingSpace{BinWidth: 0.5, BinCount: 40}
	g := synthetic(rand.New(rand.NewPCG(1, 2)), space, 30, 12)
	require.Equal(t, 30, g.Len())
	require.NoError(t, g.Validate("synthetic"))
	for i := 0; i < g.Len(); i++ {
		group := g.Group(i)
		require.Len(t, group, 12)
		assert.True(t, slices.IsSorted(group))
		assert.Len(t, slices.Compact(slices.Clone(group)), 12, "group %d repeats a bin", i)
		for _, x := range group {
			assert.True(t, space.Contains(space.Bin(x)))
		}
	}

	// Groups never ask for more bins than the space has.
	g = synthetic(rand.New(rand.NewPCG(1, 2)), space, 2, 100)
	assert.Len(t, g.Group(1), 40)
}
