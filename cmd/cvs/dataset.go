package main

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/barakmich/cvs"
	"github.com/barakmich/mmap-go"
)

// Binary group files hold a header, len+1 little-endian uint32 offsets and
// the float64 values.
var binaryMagic = [4]byte{'C', 'V', 'S', '1'}

const binaryHeaderSize = 12

// loadGroups reads a CSV (one group per line) or binary group file.
func loadGroups(path string) (cvs.Groups, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return cvs.Groups{}, err
		}
		defer f.Close()
		return readCSV(f)
	case ".bin":
		return readBinary(path)
	}
	return cvs.Groups{}, fmt.Errorf("%s: unsupported extension %q", path, filepath.Ext(path))
}

func saveGroups(path string, g cvs.Groups) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = writeCSV(f, g)
	case ".bin":
		err = writeBinary(f, g)
	default:
		err = fmt.Errorf("%s: unsupported extension %q", path, filepath.Ext(path))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func readCSV(r io.Reader) (cvs.Groups, error) {
	c := csv.NewReader(r)
	c.ReuseRecord = true
	c.FieldsPerRecord = -1
	out := cvs.Groups{Offsets: []int{}}
	for {
		rec, err := c.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		out.Offsets = append(out.Offsets, len(out.Values))
		for _, st := range rec {
			st = strings.TrimSpace(st)
			if st == "" {
				continue
			}
			x, err := strconv.ParseFloat(st, 64)
			if err != nil {
				return out, err
			}
			out.Values = append(out.Values, x)
		}
	}
	return out, nil
}

func writeCSV(w io.Writer, g cvs.Groups) error {
	c := csv.NewWriter(w)
	for i := 0; i < g.Len(); i++ {
		group := g.Group(i)
		rec := make([]string, len(group))
		for j, x := range group {
			rec[j] = strconv.FormatFloat(x, 'f', -1, 64)
		}
		if err := c.Write(rec); err != nil {
			return err
		}
	}
	c.Flush()
	return c.Error()
}

func readBinary(path string) (cvs.Groups, error) {
	f, err := os.Open(path)
	if err != nil {
		return cvs.Groups{}, err
	}
	defer f.Close()
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return cvs.Groups{}, fmt.Errorf("%s: %w", path, err)
	}
	defer mm.Unmap()
	g, err := decodeBinary(mm)
	if err != nil {
		return g, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// decodeBinary copies the groups out of buf, which may be a mapping.
func decodeBinary(buf []byte) (cvs.Groups, error) {
	if len(buf) < binaryHeaderSize || !bytes.Equal(buf[:4], binaryMagic[:]) {
		return cvs.Groups{}, errors.New("not a group file")
	}
	groups := int(binary.LittleEndian.Uint32(buf[4:]))
	values := int(binary.LittleEndian.Uint32(buf[8:]))
	want := binaryHeaderSize + 4*(groups+1) + 8*values
	if len(buf) != want {
		return cvs.Groups{}, fmt.Errorf("group file is %d bytes, header implies %d", len(buf), want)
	}
	g := cvs.Groups{Offsets: make([]int, groups), Values: make([]float64, values)}
	at := binaryHeaderSize
	for i := range g.Offsets {
		g.Offsets[i] = int(binary.LittleEndian.Uint32(buf[at:]))
		at += 4
	}
	if end := int(binary.LittleEndian.Uint32(buf[at:])); end != values {
		return cvs.Groups{}, fmt.Errorf("final offset %d, want %d", end, values)
	}
	at += 4
	for i := range g.Values {
		g.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[at:]))
		at += 8
	}
	return g, nil
}

func writeBinary(w io.Writer, g cvs.Groups) error {
	buf := make([]byte, 0, binaryHeaderSize+4*(g.Len()+1)+8*len(g.Values))
	buf = append(buf, binaryMagic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.Len()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(g.Values)))
	for _, off := range g.Offsets {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(off))
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(g.Values)))
	for _, x := range g.Values {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
	}
	_, err := w.Write(buf)
	return err
}

// synthetic draws groups of size distinct bins each, sorted, and returns
// their positions in the encoding space.
func synthetic(r *rand.Rand, space cvs.EncodingSpace, groups, size int) cvs.Groups {
	size = min(size, space.BinCount)
	g := cvs.Groups{
		Offsets: make([]int, 0, groups),
		Values:  make([]float64, 0, groups*size),
	}
	seen := make(map[int]struct{}, size)
	bins := make([]int, 0, size)
	for i := 0; i < groups; i++ {
		clear(seen)
		bins = bins[:0]
		for len(bins) < size {
			b := r.IntN(space.BinCount)
			if _, ok := seen[b]; ok {
				continue
			}
			seen[b] = struct{}{}
			bins = append(bins, b)
		}
		slices.Sort(bins)
		g.Offsets = append(g.Offsets, len(g.Values))
		for _, b := range bins {
			g.Values = append(g.Values, float64(b)*space.BinWidth)
		}
	}
	return g
}
