package cvs

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// CopyKind is the direction of a transfer between host and device memory.
type CopyKind int

const (
	HostToDevice CopyKind = iota
	DeviceToHost
)

func (k CopyKind) String() string {
	if k == HostToDevice {
		return "host-to-device"
	}
	return "device-to-host"
}

// Driver is the low-level interface of an accelerator runtime. Each call
// reports the status of one operation; a non-nil error fails the whole
// search. Implementations must be safe for concurrent use by several streams.
type Driver interface {
	Malloc(bytes int64) error
	Free(bytes int64) error
	Memcpy(kind CopyKind, bytes int64) error
	Launch(kernel string, blocks int) error
}

// EmulatedDriver runs kernels in host memory. Every operation succeeds; the
// memory budget is enforced by the Device.
type EmulatedDriver struct{}

func (EmulatedDriver) Malloc(int64) error           { return nil }
func (EmulatedDriver) Free(int64) error             { return nil }
func (EmulatedDriver) Memcpy(CopyKind, int64) error { return nil }
func (EmulatedDriver) Launch(string, int) error     { return nil }

type DeviceInfo struct {
	Name         string
	MemoryBytes  int64
	ComputeUnits int
}

// Device is an accelerator with a fixed memory budget. Device memory is
// reserved against the budget on allocation and returned on free.
type Device struct {
	info   DeviceInfo
	driver Driver
	mem    *semaphore.Weighted
	used   atomic.Int64
}

func NewDevice(cfg DeviceConfig, driver Driver) *Device {
	if driver == nil {
		driver = EmulatedDriver{}
	}
	units := cfg.ComputeUnits
	if units < 1 {
		units = 1
	}
	bytes := cfg.MemoryMB << 20
	return &Device{
		info: DeviceInfo{
			Name:         cfg.Name,
			MemoryBytes:  bytes,
			ComputeUnits: units,
		},
		driver: driver,
		mem:    semaphore.NewWeighted(bytes),
	}
}

func (d *Device) Info() DeviceInfo {
	return d.info
}

// Used is the number of device bytes currently allocated.
func (d *Device) Used() int64 {
	return d.used.Load()
}

func (d *Device) fail(op string, err error) error {
	return &BackendError{Backend: d.info.Name, Op: op, Status: "driver error", Err: err}
}

// stream is an in-order queue of device work. Operations issued on one
// stream never overlap.
type stream struct {
	dev  *Device
	live map[*allocation]struct{}
}

func (d *Device) newStream() *stream {
	return &stream{dev: d, live: make(map[*allocation]struct{})}
}

type allocation struct {
	label string
	bytes int64
}

func (s *stream) malloc(label string, bytes int64) (*allocation, error) {
	d := s.dev
	// Streams share the budget. A full device fails the allocation rather
	// than queueing it behind other calls.
	if !d.mem.TryAcquire(bytes) {
		return nil, &BackendError{
			Backend: d.info.Name,
			Op:      "malloc " + label,
			Status:  fmt.Sprintf("out of memory: %d bytes requested, %d of %d in use", bytes, d.Used(), d.info.MemoryBytes),
		}
	}
	if err := d.driver.Malloc(bytes); err != nil {
		d.mem.Release(bytes)
		return nil, d.fail("malloc "+label, err)
	}
	d.used.Add(bytes)
	a := &allocation{label: label, bytes: bytes}
	s.live[a] = struct{}{}
	return a, nil
}

func (s *stream) free(a *allocation) error {
	if _, ok := s.live[a]; !ok {
		return nil
	}
	delete(s.live, a)
	d := s.dev
	d.used.Add(-a.bytes)
	d.mem.Release(a.bytes)
	if err := d.driver.Free(a.bytes); err != nil {
		return d.fail("free "+a.label, err)
	}
	return nil
}

func (s *stream) memcpy(a *allocation, kind CopyKind, bytes int64) error {
	if err := s.dev.driver.Memcpy(kind, bytes); err != nil {
		return s.dev.fail(fmt.Sprintf("memcpy %s %s", kind, a.label), err)
	}
	return nil
}

// launch runs fn over row blocks of [0, rows), one block per compute unit,
// and waits for all of them.
func (s *stream) launch(kernel string, rows int, fn func(lo, hi int) error) error {
	blocks := splitRows(rows, s.dev.info.ComputeUnits)
	if err := s.dev.driver.Launch(kernel, len(blocks)); err != nil {
		return s.dev.fail("launch "+kernel, err)
	}
	var g errgroup.Group
	for _, b := range blocks {
		g.Go(func() error {
			return fn(b[0], b[1])
		})
	}
	return g.Wait()
}

// close frees everything still allocated on the stream and returns the
// first failure.
func (s *stream) close() error {
	var first error
	for a := range s.live {
		if err := s.free(a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// deviceSlice is a typed buffer in device memory.
type deviceSlice[E any] struct {
	s     *stream
	alloc *allocation
	data  []E
}

func deviceAlloc[E any](s *stream, label string, n int) (*deviceSlice[E], error) {
	var zero E
	a, err := s.malloc(label, int64(n)*int64(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return &deviceSlice[E]{s: s, alloc: a, data: make([]E, n)}, nil
}

// deviceUpload allocates a buffer and copies src into it.
func deviceUpload[E any](s *stream, label string, src []E) (*deviceSlice[E], error) {
	buf, err := deviceAlloc[E](s, label, len(src))
	if err != nil {
		return nil, err
	}
	if err := buf.upload(src); err != nil {
		_ = buf.free()
		return nil, err
	}
	return buf, nil
}

func (b *deviceSlice[E]) bytes() int64 {
	return b.alloc.bytes
}

func (b *deviceSlice[E]) upload(src []E) error {
	if len(src) != len(b.data) {
		return logicErr("upload of %d elements into %s of %d", len(src), b.alloc.label, len(b.data))
	}
	if err := b.s.memcpy(b.alloc, HostToDevice, b.bytes()); err != nil {
		return err
	}
	copy(b.data, src)
	return nil
}

func (b *deviceSlice[E]) download(dst []E) error {
	if len(dst) != len(b.data) {
		return logicErr("download of %s (%d elements) into %d", b.alloc.label, len(b.data), len(dst))
	}
	if err := b.s.memcpy(b.alloc, DeviceToHost, b.bytes()); err != nil {
		return err
	}
	copy(dst, b.data)
	return nil
}

func (b *deviceSlice[E]) free() error {
	return b.s.free(b.alloc)
}

// deviceCSR is a sparse matrix resident in device memory.
type deviceCSR[T Number] struct {
	rows, cols int
	rowPtr     *deviceSlice[int32]
	colIdx     *deviceSlice[int32]
	values     *deviceSlice[T]
}

func uploadCSR[T Number](s *stream, label string, m *CSR[T]) (*deviceCSR[T], error) {
	d := &deviceCSR[T]{rows: m.Rows, cols: m.Cols}
	var err error
	if d.rowPtr, err = deviceUpload(s, label+".rowptr", m.RowPtr); err != nil {
		return nil, err
	}
	if d.colIdx, err = deviceUpload(s, label+".colidx", m.ColIdx); err != nil {
		d.free()
		return nil, err
	}
	if d.values, err = deviceUpload(s, label+".values", m.Values); err != nil {
		d.free()
		return nil, err
	}
	return d, nil
}

// view exposes the device buffers to kernels running on the device.
func (d *deviceCSR[T]) view() *CSR[T] {
	return &CSR[T]{
		Rows:   d.rows,
		Cols:   d.cols,
		RowPtr: d.rowPtr.data,
		ColIdx: d.colIdx.data,
		Values: d.values.data,
	}
}

// download copies the matrix back to host memory.
func (d *deviceCSR[T]) download() (*CSR[T], error) {
	m := &CSR[T]{
		Rows:   d.rows,
		Cols:   d.cols,
		RowPtr: make([]int32, len(d.rowPtr.data)),
		ColIdx: make([]int32, len(d.colIdx.data)),
		Values: make([]T, len(d.values.data)),
	}
	if err := d.rowPtr.download(m.RowPtr); err != nil {
		return nil, err
	}
	if err := d.colIdx.download(m.ColIdx); err != nil {
		return nil, err
	}
	if err := d.values.download(m.Values); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *deviceCSR[T]) free() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if d.rowPtr != nil {
		keep(d.rowPtr.free())
	}
	if d.colIdx != nil {
		keep(d.colIdx.free())
	}
	if d.values != nil {
		keep(d.values.free())
	}
	return first
}
