package cvs

// Version is reported by the accelerator backend when a call sets it up.
const Version = "0.3.0"

// acceleratorBackend keeps the index resident on the device for one call
// and scores batches one after the other on a single stream. The buffers of
// a batch are freed before the next batch starts.
type acceleratorBackend[T Number] struct {
	plan   *plan[T]
	dev    *Device
	stream *stream
	rows   *deviceCSR[T]
	cols   *deviceCSR[T]
	enc    *EncoderScratch[T]
	dense  []T
	scores []T
}

func newAcceleratorBackend[T Number](p *plan[T], dev *Device, logger PrintfFunc) (*acceleratorBackend[T], error) {
	s := dev.newStream()
	b := &acceleratorBackend[T]{
		plan:   p,
		dev:    dev,
		stream: s,
		enc:    NewEncoderScratch[T](p.enc.Space()),
	}
	var err error
	if b.rows, err = uploadCSR(s, "index", p.index.Rows()); err != nil {
		s.close()
		return nil, err
	}
	// Only the single-query sparse kernel walks the transpose.
	if p.singleSparse() {
		if b.cols, err = uploadCSR(s, "index.t", p.index.Columns()); err != nil {
			s.close()
			return nil, err
		}
	}
	if logger != nil {
		info := dev.Info()
		logger("accelerator backend %s: device %s, %d compute units, %d of %d bytes in use",
			Version, info.Name, info.ComputeUnits, dev.Used(), info.MemoryBytes)
	}
	return b, nil
}

func (b *acceleratorBackend[T]) Info() BackendInfo {
	info := b.dev.Info()
	return BackendInfo{Kind: Accelerator, Name: info.Name, Threads: info.ComputeUnits}
}

func (b *acceleratorBackend[T]) Run(batches []Batch, sink func(Batch, []T) error) error {
	for _, batch := range batches {
		if err := b.score(batch, sink); err != nil {
			return err
		}
	}
	return nil
}

func (b *acceleratorBackend[T]) score(batch Batch, sink func(Batch, []T) error) error {
	var q encodedBatch[T]
	q, b.dense = b.plan.encode(batch, b.enc, b.dense)
	need := b.plan.index.Items() * batch.Width()
	if cap(b.scores) < need {
		b.scores = make([]T, need)
	}
	scores := b.scores[:need]

	ex := &deviceExecutor[T]{s: b.stream}
	err := ex.compute(b.plan, b.rows, b.cols, q, scores)
	if ferr := ex.release(); err == nil {
		err = ferr
	}
	if err != nil {
		return err
	}
	return sink(batch, scores)
}

func (b *acceleratorBackend[T]) Close() error {
	return b.stream.close()
}

// deviceExecutor holds the device buffers of one batch.
type deviceExecutor[T Number] struct {
	s     *stream
	out   *deviceSlice[T]
	ptr   *deviceSlice[int32]
	idx   *deviceSlice[int32]
	val   *deviceSlice[T]
	frees []func() error
}

func (e *deviceExecutor[T]) compute(p *plan[T], rows, cols *deviceCSR[T], q encodedBatch[T], dst []T) error {
	dq, err := e.place(q)
	if err != nil {
		return err
	}
	var colsView *CSR[T]
	if cols != nil {
		colsView = cols.view()
	}
	return scoreBatch[T](e, p, rows.view(), colsView, dq, dst)
}

// place uploads the query vectors and returns them as seen by the device.
func (e *deviceExecutor[T]) place(q encodedBatch[T]) (encodedBatch[T], error) {
	dq := encodedBatch[T]{width: q.width}
	switch {
	case q.isDense():
		buf, err := deviceUpload(e.s, "query", q.dense)
		if err != nil {
			return dq, err
		}
		e.frees = append(e.frees, buf.free)
		dq.dense = buf.data
	case q.sparse != nil:
		m, err := uploadCSR(e.s, "query", q.sparse)
		if err != nil {
			return dq, err
		}
		e.frees = append(e.frees, m.free)
		dq.sparse = m.view()
	default:
		idx, err := deviceUpload(e.s, "query.idx", q.vec.Idx)
		if err != nil {
			return dq, err
		}
		e.frees = append(e.frees, idx.free)
		val, err := deviceUpload(e.s, "query.val", q.vec.Val)
		if err != nil {
			return dq, err
		}
		e.frees = append(e.frees, val.free)
		dq.vec = SparseVector[T]{Len: q.vec.Len, Idx: idx.data, Val: val.data}
	}
	return dq, nil
}

func (e *deviceExecutor[T]) launch(kernel string, rows int, fn func(lo, hi int, ks *kernelScratch[T])) error {
	return e.s.launch(kernel, rows, func(lo, hi int) error {
		fn(lo, hi, new(kernelScratch[T]))
		return nil
	})
}

func (e *deviceExecutor[T]) output(dst []T) ([]T, error) {
	out, err := deviceAlloc[T](e.s, "scores", len(dst))
	if err != nil {
		return nil, err
	}
	e.out = out
	e.frees = append(e.frees, out.free)
	return out.data, nil
}

func (e *deviceExecutor[T]) download(_ []T, dst []T) error {
	return e.out.download(dst)
}

func (e *deviceExecutor[T]) rowOffsets(n int) ([]int32, error) {
	ptr, err := deviceAlloc[int32](e.s, "product.rowptr", n)
	if err != nil {
		return nil, err
	}
	e.ptr = ptr
	e.frees = append(e.frees, ptr.free)
	return ptr.data, nil
}

func (e *deviceExecutor[T]) nonZeros(n int) ([]int32, []T, error) {
	idx, err := deviceAlloc[int32](e.s, "product.colidx", n)
	if err != nil {
		return nil, nil, err
	}
	e.idx = idx
	e.frees = append(e.frees, idx.free)
	val, err := deviceAlloc[T](e.s, "product.values", n)
	if err != nil {
		return nil, nil, err
	}
	e.val = val
	e.frees = append(e.frees, val.free)
	return idx.data, val.data, nil
}

// count copies the last row offset back to the host.
func (e *deviceExecutor[T]) count(rowPtr []int32) (int, error) {
	if err := e.s.memcpy(e.ptr.alloc, DeviceToHost, 4); err != nil {
		return 0, err
	}
	return int(rowPtr[len(rowPtr)-1]), nil
}

func (e *deviceExecutor[T]) collect(res *CSR[T]) (*CSR[T], error) {
	d := &deviceCSR[T]{rows: res.Rows, cols: res.Cols, rowPtr: e.ptr, colIdx: e.idx, values: e.val}
	return d.download()
}

// release frees every buffer of the batch and returns the first failure.
func (e *deviceExecutor[T]) release() error {
	var first error
	for _, free := range e.frees {
		if err := free(); err != nil && first == nil {
			first = err
		}
	}
	e.frees = nil
	return first
}
