package cvs

// Backend scores the batches of one call against a reference index. It is
// created for a single call and closed when the call ends.
type Backend[T Number] interface {
	Info() BackendInfo
	// Run scores every batch and hands its column-major items x width scores
	// to sink. sink may run concurrently for different batches, never twice
	// for the same one. The scores slice is only valid during the sink call.
	Run(batches []Batch, sink func(b Batch, scores []T) error) error
	Close() error
}

type BackendInfo struct {
	Kind    BackendKind
	Name    string
	Threads int
}

// Batch is a run of consecutive queries scored by one product.
type Batch struct {
	Seq     int
	First   int
	Queries [][]float64
}

func (b Batch) Width() int {
	return len(b.Queries)
}

// splitBatches cuts queries into batches of at most width queries each.
func splitBatches(queries QuerySet, width int) []Batch {
	n := queries.Len()
	out := make([]Batch, 0, (n+width-1)/width)
	for first := 0; first < n; first += width {
		last := min(first+width, n)
		b := Batch{Seq: len(out), First: first, Queries: make([][]float64, 0, last-first)}
		for q := first; q < last; q++ {
			b.Queries = append(b.Queries, queries.Group(q))
		}
		out = append(out, b)
	}
	return out
}

// plan is what every backend needs to score a call: the index, the encoder
// built for the call's tolerance, the density of the query vectors and the
// configured batch width.
type plan[T Number] struct {
	index   *ReferenceIndex[T]
	enc     *QueryEncoder[T]
	quant   Quantization[T]
	density Density
	width   int
	maxRow  int
}

func newPlan[T Number](index *ReferenceIndex[T], enc *QueryEncoder[T], quant Quantization[T], density Density, width int) *plan[T] {
	return &plan[T]{
		index:   index,
		enc:     enc,
		quant:   quant,
		density: density,
		width:   width,
		maxRow:  maxRowLen(index.Rows()),
	}
}

// singleSparse reports whether sparse queries are scored one at a time
// against the transpose rather than packed into a product.
func (p *plan[T]) singleSparse() bool {
	return p.density == Sparse && p.width == 1
}

// encodedBatch holds a batch's query vectors in exactly one of the dense or
// sparse forms.
type encodedBatch[T Number] struct {
	width int
	// dense is BinCount long for one query, BinCount x width row-major for
	// more.
	dense  []T
	vec    SparseVector[T]
	sparse *CSR[T]
}

func (e *encodedBatch[T]) isDense() bool {
	return e.dense != nil
}

// encode builds the query vectors of b. Dense vectors are written into buf,
// grown as needed; the (possibly new) buffer is returned for reuse. Sparse
// batches are packed whenever the call batches, including a short last
// batch of one query.
func (p *plan[T]) encode(b Batch, s *EncoderScratch[T], buf []T) (encodedBatch[T], []T) {
	e := encodedBatch[T]{width: b.Width()}
	bins := p.enc.Space().BinCount
	switch {
	case p.density == Dense:
		need := bins * e.width
		if cap(buf) < need {
			buf = make([]T, need)
		}
		e.dense = buf[:need]
		if e.width == 1 {
			p.enc.EncodeDense(b.Queries[0], e.dense)
		} else {
			p.enc.PackDense(b.Queries, e.dense)
		}
	case p.singleSparse():
		e.vec = p.enc.EncodeSparse(b.Queries[0], s, p.index.Occupied)
	default:
		e.sparse = p.enc.PackSparse(b.Queries, s, p.index.Occupied)
	}
	return e, buf
}

// kernelScratch is the per-block working memory of a kernel.
type kernelScratch[T Number] struct {
	vals    []T
	mark    []int32
	touched []int32
}

func (ks *kernelScratch[T]) values(n int) []T {
	if cap(ks.vals) < n {
		ks.vals = make([]T, n)
	}
	return ks.vals[:n]
}

func (ks *kernelScratch[T]) marks(n int) []int32 {
	if cap(ks.mark) < n {
		ks.mark = make([]int32, n)
	}
	ks.mark = ks.mark[:n]
	resetMark(ks.mark)
	return ks.mark
}

// executor is the memory space and the compute of a backend. Buffers it
// returns live in its memory space and kernels launched on it may only
// touch those.
type executor[T Number] interface {
	launch(kernel string, rows int, fn func(lo, hi int, ks *kernelScratch[T])) error
	// output returns a buffer the size of dst for the scores.
	output(dst []T) ([]T, error)
	// download copies scores produced in y to the host buffer dst.
	download(y, dst []T) error
	rowOffsets(n int) ([]int32, error)
	nonZeros(n int) ([]int32, []T, error)
	// count reads the total non-zero count off a row-offset table.
	count(rowPtr []int32) (int, error)
	// collect brings a sparse product to the host.
	collect(res *CSR[T]) (*CSR[T], error)
}

// scoreBatch computes the items x width scores of one encoded batch into
// dst, column-major. rows and cols are the index and its transpose as seen
// by ex. The kernel is picked from the density and the width of the batch.
func scoreBatch[T Number](ex executor[T], p *plan[T], rows, cols *CSR[T], q encodedBatch[T], dst []T) error {
	items := rows.Rows
	if len(dst) != items*q.width {
		return logicErr("score buffer of %d for %d items x %d queries", len(dst), items, q.width)
	}
	if q.sparse != nil {
		return scoreSparseBatch(ex, rows, q.sparse, dst)
	}
	y, err := ex.output(dst)
	if err != nil {
		return err
	}
	switch {
	case q.isDense() && q.width == 1:
		err = ex.launch("spmv", items, func(lo, hi int, ks *kernelScratch[T]) {
			spmvRows(rows, q.dense, y, lo, hi, p.quant, ks.values(p.maxRow))
		})
	case q.isDense():
		err = ex.launch("spmm", items, func(lo, hi int, ks *kernelScratch[T]) {
			spmmRows(rows, q.dense, q.width, y, lo, hi, ks.values(q.width))
		})
	default:
		// Scatter-adds into y, so it runs as a single block.
		err = ex.launch("spmspv", 1, func(int, int, *kernelScratch[T]) {
			spmspv(cols, q.vec, y)
		})
	}
	if err != nil {
		return err
	}
	return ex.download(y, dst)
}

// scoreSparseBatch computes the sparse product in two passes, sizing the
// result before filling it, then expands it on the host.
func scoreSparseBatch[T Number](ex executor[T], rows, x *CSR[T], dst []T) error {
	items := rows.Rows
	res := &CSR[T]{Rows: items, Cols: x.Cols}
	var err error
	if res.RowPtr, err = ex.rowOffsets(items + 1); err != nil {
		return err
	}
	err = ex.launch("spgemm.symbolic", items, func(lo, hi int, ks *kernelScratch[T]) {
		spgemmSymbolic(rows, x, res.RowPtr, lo, hi, ks.marks(x.Cols))
	})
	if err != nil {
		return err
	}
	err = ex.launch("scan", 1, func(int, int, *kernelScratch[T]) {
		prefixSum(res.RowPtr)
	})
	if err != nil {
		return err
	}
	nnz, err := ex.count(res.RowPtr)
	if err != nil {
		return err
	}
	if res.ColIdx, res.Values, err = ex.nonZeros(nnz); err != nil {
		return err
	}
	err = ex.launch("spgemm.numeric", items, func(lo, hi int, ks *kernelScratch[T]) {
		ks.touched = spgemmNumeric(rows, x, res, lo, hi, ks.values(x.Cols), ks.marks(x.Cols), ks.touched)
	})
	if err != nil {
		return err
	}
	host, err := ex.collect(res)
	if err != nil {
		return err
	}
	return scatterColumns(host, dst)
}
