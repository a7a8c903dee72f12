package cvs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type PrintfFunc func(string, ...any)

// Engine runs candidate searches. Its configuration is fixed at creation;
// everything that varies per call travels in Params, so concurrent calls
// with different settings do not interfere.
type Engine struct {
	cfg     Config
	device  *Device
	logger  PrintfFunc
	handles registry
}

type Option func(*engineOptions)

type engineOptions struct {
	driver Driver
	logger PrintfFunc
}

// WithDriver replaces the emulated accelerator runtime.
func WithDriver(d Driver) Option {
	return func(o *engineOptions) {
		o.driver = d
	}
}

func WithLogger(printf PrintfFunc) Option {
	return func(o *engineOptions) {
		o.logger = printf
	}
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		cfg:    cfg,
		device: NewDevice(cfg.Device, o.driver),
		logger: o.logger,
	}, nil
}

func (e *Engine) SetLogger(printf PrintfFunc) {
	e.logger = printf
}

func (e *Engine) log(s string, a ...any) {
	if e.logger != nil {
		e.logger(s, a...)
	}
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Device() *Device {
	return e.device
}

// FindTopCandidates ranks the reference items for every query and returns
// the TopN best item indices per query.
func (e *Engine) FindTopCandidates(refs ReferenceSet, queries QuerySet, p Params) (*Candidates, error) {
	if err := refs.Validate("reference offsets"); err != nil {
		return nil, err
	}
	space := e.cfg.Space
	switch p.Domain {
	case Float32:
		return search[float32](e, refs.Len(), queries, p, Float32Quantization{},
			func(q Quantization[float32]) (*ReferenceIndex[float32], error) {
				return BuildReferenceIndex(space, refs, p.Normalize, q)
			})
	case FixedPoint:
		return search[int32](e, refs.Len(), queries, p, FixedPointQuantization{Accuracy: e.cfg.Accuracy},
			func(q Quantization[int32]) (*ReferenceIndex[int32], error) {
				return BuildReferenceIndex(space, refs, p.Normalize, q)
			})
	}
	return nil, invalidArg("domain", "unknown domain %d", int(p.Domain))
}

// FindTopCandidatesCSR is FindTopCandidates over reference items that are
// already discretized: rowOffsets holds one offset per item plus the total,
// colIdx the bins of every item.
func (e *Engine) FindTopCandidatesCSR(rowOffsets, colIdx []int32, queries QuerySet, p Params) (*Candidates, error) {
	if len(rowOffsets) == 0 {
		return nil, invalidArg("row offsets", "must hold at least the final nnz entry")
	}
	items := len(rowOffsets) - 1
	space := e.cfg.Space
	switch p.Domain {
	case Float32:
		return search[float32](e, items, queries, p, Float32Quantization{},
			func(q Quantization[float32]) (*ReferenceIndex[float32], error) {
				return NewReferenceIndexFromCSR(space, rowOffsets, colIdx, p.Normalize, q)
			})
	case FixedPoint:
		return search[int32](e, items, queries, p, FixedPointQuantization{Accuracy: e.cfg.Accuracy},
			func(q Quantization[int32]) (*ReferenceIndex[int32], error) {
				return NewReferenceIndexFromCSR(space, rowOffsets, colIdx, p.Normalize, q)
			})
	}
	return nil, invalidArg("domain", "unknown domain %d", int(p.Domain))
}

func validateParams(items int, queries QuerySet, p Params) error {
	switch {
	case p.TopN <= 0:
		return invalidArg("top n", "must be positive, got %d", p.TopN)
	case p.TopN > items:
		return invalidArg("top n", "%d exceeds the %d reference items", p.TopN, items)
	case p.BatchSize < 0:
		return invalidArg("batch size", "must not be negative, got %d", p.BatchSize)
	case p.Threads < 0:
		return invalidArg("threads", "must not be negative, got %d", p.Threads)
	case p.ProgressEvery < 0:
		return invalidArg("progress interval", "must not be negative, got %d", p.ProgressEvery)
	case p.Backend != CPU && p.Backend != Accelerator:
		return invalidArg("backend", "unknown backend %d", int(p.Backend))
	case p.Density != Sparse && p.Density != Dense:
		return invalidArg("density", "unknown density %d", int(p.Density))
	}
	return queries.Validate("query offsets")
}

// checkScoreRange rejects calls whose best possible score does not fit the
// domain. Every score is bounded by one item's weight mass times the largest
// query weight.
func checkScoreRange[T Number](index *ReferenceIndex[T], enc *QueryEncoder[T], quant Quantization[T]) error {
	if bound := index.MaxRowMass() * enc.MaxWeight(); bound > quant.MaxScore() {
		return invalidArg("reference items", "scores up to %.0f overflow the %s domain (max %.0f); normalize or lower the accuracy",
			bound, quant.Name(), quant.MaxScore())
	}
	return nil
}

type selectScratch[T Number] struct {
	order []int32
	vals  []T
}

func search[T Number](e *Engine, items int, queries QuerySet, p Params, quant Quantization[T], build func(Quantization[T]) (*ReferenceIndex[T], error)) (*Candidates, error) {
	if err := validateParams(items, queries, p); err != nil {
		return nil, err
	}
	enc, err := NewQueryEncoder(e.cfg.Space, p.Tolerance, p.Gaussian, quant)
	if err != nil {
		return nil, err
	}
	index, err := build(quant)
	if err != nil {
		return nil, err
	}
	if err := checkScoreRange(index, enc, quant); err != nil {
		return nil, err
	}
	id := uuid.New()
	start := time.Now()
	e.log("call %s: %s, %d queries, top %d, tolerance %v (%d bins), index %s",
		id, p.Method(), queries.Len(), p.TopN, p.Tolerance, enc.HalfWindow(), index.Stats())

	out := newCandidates(queries.Len(), p.TopN)
	if queries.Len() == 0 {
		return out, nil
	}
	pl := newPlan(index, enc, quant, p.Density, p.batchSize())
	backend, err := newBackend(e, pl, p)
	if err != nil {
		return nil, err
	}

	batches := splitBatches(queries, p.batchSize())
	n := p.TopN
	var done atomic.Int64
	scratch := sync.Pool{New: func() any {
		return &selectScratch[T]{vals: make([]T, n)}
	}}
	err = backend.Run(batches, func(b Batch, scores []T) error {
		s := scratch.Get().(*selectScratch[T])
		defer scratch.Put(s)
		for j := 0; j < b.Width(); j++ {
			q := b.First + j
			s.order = SelectTopK(scores[j*items:(j+1)*items], n, out.ids[q*n:q*n+n], s.vals, s.order)
			for k, v := range s.vals {
				out.scores[q*n+k] = quant.Raise(v)
			}
		}
		if every := int64(p.ProgressEvery); every > 0 {
			if d := done.Add(1); d%every == 0 || d == int64(len(batches)) {
				e.log("call %s: %d/%d batches", id, d, len(batches))
			}
		}
		return nil
	})
	if cerr := backend.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		e.log("call %s: failed after %v: %v", id, time.Since(start), err)
		return nil, err
	}
	e.log("call %s: %d queries in %v on %s", id, queries.Len(), time.Since(start), backend.Info().Name)
	return out, nil
}

func newBackend[T Number](e *Engine, pl *plan[T], p Params) (Backend[T], error) {
	if p.Backend == Accelerator {
		b, err := newAcceleratorBackend(pl, e.device, e.logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return newCPUBackend(pl, p.threads(), e.logger), nil
}
