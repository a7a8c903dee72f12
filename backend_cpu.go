package cvs

import (
	"context"
	"runtime"
	"strings"
	"sync"

	"github.com/alitto/pond"
	"golang.org/x/sys/cpu"
)

// cpuBackend scores batches in parallel on a worker pool sized for one
// call. Each batch is scored by a single worker with its own scratch.
type cpuBackend[T Number] struct {
	plan    *plan[T]
	threads int
	pool    *pond.WorkerPool
	scratch sync.Pool
}

type cpuScratch[T Number] struct {
	enc    *EncoderScratch[T]
	dense  []T
	scores []T
	kernel kernelScratch[T]
}

func newCPUBackend[T Number](p *plan[T], threads int, logger PrintfFunc) *cpuBackend[T] {
	b := &cpuBackend[T]{
		plan:    p,
		threads: threads,
		pool:    pond.New(threads, 0, pond.MinWorkers(threads)),
	}
	b.scratch.New = func() any {
		return &cpuScratch[T]{enc: NewEncoderScratch[T](p.enc.Space())}
	}
	if logger != nil {
		logger("cpu backend: %d threads on %s/%s, simd %s", threads, runtime.GOOS, runtime.GOARCH, simdFeatures())
	}
	return b
}

func simdFeatures() string {
	var f []string
	if cpu.X86.HasAVX2 {
		f = append(f, "avx2")
	}
	if cpu.X86.HasAVX512F {
		f = append(f, "avx512f")
	}
	if cpu.X86.HasFMA {
		f = append(f, "fma")
	}
	if cpu.ARM64.HasASIMD {
		f = append(f, "asimd")
	}
	if len(f) == 0 {
		return "none"
	}
	return strings.Join(f, ",")
}

func (b *cpuBackend[T]) Info() BackendInfo {
	return BackendInfo{Kind: CPU, Name: "cpu", Threads: b.threads}
}

func (b *cpuBackend[T]) Run(batches []Batch, sink func(Batch, []T) error) error {
	group, _ := b.pool.GroupContext(context.Background())
	for _, batch := range batches {
		group.Submit(func() error {
			s := b.scratch.Get().(*cpuScratch[T])
			defer b.scratch.Put(s)
			return b.score(batch, s, sink)
		})
	}
	return group.Wait()
}

func (b *cpuBackend[T]) score(batch Batch, s *cpuScratch[T], sink func(Batch, []T) error) error {
	var q encodedBatch[T]
	q, s.dense = b.plan.encode(batch, s.enc, s.dense)
	need := b.plan.index.Items() * batch.Width()
	if cap(s.scores) < need {
		s.scores = make([]T, need)
	}
	scores := s.scores[:need]
	ex := hostExecutor[T]{kernel: &s.kernel}
	if err := scoreBatch[T](ex, b.plan, b.plan.index.Rows(), b.plan.index.Columns(), q, scores); err != nil {
		return err
	}
	return sink(batch, scores)
}

func (b *cpuBackend[T]) Close() error {
	b.pool.StopAndWait()
	return nil
}

// hostExecutor runs kernels on the calling goroutine in host memory.
type hostExecutor[T Number] struct {
	kernel *kernelScratch[T]
}

func (h hostExecutor[T]) launch(_ string, rows int, fn func(lo, hi int, ks *kernelScratch[T])) error {
	if rows > 0 {
		fn(0, rows, h.kernel)
	}
	return nil
}

func (h hostExecutor[T]) output(dst []T) ([]T, error) {
	return dst, nil
}

func (h hostExecutor[T]) download([]T, []T) error {
	return nil
}

func (h hostExecutor[T]) rowOffsets(n int) ([]int32, error) {
	return make([]int32, n), nil
}

func (h hostExecutor[T]) nonZeros(n int) ([]int32, []T, error) {
	return make([]int32, n), make([]T, n), nil
}

func (h hostExecutor[T]) count(rowPtr []int32) (int, error) {
	return int(rowPtr[len(rowPtr)-1]), nil
}

func (h hostExecutor[T]) collect(res *CSR[T]) (*CSR[T], error) {
	return res, nil
}
