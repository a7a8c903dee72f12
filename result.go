package cvs

import (
	"fmt"
	"strings"
	"sync"
)

type Result struct {
	Score float64
	ID    int32
}

func (r Result) String() string {
	return fmt.Sprintf("(%d %0.4f)", r.ID, r.Score)
}

// Candidates is the result buffer of one call: TopN item indices for every
// query, row-major by query. The caller owns it and releases it exactly once.
type Candidates struct {
	mu       sync.RWMutex
	ids      []int32
	scores   []float64
	n        int
	queries  int
	released bool
}

func newCandidates(queries, n int) *Candidates {
	return &Candidates{
		ids:     make([]int32, queries*n),
		scores:  make([]float64, queries*n),
		n:       n,
		queries: queries,
	}
}

func (c *Candidates) NumQueries() int {
	return c.queries
}

func (c *Candidates) TopN() int {
	return c.n
}

// Indices is the flat buffer of NumQueries()*TopN() item indices. It is nil
// once the buffer has been released.
func (c *Candidates) Indices() []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ids
}

// Row returns the ranked item indices for query q.
func (c *Candidates) Row(q int) []int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return nil
	}
	return c.ids[q*c.n : q*c.n+c.n]
}

// Scores returns the scores matching Row(q), raised out of the numeric
// domain the call ran in.
func (c *Candidates) Scores(q int) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.released {
		return nil
	}
	return c.scores[q*c.n : q*c.n+c.n]
}

func (c *Candidates) Results(q int) []Result {
	ids, scores := c.Row(q), c.Scores(q)
	out := make([]Result, len(ids))
	for i := range ids {
		out[i] = Result{ID: ids[i], Score: scores[i]}
	}
	return out
}

// Release frees the buffer. Releasing twice returns ErrReleased.
func (c *Candidates) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrReleased
	}
	c.released = true
	c.ids = nil
	c.scores = nil
	return nil
}

// Overlap is the mean fraction of the first at candidates of each query that
// also appear in the first at candidates of baseline.
func (c *Candidates) Overlap(baseline *Candidates, at int) float64 {
	if c.queries == 0 || at <= 0 {
		return 0
	}
	at = min(at, c.n, baseline.n)
	queries := min(c.queries, baseline.queries)
	if queries == 0 {
		return 0
	}
	total := 0.0
	for q := 0; q < queries; q++ {
		got, want := c.Row(q), baseline.Row(q)
		if got == nil || want == nil {
			return 0
		}
		found := 0
		want = want[:at]
		for _, v := range got[:at] {
			for _, w := range want {
				if v == w {
					found++
					break
				}
			}
		}
		total += float64(found) / float64(at)
	}
	return total / float64(queries)
}

func (c *Candidates) String() string {
	var b strings.Builder
	for q := 0; q < c.queries; q++ {
		fmt.Fprintln(&b, c.Results(q))
	}
	return b.String()
}
