package cvs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toyCandidates(t *testing.T, e *Engine) *Candidates {
	queries := NewGroups([][]float64{{1, 2}, {0, 1, 2, 4}})
	res, err := e.FindTopCandidates(toyRefs(), queries, Params{TopN: 3, Normalize: true})
	require.NoError(t, err)
	return res
}

func TestCandidates(t *testing.T) {
	e := newTestEngine(t, toySpace)
	res := toyCandidates(t, e)
	assert.Equal(t, 2, res.NumQueries())
	assert.Equal(t, 3, res.TopN())
	assert.Equal(t, []int32{2, 0, 1, 0, 3, 4}, res.Indices())
	rs := res.Results(1)
	require.Len(t, rs, 3)
	for i, want := range []Result{{ID: 0, Score: 1}, {ID: 3, Score: 1}, {ID: 4, Score: 0.8}} {
		assert.Equal(t, want.ID, rs[i].ID)
		assert.InDelta(t, want.Score, rs[i].Score, 1e-6)
	}
	assert.Equal(t, "[(2 0.6667) (0 0.5000) (1 0.5000)]\n[(0 1.0000) (3 1.0000) (4 0.8000)]\n", res.String())

	require.NoError(t, res.Release())
	assert.ErrorIs(t, res.Release(), ErrReleased)
	assert.Nil(t, res.Indices())
	assert.Nil(t, res.Row(0))
	assert.Nil(t, res.Scores(1))
	assert.Empty(t, res.Results(0))
}

func TestCandidatesOverlap(t *testing.T) {
	e := newTestEngine(t, toySpace)
	a := toyCandidates(t, e)
	b := toyCandidates(t, e)
	assert.Equal(t, 1.0, a.Overlap(b, 3))
	assert.Equal(t, 1.0, a.Overlap(b, 10))
	assert.Zero(t, a.Overlap(b, 0))

	// Swap in a different third candidate for query 0 only.
	b.ids[2] = 3
	assert.InDelta(t, (2.0/3+1)/2, a.Overlap(b, 3), 1e-9)
	assert.Equal(t, 1.0, a.Overlap(b, 2))

	// Only the queries both sides hold are compared.
	one, err := e.FindTopCandidates(toyRefs(), NewGroups([][]float64{{1, 2}}), Params{TopN: 3, Normalize: true})
	require.NoError(t, err)
	assert.Equal(t, 1.0, one.Overlap(a, 3))
	assert.Equal(t, 1.0, a.Overlap(one, 3))

	require.NoError(t, b.Release())
	assert.Zero(t, a.Overlap(b, 3))
}

func TestHandles(t *testing.T) {
	e := newTestEngine(t, toySpace)
	a := toyCandidates(t, e)
	b := toyCandidates(t, e)

	ha := e.Export(a)
	hb := e.Export(b)
	assert.NotZero(t, ha)
	assert.NotEqual(t, ha, hb)
	assert.Equal(t, 2, e.Live())

	got, err := e.Lookup(hb)
	require.NoError(t, err)
	assert.Same(t, b, got)

	require.NoError(t, e.ReleaseHandle(ha))
	assert.Equal(t, 1, e.Live())
	assert.ErrorIs(t, a.Release(), ErrReleased)
	assert.ErrorIs(t, e.ReleaseHandle(ha), ErrInvalidArgument)
	_, err = e.Lookup(ha)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, e.ReleaseHandle(Handle(999)), ErrInvalidArgument)

	require.NoError(t, e.ReleaseHandle(hb))
	assert.Zero(t, e.Live())
}
