package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctx(tickEst, dataSize, complexity, hitRate uint64) *Context {
	return NewContext(tickEst, dataSize, complexity, hitRate)
}

func TestSimpleGuards(t *testing.T) {
	c := ctx(6, 100, 3, 9000)

	tests := []struct {
		name  string
		guard Guard
		want  bool
	}{
		{"tick within", TickBudget(8), true},
		{"tick at limit", TickBudget(6), true},
		{"tick over", TickBudget(5), false},
		{"size within", DataSize(128), true},
		{"size over", DataSize(64), false},
		{"complexity within", QueryComplexity(4), true},
		{"complexity over", QueryComplexity(2), false},
		{"hit rate above min", CacheHitRate(8000), true},
		{"hit rate below min", CacheHitRate(9500), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.guard.Evaluate(c))
		})
	}
}

func TestCompositeIsConjunction(t *testing.T) {
	c := ctx(6, 100, 3, 9000)

	pass := TickBudget(8)
	fail := DataSize(10)

	g1, err := Composite(pass, pass, pass)
	require.NoError(t, err)
	assert.True(t, g1.Evaluate(c))

	g2, err := Composite(pass, fail, pass)
	require.NoError(t, err)
	assert.False(t, g2.Evaluate(c))

	// Order independence.
	g3, err := Composite(fail, pass, pass)
	require.NoError(t, err)
	assert.Equal(t, g2.Evaluate(c), g3.Evaluate(c))
}

func TestCompositeMatchesChildConjunction(t *testing.T) {
	c := ctx(9, 100, 3, 9000)
	children := []Guard{TickBudget(8), DataSize(128), CacheHitRate(8000)}

	g, err := Composite(children...)
	require.NoError(t, err)

	want := true
	for _, child := range children {
		want = want && child.Evaluate(c)
	}
	assert.Equal(t, want, g.Evaluate(c))
}

func TestEmptyCompositeRejected(t *testing.T) {
	_, err := Composite()
	assert.ErrorIs(t, err, ErrEmptyComposite)
}

func TestFromSpecValidation(t *testing.T) {
	_, err := FromSpec("no_such_guard", 1, nil)
	assert.Error(t, err)

	_, err = FromSpec("cache_hit_rate", 10001, nil)
	assert.Error(t, err)

	g, err := FromSpec("tick_budget", 8, nil)
	require.NoError(t, err)
	assert.Equal(t, KindTickBudget, g.Kind())
}

func TestEvaluateBit(t *testing.T) {
	c := ctx(6, 100, 3, 9000)
	assert.Equal(t, uint64(1), TickBudget(8).EvaluateBit(c))
	assert.Equal(t, uint64(0), TickBudget(2).EvaluateBit(c))

	// Bitwise AND composition for budget-critical callers.
	combined := TickBudget(8).EvaluateBit(c) & DataSize(128).EvaluateBit(c)
	assert.Equal(t, uint64(1), combined)
}

func TestSetEvaluate(t *testing.T) {
	s, err := NewSet(TickBudget(8), DataSize(64), CacheHitRate(8000))
	require.NoError(t, err)

	c := ctx(6, 100, 3, 9000) // data size guard fails
	bitmap, outcomes := s.Evaluate(c)

	assert.Equal(t, uint64(0b111), bitmap)
	assert.Equal(t, uint64(0b101), outcomes)
	assert.False(t, Pass(bitmap, outcomes))
	assert.Equal(t, 1, FirstFailed(bitmap, outcomes))
}

func TestSetAllPass(t *testing.T) {
	s, err := NewSet(TickBudget(8), DataSize(128))
	require.NoError(t, err)

	bitmap, outcomes := s.Evaluate(ctx(6, 100, 3, 9000))
	assert.True(t, Pass(bitmap, outcomes))
	assert.Equal(t, -1, FirstFailed(bitmap, outcomes))
}

func TestSetRejectsZeroGuard(t *testing.T) {
	_, err := NewSet(Guard{})
	assert.Error(t, err)
}
