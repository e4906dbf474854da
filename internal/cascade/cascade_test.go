package cascade

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/imgmatch/index"
)

func fixed(name string, c ...index.Candidate) Stage {
	return Stage{Name: name, Run: func(context.Context) ([]index.Candidate, error) { return c, nil }}
}

func TestFold(t *testing.T) {
	t.Run("LastStageDistanceWins", func(t *testing.T) {
		got := Fold([][]index.Candidate{
			{{ID: "a", Distance: 1}, {ID: "b", Distance: 2}, {ID: "c", Distance: 3}},
			{{ID: "c", Distance: 9}, {ID: "b", Distance: 4}, {ID: "x", Distance: 0}},
		})
		assert.Equal(t, []index.Candidate{{ID: "b", Distance: 4}, {ID: "c", Distance: 9}}, got)
	})

	t.Run("ReorderedByLastStage", func(t *testing.T) {
		got := Fold([][]index.Candidate{
			{{ID: "a", Distance: 0}, {ID: "b", Distance: 5}},
			{{ID: "b", Distance: 1}, {ID: "a", Distance: 7}},
		})
		assert.Equal(t, []index.Candidate{{ID: "b", Distance: 1}, {ID: "a", Distance: 7}}, got)
	})

	t.Run("SingleStageVerbatim", func(t *testing.T) {
		got := Fold([][]index.Candidate{{{ID: "b", Distance: 2}, {ID: "a", Distance: 2}, {ID: "c", Distance: 0}}})
		assert.Equal(t, []index.Candidate{{ID: "c", Distance: 0}, {ID: "a", Distance: 2}, {ID: "b", Distance: 2}}, got)
	})

	t.Run("EmptyStageEmptiesResult", func(t *testing.T) {
		got := Fold([][]index.Candidate{{{ID: "a", Distance: 1}}, {}, {{ID: "a", Distance: 0}}})
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("ThreeStages", func(t *testing.T) {
		got := Fold([][]index.Candidate{
			{{ID: "a", Distance: 1}, {ID: "b", Distance: 1}, {ID: "c", Distance: 1}},
			{{ID: "a", Distance: 2}, {ID: "c", Distance: 2}},
			{{ID: "c", Distance: 3}, {ID: "b", Distance: 3}},
		})
		assert.Equal(t, []index.Candidate{{ID: "c", Distance: 3}}, got)
	})
}

func TestRunMatchesFold(t *testing.T) {
	stages := []Stage{
		fixed("s0", index.Candidate{ID: "a", Distance: 1}, index.Candidate{ID: "b", Distance: 2}),
		fixed("s1", index.Candidate{ID: "b", Distance: 5}, index.Candidate{ID: "a", Distance: 6}),
	}
	want := []index.Candidate{{ID: "b", Distance: 5}, {ID: "a", Distance: 6}}

	for _, p := range []int{0, 1, 2, 8} {
		got, err := Run(context.Background(), stages, p)
		require.NoError(t, err)
		assert.Equal(t, want, got, "parallelism %d", p)
	}
}

func TestSequentialShortCircuits(t *testing.T) {
	var calls atomic.Int32
	counting := func(c ...index.Candidate) Stage {
		return Stage{Run: func(context.Context) ([]index.Candidate, error) {
			calls.Add(1)
			return c, nil
		}}
	}

	got, err := Run(context.Background(), []Stage{
		counting(index.Candidate{ID: "a", Distance: 0}),
		counting(index.Candidate{ID: "b", Distance: 0}),
		counting(index.Candidate{ID: "a", Distance: 0}),
	}, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStageError(t *testing.T) {
	boom := errors.New("boom")
	stages := []Stage{
		fixed("ok", index.Candidate{ID: "a", Distance: 0}),
		{Name: "bad", Run: func(context.Context) ([]index.Candidate, error) { return nil, boom }},
	}

	for _, p := range []int{0, 1} {
		_, err := Run(context.Background(), stages, p)
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)

		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 1, se.Stage)
		assert.Equal(t, "bad", se.Name)
	}
}

func TestCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, []Stage{fixed("s", index.Candidate{ID: "a", Distance: 0})}, 1)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Run(ctx, []Stage{fixed("s", index.Candidate{ID: "a", Distance: 0})}, 4)
	assert.ErrorIs(t, err, context.Canceled)
}
