package imgmatch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/imgmatch/algorithm"
	"github.com/hupe1980/imgmatch/imghash"
	"github.com/hupe1980/imgmatch/index"
	"github.com/hupe1980/imgmatch/index/flat"
	"github.com/hupe1980/imgmatch/pipeline"
)

// stubImage is an image identified by name. stubAlgo hashes it by lookup.
type stubImage struct{ name string }

func (stubImage) ColorModel() color.Model { return color.GrayModel }

func (stubImage) Bounds() image.Rectangle { return image.Rect(0, 0, 1, 1) }

func (stubImage) At(int, int) color.Color { return color.Gray{} }

type stubAlgo struct {
	id     uint32
	hashes map[string]uint64
	gate   chan struct{}
}

func (s stubAlgo) ID() uint32 { return s.id }

func (s stubAlgo) Spec() algorithm.Spec { return algorithm.Spec{Kind: "stub", Size: int(s.id)} }

func (s stubAlgo) BitResolution() int { return 64 }

func (s stubAlgo) Hash(img image.Image) (imghash.Hash, error) {
	si, ok := img.(stubImage)
	if !ok {
		return imghash.Hash{}, algorithm.ErrEmptyImage
	}
	if si.name == "slow" && s.gate != nil {
		<-s.gate
	}
	w, ok := s.hashes[si.name]
	if !ok {
		return imghash.Hash{}, fmt.Errorf("stub %d: no hash for %q", s.id, si.name)
	}
	return imghash.New(s.id, 64, []uint64{w})
}

// A is unique; B..E are near duplicates. Against B the coarse stage sees
// distances 2, 4, 5 (cutoff 6) and the refine stage 3, 6, 10 (cutoff 13).
// F passes only the coarse stage, G only the refine stage.
func scenario() (coarse, refine stubAlgo) {
	coarse = stubAlgo{id: 1, hashes: map[string]uint64{
		"A": ^uint64(0),
		"B": 0,
		"C": 0x3,
		"D": 0xF,
		"E": 0x1F,
		"F": 0x1,
		"G": 0xFF,
		"H": 0,
		"slow": 0,
	}}
	refine = stubAlgo{id: 2, hashes: map[string]uint64{
		"A": ^uint64(0),
		"B": 0,
		"C": 0x7,
		"D": 0x3F,
		"E": 0x3FF,
		"F": 0xFFFF,
		"G": 0x1,
		"H": 0,
		"slow": 0,
	}}
	return coarse, refine
}

func newScenarioMatcher(t *testing.T, names []string, optFns ...Option) (*Matcher, stubAlgo, stubAlgo) {
	t.Helper()

	coarse, refine := scenario()
	m := New(optFns...)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.AddAlgorithm(coarse, pipeline.Normalized(0.1)))
	require.NoError(t, m.AddAlgorithm(refine, pipeline.Normalized(0.2)))

	ctx := context.Background()
	for _, name := range names {
		require.NoError(t, m.AddImage(ctx, name, stubImage{name}))
	}
	return m, coarse, refine
}

func match(t *testing.T, m *Matcher, name string) []index.Candidate {
	t.Helper()
	res, err := m.Match(context.Background(), stubImage{name})
	require.NoError(t, err)
	return res
}

func TestMatchScenario(t *testing.T) {
	for _, p := range []int{1, 4} {
		t.Run(fmt.Sprintf("parallelism=%d", p), func(t *testing.T) {
			m, _, _ := newScenarioMatcher(t, []string{"A", "B", "C", "D", "E"}, WithParallelism(p))

			assert.Equal(t, []index.Candidate{{ID: "A", Distance: 0}}, match(t, m, "A"))
			assert.Equal(t, []index.Candidate{
				{ID: "B", Distance: 0},
				{ID: "C", Distance: 3},
				{ID: "D", Distance: 6},
				{ID: "E", Distance: 10},
			}, match(t, m, "B"))
		})
	}
}

func TestMatchReportsLastStageDistance(t *testing.T) {
	coarse, refine := scenario()
	m := New(WithIndexFactory(flat.Factory))
	defer m.Close()

	require.NoError(t, m.AddAlgorithm(refine, pipeline.Normalized(0.2)))
	require.NoError(t, m.AddAlgorithm(coarse, pipeline.Normalized(0.1)))
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		require.NoError(t, m.AddImage(context.Background(), name, stubImage{name}))
	}

	assert.Equal(t, []index.Candidate{
		{ID: "B", Distance: 0},
		{ID: "C", Distance: 2},
		{ID: "D", Distance: 4},
		{ID: "E", Distance: 5},
	}, match(t, m, "B"))
}

func TestMatchIntersectsStages(t *testing.T) {
	m, coarse, refine := newScenarioMatcher(t, []string{"A", "B", "C", "D", "E", "F", "G"})

	res := match(t, m, "B")
	assert.Equal(t, []string{"B", "C", "D", "E"}, index.IDs(res))

	// Each stage alone admits one of the outsiders.
	m.ClearAlgorithms()
	require.NoError(t, m.AddAlgorithm(coarse, pipeline.Normalized(0.1)))
	assert.Equal(t, []string{"B", "F", "C", "D", "E"}, index.IDs(match(t, m, "B")))

	m.ClearAlgorithms()
	require.NoError(t, m.AddAlgorithm(refine, pipeline.Normalized(0.2)))
	assert.Equal(t, []string{"B", "G", "C", "D", "E"}, index.IDs(match(t, m, "B")))
}

func TestMatchNoSurvivors(t *testing.T) {
	m, _, _ := newScenarioMatcher(t, []string{"A", "C", "D", "E"})

	coarse, refine := scenario()
	coarse.hashes["Q"] = 0xF0F0
	refine.hashes["Q"] = 0x0F0F0F0F
	require.NoError(t, m.AddAlgorithm(coarse, pipeline.Normalized(0.1)))
	require.NoError(t, m.AddAlgorithm(refine, pipeline.Normalized(0.2)))

	res := match(t, m, "Q")
	assert.NotNil(t, res)
	assert.Empty(t, res)
}

func TestMatchEmptyPipeline(t *testing.T) {
	m := New()
	defer m.Close()

	_, err := m.Match(context.Background(), stubImage{"A"})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = m.Match(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	m2, _, _ := newScenarioMatcher(t, []string{"A"})
	m2.ClearAlgorithms()
	_, err = m2.Match(context.Background(), stubImage{"A"})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, m2.Len())
}

func TestMatchIsIdempotent(t *testing.T) {
	m, _, _ := newScenarioMatcher(t, []string{"A", "B", "C", "D", "E", "F", "G"})

	first := match(t, m, "C")
	for range 5 {
		assert.Equal(t, first, match(t, m, "C"))
	}
}

func TestRestoreByReconfiguration(t *testing.T) {
	m, coarse, refine := newScenarioMatcher(t, []string{"A", "B", "C", "D", "E", "F", "G"})
	want := match(t, m, "B")

	t.Run("LastStage", func(t *testing.T) {
		require.True(t, m.RemoveAlgorithm(refine))
		assert.NotEqual(t, want, match(t, m, "B"))

		require.NoError(t, m.AddAlgorithm(refine, pipeline.Normalized(0.2)))
		assert.Equal(t, want, match(t, m, "B"))
	})

	t.Run("FirstStage", func(t *testing.T) {
		require.True(t, m.RemoveAlgorithm(coarse))
		require.NoError(t, m.AddAlgorithm(coarse, pipeline.Normalized(0.1)))

		// The re-added stage runs last, so it now reports the distances.
		res := match(t, m, "B")
		assert.ElementsMatch(t, index.IDs(want), index.IDs(res))
		assert.Equal(t, []index.Candidate{
			{ID: "B", Distance: 0},
			{ID: "C", Distance: 2},
			{ID: "D", Distance: 4},
			{ID: "E", Distance: 5},
		}, res)
	})

	t.Run("RemoveAbsentIsNoop", func(t *testing.T) {
		before := m.Algorithms()
		assert.False(t, m.RemoveAlgorithm(stubAlgo{id: 99}))
		assert.Equal(t, before, m.Algorithms())
	})
}

func TestAddImageWhileAlgorithmRemoved(t *testing.T) {
	m, _, refine := newScenarioMatcher(t, []string{"B"})

	require.True(t, m.RemoveAlgorithm(refine))
	require.NoError(t, m.AddImage(context.Background(), "H", stubImage{"H"}))
	require.NoError(t, m.AddAlgorithm(refine, pipeline.Normalized(0.2)))

	// H was never hashed under refine, so it cannot pass that stage.
	assert.Equal(t, []string{"B"}, index.IDs(match(t, m, "H")))

	_, ok := m.Hash("H", refine)
	assert.False(t, ok)
}

func TestReAddImageDropsHashesOutsidePipeline(t *testing.T) {
	m, _, refine := newScenarioMatcher(t, []string{"B"})

	require.True(t, m.RemoveAlgorithm(refine))
	require.NoError(t, m.AddImage(context.Background(), "B", stubImage{"B"}))

	_, ok := m.Hash("B", refine)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestAlgorithms(t *testing.T) {
	m, coarse, refine := newScenarioMatcher(t, nil)

	require.NoError(t, m.AddAlgorithm(coarse, pipeline.Absolute(3)))

	entries := m.Algorithms()
	require.Len(t, entries, 2)
	assert.Equal(t, coarse.ID(), entries[0].Algorithm.ID())
	assert.Equal(t, pipeline.Absolute(3), entries[0].Settings)
	assert.Equal(t, refine.ID(), entries[1].Algorithm.ID())

	err := m.AddAlgorithm(coarse, pipeline.Normalized(1.5))
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.Equal(t, entries, m.Algorithms())
}

func TestAddAlgorithmBitResolutionMismatch(t *testing.T) {
	m := New()
	defer m.Close()

	a, err := algorithm.NewAverage(8)
	require.NoError(t, err)
	require.NoError(t, m.AddAlgorithm(a, pipeline.Normalized(0.1)))

	err = m.AddAlgorithm(mismatched{a}, pipeline.Normalized(0.1))
	assert.ErrorIs(t, err, ErrIncompatibleHash)
}

type mismatched struct{ algorithm.Algorithm }

func (mismatched) BitResolution() int { return 128 }

func TestAddImageValidation(t *testing.T) {
	m := New()
	defer m.Close()

	err := m.AddImage(context.Background(), "A", stubImage{"A"})
	assert.ErrorIs(t, err, ErrInvalidState)

	m2, _, _ := newScenarioMatcher(t, nil)
	err = m2.AddImage(context.Background(), "", stubImage{"A"})
	assert.ErrorIs(t, err, ErrInvalidID)

	err = m2.AddImage(context.Background(), "X", stubImage{"unknown"})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, m2.Len())
}

func TestAddHash(t *testing.T) {
	m, coarse, _ := newScenarioMatcher(t, []string{"B"})

	require.NoError(t, m.AddHash("Z", imghash.MustNew(coarse.ID(), 64, []uint64{0x1})))
	assert.True(t, m.Contains("Z"))
	assert.Equal(t, 2, m.Len())

	err := m.AddHash("Y", imghash.MustNew(42, 64, []uint64{0}))
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)

	err = m.AddHash("Y", imghash.MustNew(coarse.ID(), 128, []uint64{0, 0}))
	assert.ErrorIs(t, err, ErrIncompatibleHash)

	err = m.AddHash("", imghash.MustNew(coarse.ID(), 64, []uint64{0}))
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRemoveImage(t *testing.T) {
	m, _, _ := newScenarioMatcher(t, []string{"B", "C", "D"})

	assert.True(t, m.RemoveImage("C"))
	assert.False(t, m.RemoveImage("C"))
	assert.False(t, m.Contains("C"))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"B", "D"}, index.IDs(match(t, m, "B")))
}

func TestMatchStageError(t *testing.T) {
	m, coarse, _ := newScenarioMatcher(t, []string{"B"})
	coarse.hashes["Q"] = 0

	_, err := m.Match(context.Background(), stubImage{"Q"})

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Stage)
	assert.Equal(t, "stub/2", se.Algorithm)
	assert.NotNil(t, errors.Unwrap(se))
}

func TestMatchCanceled(t *testing.T) {
	for _, p := range []int{1, 4} {
		t.Run(fmt.Sprintf("parallelism=%d", p), func(t *testing.T) {
			m, _, _ := newScenarioMatcher(t, []string{"B"}, WithParallelism(p))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := m.Match(ctx, stubImage{"B"})
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestMaxConcurrentMatches(t *testing.T) {
	coarse, _ := scenario()
	coarse.gate = make(chan struct{})

	m := New(WithMaxConcurrentMatches(1))
	defer m.Close()
	require.NoError(t, m.AddAlgorithm(coarse, pipeline.Normalized(0.1)))
	require.NoError(t, m.AddHash("B", imghash.MustNew(coarse.ID(), 64, []uint64{0})))

	done := make(chan error, 1)
	go func() {
		_, err := m.Match(context.Background(), stubImage{"slow"})
		done <- err
	}()
	require.Eventually(t, func() bool { return m.rc.MatchesInFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Match(ctx, stubImage{"B"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(coarse.gate)
	require.NoError(t, <-done)
	assert.Equal(t, int64(0), m.rc.MatchesInFlight())
}

func TestConcurrentMatchAndReconfigure(t *testing.T) {
	m, _, refine := newScenarioMatcher(t, []string{"A", "B", "C", "D", "E", "F", "G"})

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				res, err := m.Match(context.Background(), stubImage{"B"})
				if !assert.NoError(t, err) {
					return
				}
				assert.Contains(t, index.IDs(res), "B")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 100 {
			if i%2 == 0 {
				m.RemoveAlgorithm(refine)
			} else {
				assert.NoError(t, m.AddAlgorithm(refine, pipeline.Normalized(0.2)))
			}
			assert.NoError(t, m.AddImage(context.Background(), "H", stubImage{"H"}))
		}
	}()

	wg.Wait()
}

func TestClose(t *testing.T) {
	m, coarse, _ := newScenarioMatcher(t, []string{"B"})

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Match(context.Background(), stubImage{"B"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.AddImage(context.Background(), "C", stubImage{"C"}), ErrClosed)
	assert.ErrorIs(t, m.AddAlgorithm(coarse, pipeline.Normalized(0.1)), ErrClosed)
	assert.ErrorIs(t, m.AddHash("C", imghash.MustNew(coarse.ID(), 64, []uint64{0})), ErrClosed)
	assert.False(t, m.RemoveImage("B"))
}

func TestMetrics(t *testing.T) {
	mc := &BasicMetricsCollector{}
	m, _, _ := newScenarioMatcher(t, []string{"A", "B", "C"}, WithMetricsCollector(mc))

	match(t, m, "B")
	_, err := m.Match(context.Background(), stubImage{"unknown"})
	require.Error(t, err)
	m.RemoveImage("C")
	m.RemoveImage("C")

	stats := mc.GetStats()
	assert.Equal(t, int64(3), stats.AddCount)
	assert.Equal(t, int64(0), stats.AddErrors)
	assert.Equal(t, int64(2), stats.MatchCount)
	assert.Equal(t, int64(1), stats.MatchErrors)
	assert.Equal(t, int64(2), stats.MatchResults)
	assert.Equal(t, int64(2), stats.RemoveCount)
	assert.Equal(t, int64(1), stats.RemoveMisses)
}

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))
	assert.ErrorIs(t, translateError(index.ErrEmptyID), ErrInvalidID)
	assert.ErrorIs(t, translateError(algorithm.ErrUnknownKind), ErrUnsupportedAlgorithm)
	assert.ErrorIs(t, translateError(index.ErrClosed), ErrClosed)

	other := errors.New("boom")
	assert.Same(t, other, translateError(other))
}
