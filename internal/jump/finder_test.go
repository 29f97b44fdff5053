package jump

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushAll(f *Finder, series []float64) (int, bool) {
	for i, v := range series {
		if f.Push(v) {
			return i, true
		}
	}
	return -1, false
}

func TestFinder_FlatSequence(t *testing.T) {
	for _, window := range []int{1, 3, 5, 8} {
		f := New(WithWindow(window), WithThreshold(3))
		series := make([]float64, window+20)
		for i := range series {
			series[i] = 1234.5
		}
		idx, found := pushAll(f, series)
		assert.False(t, found, "window %d", window)
		assert.Equal(t, -1, idx)
		assert.Equal(t, window, f.Len())
		assert.Equal(t, len(series), f.Seen())
	}
}

func TestFinder_StepUp(t *testing.T) {
	series := []float64{7, 7, 7, 7, 7, 7, 7, 70, 70, 70}
	f := New()

	idx, found := pushAll(f, series)
	require.True(t, found)
	assert.Equal(t, 7, idx)

	cp, ok := f.ChangePoint()
	require.True(t, ok)
	assert.Equal(t, 7, cp.Index)
	assert.Equal(t, 70.0, cp.Value)
	assert.InDelta(t, 7.0, cp.Mean, 1e-12)
	assert.InDelta(t, 0.0, cp.Deviation, 1e-12)
	assert.Equal(t, AlgorithmName, cp.Algorithm.Name)
	assert.Equal(t, float64(DefaultWindow), cp.Algorithm.Configuration["window"])
}

func TestFinder_NoTestingWhileWindowFills(t *testing.T) {
	// The outliers land while the window is still filling and are absorbed
	// into the baseline instead of being reported.
	series := []float64{1, 1, 10, 10, 10, 10, 10, 10}
	f := New(WithWindow(5), WithThreshold(3))

	_, found := pushAll(f, series)
	assert.False(t, found)
}

func TestFinder_SingleOutlier(t *testing.T) {
	series := []float64{5, 5, 5, 5, 5, 5, 500, 5, 5, 5}
	f := New(WithWindow(5), WithThreshold(3))

	idx, found := pushAll(f, series)
	require.True(t, found)
	assert.Equal(t, 6, idx)
}

func TestFinder_StepDown(t *testing.T) {
	series := []float64{100, 100, 100, 100, 100, 10}
	cp, found := Detect(series, DefaultConfig())
	require.True(t, found)
	assert.Equal(t, 5, cp.Index)
}

func TestFinder_LinearRampIsNotAJump(t *testing.T) {
	series := make([]float64, 200)
	for i := range series {
		series[i] = 100 + float64(i)
	}
	f := New(WithWindow(5), WithThreshold(3), WithCompensation(0.01))

	_, found := pushAll(f, series)
	assert.False(t, found)
}

func TestFinder_CompensationFloor(t *testing.T) {
	base := []float64{100, 100, 100, 100, 100}

	t.Run("below floor", func(t *testing.T) {
		f := New(WithCompensation(0.05))
		_, found := pushAll(f, append(append([]float64{}, base...), 104))
		assert.False(t, found)
	})

	t.Run("above floor", func(t *testing.T) {
		f := New(WithCompensation(0.05))
		idx, found := pushAll(f, append(append([]float64{}, base...), 106))
		require.True(t, found)
		assert.Equal(t, 5, idx)
	})

	t.Run("zero floor and zero deviation", func(t *testing.T) {
		f := New(WithCompensation(0))
		idx, found := pushAll(f, append(append([]float64{}, base...), 100.001))
		require.True(t, found)
		assert.Equal(t, 5, idx)
	})
}

func TestFinder_WindowIsFIFO(t *testing.T) {
	f := New(WithWindow(3), WithThreshold(100), WithCompensation(0))

	for _, v := range []float64{1, 2} {
		require.False(t, f.Push(v))
	}
	assert.Equal(t, []float64{1, 2}, f.Window())
	assert.Equal(t, 2, f.Len())

	for _, v := range []float64{3, 4, 5} {
		require.False(t, f.Push(v))
		assert.LessOrEqual(t, f.Len(), 3)
	}
	assert.Equal(t, []float64{3, 4, 5}, f.Window())
	assert.InDelta(t, 4.0, f.Mean(), 1e-12)
	assert.InDelta(t, 2.0/3.0, f.Deviation(), 1e-12)
}

func TestFinder_StopsAfterDetection(t *testing.T) {
	f := New()
	_, found := pushAll(f, []float64{1, 1, 1, 1, 1, 50})
	require.True(t, found)

	window := f.Window()
	seen := f.Seen()

	assert.True(t, f.Push(1))
	assert.True(t, f.Push(1000))
	assert.Equal(t, window, f.Window())
	assert.Equal(t, seen, f.Seen())

	cp, ok := f.ChangePoint()
	require.True(t, ok)
	assert.Equal(t, 5, cp.Index)
}

func TestFinder_Reset(t *testing.T) {
	f := New()
	_, found := pushAll(f, []float64{1, 1, 1, 1, 1, 50})
	require.True(t, found)

	f.Reset()
	assert.False(t, f.Detected())
	assert.Equal(t, 0, f.Len())
	assert.Equal(t, 0, f.Seen())
	assert.Empty(t, f.Window())

	idx, found := pushAll(f, []float64{2, 2, 2, 2, 2, 2, 40})
	require.True(t, found)
	assert.Equal(t, 6, idx)
}

func TestFinder_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	series := make([]float64, 300)
	for i := range series {
		series[i] = 1000 + rng.NormFloat64()*5
		if i >= 150 {
			series[i] += 400
		}
	}
	cfg := Config{Window: 5, Compensation: 0.01, Threshold: 3}

	first, ok1 := Detect(series, cfg)
	second, ok2 := Detect(series, cfg)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero window", Config{Window: 0, Threshold: 1}, true},
		{"negative compensation", Config{Window: 5, Compensation: -1, Threshold: 1}, true},
		{"negative threshold", Config{Window: 5, Threshold: -3}, true},
		{"zero threshold", Config{Window: 5, Threshold: 0}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				_, ferr := NewFinder(tc.cfg)
				assert.Error(t, ferr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_PanicsOnInvalidOptions(t *testing.T) {
	assert.Panics(t, func() { New(WithWindow(0)) })
}

func TestDetectChanges(t *testing.T) {
	var d Detector = DefaultConfig()

	assert.Nil(t, d.DetectChanges([]float64{3, 3, 3, 3, 3, 3, 3}))

	cps := d.DetectChanges([]float64{3, 3, 3, 3, 3, 3, 90, 3})
	require.Len(t, cps, 1)
	assert.Equal(t, 6, cps[0].Index)

	_, ok := Detect([]float64{1, 2, 3}, Config{Window: 0})
	assert.False(t, ok)
}

func BenchmarkFinder_Push(b *testing.B) {
	f := New(WithWindow(5), WithThreshold(1e9))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Push(float64(i % 7))
	}
}
