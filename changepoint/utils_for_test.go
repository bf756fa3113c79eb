package changepoint

import (
	"context"
	"math/rand"
	"time"
)

const defaultSeed = 12345678

var seriesStart = time.Date(1987, time.May, 20, 0, 0, 0, 0, time.UTC)

func makeSeries(values []float64) Series {
	out := make(Series, len(values))
	for i, v := range values {
		out[i] = Point{Time: seriesStart.AddDate(0, 0, i), Value: v}
	}
	return out
}

// makeBlocks concatenates constant blocks of the given lengths and levels
// with Gaussian noise of the given scale.
func makeBlocks(seed int64, noise float64, lengths []int, levels []float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	var out []float64
	for i, length := range lengths {
		for j := 0; j < length; j++ {
			out = append(out, levels[i]+noise*rng.NormFloat64())
		}
	}
	return out
}

func int64Ptr(v int64) *int64 { return &v }

type mockDetector struct {
	calls   [][]float64
	indexes []int
}

func (m *mockDetector) DetectChanges(ctx context.Context, series []float64) ([]ChangePoint, error) {
	m.calls = append(m.calls, series)
	out := make([]ChangePoint, len(m.indexes))
	for i, idx := range m.indexes {
		out[i] = ChangePoint{Index: idx, Info: AlgorithmInfo{Name: "mock", Version: 1}}
	}
	return out, nil
}

type mockSampler struct {
	calls [][]float64
}

func (m *mockSampler) Sample(ctx context.Context, series []float64) (*Posterior, error) {
	m.calls = append(m.calls, series)
	return &Posterior{
		Chains: 1,
		Draws:  1,
		Samples: []PosteriorSample{
			{BreakIndex: len(series) / 2, Spread1: 1, Spread2: 1},
		},
	}, nil
}
