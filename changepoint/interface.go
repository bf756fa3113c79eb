package changepoint

import (
	"context"
	"time"
)

// ChangeDetector types calculate change points for a fixed number of
// breaks.
type ChangeDetector interface {
	DetectChanges(context.Context, []float64) ([]ChangePoint, error)
}

// PosteriorSampler types draw from the posterior of a single change point.
type PosteriorSampler interface {
	Sample(context.Context, []float64) (*Posterior, error)
}

// ChangePoint is a single break index and the algorithm that produced it.
// The index is the first position of the new segment.
type ChangePoint struct {
	Index int           `bson:"index" json:"index" yaml:"index"`
	Info  AlgorithmInfo `bson:"info" json:"info" yaml:"info"`
}

// AlgorithmInfo names the algorithm that produced a result and its options.
type AlgorithmInfo struct {
	Name    string            `bson:"name" json:"name" yaml:"name"`
	Version int               `bson:"version" json:"version" yaml:"version"`
	Options []AlgorithmOption `bson:"options" json:"options" yaml:"options"`
}

// AlgorithmOption is one named setting of an algorithm.
type AlgorithmOption struct {
	Name  string      `bson:"name" json:"name" yaml:"name"`
	Value interface{} `bson:"value" json:"value" yaml:"value"`
}

// BreakSet holds strictly increasing break indices into a series, with the
// timestamps they resolve to.
type BreakSet struct {
	Indices []int         `bson:"indices" json:"indices" yaml:"indices"`
	Times   []time.Time   `bson:"times" json:"times" yaml:"times"`
	Info    AlgorithmInfo `bson:"info" json:"info" yaml:"info"`
}

// NewBreakSet resolves change points against the series they were detected
// in.
func NewBreakSet(series Series, cps []ChangePoint) *BreakSet {
	out := &BreakSet{
		Indices: make([]int, 0, len(cps)),
		Times:   make([]time.Time, 0, len(cps)),
	}
	for _, cp := range cps {
		out.Indices = append(out.Indices, cp.Index)
		out.Times = append(out.Times, series[cp.Index].Time)
		out.Info = cp.Info
	}
	return out
}
