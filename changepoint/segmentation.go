package changepoint

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	MethodBinarySegmentation = "binseg"
	MethodDynamicProgramming = "dynp"

	DefaultBreaks = 5
)

// SegmentationOptions configure a SegmentationDetector. Zero values select
// the defaults: five breaks, the rbf cost, binary segmentation, and every
// index as a candidate.
type SegmentationOptions struct {
	Breaks  int    `bson:"breaks" json:"breaks" yaml:"breaks"`
	Cost    string `bson:"cost" json:"cost" yaml:"cost"`
	Method  string `bson:"method" json:"method" yaml:"method"`
	MinSize int    `bson:"min_size" json:"min_size" yaml:"min_size"`
	Jump    int    `bson:"jump" json:"jump" yaml:"jump"`
}

func (o *SegmentationOptions) Validate() error {
	catcher := grip.NewBasicCatcher()

	if o.Breaks == 0 {
		o.Breaks = DefaultBreaks
	}
	if o.Cost == "" {
		o.Cost = CostRBF
	}
	if o.Method == "" {
		o.Method = MethodBinarySegmentation
	}
	if o.Jump == 0 {
		o.Jump = 1
	}

	catcher.NewWhen(o.Breaks < 1, "must request at least one break")
	catcher.NewWhen(o.MinSize < 0, "minimum segment size cannot be negative")
	catcher.NewWhen(o.Jump < 1, "jump must be positive")
	catcher.ErrorfWhen(o.Method != MethodBinarySegmentation && o.Method != MethodDynamicProgramming,
		"unknown segmentation method '%s'", o.Method)
	if _, err := NewCostModel(o.Cost); err != nil {
		catcher.Add(err)
	}

	return catcher.Resolve()
}

// SegmentationDetector splits a series into Breaks+1 contiguous segments
// minimizing the total segment cost. The default method is greedy binary
// segmentation: at every step the split with the largest cost reduction
// across all current segments is taken. The dynp method solves the same
// problem exactly in O(N^2 K) cost evaluations.
//
// A constant series cannot be segmented and fails with a
// DegenerateInputError. Ties are broken toward the lowest index, so
// results are deterministic.
type SegmentationDetector struct {
	opts SegmentationOptions
	info AlgorithmInfo
}

func NewSegmentationDetector(opts SegmentationOptions) (*SegmentationDetector, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid segmentation options")
	}

	name := "binary_segmentation"
	if opts.Method == MethodDynamicProgramming {
		name = "dynamic_programming"
	}

	return &SegmentationDetector{
		opts: opts,
		info: AlgorithmInfo{
			Name:    name,
			Version: 1,
			Options: []AlgorithmOption{
				{Name: "breaks", Value: opts.Breaks},
				{Name: "cost", Value: opts.Cost},
				{Name: "min_size", Value: opts.MinSize},
				{Name: "jump", Value: opts.Jump},
			},
		},
	}, nil
}

// Info describes the configured algorithm.
func (d *SegmentationDetector) Info() AlgorithmInfo { return d.info }

// Segment validates the series and returns its breaks resolved to
// timestamps.
func (d *SegmentationDetector) Segment(ctx context.Context, series Series) (*BreakSet, error) {
	if err := series.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	cps, err := d.DetectChanges(ctx, series.Values())
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return NewBreakSet(series, cps), nil
}

// DetectChanges returns exactly Breaks change points in increasing index
// order. The end of the series is never reported as a break.
func (d *SegmentationDetector) DetectChanges(ctx context.Context, series []float64) ([]ChangePoint, error) {
	length := len(series)
	minSize := d.minSize()
	if length <= d.opts.Breaks+1 || length < (d.opts.Breaks+1)*minSize {
		return nil, &InsufficientDataError{Length: length, Breaks: d.opts.Breaks, MinSize: minSize}
	}
	if err := checkFinite(series); err != nil {
		return nil, err
	}
	if floats.Max(series) == floats.Min(series) {
		return nil, &DegenerateInputError{Length: length, Reason: "series has zero variance"}
	}

	cost, err := NewCostModel(d.opts.Cost)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err = cost.Fit(series); err != nil {
		return nil, errors.Wrapf(err, "fitting %s cost", cost.Name())
	}

	start := time.Now()
	var indexes []int
	switch d.opts.Method {
	case MethodDynamicProgramming:
		indexes, err = d.dynamicProgramming(ctx, cost, length, minSize)
	default:
		indexes, err = d.binarySegmentation(ctx, cost, length, minSize)
	}
	if err != nil {
		return nil, err
	}

	grip.Debug(message.Fields{
		"message":      "segmented series",
		"algorithm":    d.info.Name,
		"cost":         cost.Name(),
		"num_series":   length,
		"breaks":       indexes,
		"elapsed_secs": time.Since(start).Seconds(),
	})

	out := make([]ChangePoint, len(indexes))
	for i, idx := range indexes {
		out[i] = ChangePoint{Index: idx, Info: d.info}
	}
	return out, nil
}

func (d *SegmentationDetector) minSize() int {
	minSize := d.opts.MinSize
	if cost, err := NewCostModel(d.opts.Cost); err == nil && cost.MinSize() > minSize {
		minSize = cost.MinSize()
	}
	if minSize < 1 {
		minSize = 1
	}
	return minSize
}

func (d *SegmentationDetector) admissible(t int) bool { return t%d.opts.Jump == 0 }

// segment is a window [start, end) and the best place to split it.
type segment struct {
	start int
	end   int
	split int
	gain  float64
	ok    bool
}

func (d *SegmentationDetector) bestSplit(cost CostModel, start, end, minSize int) segment {
	s := segment{start: start, end: end}
	if end-start < 2*minSize {
		return s
	}

	costs := cost.SplitCosts(start, end)
	lowest := math.Inf(1)
	for t := start + minSize; t <= end-minSize; t++ {
		if !d.admissible(t) {
			continue
		}
		if costs[t-start] < lowest {
			lowest = costs[t-start]
			s.split = t
			s.ok = true
		}
	}
	if s.ok {
		s.gain = cost.Cost(start, end) - lowest
	}
	return s
}

func (d *SegmentationDetector) binarySegmentation(ctx context.Context, cost CostModel, length, minSize int) ([]int, error) {
	segments := []segment{d.bestSplit(cost, 0, length, minSize)}
	breaks := make([]int, 0, d.opts.Breaks)

	for len(breaks) < d.opts.Breaks {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "segmentation canceled")
		}

		best := -1
		for i, s := range segments {
			if !s.ok {
				continue
			}
			if best < 0 || s.gain > segments[best].gain ||
				(s.gain == segments[best].gain && s.split < segments[best].split) {
				best = i
			}
		}
		if best < 0 {
			return nil, &InsufficientDataError{Length: length, Breaks: d.opts.Breaks, MinSize: minSize}
		}

		parent := segments[best]
		breaks = append(breaks, parent.split)

		var left, right segment
		wg := &sync.WaitGroup{}
		wg.Add(2)
		go func() {
			defer wg.Done()
			left = d.bestSplit(cost, parent.start, parent.split, minSize)
		}()
		go func() {
			defer wg.Done()
			right = d.bestSplit(cost, parent.split, parent.end, minSize)
		}()
		wg.Wait()

		segments[best] = left
		segments = append(segments, right)
	}

	sort.Ints(breaks)
	return breaks, nil
}

func (d *SegmentationDetector) dynamicProgramming(ctx context.Context, cost CostModel, length, minSize int) ([]int, error) {
	breaks := d.opts.Breaks

	// best[k][e] is the lowest cost of splitting [0, e) into k+1 segments,
	// and prev[k][e] the start of the last of them.
	best := make([][]float64, breaks+1)
	prev := make([][]int, breaks+1)
	for k := range best {
		best[k] = make([]float64, length+1)
		prev[k] = make([]int, length+1)
		for e := range best[k] {
			best[k][e] = math.Inf(1)
			prev[k][e] = -1
		}
	}

	for e := minSize; e <= length; e++ {
		if e == length || d.admissible(e) {
			best[0][e] = cost.Cost(0, e)
		}
	}

	for k := 1; k <= breaks; k++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "segmentation canceled")
		}

		for e := (k + 1) * minSize; e <= length; e++ {
			if e != length && !d.admissible(e) {
				continue
			}
			for s := k * minSize; s <= e-minSize; s++ {
				if math.IsInf(best[k-1][s], 1) {
					continue
				}
				if total := best[k-1][s] + cost.Cost(s, e); total < best[k][e] {
					best[k][e] = total
					prev[k][e] = s
				}
			}
		}
	}

	if math.IsInf(best[breaks][length], 1) {
		return nil, &InsufficientDataError{Length: length, Breaks: breaks, MinSize: minSize}
	}

	out := make([]int, 0, breaks)
	for k, e := breaks, length; k > 0; k-- {
		e = prev[k][e]
		out = append(out, e)
	}
	sort.Ints(out)
	return out, nil
}

func checkFinite(series []float64) error {
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &InvalidSeriesError{Length: len(series), Index: i, Reason: "value is not a finite number"}
		}
	}
	return nil
}
