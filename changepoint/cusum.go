package changepoint

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CUSUMPoint is the cumulative sum of deviations from the series mean up to
// and including Time.
type CUSUMPoint struct {
	Time  time.Time `bson:"time" json:"time" yaml:"time"`
	Value float64   `bson:"value" json:"value" yaml:"value"`
}

// CUSUM returns the cumulative sum of deviations from the mean of the
// series. The last value is zero up to rounding; a drift in the sums marks
// a sustained shift in level.
func CUSUM(series Series) []CUSUMPoint {
	if len(series) == 0 {
		return nil
	}

	values := series.Values()
	floats.AddConst(-stat.Mean(values, nil), values)
	floats.CumSum(values, values)

	out := make([]CUSUMPoint, len(series))
	for i := range series {
		out[i] = CUSUMPoint{Time: series[i].Time, Value: values[i]}
	}
	return out
}
