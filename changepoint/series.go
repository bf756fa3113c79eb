package changepoint

import (
	"math"
	"time"
)

// Point is one observation of a series.
type Point struct {
	Time  time.Time `bson:"time" json:"time" yaml:"time"`
	Value float64   `bson:"value" json:"value" yaml:"value"`
}

// Series is an ordered sequence of observations. Detectors read a series
// but never modify it.
type Series []Point

// NewSeries zips timestamps and values into a Series.
func NewSeries(times []time.Time, values []float64) (Series, error) {
	if len(times) != len(values) {
		return nil, &InvalidSeriesError{
			Length: len(values),
			Index:  -1,
			Reason: "timestamp and value counts differ",
		}
	}

	out := make(Series, len(values))
	for i := range values {
		out[i] = Point{Time: times[i], Value: values[i]}
	}
	return out, nil
}

// Values returns a copy of the series values.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i := range s {
		out[i] = s[i].Value
	}
	return out
}

// Validate checks that the series has at least two observations, that every
// value is a finite number and that timestamps strictly increase. The first
// problem found is returned as an *InvalidSeriesError.
func (s Series) Validate() error {
	if len(s) < 2 {
		return &InvalidSeriesError{
			Length: len(s),
			Index:  -1,
			Reason: "series must have at least 2 observations",
		}
	}

	for i, p := range s {
		switch {
		case math.IsNaN(p.Value):
			return &InvalidSeriesError{Length: len(s), Index: i, Reason: "missing value"}
		case math.IsInf(p.Value, 0):
			return &InvalidSeriesError{Length: len(s), Index: i, Reason: "infinite value"}
		case p.Time.IsZero():
			return &InvalidSeriesError{Length: len(s), Index: i, Reason: "missing timestamp"}
		case i > 0 && !p.Time.After(s[i-1].Time):
			return &InvalidSeriesError{Length: len(s), Index: i, Reason: "timestamps are not strictly increasing"}
		}
	}

	return nil
}
