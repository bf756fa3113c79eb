package changepoint

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvalidSeriesError reports malformed input caught before any detector
// runs. Index is -1 when the problem is not tied to one observation.
type InvalidSeriesError struct {
	Length int
	Index  int
	Reason string
}

func (e *InvalidSeriesError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid series of length %d: %s", e.Length, e.Reason)
	}
	return fmt.Sprintf("invalid series of length %d: %s at index %d", e.Length, e.Reason, e.Index)
}

// InsufficientDataError reports a series too short for the requested
// number of breaks.
type InsufficientDataError struct {
	Length  int
	Breaks  int
	MinSize int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("series of length %d cannot hold %d breaks with minimum segment size %d",
		e.Length, e.Breaks, e.MinSize)
}

// DegenerateInputError reports a series the segmentation cannot split in a
// meaningful way, such as a constant sequence.
type DegenerateInputError struct {
	Length int
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate series of length %d: %s", e.Length, e.Reason)
}

// SamplingError is a fatal inference failure. Chain is -1 when the failure
// happened before any chain started. No partial posterior accompanies it.
type SamplingError struct {
	Length    int
	Chain     int
	Iteration int
	Err       error
}

func (e *SamplingError) Error() string {
	if e.Chain < 0 {
		return fmt.Sprintf("sampling series of length %d: %v", e.Length, e.Err)
	}
	return fmt.Sprintf("sampling series of length %d: chain %d failed at iteration %d: %v",
		e.Length, e.Chain, e.Iteration, e.Err)
}

func (e *SamplingError) Cause() error  { return e.Err }
func (e *SamplingError) Unwrap() error { return e.Err }

// ConvergenceWarning is raised, but never returned as a failure, when the
// chains disagree about the break index: the variance of the per-chain mean
// break index exceeds Fraction of the series length.
type ConvergenceWarning struct {
	Length     int       `bson:"length" json:"length" yaml:"length"`
	ChainMeans []float64 `bson:"chain_means" json:"chain_means" yaml:"chain_means"`
	Variance   float64   `bson:"variance" json:"variance" yaml:"variance"`
	Fraction   float64   `bson:"fraction" json:"fraction" yaml:"fraction"`
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("chains disagree on the break index: across-chain variance %.3f exceeds %.3f (%.4f of %d)",
		w.Variance, w.Fraction*float64(w.Length), w.Fraction, w.Length)
}

// IsInvalidSeries reports whether err was caused by an *InvalidSeriesError.
func IsInvalidSeries(err error) bool {
	var target *InvalidSeriesError
	return errors.As(err, &target)
}

// IsInsufficientData reports whether err was caused by an
// *InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

// IsDegenerateInput reports whether err was caused by a
// *DegenerateInputError.
func IsDegenerateInput(err error) bool {
	var target *DegenerateInputError
	return errors.As(err, &target)
}

// IsSamplingError reports whether err was caused by a *SamplingError.
func IsSamplingError(err error) bool {
	var target *SamplingError
	return errors.As(err, &target)
}

var errEmptyPosterior = errors.New("posterior has no draws")
