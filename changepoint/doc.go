/*
Package changepoint finds structural breaks in a univariate time series.

Two detectors share the same input, an ordered Series of timestamped values:

The SegmentationDetector partitions the series into a caller-supplied number
of segments by greedy binary segmentation (or, optionally, exact dynamic
programming) over a segment cost model. It is deterministic.

The BayesianChangePointSampler infers the posterior of a single break
separating two Normal regimes with a Metropolis-within-Gibbs sampler that
runs several independent chains concurrently. Index i belongs to the
pre-break regime when i <= c, where c is the break index.

The Engine validates a series once and dispatches to either or both
detectors, combining their results into a Report.
*/
package changepoint
