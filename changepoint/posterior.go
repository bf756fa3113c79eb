package changepoint

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// PosteriorSample is one draw of the single change point model. Spreads
// are always strictly positive.
type PosteriorSample struct {
	Chain      int     `bson:"chain" json:"chain" yaml:"chain"`
	BreakIndex int     `bson:"break_index" json:"break_index" yaml:"break_index"`
	Mean1      float64 `bson:"mean1" json:"mean1" yaml:"mean1"`
	Mean2      float64 `bson:"mean2" json:"mean2" yaml:"mean2"`
	Spread1    float64 `bson:"spread1" json:"spread1" yaml:"spread1"`
	Spread2    float64 `bson:"spread2" json:"spread2" yaml:"spread2"`
	LogProb    float64 `bson:"log_prob" json:"log_prob" yaml:"log_prob"`
}

// ChainAcceptance is the post-tuning acceptance rate of the spread updates
// in one chain.
type ChainAcceptance struct {
	Chain   int     `bson:"chain" json:"chain" yaml:"chain"`
	Spread1 float64 `bson:"spread1" json:"spread1" yaml:"spread1"`
	Spread2 float64 `bson:"spread2" json:"spread2" yaml:"spread2"`
}

// Posterior is the merged draw collection of every chain, ordered by chain
// and then by draw.
type Posterior struct {
	Samples    []PosteriorSample   `bson:"samples" json:"samples" yaml:"samples"`
	Chains     int                 `bson:"chains" json:"chains" yaml:"chains"`
	Draws      int                 `bson:"draws" json:"draws" yaml:"draws"`
	Tune       int                 `bson:"tune" json:"tune" yaml:"tune"`
	Acceptance []ChainAcceptance   `bson:"acceptance" json:"acceptance" yaml:"acceptance"`
	Info       AlgorithmInfo       `bson:"info" json:"info" yaml:"info"`
	Warning    *ConvergenceWarning `bson:"warning,omitempty" json:"warning,omitempty" yaml:"warning,omitempty"`
}

func newPosterior(results []*chainResult, opts SamplerOptions, info AlgorithmInfo) *Posterior {
	p := &Posterior{
		Samples:    make([]PosteriorSample, 0, len(results)*opts.Draws),
		Chains:     len(results),
		Draws:      opts.Draws,
		Tune:       opts.Tune,
		Acceptance: make([]ChainAcceptance, 0, len(results)),
		Info:       info,
	}
	for _, res := range results {
		p.Samples = append(p.Samples, res.samples...)
		p.Acceptance = append(p.Acceptance, ChainAcceptance{
			Chain:   res.index,
			Spread1: res.acceptance[0],
			Spread2: res.acceptance[1],
		})
	}
	return p
}

// BreakIndices returns the sampled break index of every draw.
func (p *Posterior) BreakIndices() []int {
	out := make([]int, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = s.BreakIndex
	}
	return out
}

func (p *Posterior) column(value func(PosteriorSample) float64) []float64 {
	out := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		out[i] = value(s)
	}
	return out
}

// EstimateIndex is the median of all sampled break indices, truncated to
// an index when the draw count is even and the middle draws differ.
func (p *Posterior) EstimateIndex() int {
	indices := p.column(func(s PosteriorSample) float64 { return float64(s.BreakIndex) })
	return int(newSortedList(indices).Median())
}

// ChangePointEstimate is the point estimate of the break derived from a
// posterior. Support is the share of draws that sampled exactly Index.
type ChangePointEstimate struct {
	Index   int       `bson:"index" json:"index" yaml:"index"`
	Time    time.Time `bson:"time" json:"time" yaml:"time"`
	Support float64   `bson:"support" json:"support" yaml:"support"`
}

// Estimate resolves the median break index against the series the
// posterior was sampled from.
func (p *Posterior) Estimate(series Series) (*ChangePointEstimate, error) {
	if len(p.Samples) == 0 {
		return nil, &SamplingError{Length: len(series), Chain: -1, Err: errEmptyPosterior}
	}

	idx := p.EstimateIndex()
	if idx < 0 || idx >= len(series) {
		return nil, &InvalidSeriesError{
			Length: len(series),
			Index:  idx,
			Reason: "estimated break lies outside the series",
		}
	}

	hits := 0
	for _, s := range p.Samples {
		if s.BreakIndex == idx {
			hits++
		}
	}

	return &ChangePointEstimate{
		Index:   idx,
		Time:    series[idx].Time,
		Support: float64(hits) / float64(len(p.Samples)),
	}, nil
}

// chainBreakMeans is the mean sampled break index of each chain.
func (p *Posterior) chainBreakMeans() []float64 {
	sums := make([]float64, p.Chains)
	counts := make([]float64, p.Chains)
	for _, s := range p.Samples {
		if s.Chain < 0 || s.Chain >= p.Chains {
			continue
		}
		sums[s.Chain] += float64(s.BreakIndex)
		counts[s.Chain]++
	}

	out := make([]float64, 0, p.Chains)
	for i := range sums {
		if counts[i] > 0 {
			out = append(out, sums[i]/counts[i])
		}
	}
	return out
}

func (p *Posterior) checkConvergence(length int, fraction float64) *ConvergenceWarning {
	means := p.chainBreakMeans()
	if len(means) < 2 {
		return nil
	}

	variance := stat.Variance(means, nil)
	if variance <= fraction*float64(length) {
		return nil
	}

	return &ConvergenceWarning{
		Length:     length,
		ChainMeans: means,
		Variance:   variance,
		Fraction:   fraction,
	}
}

// ParameterSummary describes the marginal posterior of one parameter. Lower
// and Upper are the 3% and 97% empirical quantiles.
type ParameterSummary struct {
	Mean   float64 `bson:"mean" json:"mean" yaml:"mean"`
	StdDev float64 `bson:"std_dev" json:"std_dev" yaml:"std_dev"`
	Lower  float64 `bson:"lower" json:"lower" yaml:"lower"`
	Upper  float64 `bson:"upper" json:"upper" yaml:"upper"`
}

// PosteriorSummary describes the marginals of every model parameter.
type PosteriorSummary struct {
	BreakIndex ParameterSummary  `bson:"break_index" json:"break_index" yaml:"break_index"`
	Mean1      ParameterSummary  `bson:"mean1" json:"mean1" yaml:"mean1"`
	Mean2      ParameterSummary  `bson:"mean2" json:"mean2" yaml:"mean2"`
	Spread1    ParameterSummary  `bson:"spread1" json:"spread1" yaml:"spread1"`
	Spread2    ParameterSummary  `bson:"spread2" json:"spread2" yaml:"spread2"`
	Acceptance []ChainAcceptance `bson:"acceptance" json:"acceptance" yaml:"acceptance"`
}

func (p *Posterior) Summary() PosteriorSummary {
	return PosteriorSummary{
		BreakIndex: summarize(p.column(func(s PosteriorSample) float64 { return float64(s.BreakIndex) })),
		Mean1:      summarize(p.column(func(s PosteriorSample) float64 { return s.Mean1 })),
		Mean2:      summarize(p.column(func(s PosteriorSample) float64 { return s.Mean2 })),
		Spread1:    summarize(p.column(func(s PosteriorSample) float64 { return s.Spread1 })),
		Spread2:    summarize(p.column(func(s PosteriorSample) float64 { return s.Spread2 })),
		Acceptance: p.Acceptance,
	}
}

func summarize(values []float64) ParameterSummary {
	if len(values) == 0 {
		return ParameterSummary{}
	}

	sorted := newSortedList(values)
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return ParameterSummary{
		Mean:   mean,
		StdDev: std,
		Lower:  stat.Quantile(0.03, stat.Empirical, sorted, nil),
		Upper:  stat.Quantile(0.97, stat.Empirical, sorted, nil),
	}
}
