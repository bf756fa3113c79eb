package changepoint

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DefaultChains              = 4
	DefaultDraws               = 4000
	DefaultTune                = 2000
	DefaultPriorSigma          = 5.0
	DefaultConvergenceFraction = 0.01

	adaptWindow         = 50
	targetAcceptance    = 0.44
	initialStep         = 0.5
	cancelCheckInterval = 100
)

var halfLogTwoPi = 0.5 * math.Log(2*math.Pi)

// SamplerOptions configure a BayesianChangePointSampler. Zero values select
// the defaults: 4 chains of 4000 draws after 2000 tuning draws, prior
// scales of 5 and a convergence fraction of 0.01. A nil Seed seeds the
// chains from the clock.
type SamplerOptions struct {
	Chains              int     `bson:"chains" json:"chains" yaml:"chains"`
	Draws               int     `bson:"draws" json:"draws" yaml:"draws"`
	Tune                int     `bson:"tune" json:"tune" yaml:"tune"`
	Seed                *int64  `bson:"seed,omitempty" json:"seed,omitempty" yaml:"seed,omitempty"`
	PriorMeanSigma      float64 `bson:"prior_mean_sigma" json:"prior_mean_sigma" yaml:"prior_mean_sigma"`
	PriorSpreadSigma    float64 `bson:"prior_spread_sigma" json:"prior_spread_sigma" yaml:"prior_spread_sigma"`
	ConvergenceFraction float64 `bson:"convergence_fraction" json:"convergence_fraction" yaml:"convergence_fraction"`
}

func (o *SamplerOptions) Validate() error {
	if o.Chains == 0 {
		o.Chains = DefaultChains
	}
	if o.Draws == 0 {
		o.Draws = DefaultDraws
	}
	if o.Tune == 0 {
		o.Tune = DefaultTune
	}
	if o.PriorMeanSigma == 0 {
		o.PriorMeanSigma = DefaultPriorSigma
	}
	if o.PriorSpreadSigma == 0 {
		o.PriorSpreadSigma = DefaultPriorSigma
	}
	if o.ConvergenceFraction == 0 {
		o.ConvergenceFraction = DefaultConvergenceFraction
	}

	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(o.Chains < 1, "must run at least one chain")
	catcher.NewWhen(o.Draws < 1, "must keep at least one draw per chain")
	catcher.NewWhen(o.Tune < 0, "tuning draws cannot be negative")
	catcher.NewWhen(o.PriorMeanSigma < 0, "prior mean scale must be positive")
	catcher.NewWhen(o.PriorSpreadSigma < 0, "prior spread scale must be positive")
	catcher.NewWhen(o.ConvergenceFraction < 0, "convergence fraction cannot be negative")
	return catcher.Resolve()
}

// BayesianChangePointSampler infers a single break c separating two Normal
// regimes:
//
//	c       ~ DiscreteUniform(0, N-1)
//	mean_k  ~ Normal(mean(series), PriorMeanSigma)
//	spread_k ~ HalfNormal(PriorSpreadSigma)
//	x_i     ~ Normal(mean_1, spread_1) if i <= c else Normal(mean_2, spread_2)
//
// The break index itself belongs to the pre-break regime. Each chain is a
// Metropolis-within-Gibbs sweep: c is drawn from its exact conditional, the
// means from their conjugate Normal conditionals, and the log spreads by
// random-walk Metropolis with step sizes adapted during tuning.
type BayesianChangePointSampler struct {
	opts SamplerOptions
	info AlgorithmInfo

	// interrupt, when set, runs before every iteration of every chain and
	// fails the chain if it returns an error.
	interrupt func(chain, iteration int) error
}

func NewBayesianChangePointSampler(opts SamplerOptions) (*BayesianChangePointSampler, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sampler options")
	}

	info := AlgorithmInfo{
		Name:    "bayesian_single_change_point",
		Version: 1,
		Options: []AlgorithmOption{
			{Name: "chains", Value: opts.Chains},
			{Name: "draws", Value: opts.Draws},
			{Name: "tune", Value: opts.Tune},
			{Name: "prior_mean_sigma", Value: opts.PriorMeanSigma},
			{Name: "prior_spread_sigma", Value: opts.PriorSpreadSigma},
		},
	}
	if opts.Seed != nil {
		info.Options = append(info.Options, AlgorithmOption{Name: "seed", Value: *opts.Seed})
	}

	return &BayesianChangePointSampler{opts: opts, info: info}, nil
}

// Info describes the configured algorithm.
func (s *BayesianChangePointSampler) Info() AlgorithmInfo { return s.info }

// Sample runs all chains concurrently and returns the merged posterior once
// every chain has finished. If any chain fails the whole run fails with a
// *SamplingError; if ctx is canceled all draws are discarded.
func (s *BayesianChangePointSampler) Sample(ctx context.Context, series []float64) (*Posterior, error) {
	data, err := newSamplerData(series)
	if err != nil {
		return nil, err
	}

	seed := time.Now().UnixNano()
	if s.opts.Seed != nil {
		seed = *s.opts.Seed
	}

	start := time.Now()
	results := make([]*chainResult, s.opts.Chains)
	errs := make([]error, s.opts.Chains)

	chainCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := &sync.WaitGroup{}
	for i := 0; i < s.opts.Chains; i++ {
		wg.Add(1)
		go func(idx int) {
			defer func() {
				if err := recovery.HandlePanicWithError(recover(), nil, "change point chain"); err != nil {
					errs[idx] = &SamplingError{Length: data.n, Chain: idx, Iteration: -1, Err: err}
					cancel()
				}
				wg.Done()
			}()

			c := newChain(idx, seed+int64(idx), data, s.opts, s.interrupt)
			res, err := c.run(chainCtx)
			if err != nil {
				errs[idx] = err
				cancel()
				return
			}
			results[idx] = res
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if IsSamplingError(err) {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "sampling canceled, discarding partial draws")
	}
	for _, err := range errs {
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	posterior := newPosterior(results, s.opts, s.info)
	posterior.Warning = posterior.checkConvergence(data.n, s.opts.ConvergenceFraction)
	if posterior.Warning != nil {
		grip.Warning(message.WrapError(posterior.Warning, message.Fields{
			"message":     "change point chains did not converge",
			"num_series":  data.n,
			"chain_means": posterior.Warning.ChainMeans,
		}))
	}

	grip.Info(message.Fields{
		"message":      "sampled change point posterior",
		"algorithm":    s.info.Name,
		"num_series":   data.n,
		"chains":       s.opts.Chains,
		"draws":        len(posterior.Samples),
		"elapsed_secs": time.Since(start).Seconds(),
	})

	return posterior, nil
}

////////////////////////////////////////////////////////////////////////
//
// Observed data

// samplerData holds prefix sums of the series centered on its mean. The
// model is sampled in centered coordinates and means are shifted back when
// draws are recorded.
type samplerData struct {
	n     int
	shift float64
	scale float64
	sum   []float64
	sumSq []float64
}

func newSamplerData(series []float64) (*samplerData, error) {
	n := len(series)
	if n < 2 {
		return nil, &InvalidSeriesError{Length: n, Index: -1, Reason: "series must have at least 2 observations"}
	}
	if err := checkFinite(series); err != nil {
		return nil, err
	}

	d := &samplerData{n: n, shift: stat.Mean(series, nil)}
	if math.IsNaN(d.shift) || math.IsInf(d.shift, 0) {
		return nil, &SamplingError{Length: n, Chain: -1, Err: errors.New("series mean is not finite")}
	}

	centered := make([]float64, n)
	copy(centered, series)
	floats.AddConst(-d.shift, centered)
	squares := make([]float64, n)
	floats.MulTo(squares, centered, centered)

	d.sum = make([]float64, n+1)
	d.sumSq = make([]float64, n+1)
	floats.CumSum(d.sum[1:], centered)
	floats.CumSum(d.sumSq[1:], squares)

	if math.IsNaN(d.sumSq[n]) || math.IsInf(d.sumSq[n], 0) {
		return nil, &SamplingError{Length: n, Chain: -1, Err: errors.New("sum of squares overflows")}
	}

	d.scale = math.Sqrt(d.sumSq[n] / float64(n))
	if d.scale == 0 {
		return nil, &SamplingError{Length: n, Chain: -1, Err: errors.New("series has zero variance")}
	}

	return d, nil
}

// moments are the count, sum and sum of squares of a regime.
type moments struct {
	n  float64
	s1 float64
	s2 float64
}

// regimes splits the series at break index c: [0, c] is the pre-break
// regime and (c, n) the post-break regime.
func (d *samplerData) regimes(c int) (moments, moments) {
	end := c + 1
	pre := moments{n: float64(end), s1: d.sum[end], s2: d.sumSq[end]}
	post := moments{n: float64(d.n - end), s1: d.sum[d.n] - d.sum[end], s2: d.sumSq[d.n] - d.sumSq[end]}
	return pre, post
}

func (m moments) logLikelihood(mean, logSpread float64) float64 {
	if m.n == 0 {
		return 0
	}
	spread := math.Exp(logSpread)
	ss := m.s2 - 2*mean*m.s1 + m.n*mean*mean
	if ss < 0 {
		ss = 0
	}
	return -m.n*(logSpread+halfLogTwoPi) - ss/(2*spread*spread)
}

////////////////////////////////////////////////////////////////////////
//
// Chains

type chainResult struct {
	index      int
	samples    []PosteriorSample
	acceptance [2]float64
}

type chain struct {
	index     int
	rng       *rand.Rand
	data      *samplerData
	opts      SamplerOptions
	interrupt func(int, int) error

	meanPrior   distuv.Normal
	spreadPrior distuv.Normal

	breakIndex int
	means      [2]float64
	logSpreads [2]float64

	steps    [2]float64
	accepted [2]int
	weights  []float64
}

func newChain(index int, seed int64, data *samplerData, opts SamplerOptions, interrupt func(int, int) error) *chain {
	c := &chain{
		index:       index,
		rng:         rand.New(rand.NewSource(seed)),
		data:        data,
		opts:        opts,
		interrupt:   interrupt,
		meanPrior:   distuv.Normal{Mu: 0, Sigma: opts.PriorMeanSigma},
		spreadPrior: distuv.Normal{Mu: 0, Sigma: opts.PriorSpreadSigma},
		steps:       [2]float64{initialStep, initialStep},
		weights:     make([]float64, data.n),
	}

	c.breakIndex = c.rng.Intn(data.n)
	for k := range c.means {
		c.means[k] = 0.1 * data.scale * c.rng.NormFloat64()
		c.logSpreads[k] = math.Log(data.scale) + 0.1*c.rng.NormFloat64()
	}

	return c
}

func (c *chain) fail(iteration int, err error) error {
	return &SamplingError{Length: c.data.n, Chain: c.index, Iteration: iteration, Err: err}
}

func (c *chain) run(ctx context.Context) (*chainResult, error) {
	total := c.opts.Tune + c.opts.Draws
	res := &chainResult{
		index:   c.index,
		samples: make([]PosteriorSample, 0, c.opts.Draws),
	}

	for it := 0; it < total; it++ {
		if it%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrapf(err, "chain %d stopped at iteration %d", c.index, it)
			}
		}
		if c.interrupt != nil {
			if err := c.interrupt(c.index, it); err != nil {
				return nil, c.fail(it, err)
			}
		}

		tuning := it < c.opts.Tune
		if it == c.opts.Tune {
			c.accepted = [2]int{}
		}

		if err := c.updateBreak(); err != nil {
			return nil, c.fail(it, err)
		}
		c.updateMeans()
		c.updateSpreads()

		logProb := c.logPosterior()
		if math.IsNaN(logProb) || math.IsInf(logProb, 0) {
			return nil, c.fail(it, errors.New("log posterior is not finite"))
		}

		if tuning {
			if (it+1)%adaptWindow == 0 {
				c.adapt()
			}
			continue
		}

		res.samples = append(res.samples, PosteriorSample{
			Chain:      c.index,
			BreakIndex: c.breakIndex,
			Mean1:      c.means[0] + c.data.shift,
			Mean2:      c.means[1] + c.data.shift,
			Spread1:    math.Exp(c.logSpreads[0]),
			Spread2:    math.Exp(c.logSpreads[1]),
			LogProb:    logProb,
		})
	}

	for k := range res.acceptance {
		res.acceptance[k] = float64(c.accepted[k]) / float64(c.opts.Draws)
	}

	return res, nil
}

// updateBreak draws c from its full conditional, which under the uniform
// prior is proportional to the likelihood of the split at c.
func (c *chain) updateBreak() error {
	highest := math.Inf(-1)
	for k := 0; k < c.data.n; k++ {
		pre, post := c.data.regimes(k)
		lp := pre.logLikelihood(c.means[0], c.logSpreads[0]) + post.logLikelihood(c.means[1], c.logSpreads[1])
		if math.IsNaN(lp) {
			return errors.Errorf("break conditional is not a number at index %d", k)
		}
		c.weights[k] = lp
		if lp > highest {
			highest = lp
		}
	}
	if math.IsInf(highest, 0) {
		return errors.New("break conditional has no finite mass")
	}

	total := 0.0
	for k, lp := range c.weights {
		c.weights[k] = math.Exp(lp - highest)
		total += c.weights[k]
	}

	u := c.rng.Float64() * total
	for k, w := range c.weights {
		if u < w {
			c.breakIndex = k
			return nil
		}
		u -= w
	}
	c.breakIndex = c.data.n - 1
	return nil
}

// updateMeans draws each regime mean from its conjugate Normal conditional.
// An empty regime draws from the prior.
func (c *chain) updateMeans() {
	pre, post := c.data.regimes(c.breakIndex)
	for k, m := range [2]moments{pre, post} {
		variance := math.Exp(2 * c.logSpreads[k])
		precision := 1/(c.opts.PriorMeanSigma*c.opts.PriorMeanSigma) + m.n/variance
		center := (m.s1 / variance) / precision
		c.means[k] = center + c.rng.NormFloat64()/math.Sqrt(precision)
	}
}

// updateSpreads takes one random-walk Metropolis step per regime on the
// log spread. Proposals with a non-finite target are rejected.
func (c *chain) updateSpreads() {
	pre, post := c.data.regimes(c.breakIndex)
	for k, m := range [2]moments{pre, post} {
		current := c.logSpreadTarget(m, c.means[k], c.logSpreads[k])
		proposal := c.logSpreads[k] + c.steps[k]*c.rng.NormFloat64()
		proposed := c.logSpreadTarget(m, c.means[k], proposal)
		if math.IsNaN(proposed) || math.IsInf(proposed, 0) {
			continue
		}
		if math.Log(c.rng.Float64()) < proposed-current {
			c.logSpreads[k] = proposal
			c.accepted[k]++
		}
	}
}

// logSpreadTarget is the log density of a regime's log spread given its
// mean, including the Jacobian of the log transform.
func (c *chain) logSpreadTarget(m moments, mean, logSpread float64) float64 {
	return m.logLikelihood(mean, logSpread) + c.halfNormalLogProb(math.Exp(logSpread)) + logSpread
}

func (c *chain) halfNormalLogProb(x float64) float64 {
	return math.Ln2 + c.spreadPrior.LogProb(x)
}

// logPosterior is the unnormalized joint log density of the current state.
func (c *chain) logPosterior() float64 {
	pre, post := c.data.regimes(c.breakIndex)
	lp := -math.Log(float64(c.data.n))
	for k, m := range [2]moments{pre, post} {
		lp += m.logLikelihood(c.means[k], c.logSpreads[k])
		lp += c.meanPrior.LogProb(c.means[k])
		lp += c.halfNormalLogProb(math.Exp(c.logSpreads[k]))
	}
	return lp
}

// adapt scales each step size toward the target acceptance rate over the
// last window of tuning iterations.
func (c *chain) adapt() {
	for k := range c.steps {
		rate := float64(c.accepted[k]) / adaptWindow
		c.steps[k] *= math.Exp(rate - targetAcceptance)
		c.accepted[k] = 0
	}
}
