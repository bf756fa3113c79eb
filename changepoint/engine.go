package changepoint

import (
	"context"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// EngineOptions select the analyses an Engine runs. A nil options struct
// disables the corresponding detector.
type EngineOptions struct {
	Segmentation *SegmentationOptions `bson:"segmentation,omitempty" json:"segmentation,omitempty" yaml:"segmentation,omitempty"`
	Sampler      *SamplerOptions      `bson:"sampler,omitempty" json:"sampler,omitempty" yaml:"sampler,omitempty"`
	CUSUM        bool                 `bson:"cusum" json:"cusum" yaml:"cusum"`
}

// Engine validates a series once and runs the configured detectors on it.
// Either detector may be nil.
type Engine struct {
	Segmentation ChangeDetector
	Sampler      PosteriorSampler
	CUSUM        bool
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	e := &Engine{CUSUM: opts.CUSUM}

	if opts.Segmentation != nil {
		d, err := NewSegmentationDetector(*opts.Segmentation)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		e.Segmentation = d
	}

	if opts.Sampler != nil {
		s, err := NewBayesianChangePointSampler(*opts.Sampler)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		e.Sampler = s
	}

	return e, nil
}

// Report combines the results of every analysis run on one series. The
// segmentation breaks and the Bayesian estimate are computed independently
// and may disagree.
type Report struct {
	Length    int                  `bson:"length" json:"length" yaml:"length"`
	Start     time.Time            `bson:"start" json:"start" yaml:"start"`
	End       time.Time            `bson:"end" json:"end" yaml:"end"`
	Breaks    *BreakSet            `bson:"breaks,omitempty" json:"breaks,omitempty" yaml:"breaks,omitempty"`
	Posterior *Posterior           `bson:"posterior,omitempty" json:"posterior,omitempty" yaml:"posterior,omitempty"`
	Estimate  *ChangePointEstimate `bson:"estimate,omitempty" json:"estimate,omitempty" yaml:"estimate,omitempty"`
	CUSUM     []CUSUMPoint         `bson:"cusum,omitempty" json:"cusum,omitempty" yaml:"cusum,omitempty"`
	Warnings  []string             `bson:"warnings,omitempty" json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Detect validates the series and runs the configured analyses. An invalid
// series fails with an *InvalidSeriesError before any detector runs.
func (e *Engine) Detect(ctx context.Context, series Series) (*Report, error) {
	if e.Segmentation == nil && e.Sampler == nil && !e.CUSUM {
		return nil, errors.New("no change point analysis requested")
	}
	if err := series.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	values := series.Values()
	report := &Report{
		Length: len(series),
		Start:  series[0].Time,
		End:    series[len(series)-1].Time,
	}

	if e.Segmentation != nil {
		cps, err := e.Segmentation.DetectChanges(ctx, values)
		if err != nil {
			return nil, errors.Wrap(err, "segmenting series")
		}
		for _, cp := range cps {
			if cp.Index < 0 || cp.Index >= len(series) {
				return nil, errors.Errorf("detector '%s' returned break %d outside a series of length %d",
					cp.Info.Name, cp.Index, len(series))
			}
		}
		report.Breaks = NewBreakSet(series, cps)
	}

	if e.Sampler != nil {
		posterior, err := e.Sampler.Sample(ctx, values)
		if err != nil {
			return nil, errors.Wrap(err, "sampling change point posterior")
		}
		report.Posterior = posterior
		report.Estimate, err = posterior.Estimate(series)
		if err != nil {
			return nil, errors.Wrap(err, "estimating change point")
		}
		if posterior.Warning != nil {
			report.Warnings = append(report.Warnings, posterior.Warning.Error())
		}
	}

	if e.CUSUM {
		report.CUSUM = CUSUM(series)
	}

	grip.Info(message.Fields{
		"message":    "change point analysis complete",
		"num_series": report.Length,
		"start":      report.Start,
		"end":        report.End,
		"breaks":     report.Breaks != nil,
		"posterior":  report.Posterior != nil,
		"warnings":   len(report.Warnings),
	})

	return report, nil
}
