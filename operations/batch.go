package operations

import (
	"context"
	"time"

	"github.com/evergreen-ci/regime"
	"github.com/evergreen-ci/regime/units"
	"github.com/evergreen-ci/regime/util"
	"github.com/mongodb/amboy"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// BatchResult is the outcome of analyzing one file in a batch.
type BatchResult struct {
	Series    string `json:"series"`
	Path      string `json:"path"`
	Report    string `json:"report,omitempty"`
	ExportKey string `json:"export_key,omitempty"`
	Warnings  int    `json:"warnings"`
	Error     string `json:"error,omitempty"`
}

// Batch returns the ./regime batch command, which analyzes every file named
// on the command line on the local job queue.
func Batch() cli.Command {
	return cli.Command{
		Name:      "batch",
		Usage:     "analyze several csv price histories concurrently",
		ArgsUsage: "FILE [FILE...]",
		Flags: mergeFlags(
			addOutputPath(),
			baseFlags(),
			configFlags(),
			csvFlags(),
			segmentationFlags(),
			samplerFlags(),
			dbFlags(),
			exportFlags(),
		),
		Before: requireArgs(),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := configure(c)
			if err != nil {
				return errors.WithStack(err)
			}

			env, err := regime.NewEnvironment(ctx, "regime-batch", conf)
			if err != nil {
				return errors.WithStack(err)
			}
			defer func() { grip.Warning(env.Close(ctx)) }()
			regime.SetEnvironment(env)

			q := env.GetLocalQueue()
			opts := detectOptions(c, conf)
			jobs := make([]*units.DetectChangePointsJob, 0, c.NArg())
			for _, path := range c.Args() {
				j, ok := units.NewDetectChangePointsJob(seriesName(path), path, opts).(*units.DetectChangePointsJob)
				if !ok {
					return errors.New("unexpected detection job type")
				}
				if err = q.Put(ctx, j); err != nil {
					return errors.Wrapf(err, "problem queuing '%s'", path)
				}
				jobs = append(jobs, j)
			}

			if !amboy.WaitInterval(ctx, q, 100*time.Millisecond) {
				return errors.New("batch did not finish")
			}

			results := make([]BatchResult, 0, len(jobs))
			catcher := grip.NewBasicCatcher()
			for _, j := range jobs {
				res := BatchResult{Series: j.Series, Path: j.Path, ExportKey: j.ExportKey}
				if err := j.Error(); err != nil {
					res.Error = err.Error()
					catcher.Wrapf(err, "series '%s'", j.Series)
				}
				if j.Report != nil {
					res.Report = j.Report.ID
					res.Warnings = len(j.Report.Warnings)
				}
				results = append(results, res)
			}

			grip.Info(message.Fields{
				"message": "batch complete",
				"files":   len(jobs),
				"failed":  catcher.Len(),
			})

			if out := c.String(outputFlagName); out != "" {
				catcher.Add(util.WriteJSON(out, results))
			} else {
				catcher.Add(util.EncodeJSON(c.App.Writer, results))
			}

			return catcher.Resolve()
		},
	}
}
