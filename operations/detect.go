package operations

import (
	"context"

	"github.com/evergreen-ci/regime"
	"github.com/evergreen-ci/regime/units"
	"github.com/evergreen-ci/regime/util"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Detect returns the ./regime detect command, which analyzes one price
// history in the foreground.
func Detect() cli.Command {
	return cli.Command{
		Name:  "detect",
		Usage: "find change points in a csv price history",
		Flags: mergeFlags(
			addPathFlag(),
			addOutputPath(),
			configFlags(),
			csvFlags(),
			segmentationFlags(),
			samplerFlags(),
			dbFlags(),
			exportFlags(),
		),
		Before: mergeBeforeFuncs(
			setFlagOrFirstPositional(pathFlagName),
			requireStringFlag(pathFlagName),
			requireFileExists(pathFlagName),
		),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			conf, err := configure(c)
			if err != nil {
				return errors.WithStack(err)
			}

			env, err := regime.NewEnvironment(ctx, "regime-detect", conf)
			if err != nil {
				return errors.WithStack(err)
			}
			defer func() { grip.Warning(env.Close(ctx)) }()
			regime.SetEnvironment(env)

			path := c.String(pathFlagName)
			j, ok := units.NewDetectChangePointsJob(seriesName(path), path, detectOptions(c, conf)).(*units.DetectChangePointsJob)
			if !ok {
				return errors.New("unexpected detection job type")
			}

			j.Run(ctx)
			if err = j.Error(); err != nil {
				return errors.Wrapf(err, "problem analyzing '%s'", path)
			}

			if out := c.String(outputFlagName); out != "" {
				return errors.WithStack(util.WriteJSON(out, j.Report))
			}
			return errors.WithStack(util.EncodeJSON(c.App.Writer, j.Report))
		},
	}
}
