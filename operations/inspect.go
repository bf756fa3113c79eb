package operations

import (
	"github.com/evergreen-ci/regime/parser"
	"github.com/evergreen-ci/regime/util"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Inspect returns the ./regime inspect command, which summarizes a price
// history without analyzing it.
func Inspect() cli.Command {
	return cli.Command{
		Name:  "inspect",
		Usage: "report missing values, duplicates and summary statistics of a csv price history",
		Flags: mergeFlags(addPathFlag(), addOutputPath(), csvFlags()),
		Before: mergeBeforeFuncs(
			setFlagOrFirstPositional(pathFlagName),
			requireStringFlag(pathFlagName),
			requireFileExists(pathFlagName),
		),
		Action: func(c *cli.Context) error {
			path := c.String(pathFlagName)
			rows, err := parser.ReadCSVFile(path, parser.ReadOptions{
				DateColumn:  c.String(dateColumnFlag),
				ValueColumn: c.String(valueColumnFlag),
			})
			if err != nil {
				return errors.WithStack(err)
			}

			inspection, err := parser.Inspect(rows)
			if err != nil {
				return errors.Wrapf(err, "problem inspecting '%s'", path)
			}

			if out := c.String(outputFlagName); out != "" {
				return errors.WithStack(util.WriteJSON(out, inspection))
			}
			return errors.WithStack(util.EncodeJSON(c.App.Writer, inspection))
		},
	}
}
