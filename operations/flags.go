package operations

import (
	"strings"

	"github.com/evergreen-ci/regime/changepoint"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

////////////////////////////////////////////////////////////////////////
//
// Flag Name Constants

const (
	configFlag     = "config"
	pathFlagName   = "path"
	outputFlagName = "output"

	numWorkersFlag = "workers"
	dbURIFlag      = "dbUri"
	dbNameFlag     = "dbName"

	dateColumnFlag  = "dateColumn"
	valueColumnFlag = "valueColumn"
	dailyFlag       = "daily"

	breaksFlag  = "breaks"
	costFlag    = "cost"
	methodFlag  = "method"
	minSizeFlag = "minSize"
	jumpFlag    = "jump"

	bayesFlag  = "bayes"
	seedFlag   = "seed"
	chainsFlag = "chains"
	drawsFlag  = "draws"
	tuneFlag   = "tune"

	cusumFlag = "cusum"

	exportTypeFlag   = "exportType"
	exportBucketFlag = "exportBucket"
	exportPrefixFlag = "exportPrefix"
)

////////////////////////////////////////////////////////////////////////
//
// Utility Functions

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func mergeFlags(in ...[]cli.Flag) []cli.Flag {
	out := []cli.Flag{}

	for idx := range in {
		out = append(out, in[idx]...)
	}

	return out
}

////////////////////////////////////////////////////////////////////////
//
// Flag Groups

func addPathFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(pathFlagName, "filename", "file", "f"),
		Usage: "path to a price history csv file",
	})
}

func addOutputPath(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(outputFlagName, "o"),
		Usage: "path to the output file, the report is printed when empty",
	})
}

func configFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:   configFlag,
		Usage:  "path to a yaml configuration file",
		EnvVar: "REGIME_CONFIG",
	})
}

func csvFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:  dateColumnFlag,
			Usage: "name of the column holding dates",
			Value: "Date",
		},
		cli.StringFlag{
			Name:  valueColumnFlag,
			Usage: "name of the column holding prices",
			Value: "Price",
		},
		cli.BoolFlag{
			Name:  dailyFlag,
			Usage: "resample to calendar days, interpolating gaps in time",
		})
}

func segmentationFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.IntFlag{
			Name:  joinFlagNames(breaksFlag, "k"),
			Usage: "number of breaks for binary segmentation",
			Value: changepoint.DefaultBreaks,
		},
		cli.StringFlag{
			Name:  costFlag,
			Usage: "segment cost model: 'rbf|normal|l2'",
			Value: changepoint.CostRBF,
		},
		cli.StringFlag{
			Name:  methodFlag,
			Usage: "segmentation search: 'binseg|dynp'",
			Value: changepoint.MethodBinarySegmentation,
		},
		cli.IntFlag{
			Name:  minSizeFlag,
			Usage: "minimum segment length",
			Value: 1,
		},
		cli.IntFlag{
			Name:  jumpFlag,
			Usage: "only consider break indices that are multiples of this value",
			Value: 1,
		})
}

func samplerFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.BoolFlag{
			Name:  bayesFlag,
			Usage: "estimate a single change point with the bayesian sampler",
		},
		cli.Int64Flag{
			Name:  seedFlag,
			Usage: "base seed for the sampler chains, random when unset",
		},
		cli.IntFlag{
			Name:  chainsFlag,
			Usage: "number of sampler chains",
			Value: changepoint.DefaultChains,
		},
		cli.IntFlag{
			Name:  drawsFlag,
			Usage: "retained draws per chain",
			Value: changepoint.DefaultDraws,
		},
		cli.IntFlag{
			Name:  tuneFlag,
			Usage: "tuning draws per chain",
			Value: changepoint.DefaultTune,
		},
		cli.BoolFlag{
			Name:  cusumFlag,
			Usage: "include the cumulative sum of deviations from the mean",
		})
}

func dbFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:   dbURIFlag,
			Usage:  "specify a mongodb connection string, reports are not saved when empty",
			EnvVar: "REGIME_MONGODB_URL",
		},
		cli.StringFlag{
			Name:   dbNameFlag,
			Usage:  "specify a database name to use",
			Value:  "regime",
			EnvVar: "REGIME_DATABASE_NAME",
		})
}

func exportFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:  exportTypeFlag,
			Usage: "export storage: 'local|s3'",
			Value: "local",
		},
		cli.StringFlag{
			Name:   exportBucketFlag,
			Usage:  "directory or s3 bucket that receives reports",
			EnvVar: "REGIME_EXPORT_BUCKET",
		},
		cli.StringFlag{
			Name:  exportPrefixFlag,
			Usage: "key prefix for exported reports",
		})
}

func baseFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.IntFlag{
			Name:  numWorkersFlag,
			Usage: "specify the number of worker jobs this process will have",
			Value: 2,
		})
}

func setFlagOrFirstPositional(name string) cli.BeforeFunc {
	return func(c *cli.Context) error {
		val := c.String(name)
		if val == "" {
			if c.NArg() != 1 {
				return errors.Errorf("must specify exactly one positional argument for '%s'", name)
			}

			val = c.Args().Get(0)
		}

		return c.Set(name, val)
	}
}
