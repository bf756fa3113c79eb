package operations

import (
	"path/filepath"
	"strings"

	"github.com/evergreen-ci/regime"
	"github.com/evergreen-ci/regime/changepoint"
	"github.com/evergreen-ci/regime/units"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// configure builds the configuration for a command: the file named by
// --config, if any, with every explicitly set flag applied on top. Without
// a file, segmentation always runs.
func configure(c *cli.Context) (*regime.Configuration, error) {
	conf := &regime.Configuration{}
	fromFile := c.String(configFlag) != ""
	if fromFile {
		var err error
		conf, err = regime.LoadConfiguration(c.String(configFlag))
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	if c.IsSet(numWorkersFlag) {
		conf.NumWorkers = c.Int(numWorkersFlag)
	}
	if c.IsSet(dbURIFlag) || !fromFile {
		conf.MongoDBURI = c.String(dbURIFlag)
	}
	if c.IsSet(dbNameFlag) || !fromFile {
		conf.DatabaseName = c.String(dbNameFlag)
	}

	applySegmentationFlags(c, conf, fromFile)
	applySamplerFlags(c, conf)

	if c.Bool(cusumFlag) {
		conf.CUSUM = true
	}

	if c.IsSet(exportBucketFlag) || !fromFile {
		conf.Export.Bucket = c.String(exportBucketFlag)
	}
	if c.IsSet(exportTypeFlag) || (!fromFile && conf.Export.Bucket != "") {
		conf.Export.Type = c.String(exportTypeFlag)
	}
	if c.IsSet(exportPrefixFlag) {
		conf.Export.Prefix = c.String(exportPrefixFlag)
	}

	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "problem setting up configuration")
	}

	return conf, nil
}

func anySet(c *cli.Context, names ...string) bool {
	for _, name := range names {
		if c.IsSet(name) {
			return true
		}
	}
	return false
}

func applySegmentationFlags(c *cli.Context, conf *regime.Configuration, fromFile bool) {
	if conf.Segmentation == nil {
		if fromFile && !anySet(c, breaksFlag, costFlag, methodFlag, minSizeFlag, jumpFlag) {
			return
		}
		conf.Segmentation = &changepoint.SegmentationOptions{
			Breaks:  c.Int(breaksFlag),
			Cost:    c.String(costFlag),
			Method:  c.String(methodFlag),
			MinSize: c.Int(minSizeFlag),
			Jump:    c.Int(jumpFlag),
		}
		return
	}

	if c.IsSet(breaksFlag) {
		conf.Segmentation.Breaks = c.Int(breaksFlag)
	}
	if c.IsSet(costFlag) {
		conf.Segmentation.Cost = c.String(costFlag)
	}
	if c.IsSet(methodFlag) {
		conf.Segmentation.Method = c.String(methodFlag)
	}
	if c.IsSet(minSizeFlag) {
		conf.Segmentation.MinSize = c.Int(minSizeFlag)
	}
	if c.IsSet(jumpFlag) {
		conf.Segmentation.Jump = c.Int(jumpFlag)
	}
}

func applySamplerFlags(c *cli.Context, conf *regime.Configuration) {
	if conf.Sampler == nil {
		if !c.Bool(bayesFlag) {
			return
		}
		conf.Sampler = &changepoint.SamplerOptions{}
	}

	if c.IsSet(chainsFlag) {
		conf.Sampler.Chains = c.Int(chainsFlag)
	}
	if c.IsSet(drawsFlag) {
		conf.Sampler.Draws = c.Int(drawsFlag)
	}
	if c.IsSet(tuneFlag) {
		conf.Sampler.Tune = c.Int(tuneFlag)
	}
	if c.IsSet(seedFlag) {
		seed := c.Int64(seedFlag)
		conf.Sampler.Seed = &seed
	}
}

func detectOptions(c *cli.Context, conf *regime.Configuration) units.DetectOptions {
	return units.DetectOptions{
		DateColumn:  c.String(dateColumnFlag),
		ValueColumn: c.String(valueColumnFlag),
		Daily:       c.Bool(dailyFlag),
		Engine:      conf.EngineOptions(),
	}
}

// seriesName names a series after its file.
func seriesName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
