package regime

import (
	"time"

	"github.com/evergreen-ci/regime/changepoint"
	"github.com/evergreen-ci/regime/util"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// Configuration defines the settings for the service and the default
// analyses it runs. A nil Segmentation or Sampler section disables that
// analysis.
type Configuration struct {
	NumWorkers         int           `yaml:"num_workers"`
	MongoDBURI         string        `yaml:"mongodb_uri"`
	MongoDBDialTimeout time.Duration `yaml:"mongodb_dial_timeout"`
	DatabaseName       string        `yaml:"database_name"`

	Segmentation *changepoint.SegmentationOptions `yaml:"segmentation,omitempty"`
	Sampler      *changepoint.SamplerOptions      `yaml:"sampler,omitempty"`
	CUSUM        bool                             `yaml:"cusum"`

	Export ExportConfig `yaml:"export"`
}

// ExportConfig names the blob storage that receives exported reports. An
// empty Bucket disables export. For a local export the bucket is a
// directory. S3 credentials come from the standard AWS environment.
type ExportConfig struct {
	Type   string `yaml:"type"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// LoadConfiguration reads and validates a YAML configuration file.
func LoadConfiguration(path string) (*Configuration, error) {
	conf := &Configuration{}
	if err := util.ReadFileYAML(path, conf); err != nil {
		return nil, errors.Wrapf(err, "problem reading configuration from '%s'", path)
	}

	if err := conf.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in '%s'", path)
	}

	return conf, nil
}

func (c *Configuration) Validate() error {
	catcher := grip.NewBasicCatcher()

	if c.NumWorkers == 0 {
		c.NumWorkers = DefaultNumWorkers
	}
	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.MongoDBDialTimeout <= 0 {
		c.MongoDBDialTimeout = 2 * time.Second
	}
	if c.Segmentation == nil && c.Sampler == nil && !c.CUSUM {
		c.Segmentation = &changepoint.SegmentationOptions{}
	}
	if c.Export.Bucket != "" && c.Export.Type == "" {
		c.Export.Type = "local"
	}

	catcher.NewWhen(c.NumWorkers < 0, "must specify a valid number of amboy workers")
	if c.Segmentation != nil {
		catcher.Wrap(c.Segmentation.Validate(), "invalid segmentation options")
	}
	if c.Sampler != nil {
		catcher.Wrap(c.Sampler.Validate(), "invalid sampler options")
	}

	return catcher.Resolve()
}

// EngineOptions returns the analyses the configuration enables.
func (c *Configuration) EngineOptions() changepoint.EngineOptions {
	return changepoint.EngineOptions{
		Segmentation: c.Segmentation,
		Sampler:      c.Sampler,
		CUSUM:        c.CUSUM,
	}
}
