package units

import (
	"context"
	"crypto/sha1"
	"fmt"
	"path/filepath"

	"github.com/evergreen-ci/regime"
	"github.com/evergreen-ci/regime/changepoint"
	"github.com/evergreen-ci/regime/model"
	"github.com/evergreen-ci/regime/parser"
	"github.com/evergreen-ci/utility"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const detectChangePointsJobName = "detect-change-points"

// DetectOptions describe where the values of a price history live and which
// analyses to run on it.
type DetectOptions struct {
	DateColumn  string                    `bson:"date_column" json:"date_column" yaml:"date_column"`
	ValueColumn string                    `bson:"value_column" json:"value_column" yaml:"value_column"`
	Daily       bool                      `bson:"daily" json:"daily" yaml:"daily"`
	Engine      changepoint.EngineOptions `bson:"engine" json:"engine" yaml:"engine"`
}

// DetectChangePointsJob analyzes one CSV price history. The report is saved
// when the environment has a database and exported when an export bucket
// is configured.
type DetectChangePointsJob struct {
	*job.Base `bson:"metadata" json:"metadata" yaml:"metadata"`
	Series    string        `bson:"series" json:"series" yaml:"series"`
	Path      string        `bson:"path" json:"path" yaml:"path"`
	Options   DetectOptions `bson:"options" json:"options" yaml:"options"`

	// Report and ExportKey are set by a successful run.
	Report    *model.ChangePointReport `bson:"-" json:"-" yaml:"-"`
	ExportKey string                   `bson:"export_key,omitempty" json:"export_key,omitempty" yaml:"export_key,omitempty"`

	env regime.Environment
}

func init() {
	registry.AddJobType(detectChangePointsJobName, func() amboy.Job { return makeDetectChangePointsJob() })
}

func makeDetectChangePointsJob() *DetectChangePointsJob {
	j := &DetectChangePointsJob{
		Base: &job.Base{
			JobType: amboy.JobType{
				Name:    detectChangePointsJobName,
				Version: 1,
			},
		},
	}
	j.SetDependency(dependency.NewAlways())
	return j
}

// NewDetectChangePointsJob analyzes the CSV file at path as the named
// series. Files that share a series name get distinct job ids.
func NewDetectChangePointsJob(series, path string, opts DetectOptions) amboy.Job {
	j := makeDetectChangePointsJob()
	// Every ten minutes at most
	timestamp := utility.RoundPartOfHour(10)
	j.SetID(fmt.Sprintf("%s.%s.%s.%s", j.JobType.Name, series, pathHash(path), timestamp.Format(regime.ShortDateFormat+".15:04")))
	j.Series = series
	j.Path = path
	j.Options = opts
	return j
}

func pathHash(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return fmt.Sprintf("%x", sha1.Sum([]byte(path)))[:12]
}

func (j *DetectChangePointsJob) makeMessage(msg string) message.Fields {
	return message.Fields{
		"message": msg,
		"job":     j.ID(),
		"series":  j.Series,
		"path":    j.Path,
	}
}

func (j *DetectChangePointsJob) Run(ctx context.Context) {
	defer j.MarkComplete()

	if j.env == nil {
		j.env = regime.GetEnvironment()
	}
	if j.env == nil {
		j.AddError(errors.New("no environment configured"))
		return
	}

	rows, err := parser.ReadCSVFile(j.Path, parser.ReadOptions{
		DateColumn:  j.Options.DateColumn,
		ValueColumn: j.Options.ValueColumn,
	})
	if err != nil {
		j.AddError(err)
		return
	}

	series, err := parser.PrepareSeries(rows, parser.PrepareOptions{Daily: j.Options.Daily})
	if err != nil {
		j.AddError(errors.Wrapf(err, "problem preparing series '%s'", j.Series))
		return
	}

	engine, err := changepoint.NewEngine(j.Options.Engine)
	if err != nil {
		j.AddError(err)
		return
	}

	result, err := engine.Detect(ctx, series)
	if err != nil {
		grip.Error(message.WrapError(err, j.makeMessage("unable to detect change points")))
		j.AddError(err)
		return
	}

	report := model.CreateChangePointReport(j.Series, result)
	report.Setup(j.env)

	if j.env.HasDB() {
		if err = report.Save(ctx); err != nil {
			j.AddError(err)
			return
		}
	}

	if conf := j.env.GetConf(); conf.Export.Bucket != "" {
		bucket, err := model.CreateExportBucket(ctx, conf.Export)
		if err != nil {
			j.AddError(errors.Wrap(err, "problem creating export bucket"))
			return
		}
		j.ExportKey, err = model.ExportReport(ctx, bucket, report)
		if err != nil {
			j.AddError(err)
			return
		}
	}

	j.Report = report

	grip.Info(message.Fields{
		"message":  "detected change points",
		"job":      j.ID(),
		"series":   j.Series,
		"report":   report.ID,
		"saved":    j.env.HasDB(),
		"export":   j.ExportKey,
		"warnings": len(report.Warnings),
	})
}
