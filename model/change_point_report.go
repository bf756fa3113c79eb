package model

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/evergreen-ci/regime"
	"github.com/evergreen-ci/regime/changepoint"
	"github.com/mongodb/anser/bsonutil"
	"github.com/mongodb/anser/db"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const changePointReportCollection = "change_point_reports"

// ChangePointReport is the persisted result of analyzing one price series.
// Raw posterior draws are not stored, only their summary.
type ChangePointReport struct {
	ID        string    `bson:"_id" json:"id" yaml:"id"`
	Series    string    `bson:"series" json:"series" yaml:"series"`
	CreatedAt time.Time `bson:"created_at" json:"created_at" yaml:"created_at"`
	Length    int       `bson:"length" json:"length" yaml:"length"`
	Start     time.Time `bson:"start" json:"start" yaml:"start"`
	End       time.Time `bson:"end" json:"end" yaml:"end"`

	Breaks    *changepoint.BreakSet            `bson:"breaks,omitempty" json:"breaks,omitempty" yaml:"breaks,omitempty"`
	Sampler   *changepoint.AlgorithmInfo       `bson:"sampler,omitempty" json:"sampler,omitempty" yaml:"sampler,omitempty"`
	Estimate  *changepoint.ChangePointEstimate `bson:"estimate,omitempty" json:"estimate,omitempty" yaml:"estimate,omitempty"`
	Posterior *changepoint.PosteriorSummary    `bson:"posterior,omitempty" json:"posterior,omitempty" yaml:"posterior,omitempty"`
	Warnings  []string                         `bson:"warnings,omitempty" json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Triage    TriageInfo                       `bson:"triage" json:"triage" yaml:"triage"`

	env       regime.Environment
	populated bool
}

var (
	reportIDKey        = bsonutil.MustHaveTag(ChangePointReport{}, "ID")
	reportSeriesKey    = bsonutil.MustHaveTag(ChangePointReport{}, "Series")
	reportCreatedAtKey = bsonutil.MustHaveTag(ChangePointReport{}, "CreatedAt")
	reportTriageKey    = bsonutil.MustHaveTag(ChangePointReport{}, "Triage")
)

// TriageInfo records a reviewer's verdict on a report.
type TriageInfo struct {
	TriagedOn time.Time    `bson:"triaged_on" json:"triaged_on" yaml:"triaged_on"`
	Status    TriageStatus `bson:"triage_status" json:"triage_status" yaml:"triage_status"`
}

var (
	triageInfoTriagedOnKey = bsonutil.MustHaveTag(TriageInfo{}, "TriagedOn")
	triageInfoStatusKey    = bsonutil.MustHaveTag(TriageInfo{}, "Status")
)

type TriageStatus string

const (
	TriageStatusUntriaged          TriageStatus = "untriaged"
	TriageStatusTruePositive       TriageStatus = "true_positive"
	TriageStatusFalsePositive      TriageStatus = "false_positive"
	TriageStatusUnderInvestigation TriageStatus = "under_investigation"
)

func (ts TriageStatus) Validate() error {
	switch ts {
	case TriageStatusUntriaged, TriageStatusTruePositive, TriageStatusFalsePositive, TriageStatusUnderInvestigation:
		return nil
	default:
		return errors.Errorf("invalid triage status '%s'", ts)
	}
}

// CreateChangePointReport builds an untriaged report for the named series
// from the result of an analysis.
func CreateChangePointReport(series string, report *changepoint.Report) *ChangePointReport {
	out := &ChangePointReport{
		Series:    series,
		CreatedAt: time.Now().Round(time.Millisecond).UTC(),
		Length:    report.Length,
		Start:     report.Start,
		End:       report.End,
		Breaks:    report.Breaks,
		Estimate:  report.Estimate,
		Warnings:  report.Warnings,
		Triage:    TriageInfo{Status: TriageStatusUntriaged},
		populated: true,
	}

	if report.Posterior != nil {
		summary := report.Posterior.Summary()
		out.Posterior = &summary
		info := report.Posterior.Info
		out.Sampler = &info
	}

	out.ID = out.hash()
	return out
}

func (r *ChangePointReport) hash() string {
	h := sha1.New()
	_, _ = io.WriteString(h, r.Series)
	_, _ = io.WriteString(h, strconv.Itoa(r.Length))
	_, _ = io.WriteString(h, r.Start.String())
	_, _ = io.WriteString(h, r.End.String())
	_, _ = io.WriteString(h, r.CreatedAt.String())
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Setup sets the environment for the report. The environment is required
// for every database operation.
func (r *ChangePointReport) Setup(e regime.Environment) { r.env = e }

// IsNil returns if the report is populated or not.
func (r *ChangePointReport) IsNil() bool { return !r.populated }

func (r *ChangePointReport) checkDB(op string) error {
	if r.env == nil {
		return errors.Errorf("cannot %s a report with a nil environment", op)
	}
	if !r.env.HasDB() {
		return errors.Errorf("cannot %s a report without a database", op)
	}
	return nil
}

// Find loads the report with the same ID from the database.
func (r *ChangePointReport) Find(ctx context.Context) error {
	if err := r.checkDB("find"); err != nil {
		return err
	}
	if r.ID == "" {
		return errors.New("cannot find a report without an id")
	}

	r.populated = false
	err := r.env.GetDB().Collection(changePointReportCollection).FindOne(ctx, bson.M{reportIDKey: r.ID}).Decode(r)
	if db.ResultsNotFound(err) {
		return errors.Wrapf(err, "could not find change point report '%s' in the database", r.ID)
	} else if err != nil {
		return errors.Wrap(err, "problem finding change point report")
	}
	r.populated = true

	return nil
}

// Save upserts the report. The report must be populated.
func (r *ChangePointReport) Save(ctx context.Context) error {
	if !r.populated {
		return errors.New("cannot save an unpopulated report")
	}
	if err := r.checkDB("save"); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = r.hash()
	}

	updateResult, err := r.env.GetDB().Collection(changePointReportCollection).ReplaceOne(
		ctx,
		bson.M{reportIDKey: r.ID},
		r,
		options.Replace().SetUpsert(true),
	)
	grip.DebugWhen(err == nil, message.Fields{
		"collection":   changePointReportCollection,
		"id":           r.ID,
		"series":       r.Series,
		"updateResult": updateResult,
		"op":           "save change point report",
	})

	return errors.Wrapf(err, "problem saving change point report '%s'", r.ID)
}

// Remove deletes the report from the database.
func (r *ChangePointReport) Remove(ctx context.Context) error {
	if err := r.checkDB("remove"); err != nil {
		return err
	}

	deleteResult, err := r.env.GetDB().Collection(changePointReportCollection).DeleteOne(ctx, bson.M{reportIDKey: r.ID})
	grip.DebugWhen(err == nil, message.Fields{
		"collection":   changePointReportCollection,
		"id":           r.ID,
		"deleteResult": deleteResult,
		"op":           "remove change point report",
	})

	return errors.Wrapf(err, "problem removing change point report '%s'", r.ID)
}

// SetTriageStatus records a verdict on a stored report.
func (r *ChangePointReport) SetTriageStatus(ctx context.Context, status TriageStatus) error {
	if err := status.Validate(); err != nil {
		return errors.WithStack(err)
	}
	if err := r.checkDB("triage"); err != nil {
		return err
	}

	now := time.Now().Round(time.Millisecond).UTC()
	res, err := r.env.GetDB().Collection(changePointReportCollection).UpdateOne(ctx,
		bson.M{reportIDKey: r.ID},
		bson.M{"$set": bson.M{
			bsonutil.GetDottedKeyName(reportTriageKey, triageInfoStatusKey):    status,
			bsonutil.GetDottedKeyName(reportTriageKey, triageInfoTriagedOnKey): now,
		}},
	)
	if err != nil {
		return errors.Wrapf(err, "problem triaging change point report '%s'", r.ID)
	}
	if res.MatchedCount != 1 {
		return errors.Errorf("could not find change point report '%s' to triage", r.ID)
	}

	r.Triage = TriageInfo{Status: status, TriagedOn: now}
	return nil
}

// FindChangePointReportsBySeries returns every stored report for the named
// series, newest first.
func FindChangePointReportsBySeries(ctx context.Context, env regime.Environment, series string) ([]ChangePointReport, error) {
	if env == nil || !env.HasDB() {
		return nil, errors.New("cannot find reports without a database")
	}

	cur, err := env.GetDB().Collection(changePointReportCollection).Find(ctx,
		bson.M{reportSeriesKey: series},
		options.Find().SetSort(bson.M{reportCreatedAtKey: -1}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "problem finding reports for series '%s'", series)
	}
	defer cur.Close(ctx)

	var out []ChangePointReport
	if err = cur.All(ctx, &out); err != nil {
		return nil, errors.Wrapf(err, "problem decoding reports for series '%s'", series)
	}
	for i := range out {
		out[i].env = env
		out[i].populated = true
	}

	return out, nil
}
