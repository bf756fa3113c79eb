package parser

import (
	"sort"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Inspection summarizes the completeness and spread of a price history.
// The statistics ignore missing rows.
type Inspection struct {
	Rows           int       `bson:"rows" json:"rows" yaml:"rows"`
	Missing        int       `bson:"missing" json:"missing" yaml:"missing"`
	DuplicateDates int       `bson:"duplicate_dates" json:"duplicate_dates" yaml:"duplicate_dates"`
	DuplicateRows  int       `bson:"duplicate_rows" json:"duplicate_rows" yaml:"duplicate_rows"`
	Start          time.Time `bson:"start" json:"start" yaml:"start"`
	End            time.Time `bson:"end" json:"end" yaml:"end"`
	Min            float64   `bson:"min" json:"min" yaml:"min"`
	Max            float64   `bson:"max" json:"max" yaml:"max"`
	Mean           float64   `bson:"mean" json:"mean" yaml:"mean"`
	StdDev         float64   `bson:"std_dev" json:"std_dev" yaml:"std_dev"`
	Median         float64   `bson:"median" json:"median" yaml:"median"`
}

// Inspect summarizes rows. Duplicate rows repeat both the date and the
// value of an earlier row; duplicate dates only the date.
func Inspect(rows []Row) (*Inspection, error) {
	if len(rows) == 0 {
		return nil, errors.New("cannot inspect an empty price history")
	}

	out := &Inspection{Rows: len(rows), Start: rows[0].Date, End: rows[0].Date}

	type key struct {
		date    int64
		value   float64
		missing bool
	}
	dates := map[int64]struct{}{}
	seen := map[key]struct{}{}
	values := make([]float64, 0, len(rows))

	for _, row := range rows {
		if row.Date.Before(out.Start) {
			out.Start = row.Date
		}
		if row.Date.After(out.End) {
			out.End = row.Date
		}

		date := row.Date.UnixNano()
		if _, ok := dates[date]; ok {
			out.DuplicateDates++
		}
		dates[date] = struct{}{}

		k := key{date: date, value: row.Value, missing: row.Missing}
		if _, ok := seen[k]; ok {
			out.DuplicateRows++
		}
		seen[k] = struct{}{}

		if row.Missing {
			out.Missing++
			continue
		}
		values = append(values, row.Value)
	}

	if len(values) > 0 {
		out.Min = floats.Min(values)
		out.Max = floats.Max(values)
		out.Mean, out.StdDev = stat.MeanStdDev(values, nil)
		if len(values) == 1 {
			out.StdDev = 0
		}
		out.Median = median(values)
	}

	grip.WarningWhen(out.Missing > 0, message.Fields{
		"message": "price history has missing values",
		"missing": out.Missing,
		"rows":    out.Rows,
	})
	grip.InfoWhen(out.DuplicateDates > 0, message.Fields{
		"message":         "price history has duplicate dates",
		"duplicate_dates": out.DuplicateDates,
		"duplicate_rows":  out.DuplicateRows,
	})

	return out, nil
}

func median(values []float64) float64 {
	sorted := append([]float64{}, values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
