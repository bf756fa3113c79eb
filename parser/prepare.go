package parser

import (
	"sort"
	"time"

	"github.com/evergreen-ci/regime/changepoint"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const day = 24 * time.Hour

// PrepareOptions control how rows become a series. With Daily set, dates
// are truncated to days and the series is reindexed to every calendar day
// between the first and last observation, filling gaps by linear
// interpolation in time.
type PrepareOptions struct {
	Daily bool `bson:"daily" json:"daily" yaml:"daily"`
}

// PrepareSeries drops missing rows, orders the rest by date and keeps the
// last row for each repeated date. The result has strictly increasing
// timestamps.
func PrepareSeries(rows []Row, opts PrepareOptions) (changepoint.Series, error) {
	present := make([]Row, 0, len(rows))
	for _, row := range rows {
		if row.Missing {
			continue
		}
		if opts.Daily {
			row.Date = row.Date.UTC().Truncate(day)
		}
		present = append(present, row)
	}
	if len(present) == 0 {
		return nil, errors.New("price history has no values")
	}

	sort.SliceStable(present, func(i, j int) bool { return present[i].Date.Before(present[j].Date) })

	unique := present[:0]
	for _, row := range present {
		if n := len(unique); n > 0 && unique[n-1].Date.Equal(row.Date) {
			unique[n-1] = row
			continue
		}
		unique = append(unique, row)
	}

	var series changepoint.Series
	if opts.Daily {
		series = resampleDaily(unique)
	} else {
		series = make(changepoint.Series, len(unique))
		for i, row := range unique {
			series[i] = changepoint.Point{Time: row.Date, Value: row.Value}
		}
	}

	grip.Debug(message.Fields{
		"message":    "prepared series",
		"rows":       len(rows),
		"dropped":    len(rows) - len(unique),
		"num_series": len(series),
		"daily":      opts.Daily,
	})

	return series, nil
}

// resampleDaily expects rows truncated to days, sorted, and unique.
func resampleDaily(rows []Row) changepoint.Series {
	first := rows[0].Date
	last := rows[len(rows)-1].Date
	out := make(changepoint.Series, 0, int(last.Sub(first)/day)+1)

	next := 0
	for ts := first; !ts.After(last); ts = ts.Add(day) {
		for rows[next].Date.Before(ts) {
			next++
		}

		if rows[next].Date.Equal(ts) {
			out = append(out, changepoint.Point{Time: ts, Value: rows[next].Value})
			continue
		}

		prev := rows[next-1]
		span := rows[next].Date.Sub(prev.Date).Hours()
		frac := ts.Sub(prev.Date).Hours() / span
		out = append(out, changepoint.Point{
			Time:  ts,
			Value: prev.Value + frac*(rows[next].Value-prev.Value),
		})
	}

	return out
}
