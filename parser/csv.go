/*
Package parser reads commodity price histories and prepares them for change
point analysis.
*/
package parser

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/pkg/errors"
)

const (
	DefaultDateColumn  = "Date"
	DefaultValueColumn = "Price"
)

// Row is one observation from a price history. Line is the 1-based line
// number in the source, counting the header.
type Row struct {
	Line    int       `bson:"line" json:"line" yaml:"line"`
	Date    time.Time `bson:"date" json:"date" yaml:"date"`
	Value   float64   `bson:"value" json:"value" yaml:"value"`
	Missing bool      `bson:"missing" json:"missing" yaml:"missing"`
}

// ReadOptions name the columns holding the dates and the values. Dates
// without a zone are read in Location, UTC by default.
type ReadOptions struct {
	DateColumn  string
	ValueColumn string
	Location    *time.Location
}

func (o *ReadOptions) Validate() error {
	if o.DateColumn == "" {
		o.DateColumn = DefaultDateColumn
	}
	if o.ValueColumn == "" {
		o.ValueColumn = DefaultValueColumn
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.DateColumn == o.ValueColumn {
		return errors.Errorf("date and value columns must differ, both are '%s'", o.DateColumn)
	}
	return nil
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string, opts ReadOptions) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem opening '%s'", path)
	}
	defer f.Close()

	rows, err := ReadCSV(f, opts)
	return rows, errors.Wrapf(err, "problem reading '%s'", path)
}

// ReadCSV parses a CSV document with a header row. Dates may mix formats
// across rows. Empty values are kept as missing rows; dates or values that
// do not parse are errors.
func ReadCSV(r io.Reader, opts ReadOptions) ([]Row, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("input has no header")
	}
	if err != nil {
		return nil, errors.Wrap(err, "problem reading header")
	}

	dateIdx, valueIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case opts.DateColumn:
			dateIdx = i
		case opts.ValueColumn:
			valueIdx = i
		}
	}
	if dateIdx < 0 {
		return nil, errors.Errorf("header has no '%s' column", opts.DateColumn)
	}
	if valueIdx < 0 {
		return nil, errors.Errorf("header has no '%s' column", opts.ValueColumn)
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "problem reading line %d", line)
		}
		if len(record) <= dateIdx || len(record) <= valueIdx {
			return nil, errors.Errorf("line %d has %d fields", line, len(record))
		}

		row := Row{Line: line}

		rawDate := strings.TrimSpace(record[dateIdx])
		row.Date, err = dateparse.ParseIn(rawDate, opts.Location)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d has an invalid date '%s'", line, rawDate)
		}

		rawValue := strings.TrimSpace(record[valueIdx])
		if rawValue == "" {
			row.Missing = true
		} else {
			row.Value, err = strconv.ParseFloat(rawValue, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d has an invalid value '%s'", line, rawValue)
			}
		}

		rows = append(rows, row)
	}

	return rows, nil
}
