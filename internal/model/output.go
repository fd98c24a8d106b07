package model

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cwbudde/hydrocal/internal/eval"
)

// timeLayouts are the timestamp formats accepted in time series files.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadSeries parses a two-column CSV time series (time, value). A header
// row is detected and skipped when its first field does not parse as a
// timestamp.
func ReadSeries(path string) (eval.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return eval.Series{}, fmt.Errorf("failed to open series file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var series eval.Series
	row := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return eval.Series{}, fmt.Errorf("failed to read series file %s: %w", path, err)
		}
		row++
		if len(record) < 2 {
			return eval.Series{}, fmt.Errorf("series file %s row %d: need at least 2 columns", path, row)
		}
		ts, terr := parseTime(record[0])
		if terr != nil {
			if row == 1 {
				continue // header
			}
			return eval.Series{}, fmt.Errorf("series file %s row %d: %w", path, row, terr)
		}
		v, verr := strconv.ParseFloat(record[1], 64)
		if verr != nil {
			return eval.Series{}, fmt.Errorf("series file %s row %d: bad value %q", path, row, record[1])
		}
		series.Times = append(series.Times, ts)
		series.Values = append(series.Values, v)
	}
	return series, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
