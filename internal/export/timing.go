// Package export writes experiment artifacts: the timing log and the
// workbook summary of a batch run.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"
	"time"
)

// TimingRow is one line of timing.csv.
type TimingRow struct {
	Name     string
	Eligible bool
	Elapsed  time.Duration
}

// TimingWriter appends name,eligible,elapsed rows. Elapsed is written in
// seconds. It is safe for concurrent use.
type TimingWriter struct {
	mu  sync.Mutex
	csv *csv.Writer
}

// NewTimingWriter creates a TimingWriter that writes CSV to w.
func NewTimingWriter(w io.Writer) *TimingWriter {
	return &TimingWriter{csv: csv.NewWriter(w)}
}

// Write writes one row and flushes it.
func (w *TimingWriter) Write(row TimingRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(timingRecord(row)); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

func timingRecord(row TimingRow) []string {
	return []string{
		row.Name,
		strconv.FormatBool(row.Eligible),
		strconv.FormatFloat(row.Elapsed.Seconds(), 'f', 3, 64),
	}
}

// ReadTiming parses a timing log written by TimingWriter.
func ReadTiming(r io.Reader) ([]TimingRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	rows := make([]TimingRow, 0, len(records))
	for _, rec := range records {
		eligible, err := strconv.ParseBool(rec[1])
		if err != nil {
			return nil, err
		}
		secs, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, err
		}
		rows = append(rows, TimingRow{
			Name:     rec[0],
			Eligible: eligible,
			Elapsed:  time.Duration(secs * float64(time.Second)),
		})
	}
	return rows, nil
}
