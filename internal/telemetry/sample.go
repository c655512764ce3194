package telemetry

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimestampLayout is the rendering of the served-at timestamp in CSV output.
const TimestampLayout = "2006-01-02 15:04:05"

// Sample is one decoded row of an export: when the battery controller served the
// reading, and the reading itself. A nil Value is a NULL in the table.
type Sample struct {
	ID       int64
	ServedAt time.Time
	Value    *float32
}

// AppendCSV appends the CSV line for the sample, newline included, to dst.
// NULL values are written as NaN so the value column always holds a number.
func (s Sample) AppendCSV(dst []byte) []byte {
	dst = s.ServedAt.AppendFormat(dst, TimestampLayout)
	dst = append(dst, ',')
	switch {
	case s.Value == nil:
		dst = append(dst, "NaN"...)
	case math.IsInf(float64(*s.Value), 1):
		dst = append(dst, "Infinity"...)
	case math.IsInf(float64(*s.Value), -1):
		dst = append(dst, "-Infinity"...)
	default:
		dst = strconv.AppendFloat(dst, float64(*s.Value), 'f', -1, 32)
	}
	return append(dst, '\n')
}

// CSVLine returns the rendered CSV line for the sample.
func (s Sample) CSVLine() string {
	return string(s.AppendCSV(make([]byte, 0, 32)))
}

// Store is a source of battery telemetry.
type Store interface {
	// ScanSamples runs the export query for req and calls fn for every decodable
	// row, in ascending row id order. Rows are fetched incrementally. Iteration
	// stops at the first error returned by fn, which ScanSamples returns.
	ScanSamples(ctx context.Context, req ExportRequest, fn func(Sample) error) error
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// RowDecodeError describes a fetched row that could not be decoded. Stores log
// and skip such rows rather than failing the export.
type RowDecodeError struct {
	RowIndex int
	Err      error
}

func (e *RowDecodeError) Error() string {
	return fmt.Sprintf("undecodable row %d: %v", e.RowIndex, e.Err)
}

func (e *RowDecodeError) Unwrap() error {
	return e.Err
}
