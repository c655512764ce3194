package telemetry

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/schema"
)

// DateLayout is the only accepted format for the date query parameters.
const DateLayout = "2006-01-02"

const (
	DefaultSeries     = "charge"
	DefaultDecimation = 10
	DefaultStartDate  = "2000-01-01"
	DefaultStopDate   = "3000-01-01"
)

// ExportRequest is a validated export query. It is only produced by
// ParseExportRequest and is passed by value.
type ExportRequest struct {
	Series Series
	// Decimation keeps rows whose id is a multiple of it. Always > 0.
	Decimation int32
	// StartDate and StopDate are calendar days at 00:00:00 UTC. Both are inclusive.
	StartDate time.Time
	StopDate  time.Time
}

// StopBound returns the exclusive upper timestamp bound covering the whole stop day.
func (r ExportRequest) StopBound() time.Time {
	return r.StopDate.AddDate(0, 0, 1)
}

// ValidationError reports a query parameter that cannot be turned into an
// ExportRequest. It always maps to a 400 response.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query parameter '%s': %s", e.Param, e.Reason)
}

type rawExportParams struct {
	Data      string `schema:"data"`
	Modulo    int32  `schema:"modulo"`
	StartDate string `schema:"startdate"`
	StopDate  string `schema:"stopdate"`
}

var paramDecoder = newParamDecoder()

func newParamDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	// A present but empty parameter must fail validation rather than fall back
	// to its default.
	d.ZeroEmpty(true)
	return d
}

// ParseExportRequest decodes and validates the export query parameters. Absent
// parameters take their defaults. Any failure is a *ValidationError.
func ParseExportRequest(values url.Values) (ExportRequest, error) {
	raw := rawExportParams{
		Data:      DefaultSeries,
		Modulo:    DefaultDecimation,
		StartDate: DefaultStartDate,
		StopDate:  DefaultStopDate,
	}
	if err := paramDecoder.Decode(&raw, values); err != nil {
		return ExportRequest{}, decodeError(err)
	}

	series, ok := ParseSeries(raw.Data)
	if !ok {
		return ExportRequest{}, &ValidationError{Param: "data", Reason: "not an exportable series"}
	}
	if raw.Modulo <= 0 {
		return ExportRequest{}, &ValidationError{Param: "modulo", Reason: "must be a positive integer"}
	}
	start, err := time.Parse(DateLayout, raw.StartDate)
	if err != nil {
		return ExportRequest{}, &ValidationError{Param: "startdate", Reason: "expected YYYY-MM-DD"}
	}
	stop, err := time.Parse(DateLayout, raw.StopDate)
	if err != nil {
		return ExportRequest{}, &ValidationError{Param: "stopdate", Reason: "expected YYYY-MM-DD"}
	}

	return ExportRequest{
		Series:     series,
		Decimation: raw.Modulo,
		StartDate:  start,
		StopDate:   stop,
	}, nil
}

// decodeError maps a gorilla/schema failure onto the offending parameter.
func decodeError(err error) error {
	var multi schema.MultiError
	if errors.As(err, &multi) {
		keys := slices.Sorted(maps.Keys(multi))
		if len(keys) > 0 {
			return &ValidationError{Param: keys[0], Reason: "malformed value"}
		}
	}
	var conv schema.ConversionError
	if errors.As(err, &conv) {
		return &ValidationError{Param: conv.Key, Reason: "malformed value"}
	}
	return &ValidationError{Param: "query", Reason: err.Error()}
}
