// Package dummy provides a fake telemetry.Store simulating a small off-grid solar
// battery installation. Samples are computed on the fly from the row id alone, so
// identical requests always produce identical exports.
//
// Panel output follows a clear-sky model of extraterrestrial irradiance at the
// configured location; the battery and load quantities are smooth functions of the
// time of day layered on top.
//
// Every 97th row is flagged as a CRC failure and is never exported, and the
// temperature probe drops out (NULL) every 61st row.
package dummy

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devsjc/batmon/internal/telemetry"
)

const (
	step = time.Duration(5 * time.Minute)

	crcFailureEvery    = 97
	probeDropoutEvery  = 61
	clearSkyIndex      = 0.75
	panelPeakCurrentA  = 8.0
	consumerBaseloadA  = 1.2
	batteryNominalVolt = 12.0
)

// Config bounds the simulated history.
type Config struct {
	// Start is the served-at time of row id 1.
	Start time.Time
	// End is the exclusive end of the simulated history.
	End       time.Time
	Longitude float64
	Latitude  float64
}

// DefaultConfig simulates the whole of 2024 at a site in southern France.
func DefaultConfig() Config {
	return Config{
		Start:     time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Longitude: 4.8,
		Latitude:  43.9,
	}
}

type TelemetryStore struct {
	cfg  Config
	site lnglat
	rows int64
}

func NewTelemetryStore(cfg Config) *TelemetryStore {
	rows := int64(0)
	if cfg.End.After(cfg.Start) {
		rows = int64(cfg.End.Sub(cfg.Start) / step)
	}
	return &TelemetryStore{
		cfg:  cfg,
		site: lnglat{lonDegs: cfg.Longitude, latDegs: cfg.Latitude},
		rows: rows,
	}
}

// ScanSamples implements telemetry.Store.
func (s *TelemetryStore) ScanSamples(ctx context.Context, req telemetry.ExportRequest, fn func(telemetry.Sample) error) error {
	l := log.With().Str("method", "ScanSamples").Str("series", req.Series.String()).Logger()
	l.Debug().Msg("recieved method call")

	first := max(s.idAtOrAfter(req.StartDate), 1)
	last := min(s.idAtOrAfter(req.StopBound())-1, s.rows)
	for id := first; id <= last; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if id%int64(req.Decimation) != 0 || crcFailed(id) {
			continue
		}
		if err := fn(s.sample(id, req.Series)); err != nil {
			return err
		}
	}
	return nil
}

// Ping implements telemetry.Store.
func (s *TelemetryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// idAtOrAfter returns the smallest row id served at or after t.
func (s *TelemetryStore) idAtOrAfter(t time.Time) int64 {
	if !t.After(s.cfg.Start) {
		return 1
	}
	offset := t.Sub(s.cfg.Start)
	// Durations overflow roughly 292 years out; anything past that is past the end.
	if offset < 0 || t.Year()-s.cfg.Start.Year() > 250 {
		return s.rows + 1
	}
	n := int64(offset / step)
	if offset%step != 0 {
		n++
	}
	return n + 1
}

func (s *TelemetryStore) servedAt(id int64) time.Time {
	return s.cfg.Start.Add(time.Duration(id-1) * step)
}

func crcFailed(id int64) bool {
	return id%crcFailureEvery == 0
}

func (s *TelemetryStore) sample(id int64, series telemetry.Series) telemetry.Sample {
	at := s.servedAt(id)
	sample := telemetry.Sample{ID: id, ServedAt: at}
	if series == telemetry.SeriesTemperature && id%probeDropoutEvery == 0 {
		return sample
	}
	v := float32(s.reading(at, series))
	sample.Value = &v
	return sample
}

// reading simulates one series at time t.
func (s *TelemetryStore) reading(t time.Time, series telemetry.Series) float64 {
	sd := determineIrradiance(t, s.site)
	sun := clearSkyIndex * sd.extraterrestrialIrradiance / 1000.0

	pv1 := panelPeakCurrentA * sun
	pv2 := 0.9 * pv1
	hour := float64(t.Hour()) + float64(t.Minute())/60.0
	consumer := consumerBaseloadA + 0.8*math.Max(math.Sin(2*math.Pi*(hour-14)/24), 0)
	charge := 50 + 40*math.Sin(2*math.Pi*(hour-10)/24)
	in := pv1 + pv2

	switch series {
	case telemetry.SeriesCharge:
		return round(charge, 1)
	case telemetry.SeriesTensionBat:
		return round(11.8+0.02*charge, 2)
	case telemetry.SeriesTensionPv1:
		return round(panelVoltage(sun), 2)
	case telemetry.SeriesTensionPv2:
		return round(0.98*panelVoltage(sun), 2)
	case telemetry.SeriesTemperature:
		return round(12+8*sun, 1)
	case telemetry.SeriesCourantPv1:
		return round(pv1, 2)
	case telemetry.SeriesCourantPv2:
		return round(pv2, 2)
	case telemetry.SeriesEntreeEnergie24h:
		return round(0.5*1.9*panelPeakCurrentA*clearSkyIndex*batteryNominalVolt*sd.daylengthHours, 0)
	case telemetry.SeriesSortieEnergie24h:
		return round(24*consumerBaseloadA*batteryNominalVolt, 0)
	case telemetry.SeriesCourantEntreeAppareil:
		return round(in, 2)
	case telemetry.SeriesCourantChargeTotal:
		return round(math.Max(in-consumer, 0), 2)
	case telemetry.SeriesCourantConsommateur:
		return round(consumer, 2)
	case telemetry.SeriesCourantDechargeTotal:
		return round(math.Max(consumer-in, 0), 2)
	default:
		return math.NaN()
	}
}

func panelVoltage(sun float64) float64 {
	if sun <= 0 {
		return 0
	}
	return 17 + 3*sun
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

var _ telemetry.Store = (*TelemetryStore)(nil)
