// Package telemetry defines the battery telemetry export domain: the closed set of
// exportable series, the validated export request, the decoded samples and the
// bounded producer/consumer bridge that turns a store cursor into CSV lines.
package telemetry

// Series is one exportable numeric column of the battery table.
//
// The set is closed and compiled in. A Series is the only value ever interpolated
// into generated SQL, so it must never be built from request text other than
// through ParseSeries.
type Series int

const (
	SeriesCharge Series = iota
	SeriesTensionBat
	SeriesTensionPv1
	SeriesTensionPv2
	SeriesTemperature
	SeriesCourantPv1
	SeriesCourantPv2
	SeriesEntreeEnergie24h
	SeriesSortieEnergie24h
	SeriesCourantEntreeAppareil
	SeriesCourantChargeTotal
	SeriesCourantConsommateur
	SeriesCourantDechargeTotal
	numSeries
)

var seriesColumns = [numSeries]string{
	SeriesCharge:                "charge",
	SeriesTensionBat:            "tension_bat",
	SeriesTensionPv1:            "tension_pv1",
	SeriesTensionPv2:            "tension_pv2",
	SeriesTemperature:           "temperature",
	SeriesCourantPv1:            "courant_pv1",
	SeriesCourantPv2:            "courant_pv2",
	SeriesEntreeEnergie24h:      "entree_energie_24h",
	SeriesSortieEnergie24h:      "sortie_energie_24h",
	SeriesCourantEntreeAppareil: "courant_entree_appareil",
	SeriesCourantChargeTotal:    "courant_charge_total",
	SeriesCourantConsommateur:   "courant_consommateur",
	SeriesCourantDechargeTotal:  "courant_decharge_total",
}

// ParseSeries returns the Series whose column name is exactly name.
// Matching is case sensitive and whole-string only.
func ParseSeries(name string) (Series, bool) {
	for i, col := range seriesColumns {
		if col == name {
			return Series(i), true
		}
	}
	return 0, false
}

// AllSeries lists every exportable series in column order.
func AllSeries() []Series {
	out := make([]Series, numSeries)
	for i := range out {
		out[i] = Series(i)
	}
	return out
}

// Valid reports whether s is a member of the enumeration.
func (s Series) Valid() bool {
	return s >= 0 && s < numSeries
}

// Column returns the table column identifier for s.
// It panics for values outside the enumeration.
func (s Series) Column() string {
	if !s.Valid() {
		panic("telemetry: column requested for unknown series")
	}
	return seriesColumns[s]
}

func (s Series) String() string {
	if !s.Valid() {
		return "unknown"
	}
	return seriesColumns[s]
}
