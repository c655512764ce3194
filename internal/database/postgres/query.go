package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/devsjc/batmon/internal/telemetry"
)

const batteryTable = "battery"

// seriesQuery returns the export statement for one series. The column identifier
// only ever comes from the compiled-in series enumeration; every other input is a
// bind parameter.
func seriesQuery(s telemetry.Series) string {
	return fmt.Sprintf(
		"SELECT id, servdate, %s FROM %s "+
			"WHERE id %% $1 = 0 AND erreur_crc16 = FALSE AND servdate >= $2 AND servdate < $3 "+
			"ORDER BY id ASC",
		pgx.Identifier{s.Column()}.Sanitize(),
		pgx.Identifier{batteryTable}.Sanitize(),
	)
}

// seriesQueryArgs returns the bind parameters matching seriesQuery.
// The stop bound is exclusive, at midnight after the requested stop day.
func seriesQueryArgs(req telemetry.ExportRequest) []any {
	return []any{
		req.Decimation,
		pgtype.Timestamp{Time: req.StartDate, Valid: true},
		pgtype.Timestamp{Time: req.StopBound(), Valid: true},
	}
}
