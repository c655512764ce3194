// Package postgres defines the telemetry store backed by the battery controller's
// PostgreSQL database.
//
// Exports run one read-only transaction per request on a connection borrowed from a
// process-wide pgxpool, and walk the result row by row. The schema itself is owned
// by whatever writes the battery table; this package never migrates it.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/devsjc/batmon/internal/telemetry"
)

type TelemetryStore struct {
	pool *pgxpool.Pool
}

// ScanSamples implements telemetry.Store.
func (s *TelemetryStore) ScanSamples(ctx context.Context, req telemetry.ExportRequest, fn func(telemetry.Sample) error) error {
	l := log.With().Str("method", "ScanSamples").Str("series", req.Series.String()).Logger()
	l.Debug().Msg("recieved method call")

	// Establish a read-only transaction with the database
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		l.Err(err).Msg("s.pool.BeginTx()")
		return fmt.Errorf("begin export transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	query := seriesQuery(req.Series)
	rows, err := tx.Query(ctx, query, seriesQueryArgs(req)...)
	if err != nil {
		l.Err(err).Msgf("tx.Query(%s)", query)
		return fmt.Errorf("run export query: %w", err)
	}
	defer rows.Close()

	typeMap := rows.Conn().TypeMap()
	index := 0
	skipped := 0
	for rows.Next() {
		index++
		sample, err := decodeSample(typeMap, rows.FieldDescriptions(), rows.RawValues())
		if err != nil {
			skipped++
			l.Warn().Err(&telemetry.RowDecodeError{RowIndex: index, Err: err}).Msg("skipping row")
			continue
		}
		if err := fn(sample); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		l.Err(err).Int("rows", index).Msg("rows.Err()")
		return fmt.Errorf("read export rows: %w", err)
	}
	l.Debug().Int("rows", index).Int("skipped", skipped).Msg("export query exhausted")
	return nil
}

// decodeSample decodes the raw id, servdate and value columns of one row.
// Decoding goes through the type map rather than rows.Scan, because a Scan
// failure closes the whole result set and one bad row must not end the export.
func decodeSample(m *pgtype.Map, fields []pgconn.FieldDescription, raw [][]byte) (telemetry.Sample, error) {
	if len(fields) != 3 || len(raw) != 3 {
		return telemetry.Sample{}, fmt.Errorf("expected 3 columns, got %d", len(raw))
	}

	var id int64
	if err := m.Scan(fields[0].DataTypeOID, fields[0].Format, raw[0], &id); err != nil {
		return telemetry.Sample{}, fmt.Errorf("decode id: %w", err)
	}

	var servdate pgtype.Timestamp
	if err := m.Scan(fields[1].DataTypeOID, fields[1].Format, raw[1], &servdate); err != nil {
		return telemetry.Sample{}, fmt.Errorf("decode servdate of row %d: %w", id, err)
	}
	if !servdate.Valid || servdate.InfinityModifier != pgtype.Finite {
		return telemetry.Sample{}, fmt.Errorf("row %d has no finite servdate", id)
	}

	var value pgtype.Float4
	if err := m.Scan(fields[2].DataTypeOID, fields[2].Format, raw[2], &value); err != nil {
		return telemetry.Sample{}, fmt.Errorf("decode %s of row %d: %w", fields[2].Name, id, err)
	}

	sample := telemetry.Sample{ID: id, ServedAt: servdate.Time}
	if value.Valid {
		v := value.Float32
		sample.Value = &v
	}
	return sample, nil
}

// Ping implements telemetry.Store.
func (s *TelemetryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *TelemetryStore) Close() {
	s.pool.Close()
}

// NewTelemetryStore creates a TelemetryStore with a connection pool to the postgres
// database at the provided connection URL.
func NewTelemetryStore(ctx context.Context, connString string) (*TelemetryStore, error) {
	if connString == "" {
		return nil, errors.New("empty connection string, ensure DATABASE_URL is set")
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach database: %w", err)
	}
	return &TelemetryStore{pool: pool}, nil
}

var _ telemetry.Store = (*TelemetryStore)(nil)
