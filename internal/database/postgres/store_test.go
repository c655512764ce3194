package postgres

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/devsjc/batmon/internal/telemetry"
)

//go:embed testdata/migrations/*.sql
var testMigrations embed.FS

// --- HELPERS ------------------------------------------------------------------------------------

// createPostgresContainer starts a postgres container with the battery schema applied
// and returns its connection string.
func createPostgresContainer(tb testing.TB) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping postgres container test in short mode")
	}

	pgC, err := tcpostgres.Run(
		tb.Context(),
		"docker.io/postgres:16-alpine",
		tcpostgres.WithDatabase("postgres"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	tb.Cleanup(func() {
		testcontainers.CleanupContainer(tb, pgC)
	})
	require.NoError(tb, err)

	pgConnString, err := pgC.ConnectionString(tb.Context(), "sslmode=disable")
	require.NoError(tb, err)

	pool, err := pgxpool.New(tb.Context(), pgConnString)
	require.NoError(tb, err)
	defer pool.Close()

	goose.SetBaseFS(testMigrations)
	goose.SetLogger(goose.NopLogger())
	require.NoError(tb, goose.SetDialect("postgres"))
	db := stdlib.OpenDBFromPool(pool)
	require.NoError(tb, goose.Up(db, "testdata/migrations"))
	require.NoError(tb, db.Close())

	tb.Logf("Postgres container started at %s", pgConnString)
	return pgConnString
}

var seedEpoch = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

// seed inserts rows with ids 1..n. Rows are six hours apart starting at seedEpoch,
// odd ids fail their integrity check, charge is id*10 and tension_bat is 12+id/10.
// Ids listed in nullTension get a NULL tension_bat.
func seed(tb testing.TB, pgConnString string, n int, nullTension ...int64) {
	tb.Helper()
	conn, err := pgx.Connect(tb.Context(), pgConnString)
	require.NoError(tb, err)
	defer conn.Close(tb.Context())

	rows := make([][]any, n)
	for i := range rows {
		id := int64(i + 1)
		var tension *float32
		if !containsID(nullTension, id) {
			v := float32(12 + float64(id)/10)
			tension = &v
		}
		rows[i] = []any{
			id,
			seedEpoch.Add(time.Duration(id-1) * 6 * time.Hour),
			id%2 == 1,
			float32(id * 10),
			tension,
		}
	}
	copied, err := conn.CopyFrom(
		tb.Context(),
		pgx.Identifier{"battery"},
		[]string{"id", "servdate", "erreur_crc16", "charge", "tension_bat"},
		pgx.CopyFromRows(rows),
	)
	require.NoError(tb, err)
	require.Equal(tb, int64(n), copied)
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func setupStore(tb testing.TB, pgConnString string) *TelemetryStore {
	tb.Helper()
	store, err := NewTelemetryStore(tb.Context(), pgConnString)
	require.NoError(tb, err)
	tb.Cleanup(store.Close)
	return store
}

func date(tb testing.TB, s string) time.Time {
	tb.Helper()
	d, err := time.Parse(telemetry.DateLayout, s)
	require.NoError(tb, err)
	return d
}

func collect(tb testing.TB, store telemetry.Store, req telemetry.ExportRequest) []telemetry.Sample {
	tb.Helper()
	var samples []telemetry.Sample
	err := store.ScanSamples(tb.Context(), req, func(s telemetry.Sample) error {
		samples = append(samples, s)
		return nil
	})
	require.NoError(tb, err)
	return samples
}

func ids(samples []telemetry.Sample) []int64 {
	out := make([]int64, len(samples))
	for i, s := range samples {
		out[i] = s.ID
	}
	return out
}

// --- Tests --------------------------------------------------------------------------------------

func TestSeriesQuery(t *testing.T) {
	for _, s := range telemetry.AllSeries() {
		t.Run(s.String(), func(t *testing.T) {
			q := seriesQuery(s)
			require.Contains(t, q, fmt.Sprintf(`SELECT id, servdate, "%s" FROM "battery"`, s.Column()))
			require.Contains(t, q, "id % $1 = 0")
			require.Contains(t, q, "erreur_crc16 = FALSE")
			require.Contains(t, q, "servdate >= $2 AND servdate < $3")
			require.True(t, strings.HasSuffix(q, "ORDER BY id ASC"))
		})
	}
}

func TestSeriesQueryArgs(t *testing.T) {
	req := telemetry.ExportRequest{
		Series:     telemetry.SeriesCharge,
		Decimation: 7,
		StartDate:  date(t, "2024-03-01"),
		StopDate:   date(t, "2024-03-02"),
	}
	args := seriesQueryArgs(req)
	require.Len(t, args, 3)
	require.Equal(t, int32(7), args[0])
	require.Equal(t, pgtype.Timestamp{Time: date(t, "2024-03-01"), Valid: true}, args[1])
	require.Equal(t, pgtype.Timestamp{Time: date(t, "2024-03-03"), Valid: true}, args[2])
}

func TestDecodeSample(t *testing.T) {
	m := pgtype.NewMap()
	fields := []pgconn.FieldDescription{
		{Name: "id", DataTypeOID: pgtype.Int8OID, Format: pgtype.TextFormatCode},
		{Name: "servdate", DataTypeOID: pgtype.TimestampOID, Format: pgtype.TextFormatCode},
		{Name: "charge", DataTypeOID: pgtype.Float4OID, Format: pgtype.TextFormatCode},
	}

	tests := []struct {
		name        string
		raw         [][]byte
		expected    telemetry.Sample
		shouldError bool
	}{
		{
			name:     "Should decode a complete row",
			raw:      [][]byte{[]byte("5"), []byte("2024-03-01 12:30:00"), []byte("1.5")},
			expected: telemetry.Sample{ID: 5, ServedAt: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), Value: ptr(float32(1.5))},
		},
		{
			name:     "Should decode a NULL value as nil",
			raw:      [][]byte{[]byte("6"), []byte("2024-03-01 12:35:00"), nil},
			expected: telemetry.Sample{ID: 6, ServedAt: time.Date(2024, 3, 1, 12, 35, 0, 0, time.UTC)},
		},
		{
			name:        "Shouldn't decode a malformed timestamp",
			raw:         [][]byte{[]byte("7"), []byte("yesterday-ish"), []byte("1.5")},
			shouldError: true,
		},
		{
			name:        "Shouldn't decode a NULL timestamp",
			raw:         [][]byte{[]byte("8"), nil, []byte("1.5")},
			shouldError: true,
		},
		{
			name:        "Shouldn't decode an infinite timestamp",
			raw:         [][]byte{[]byte("9"), []byte("infinity"), []byte("1.5")},
			shouldError: true,
		},
		{
			name:        "Shouldn't decode a malformed value",
			raw:         [][]byte{[]byte("10"), []byte("2024-03-01 12:30:00"), []byte("lots")},
			shouldError: true,
		},
		{
			name:        "Shouldn't decode a short row",
			raw:         [][]byte{[]byte("11")},
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, err := decodeSample(m, fields, tt.raw)
			if tt.shouldError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, sample)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestNewTelemetryStoreRequiresConnString(t *testing.T) {
	_, err := NewTelemetryStore(t.Context(), "")
	require.Error(t, err)
}

func TestScanSamples(t *testing.T) {
	pgConnString := createPostgresContainer(t)
	seed(t, pgConnString, 10, 6)
	store := setupStore(t, pgConnString)

	full := func(series telemetry.Series, decimation int32) telemetry.ExportRequest {
		return telemetry.ExportRequest{
			Series:     series,
			Decimation: decimation,
			StartDate:  date(t, telemetry.DefaultStartDate),
			StopDate:   date(t, telemetry.DefaultStopDate),
		}
	}

	tests := []struct {
		name        string
		req         telemetry.ExportRequest
		expectedIDs []int64
	}{
		{
			name:        "Should return every even row for modulo 2",
			req:         full(telemetry.SeriesCharge, 2),
			expectedIDs: []int64{2, 4, 6, 8, 10},
		},
		{
			name:        "Should never return integrity-failed rows for modulo 1",
			req:         full(telemetry.SeriesCharge, 1),
			expectedIDs: []int64{2, 4, 6, 8, 10},
		},
		{
			name:        "Should only return ids divisible by the decimation",
			req:         full(telemetry.SeriesCharge, 4),
			expectedIDs: []int64{4, 8},
		},
		{
			name: "Should include the whole stop day",
			req: telemetry.ExportRequest{
				Series:     telemetry.SeriesCharge,
				Decimation: 1,
				StartDate:  date(t, "2024-03-02"),
				StopDate:   date(t, "2024-03-02"),
			},
			expectedIDs: []int64{6, 8},
		},
		{
			name: "Should return nothing for a reversed range",
			req: telemetry.ExportRequest{
				Series:     telemetry.SeriesCharge,
				Decimation: 1,
				StartDate:  date(t, "2024-03-03"),
				StopDate:   date(t, "2024-03-01"),
			},
			expectedIDs: []int64{},
		},
		{
			name: "Should return nothing outside the data",
			req: telemetry.ExportRequest{
				Series:     telemetry.SeriesTensionBat,
				Decimation: 1,
				StartDate:  date(t, "2020-01-01"),
				StopDate:   date(t, "2020-12-31"),
			},
			expectedIDs: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := collect(t, store, tt.req)
			require.Equal(t, tt.expectedIDs, ids(samples))
		})
	}

	t.Run("Should only export the requested column", func(t *testing.T) {
		samples := collect(t, store, full(telemetry.SeriesCharge, 2))
		for _, s := range samples {
			require.NotNil(t, s.Value)
			require.Equal(t, float32(s.ID*10), *s.Value)
			require.Equal(t, seedEpoch.Add(time.Duration(s.ID-1)*6*time.Hour), s.ServedAt)
		}
	})

	t.Run("Should render NULL values as NaN", func(t *testing.T) {
		samples := collect(t, store, full(telemetry.SeriesTensionBat, 2))
		require.Len(t, samples, 5)
		require.Equal(t, "2024-03-02 06:00:00,NaN\n", samples[2].CSVLine())
		require.Equal(t, "2024-03-01 06:00:00,12.2\n", samples[0].CSVLine())
	})

	t.Run("Should return NaN for columns that were never written", func(t *testing.T) {
		samples := collect(t, store, full(telemetry.SeriesTemperature, 2))
		require.Len(t, samples, 5)
		for _, s := range samples {
			require.Nil(t, s.Value)
		}
	})

	t.Run("Should produce identical output for identical requests", func(t *testing.T) {
		render := func() string {
			var b strings.Builder
			for _, s := range collect(t, store, full(telemetry.SeriesCharge, 1)) {
				b.WriteString(s.CSVLine())
			}
			return b.String()
		}
		first := render()
		require.NotEmpty(t, first)
		require.Equal(t, first, render())
	})

	t.Run("Should stop when the callback fails", func(t *testing.T) {
		stop := fmt.Errorf("consumer gone")
		calls := 0
		err := store.ScanSamples(t.Context(), full(telemetry.SeriesCharge, 1), func(telemetry.Sample) error {
			calls++
			return stop
		})
		require.ErrorIs(t, err, stop)
		require.Equal(t, 1, calls)
	})

	t.Run("Should fail on a cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		err := store.ScanSamples(ctx, full(telemetry.SeriesCharge, 1), func(telemetry.Sample) error { return nil })
		require.Error(t, err)
	})

	t.Run("Should serve concurrent exports from the pool", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make([][]int64, 8)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var got []int64
				err := store.ScanSamples(t.Context(), full(telemetry.SeriesCharge, 2), func(s telemetry.Sample) error {
					got = append(got, s.ID)
					return nil
				})
				if err == nil {
					results[i] = got
				}
			}()
		}
		wg.Wait()
		for _, r := range results {
			require.Equal(t, []int64{2, 4, 6, 8, 10}, r)
		}
	})

	t.Run("Should stream lines through an exporter", func(t *testing.T) {
		stream := telemetry.NewExporter(store, 1).Export(t.Context(), full(telemetry.SeriesCharge, 2))
		defer stream.Close()
		var lines []string
		for line := range stream.Lines() {
			lines = append(lines, string(line))
		}
		require.NoError(t, stream.Err())
		require.Equal(t, []string{
			"2024-03-01 06:00:00,20\n",
			"2024-03-01 18:00:00,40\n",
			"2024-03-02 06:00:00,60\n",
			"2024-03-02 18:00:00,80\n",
			"2024-03-03 06:00:00,100\n",
		}, lines)
	})
}

func TestPing(t *testing.T) {
	store := setupStore(t, createPostgresContainer(t))
	require.NoError(t, store.Ping(t.Context()))
}
