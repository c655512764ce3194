// Package service exposes battery telemetry over HTTP as streamed CSV, and the
// process health over gRPC.
package service

import (
	"context"
	"embed"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/devsjc/batmon/internal/telemetry"
)

//go:embed static
var staticFiles embed.FS

type Server struct {
	router   *mux.Router
	exporter *telemetry.Exporter
}

// NewServer returns the HTTP handler serving the export endpoint and the chart page.
// Browsers on corsOrigins may read the export cross-origin.
func NewServer(exporter *telemetry.Exporter, corsOrigins []string) http.Handler {
	s := &Server{
		router:   mux.NewRouter(),
		exporter: exporter,
	}
	s.setupRoutes()

	var h http.Handler = s.router
	h = handlers.CORS(
		handlers.AllowedOrigins(corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet}),
	)(h)
	return handlers.CustomLoggingHandler(io.Discard, h, logRequest)
}

func (s *Server) setupRoutes() {
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatal().Err(err).Msg("static assets missing from binary")
	}
	s.router.HandleFunc("/data", s.handleData).Methods(http.MethodGet)
	s.router.PathPrefix("/").Handler(http.FileServerFS(static)).Methods(http.MethodGet)
}

// handleData handles GET /data
// Query params:
//   - data: series column (default: charge)
//   - modulo: keep rows whose id is a multiple of it (default: 10)
//   - startdate: first day, YYYY-MM-DD (default: 2000-01-01)
//   - stopdate: last day, inclusive, YYYY-MM-DD (default: 3000-01-01)
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	l := log.With().Str("method", "handleData").Logger()

	req, err := telemetry.ParseExportRequest(r.URL.Query())
	if err != nil {
		l.Debug().Err(err).Str("query", r.URL.RawQuery).Msg("rejected export request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream := s.exporter.Export(r.Context(), req)
	defer stream.Close()

	// The status line is only committed once the first line, or the end of the
	// stream, is known.
	first, ok := <-stream.Lines()
	if !ok {
		if err := stream.Err(); err != nil {
			l.Err(err).Msg("export failed before first line")
			http.Error(w, "Encountered database error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	written := 0
	for line := first; ok; line, ok = <-stream.Lines() {
		if _, err := w.Write(line); err != nil {
			l.Debug().Err(err).Int("lines", written).Msg("client stopped reading")
			return
		}
		written++
		// Flush whenever the producer has nothing queued, so lines go out as soon as
		// they are fetched without a syscall per line on fast cursors.
		if len(stream.Lines()) == 0 {
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				l.Debug().Err(err).Int("lines", written).Msg("client stopped reading")
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			l.Debug().Int("lines", written).Msg("client went away mid-export")
			return
		}
		// CSV has no error channel: drop the connection so the client sees a
		// truncated response rather than a clean end of body.
		l.Err(err).Int("lines", written).Msg("export failed mid-stream")
		panic(http.ErrAbortHandler)
	}
	l.Debug().Int("lines", written).Str("series", req.Series.String()).Msg("export complete")
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	log.Info().
		Str("method", p.Request.Method).
		Str("uri", p.URL.RequestURI()).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Dur("took", time.Since(p.TimeStamp)).
		Msg("http request")
}
