package telemetry

import (
	"context"

	"github.com/rs/zerolog/log"
)

// DefaultBufferLines is the per-export hand-off capacity used when none is configured.
const DefaultBufferLines = 256

// Exporter turns validated requests into live CSV line streams over a Store.
type Exporter struct {
	store       Store
	bufferLines int
}

// NewExporter creates an Exporter reading from store. Each export buffers at most
// bufferLines rendered lines between the store cursor and the consumer.
func NewExporter(store Store, bufferLines int) *Exporter {
	if bufferLines <= 0 {
		bufferLines = DefaultBufferLines
	}
	return &Exporter{store: store, bufferLines: bufferLines}
}

// Stream is one in-flight export. A single producer goroutine iterates the store
// cursor and sends rendered lines; the caller is the single consumer.
type Stream struct {
	lines  chan []byte
	done   chan struct{}
	cancel context.CancelFunc
	err    error
	sent   int
}

// Export starts the producer for req and returns immediately. The caller must
// call Close once it stops consuming, whether or not Lines was drained.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		lines:  make(chan []byte, e.bufferLines),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.produce(ctx, e.store, req)
	return s
}

func (s *Stream) produce(ctx context.Context, store Store, req ExportRequest) {
	defer close(s.done)
	defer close(s.lines)

	l := log.With().Str("method", "produce").Str("series", req.Series.String()).Logger()
	s.err = store.ScanSamples(ctx, req, func(sample Sample) error {
		// Sending is the cancellation point: a full buffer blocks here until the
		// consumer catches up or goes away.
		select {
		case s.lines <- sample.AppendCSV(make([]byte, 0, 32)):
			s.sent++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if s.err != nil {
		l.Debug().Err(s.err).Int("sent", s.sent).Msg("producer stopped early")
		return
	}
	l.Debug().Int("sent", s.sent).Msg("producer finished")
}

// Lines yields the CSV lines in row id order. It is closed when the producer stops.
func (s *Stream) Lines() <-chan []byte {
	return s.lines
}

// Err waits for the producer to stop and returns the error that ended it, or nil
// if the cursor was exhausted.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Sent waits for the producer to stop and returns how many lines it handed off.
func (s *Stream) Sent() int {
	<-s.done
	return s.sent
}

// Close cancels the producer and waits for it to release the store cursor.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}
