package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"hotcold/pkg/clock"
	"hotcold/pkg/dberrors"
	"hotcold/pkg/hotcold"
	"hotcold/pkg/types"

	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeText        = "text/plain; version=0.0.4"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

type iSystem interface {
	Write(r types.Record) ([]types.Record, error)
	Get(key types.Key) (hotcold.Lookup, bool)
	Stats() hotcold.Stats
}

type iMetrics interface {
	WriteText(w io.Writer) error
}

// Server exposes the hot/cold write path over HTTP. Cold records returned
// by writes are handed to the flusher channel.
type Server struct {
	system     iSystem
	seq        *clock.SeqClock
	cold       chan<- []types.Record
	metrics    iMetrics
	httpServer *http.Server

	// writeMu keeps sequence numbers in the order writes are applied
	writeMu sync.Mutex

	URL  string
	addr string
}

// NewServer creates a new server instance. metrics may be nil.
func NewServer(system iSystem, seq *clock.SeqClock, cold chan<- []types.Record, metrics iMetrics, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		system:  system,
		seq:     seq,
		cold:    cold,
		metrics: metrics,
		URL:     "http://localhost:" + port,
		addr:    ":" + port,
	}
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/api", func(r chi.Router) {
		r.Put("/record", s.handlePut)
		r.Get("/record", s.handleGet)
		r.Delete("/record", s.handleDelete)
		r.Get("/levels", s.handleLevels)
	})

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeText)
	if s.metrics == nil {
		return
	}
	if err := s.metrics.WriteText(w); err != nil {
		slog.Warn("Failed to write metrics response", "error", err)
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	key := r.FormValue("key")
	value := r.FormValue("value")

	if key == "" || value == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key or value"))
		return
	}

	s.write(w, types.Record{Key: []byte(key), Value: []byte(value), Op: types.PutOp})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	s.write(w, types.Record{Key: []byte(key), Op: types.DeleteOp})
}

func (s *Server) write(w http.ResponseWriter, rec types.Record) {
	s.writeMu.Lock()
	rec.SeqN = s.seq.Next()
	cold, err := s.system.Write(rec)
	s.writeMu.Unlock()

	if err != nil {
		s.writeJSON(w, statusFor(err), NewErrorResponse(err.Error()))
		return
	}

	// cold записи нельзя терять: ждём место в очереди флашера
	if len(cold) > 0 {
		s.cold <- cold
	}

	s.writeJSON(w, http.StatusOK, NewWriteResponse(uint64(rec.SeqN), len(cold)))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	res, found := s.system.Get([]byte(key))
	if !found || res.Entry.Op == types.DeleteOp {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}

	s.writeJSON(w, http.StatusOK, NewValueResponse(string(res.Entry.Value), res.Tier, uint64(res.Entry.SeqN)))
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.system.Stats())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dberrors.ErrInvalidArgument), errors.Is(err, dberrors.ErrTooLargeEntry):
		return http.StatusBadRequest
	case errors.Is(err, dberrors.ErrExternalSink):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
