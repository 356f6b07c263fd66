// Package web serves the recorder and its stored trips over HTTP, with a
// websocket stream of recorder events.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"go-trip-recorder/export"
	"go-trip-recorder/recorder"
	"go-trip-recorder/store"
)

// Server is the HTTP host for a recorder and a store.
type Server struct {
	rec      *recorder.Recorder
	store    store.Store
	radius   float64
	logger   *slog.Logger
	upgrader websocket.Upgrader
	hub      *hub
	router   *mux.Router
	detach   func()
}

// NewServer creates a server and subscribes it to rec's events. The recorder
// may be nil to serve stored trips only. Imported trips are measured over a
// sphere of earthRadius meters, zero meaning geo.EarthRadiusMeters.
func NewServer(rec *recorder.Recorder, st store.Store, earthRadius float64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "web")
	s := &Server{
		rec:    rec,
		store:  st,
		radius: earthRadius,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		hub:    newHub(logger),
		detach: func() {},
	}
	if rec != nil {
		s.detach = rec.Subscribe(s.hub)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/recording", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/recording/start", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/recording/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.handleWebSocket)

	api.HandleFunc("/stats", s.handleStoreStats).Methods(http.MethodGet)
	api.HandleFunc("/trips", s.handleListTrips).Methods(http.MethodGet)
	api.HandleFunc("/trips", s.handleClearTrips).Methods(http.MethodDelete)
	api.HandleFunc("/trips/import", s.handleImportTrip).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}", s.handleGetTrip).Methods(http.MethodGet)
	api.HandleFunc("/trips/{id}", s.handleDeleteTrip).Methods(http.MethodDelete)
	api.HandleFunc("/trips/{id}/gpx", s.exportTrip(export.FormatGPX)).Methods(http.MethodGet)
	api.HandleFunc("/trips/{id}/geojson", s.exportTrip(export.FormatGeoJSON)).Methods(http.MethodGet)

	r.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close detaches the server from the recorder.
func (s *Server) Close() {
	s.detach()
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
