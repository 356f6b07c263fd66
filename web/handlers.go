package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"go-trip-recorder/export"
	"go-trip-recorder/gps"
	"go-trip-recorder/recorder"
	"go-trip-recorder/store"
	"go-trip-recorder/trip"
)

const maxImportBytes = 32 << 20

// tripSummary is a trip without its points.
type tripSummary struct {
	ID            string     `json:"id"`
	StartedAtMs   int64      `json:"startedAtMs"`
	EndedAtMs     *int64     `json:"endedAtMs"`
	Stats         trip.Stats `json:"stats"`
	DriveType     string     `json:"driveType,omitempty"`
	VideoFilename string     `json:"videoFilename,omitempty"`
}

func summarize(t trip.Trip) tripSummary {
	return tripSummary{
		ID:            t.ID,
		StartedAtMs:   t.StartedAtMs,
		EndedAtMs:     t.EndedAtMs,
		Stats:         t.Stats,
		DriveType:     t.DriveType,
		VideoFilename: t.VideoFilename,
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// errorKind returns the classification code carried by err, if any.
func errorKind(err error) string {
	var kinded interface{ ErrorKind() string }
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	switch {
	case errors.Is(err, export.ErrNoData):
		return "EXPORT_NO_DATA"
	case errors.Is(err, store.ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, store.ErrDuplicateID):
		return "DUPLICATE_ID"
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrIllegalState), errors.Is(err, store.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, export.ErrNoData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, export.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrClosed):
		return http.StatusServiceUnavailable
	}
	var se *gps.SourceError
	if errors.As(err, &se) {
		return http.StatusServiceUnavailable
	}
	if kind, ok := store.KindOf(err); ok && kind == store.WriteFailed {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Code: errorKind(err)})
}

func (s *Server) requireRecorder(w http.ResponseWriter) bool {
	if s.rec == nil {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "no recorder attached"})
		return false
	}
	return true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.rec.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	var body struct {
		DriveType     string `json:"driveType"`
		VideoFilename string `json:"videoFilename"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid JSON: %v", err)})
			return
		}
	}
	opts := recorder.StartOptions{DriveType: body.DriveType, VideoFilename: body.VideoFilename}
	if err := s.rec.Start(r.Context(), opts); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.rec.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireRecorder(w) {
		return
	}
	final, err := s.rec.Stop(r.Context())
	if final == nil && err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if final == nil {
		s.writeError(w, err)
		return
	}

	resp := struct {
		Trip      tripSummary `json:"trip"`
		Persisted bool        `json:"persisted"`
		Error     string      `json:"error,omitempty"`
		Code      string      `json:"code,omitempty"`
	}{Trip: summarize(*final), Persisted: err == nil && s.store != nil}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = errorKind(err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]tripSummary, len(trips))
	for i, t := range trips {
		out[i] = summarize(t)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearTrips(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exportTrip serves the stored trip as a downloadable document.
func (s *Server) exportTrip(f export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		var buf bytes.Buffer
		if err := export.Write(&buf, f, t); err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", f.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "trip-"+t.ID+"."+string(f)))
		_, _ = w.Write(buf.Bytes())
	}
}

// handleImportTrip stores a GPX or GeoJSON document as a finalized trip.
// The format follows the Content-Type, falling back to sniffing the body.
func (s *Server) handleImportTrip(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("read body: %v", err)})
		return
	}

	t, err := export.Parse(formatOf(r.Header.Get("Content-Type"), data), data, s.radius)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.store.Add(r.Context(), t); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, summarize(t))
}

func formatOf(contentType string, body []byte) export.Format {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "application/geo+json", "application/json":
			return export.FormatGeoJSON
		case "application/gpx+xml", "application/xml", "text/xml":
			return export.FormatGPX
		}
	}
	return export.Detect("", body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := s.hub.register()
	defer s.hub.unregister(c)

	if s.rec != nil {
		snap := s.rec.Snapshot()
		hello := message{Type: "snapshot", Data: viewOf(recorder.Event{
			State:   snap.State,
			Trip:    snap.Trip,
			Stats:   snap.Stats,
			Quality: snap.Quality,
		})}
		if err := conn.WriteJSON(hello); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}

	// Reader: discards client messages and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-closed:
			return
		}
	}
}
