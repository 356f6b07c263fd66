package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"go-trip-recorder/export"
	"go-trip-recorder/geo"
	"go-trip-recorder/gps"
	"go-trip-recorder/recorder"
	"go-trip-recorder/store"
	"go-trip-recorder/trip"
)

func storedTrip(id string, startedAt int64) trip.Trip {
	t := trip.Trip{ID: id, StartedAtMs: startedAt, QualityHorizonMeters: 50}
	for i := 0; i < 3; i++ {
		t.Points = append(t.Points, trip.Point{
			T:              startedAt + int64(i+1)*1000,
			Lat:            48.8566,
			Lon:            2.3522 + float64(i)*0.0002,
			AccuracyMeters: 4,
			SpeedMps:       14,
		})
	}
	ended := startedAt + 4000
	t.EndedAtMs = &ended
	t.Stats = trip.Compute(t, ended, geo.EarthRadiusMeters)
	return t
}

type fixture struct {
	server *Server
	store  store.Store
	rec    *recorder.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenLog(filepath.Join(t.TempDir(), "trips.jsonl"), store.LogOptions{})
	if err != nil {
		t.Fatalf("OpenLog failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	script := make([]gps.ScriptedFix, 3)
	for i := range script {
		script[i] = gps.ScriptedFix{
			Offset: time.Duration(i) * 5 * time.Millisecond,
			Fix: gps.Fix{
				Latitude:       48.8566,
				Longitude:      2.3522 + float64(i)*0.0001,
				AccuracyMeters: 6,
				TimestampMs:    time.Now().UnixMilli() + int64(i)*1000,
			},
		}
	}
	rec, err := recorder.New(recorder.Options{
		Config: recorder.DefaultConfig(),
		Source: gps.NewReplaySource(script, gps.ReplayOptions{}),
		Store:  st,
	})
	if err != nil {
		t.Fatalf("recorder.New failed: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close(context.Background()) })

	srv := NewServer(rec, st, 0, nil)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, store: st, rec: rec}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func waitForPoints(t *testing.T, rec *recorder.Recorder, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := rec.Snapshot(); snap.Trip != nil && len(snap.Trip.Points) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d points", n)
}

func TestTripEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, tr := range []trip.Trip{storedTrip("a", 1_000_000), storedTrip("b", 2_000_000)} {
		if err := f.store.Add(ctx, tr); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	rr := f.do(t, http.MethodGet, "/api/trips", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var list []tripSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("Invalid list JSON: %v", err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("Unexpected list: %+v", list)
	}

	rr = f.do(t, http.MethodGet, "/api/trips/a", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var got trip.Trip
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil || len(got.Points) != 3 {
		t.Errorf("Unexpected trip body: %v %+v", err, got)
	}

	rr = f.do(t, http.MethodGet, "/api/trips/a/gpx", nil, "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/gpx+xml" {
		t.Fatalf("Unexpected GPX response: %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if n := strings.Count(rr.Body.String(), "<trkpt "); n != 3 {
		t.Errorf("Expected 3 trkpt elements, got %d", n)
	}

	rr = f.do(t, http.MethodGet, "/api/trips/a/geojson", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil || fc.Type != "FeatureCollection" || len(fc.Features) != 4 {
		t.Errorf("Unexpected GeoJSON: %v %s %d", err, fc.Type, len(fc.Features))
	}

	rr = f.do(t, http.MethodGet, "/api/stats", nil, "")
	var st store.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil || st.TripCount != 2 || st.TotalPoints != 6 {
		t.Errorf("Unexpected stats: %v %+v", err, st)
	}

	if rr = f.do(t, http.MethodDelete, "/api/trips/a", nil, ""); rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", rr.Code)
	}
	rr = f.do(t, http.MethodGet, "/api/trips/a", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Code != "NOT_FOUND" {
		t.Errorf("Unexpected error body: %v %+v", err, body)
	}

	if rr = f.do(t, http.MethodDelete, "/api/trips", nil, ""); rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on clear, got %d", rr.Code)
	}
	rr = f.do(t, http.MethodGet, "/api/trips", nil, "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %s", rr.Body.String())
	}
}

func TestRecordingEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/api/recording/stop", nil, "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("Stop while idle should be 204, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/api/recording/start", []byte(`{"driveType":"commute"}`), "application/json")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/api/recording/start", nil, "")
	if rr.Code != http.StatusConflict {
		t.Errorf("Second start should be 409, got %d", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Code != "ILLEGAL_STATE" {
		t.Errorf("Unexpected error body: %v %+v", err, body)
	}

	waitForPoints(t, f.rec, 3)

	rr = f.do(t, http.MethodGet, "/api/recording", nil, "")
	var snap struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil || snap.State != "RECORDING" {
		t.Errorf("Unexpected snapshot: %v %+v", err, snap)
	}

	rr = f.do(t, http.MethodPost, "/api/recording/stop", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var stopped struct {
		Trip      tripSummary `json:"trip"`
		Persisted bool        `json:"persisted"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &stopped); err != nil {
		t.Fatalf("Invalid stop body: %v", err)
	}
	if !stopped.Persisted || stopped.Trip.Stats.PointCount != 3 || stopped.Trip.DriveType != "commute" {
		t.Errorf("Unexpected stop result: %+v", stopped)
	}

	if _, err := f.store.Get(context.Background(), stopped.Trip.ID); err != nil {
		t.Errorf("Stopped trip should be stored: %v", err)
	}
}

func TestImportTrip(t *testing.T) {
	f := newFixture(t)

	gpx, err := export.ToGPX(storedTrip("imported", 5_000_000))
	if err != nil {
		t.Fatalf("ToGPX failed: %v", err)
	}
	rr := f.do(t, http.MethodPost, "/api/trips/import", []byte(gpx), "application/gpx+xml")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, http.MethodPost, "/api/trips/import", []byte(gpx), "application/gpx+xml")
	if rr.Code != http.StatusConflict {
		t.Errorf("Duplicate import should be 409, got %d", rr.Code)
	}

	doc, err := export.MarshalGeoJSON(storedTrip("from-geojson", 6_000_000))
	if err != nil {
		t.Fatalf("MarshalGeoJSON failed: %v", err)
	}
	rr = f.do(t, http.MethodPost, "/api/trips/import", doc, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for sniffed GeoJSON, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodPost, "/api/trips/import", []byte("<gpx><trk>"), "application/gpx+xml")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Malformed document should be 400, got %d", rr.Code)
	}

	trips, err := f.store.List(context.Background())
	if err != nil || len(trips) != 2 {
		t.Errorf("Expected 2 stored trips, got %d (%v)", len(trips), err)
	}
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var hello message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("Read hello failed: %v", err)
	}
	if hello.Type != "snapshot" {
		t.Errorf("Expected snapshot first, got %s", hello.Type)
	}

	if err := f.rec.Start(context.Background(), recorder.StartOptions{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	seen := map[string]int{}
	for seen[string(recorder.PointAdmitted)] < 3 {
		var msg struct {
			Type string    `json:"type"`
			Data eventView `json:"data"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Read event failed: %v (seen %v)", err, seen)
		}
		seen[msg.Type]++
		if msg.Type == string(recorder.PointAdmitted) && msg.Data.Point == nil {
			t.Error("Admitted events should carry the new point")
		}
	}
	if seen[string(recorder.StateChanged)] < 2 {
		t.Errorf("Expected STARTING and RECORDING transitions, got %v", seen)
	}
}
