package web

import (
	"encoding/json"
	"log/slog"
	"sync"

	"go-trip-recorder/recorder"
	"go-trip-recorder/trip"
)

// client is one websocket connection's outbound queue.
type client struct {
	send chan []byte
}

// hub fans recorder events out to websocket clients. Slow clients miss
// messages instead of stalling the recorder.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

type message struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
}

func newHub(logger *slog.Logger) *hub {
	return &hub{clients: make(map[*client]struct{}), logger: logger}
}

func (h *hub) register() *client {
	c := &client{send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// eventView is the wire form of a recorder event. It carries the newest
// point instead of the whole track.
type eventView struct {
	State       recorder.State   `json:"state"`
	TripID      string           `json:"tripId,omitempty"`
	StartedAtMs int64            `json:"startedAtMs,omitempty"`
	EndedAtMs   *int64           `json:"endedAtMs,omitempty"`
	Point       *trip.Point      `json:"point,omitempty"`
	Stats       trip.Stats       `json:"stats"`
	Quality     recorder.Quality `json:"quality"`
}

func viewOf(e recorder.Event) eventView {
	v := eventView{State: e.State, Stats: e.Stats, Quality: e.Quality}
	if e.Trip != nil {
		v.TripID = e.Trip.ID
		v.StartedAtMs = e.Trip.StartedAtMs
		v.EndedAtMs = e.Trip.EndedAtMs
		if n := len(e.Trip.Points); n > 0 {
			p := e.Trip.Points[n-1]
			v.Point = &p
		}
	}
	return v
}

// OnEvent implements recorder.Observer.
func (h *hub) OnEvent(e recorder.Event) {
	msg := message{Type: string(e.Kind), Data: viewOf(e)}
	if e.Err != nil {
		msg.Error = e.Err.Error()
		msg.Code = errorKind(e.Err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("encode recorder event", "error", err)
		return
	}
	h.broadcast(payload)
}
