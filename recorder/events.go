package recorder

import (
	"fmt"

	"go-trip-recorder/trip"
)

// State is the recorder lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Starting:
		return "STARTING"
	case Recording:
		return "RECORDING"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Idle, Starting, Recording, Stopping} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown recorder state %q", text)
}

// EventKind says what triggered a notification.
type EventKind string

const (
	StateChanged  EventKind = "state"
	PointAdmitted EventKind = "admitted"
	SourceFailed  EventKind = "source_error"
	GPSLost       EventKind = "gps_lost"
)

// Quality counts what happened to the fixes of the current trip.
type Quality struct {
	Admitted    int  `json:"admitted"`
	LowAccuracy int  `json:"rejectedLowAccuracy"`
	OutOfOrder  int  `json:"rejectedOutOfOrder"`
	Malformed   int  `json:"rejectedMalformed"`
	GPSLost     bool `json:"gpsLost"`
}

// Rejected returns the total number of rejected fixes.
func (q Quality) Rejected() int {
	return q.LowAccuracy + q.OutOfOrder + q.Malformed
}

func (q *Quality) count(reason trip.RejectReason) {
	switch reason {
	case trip.LowAccuracy:
		q.LowAccuracy++
	case trip.OutOfOrder:
		q.OutOfOrder++
	default:
		q.Malformed++
	}
}

// Event is delivered to observers after every admit and state transition.
// Trip is nil while no trip is in progress, except on the transition to
// IDLE at the end of a trip, where it holds the finalized trip.
type Event struct {
	Kind    EventKind  `json:"kind"`
	State   State      `json:"state"`
	Trip    *trip.Trip `json:"trip,omitempty"`
	Stats   trip.Stats `json:"stats"`
	Quality Quality    `json:"quality"`
	Err     error      `json:"-"`
}

// Observer receives recorder events. Calls are serialized and made in
// admission order; observers must not call Start or Stop synchronously.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

// Snapshot is a point-in-time view of the recorder.
type Snapshot struct {
	State   State      `json:"state"`
	Trip    *trip.Trip `json:"trip,omitempty"`
	Stats   trip.Stats `json:"stats"`
	Quality Quality    `json:"quality"`
}
