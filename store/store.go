// Package store persists finalized trips.
//
// Every backing stores one JSON record per trip keyed by trip id. Records
// that fail to decode or validate are dropped on read and logged; trips that
// fail validation are refused on write.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"go-trip-recorder/trip"
)

// Store is the persistence contract shared by all backings.
type Store interface {
	// Add inserts a new trip. Ids are unique across the store.
	Add(ctx context.Context, t trip.Trip) error
	// Get returns the trip with the given id.
	Get(ctx context.Context, id string) (trip.Trip, error)
	// Update replaces the stored record for id.
	Update(ctx context.Context, id string, t trip.Trip) error
	// Delete removes a trip.
	Delete(ctx context.Context, id string) error
	// Clear removes every trip.
	Clear(ctx context.Context) error
	// List returns all readable trips, most recently started first.
	List(ctx context.Context) ([]trip.Trip, error)
	// Stats summarizes the stored records.
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Stats summarizes a store.
type Stats struct {
	TripCount   int   `json:"tripCount"`
	TotalPoints int   `json:"totalPoints"`
	Bytes       int64 `json:"bytes"`
}

// codec encodes and validates records for a backing.
type codec struct {
	radius float64
	logger *slog.Logger
}

func newCodec(radius float64, logger *slog.Logger) codec {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return codec{radius: radius, logger: logger}
}

// encode validates t and returns its record.
func (c codec) encode(t trip.Trip) ([]byte, error) {
	if err := t.Validate(c.radius); err != nil {
		return nil, writeFailed(fmt.Errorf("invalid trip %q: %w", t.ID, err))
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, writeFailed(fmt.Errorf("encode trip %q: %w", t.ID, err))
	}
	return data, nil
}

// decode returns the trip in data, or false when the record is unusable.
// Stored statistics are kept as written, so records stay readable when the
// configured Earth radius changes.
func (c codec) decode(key string, data []byte) (trip.Trip, bool) {
	var t trip.Trip
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("dropping malformed trip record", "key", key, "error", err)
		return trip.Trip{}, false
	}
	if t.Points == nil {
		t.Points = []trip.Point{}
	}
	if err := t.CheckRecord(); err != nil {
		c.logger.Warn("dropping invalid trip record", "key", key, "error", err)
		return trip.Trip{}, false
	}
	return t, true
}

// sortTrips orders trips by start time, newest first, with id as tiebreak.
func sortTrips(trips []trip.Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		if trips[i].StartedAtMs != trips[j].StartedAtMs {
			return trips[i].StartedAtMs > trips[j].StartedAtMs
		}
		return trips[i].ID < trips[j].ID
	})
}

func checkID(id string) error {
	if id == "" {
		return writeFailed(fmt.Errorf("empty trip id"))
	}
	return nil
}
