// Package recorder drives a trip from a geo source through the quality gate
// and smoother into a trip record, notifies observers and persists the
// finalized trip.
//
// A recorder moves IDLE -> STARTING -> RECORDING -> STOPPING -> IDLE. While
// recording, one goroutine owns the trip record; source callbacks are handed
// to it over a channel so fixes are admitted strictly in delivery order.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-trip-recorder/gps"
	"go-trip-recorder/store"
	"go-trip-recorder/trip"
)

// Options configures a Recorder.
type Options struct {
	Config Config
	Source gps.Source
	// Store receives finalized trips. Nil keeps trips in memory only.
	Store  store.Store
	Logger *slog.Logger
	Now    func() time.Time // defaults to time.Now
	NewID  func() string    // defaults to a random UUID
}

// StartOptions carries per-trip metadata.
type StartOptions struct {
	DriveType     string
	VideoFilename string
}

// Recorder is the trip recording state machine.
type Recorder struct {
	cfg    Config
	source gps.Source
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.Mutex
	state     State
	sess      *session
	closed    bool
	last      *trip.Trip
	observers []observerEntry
	nextObsID int

	// notifyMu serializes observer callbacks across goroutines.
	notifyMu sync.Mutex
}

type observerEntry struct {
	id  int
	obs Observer
}

// New creates an idle recorder.
func New(opts Options) (*Recorder, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		cfg:    opts.Config,
		source: opts.Source,
		store:  opts.Store,
		logger: opts.Logger.With("component", "recorder"),
		now:    opts.Now,
		newID:  opts.NewID,
	}, nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Subscribe registers an observer and returns a function that removes it.
func (r *Recorder) Subscribe(obs Observer) func() {
	r.mu.Lock()
	id := r.nextObsID
	r.nextObsID++
	r.observers = append(r.observers, observerEntry{id: id, obs: obs})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, e := range r.observers {
				if e.id == id {
					r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Snapshot returns the state, the trip in progress and its statistics as of
// the latest event. When idle, Trip is the last finalized trip, if any.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{State: r.state}
	switch {
	case r.sess != nil && r.sess.published != nil:
		t := *r.sess.published
		snap.Trip = &t
		snap.Stats = t.Stats
		snap.Quality = r.sess.quality
	case r.last != nil:
		t := *r.last
		snap.Trip = &t
		snap.Stats = t.Stats
	}
	return snap
}

// Start subscribes to the source and begins a new trip. It fails with a
// *StateError unless the recorder is idle, and with the source's error when
// the subscription cannot be made.
func (r *Recorder) Start(ctx context.Context, opts StartOptions) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != Idle {
		state := r.state
		r.mu.Unlock()
		return &StateError{Op: "start", State: state}
	}
	r.state = Starting
	r.mu.Unlock()
	r.logger.Info("recorder state", "from", Idle, "to", Starting)
	r.notify(Event{Kind: StateChanged, State: Starting})

	sess := newSession(r, trip.Begin(trip.Options{
		QualityHorizonMeters: r.cfg.QualityHorizonMeters,
		EarthRadiusMeters:    r.cfg.EarthRadiusMeters,
		DriveType:            opts.DriveType,
		VideoFilename:        opts.VideoFilename,
		Now:                  r.now,
		NewID:                r.newID,
	}))

	fail := func(err error) error {
		close(sess.detached)
		sess.release()
		r.mu.Lock()
		r.state = Idle
		r.mu.Unlock()
		r.logger.Warn("recorder start failed", "error", err, "code", gps.CodeOf(err))
		r.notify(Event{Kind: StateChanged, State: Idle, Err: err})
		return err
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	unsubscribe, err := r.source.Subscribe(sess.onFix, sess.onError)
	if err != nil {
		return fail(fmt.Errorf("subscribe geo source: %w", err))
	}
	sess.unsubscribe = unsubscribe

	r.mu.Lock()
	if r.closed || ctx.Err() != nil {
		r.mu.Unlock()
		if ctx.Err() != nil {
			return fail(ctx.Err())
		}
		return fail(ErrClosed)
	}
	r.state = Recording
	r.sess = sess
	first := sess.trip.Snapshot()
	sess.published = &first
	r.mu.Unlock()

	r.logger.Info("recorder state", "from", Starting, "to", Recording, "trip_id", first.ID)
	r.notify(Event{Kind: StateChanged, State: Recording, Trip: &first, Stats: first.Stats})

	go sess.run()
	return nil
}

// Stop ends the current trip, persists it and returns it. Stopping an idle
// recorder returns (nil, nil). When persistence fails the finalized trip is
// still returned together with a *store.Error.
func (r *Recorder) Stop(ctx context.Context) (*trip.Trip, error) {
	r.mu.Lock()
	switch r.state {
	case Idle:
		r.mu.Unlock()
		return nil, nil
	case Starting, Stopping:
		state := r.state
		r.mu.Unlock()
		return nil, &StateError{Op: "stop", State: state}
	}
	r.state = Stopping
	sess := r.sess
	r.mu.Unlock()

	r.logger.Info("recorder state", "from", Recording, "to", Stopping, "trip_id", sess.trip.ID())
	r.publish(func() Event { return r.sessionEvent(sess, StateChanged, nil) })

	close(sess.detached)
	sess.release()
	<-sess.done

	final, err := sess.trip.End()
	if err != nil {
		r.mu.Lock()
		r.state = Idle
		r.sess = nil
		r.mu.Unlock()
		return nil, fmt.Errorf("finalize trip: %w", err)
	}

	persistErr := r.persist(ctx, final)

	r.mu.Lock()
	r.state = Idle
	r.sess = nil
	r.last = &final
	quality := sess.quality
	r.mu.Unlock()

	r.logger.Info("recorder state",
		"from", Stopping,
		"to", Idle,
		"trip_id", final.ID,
		"points", len(final.Points),
		"distance_m", final.Stats.DistanceMeters,
		"rejected", quality.Rejected(),
	)
	t := final.Clone()
	r.notify(Event{Kind: StateChanged, State: Idle, Trip: &t, Stats: final.Stats, Quality: quality, Err: persistErr})

	return &final, persistErr
}

func (r *Recorder) persist(ctx context.Context, final trip.Trip) error {
	if r.store == nil {
		return nil
	}
	err := r.store.Add(ctx, final)
	if err == nil {
		return nil
	}
	if _, ok := store.KindOf(err); !ok {
		err = &store.Error{Kind: store.WriteFailed, Err: err}
	}
	r.logger.Error("persist trip failed", "trip_id", final.ID, "error", err)
	return err
}

// Close stops any trip in progress and refuses further starts.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	_, err := r.Stop(ctx)
	return err
}

// sessionEvent builds an event from the latest published view of sess.
func (r *Recorder) sessionEvent(sess *session, kind EventKind, err error) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := Event{Kind: kind, State: r.state, Quality: sess.quality, Err: err}
	if sess.published != nil {
		t := *sess.published
		ev.Trip = &t
		ev.Stats = t.Stats
	}
	return ev
}

// notify delivers ev to every observer registered at the time of the call.
func (r *Recorder) notify(ev Event) {
	r.publish(func() Event { return ev })
}

// publish builds and delivers an event while holding the notification lock,
// so events reach observers in the order their content was taken.
func (r *Recorder) publish(build func() Event) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	ev := build()

	r.mu.Lock()
	observers := make([]Observer, len(r.observers))
	for i, e := range r.observers {
		observers[i] = e.obs
	}
	r.mu.Unlock()

	for _, obs := range observers {
		obs.OnEvent(ev)
	}
}
