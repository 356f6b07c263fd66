package gps

import (
	"context"
	"sync"
)

// guard enforces the one-subscriber-at-a-time rule shared by every source.
type guard struct {
	mu     sync.Mutex
	active bool
}

func (g *guard) acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return ErrAlreadySubscribed
	}
	g.active = true
	return nil
}

func (g *guard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
}

// subscription runs a producer goroutine and tears it down exactly once.
type subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	onStop func()
	g      *guard
}

// newSubscription ties a subscription to the guard it must release once the
// producers have exited. onStop, if set, runs right after cancellation and is
// used to unblock producers stuck in I/O.
func newSubscription(g *guard, onStop func()) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{ctx: ctx, cancel: cancel, onStop: onStop, g: g}
}

func (s *subscription) goRun(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// stop cancels the producers and waits for them. Safe to call repeatedly.
// It must not be called from inside a producer goroutine.
func (s *subscription) stop() {
	s.once.Do(func() {
		s.cancel()
		if s.onStop != nil {
			s.onStop()
		}
		s.wg.Wait()
		s.g.release()
	})
}
