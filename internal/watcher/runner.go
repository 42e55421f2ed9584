package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
)

// Runner invokes Check on a fixed interval in the background and publishes
// each generation bump.
type Runner struct {
	watcher  *Watcher
	state    *State
	notifier *Notifier
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner creates a runner owning st.
func NewRunner(w *Watcher, st *State, notifier *Notifier, interval time.Duration) *Runner {
	return &Runner{
		watcher:  w,
		state:    st,
		notifier: notifier,
		interval: interval,
		clock:    w.clock,
	}
}

// State returns the runner's watcher state.
func (r *Runner) State() *State {
	return r.state
}

// Start begins the check loop. It runs until the context is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("watcher: runner is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Stop halts the loop and closes the listener connection.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.cancel()
	<-r.done
	r.running = false
	return r.state.Close(context.Background())
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.interval):
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	obs := r.watcher.Check(ctx, r.state)
	if obs.Changed && r.notifier != nil {
		r.notifier.Publish(Change{
			Generation: obs.Generation,
			Sources:    obs.Sources,
			MaxDate:    obs.MaxDate,
			Timestamp:  r.clock.Now().UnixNano(),
		})
	}
}
