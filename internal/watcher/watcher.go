// Package watcher decides whether the materialized views have advanced by
// combining LISTEN/NOTIFY with a low-frequency MAX(date) poll, and exposes
// the result as a monotonically increasing generation counter.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/juju/clock"
	"github.com/juju/loggo"

	"github.com/conflictmonitor/viewbench/internal/derivation"
	"github.com/conflictmonitor/viewbench/pkg/types"
)

var logger = loggo.GetLogger("viewbench.watcher")

// maxDrain caps how many notifications one check consumes.
const maxDrain = 10000

// Dialer opens a listener connection subscribed to the channel.
type Dialer func(ctx context.Context) (NotificationConn, error)

// MaxPoller reads the newest partition date of a view.
type MaxPoller interface {
	MaxViewDate(ctx context.Context, name derivation.Name) (types.PartitionDate, bool, error)
}

// Config holds watcher timing.
type Config struct {
	// View is the derivation whose view the fallback poll reads.
	View derivation.Name

	// FallbackInterval is the minimum spacing between polls.
	FallbackInterval time.Duration

	// ListenWindow bounds the wait for a pending notification.
	ListenWindow time.Duration
}

// Source says what detected a change.
type Source string

const (
	SourceNotify Source = "notify"
	SourcePoll   Source = "poll"
)

// Observation is the outcome of one Check.
type Observation struct {
	Changed    bool
	Generation uint64

	// Notifications is how many notifications were drained.
	Notifications int

	// Polled is set when the fallback poll ran; MaxDate is its result.
	Polled  bool
	MaxDate types.PartitionDate

	Sources []Source
}

// Watcher runs checks against a State.
type Watcher struct {
	cfg    Config
	dial   Dialer
	poller MaxPoller
	clock  clock.Clock
}

// New creates a watcher. A nil clock means wall time.
func New(cfg Config, dial Dialer, poller MaxPoller, clk clock.Clock) *Watcher {
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = 10 * time.Millisecond
	}
	return &Watcher{cfg: cfg, dial: dial, poller: poller, clock: clk}
}

// Check reports whether materialized state advanced since the previous
// call on st. It never fails: connection errors tear the listener down for
// a lazy reconnect on the next call and count as "no change". A call that
// sees a change bumps the generation exactly once.
func (w *Watcher) Check(ctx context.Context, st *State) Observation {
	var obs Observation

	if n := w.drain(ctx, st); n > 0 {
		obs.Notifications = n
		obs.Sources = append(obs.Sources, SourceNotify)
	}

	if changed, polled, max := w.poll(ctx, st); polled {
		obs.Polled, obs.MaxDate = true, max
		if changed {
			obs.Sources = append(obs.Sources, SourcePoll)
		}
	}

	obs.Changed = len(obs.Sources) > 0
	if obs.Changed {
		obs.Generation = st.bump()
		logger.Debugf("generation %d (sources=%v notifications=%d)", obs.Generation, obs.Sources, obs.Notifications)
	} else {
		obs.Generation = st.Generation()
	}
	return obs
}

// drain consumes every pending notification and returns how many arrived.
func (w *Watcher) drain(ctx context.Context, st *State) int {
	if st.conn == nil {
		conn, err := w.dial(ctx)
		if err != nil {
			logger.Warningf("listener connect failed: %v", err)
			return 0
		}
		st.setConn(conn)
		logger.Infof("listener connected")
	}

	var n int
	for n < maxDrain {
		listenCtx, cancel := context.WithTimeout(ctx, w.cfg.ListenWindow)
		_, err := st.conn.WaitForNotification(listenCtx)
		cancel()
		if err == nil {
			n++
			continue
		}
		if ctx.Err() == nil && !isListenTimeout(err) {
			logger.Warningf("listener failed, reconnecting on next check: %v", err)
			_ = st.Close(context.Background())
		}
		return n
	}
	return n
}

func isListenTimeout(err error) bool {
	return pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded)
}

// poll runs the fallback MAX(date) query when the interval has elapsed.
// The first successful poll only establishes the baseline.
func (w *Watcher) poll(ctx context.Context, st *State) (changed, polled bool, max types.PartitionDate) {
	now := w.clock.Now()
	if !st.lastPoll.IsZero() && now.Sub(st.lastPoll) < w.cfg.FallbackInterval {
		return false, false, 0
	}
	st.lastPoll = now

	max, _, err := w.poller.MaxViewDate(ctx, w.cfg.View)
	if err != nil {
		logger.Warningf("fallback poll failed: %v", err)
		return false, false, 0
	}
	changed = st.haveMax && max != st.lastMax
	st.lastMax, st.haveMax = max, true
	return changed, true, max
}

// PgxDialer connects with connCfg and subscribes to channel.
func PgxDialer(connCfg *pgx.ConnConfig, channel string) Dialer {
	return func(ctx context.Context) (NotificationConn, error) {
		conn, err := pgx.ConnectConfig(ctx, connCfg)
		if err != nil {
			return nil, fmt.Errorf("connect listener: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		return conn, nil
	}
}
