package watcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/conflictmonitor/viewbench/pkg/types"
)

// NotificationConn is a dedicated connection that already ran LISTEN.
// *pgx.Conn satisfies it.
type NotificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// State is the caller-owned context of one watcher: the generation counter,
// the fallback poll bookkeeping, and the cached listener connection.
// Generation may be read from any goroutine; Check must not run
// concurrently on the same State.
type State struct {
	generation atomic.Uint64
	connected  atomic.Bool

	conn     NotificationConn
	lastPoll time.Time
	lastMax  types.PartitionDate
	haveMax  bool
}

// NewState returns a state at generation zero with no listener.
func NewState() *State {
	return &State{}
}

// Generation returns the number of observed advances. It never decreases.
func (s *State) Generation() uint64 {
	return s.generation.Load()
}

// Connected reports whether the listener connection is currently open.
func (s *State) Connected() bool {
	return s.connected.Load()
}

// LastMax returns the most recently polled view maximum.
func (s *State) LastMax() (types.PartitionDate, bool) {
	return s.lastMax, s.haveMax
}

func (s *State) bump() uint64 {
	return s.generation.Add(1)
}

func (s *State) setConn(conn NotificationConn) {
	s.conn = conn
	s.connected.Store(conn != nil)
}

// Close tears down the listener connection, if any.
func (s *State) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(ctx)
	s.setConn(nil)
	return err
}
