// Package grpc exposes the watcher's listener state through the standard
// gRPC health service.
package grpc

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var logger = loggo.GetLogger("viewbench.api.grpc")

// ServiceName is the health service reported for the watcher.
const ServiceName = "viewbench.watcher"

// ListenerState reports whether the notification listener is up.
// *watcher.State satisfies it.
type ListenerState interface {
	Connected() bool
}

// HealthReporter mirrors the listener state into a health server.
type HealthReporter struct {
	server   *health.Server
	state    ListenerState
	clock    clock.Clock
	interval time.Duration
	last     healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthReporter creates a reporter. The watcher service starts NOT_SERVING
// until the first Update.
func NewHealthReporter(state ListenerState, clk clock.Clock, interval time.Duration) *HealthReporter {
	if clk == nil {
		clk = clock.WallClock
	}
	if interval <= 0 {
		interval = time.Second
	}
	srv := health.NewServer()
	srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{
		server:   srv,
		state:    state,
		clock:    clk,
		interval: interval,
		last:     healthpb.HealthCheckResponse_NOT_SERVING,
	}
}

// Register attaches the health service to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Server returns the underlying health server.
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Update publishes the current listener state and returns it.
func (h *HealthReporter) Update() healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.state.Connected() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if status != h.last {
		logger.Infof("%s health: %s -> %s", ServiceName, h.last, status)
		h.last = status
	}
	h.server.SetServingStatus(ServiceName, status)
	return status
}

// Run updates the status every interval until ctx ends, then marks every
// service NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context) {
	for {
		h.Update()
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-h.clock.After(h.interval):
		}
	}
}
