package grpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeListener struct{ up atomic.Bool }

func (f *fakeListener) Connected() bool { return f.up.Load() }

func check(t *testing.T, h *HealthReporter) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthReporter_FollowsListener(t *testing.T) {
	l := &fakeListener{}
	h := NewHealthReporter(l, nil, time.Second)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h))

	l.up.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, h.Update())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h))

	l.up.Store(false)
	h.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h))
}

func TestHealthReporter_RunStopsOnCancel(t *testing.T) {
	l := &fakeListener{}
	l.up.Store(true)
	clk := testclock.NewClock(time.Now())
	h := NewHealthReporter(l, clk, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	select {
	case <-clk.Alarms():
	case <-time.After(5 * time.Second):
		t.Fatal("reporter never waited on the clock")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h))

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not stop")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h))
}
