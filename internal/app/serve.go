package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpcapi "github.com/conflictmonitor/viewbench/internal/api/grpc"
	httpapi "github.com/conflictmonitor/viewbench/internal/api/http"
	"github.com/conflictmonitor/viewbench/internal/pgstore"
	"github.com/conflictmonitor/viewbench/internal/server"
	"github.com/conflictmonitor/viewbench/internal/watcher"
)

const notifierBuffer = 16

// Serve runs the change feed watcher, the HTTP API and, when enabled, the
// gRPC health service until a signal arrives or ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	defaults, err := ParamsFromConfig(a.cfg.Benchmark)
	if err != nil {
		return err
	}

	connCfg, err := pgstore.ListenerConfig(a.cfg.Postgres)
	if err != nil {
		return err
	}
	w := watcher.New(watcher.Config{
		View:             a.cfg.Watcher.PollView,
		FallbackInterval: a.cfg.Watcher.FallbackInterval,
		ListenWindow:     a.cfg.Watcher.ListenWindow,
	}, watcher.PgxDialer(connCfg, a.cfg.Watcher.Channel), a.reader, a.clock)
	state := watcher.NewState()
	notifier := watcher.NewNotifier(notifierBuffer, state.Generation)
	watch := watcher.NewRunner(w, state, notifier, a.cfg.Watcher.CheckInterval)

	shutdown := server.NewShutdownManager(server.DefaultShutdownConfig(), a.clock)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := watch.Start(ctx); err != nil {
		return err
	}
	shutdown.RegisterCloser("watcher", server.CloserFunc(watch.Stop))
	logger.Infof("watching channel %q (fallback view %s)", a.cfg.Watcher.Channel, a.cfg.Watcher.PollView)

	var results httpapi.ResultStore
	if a.history != nil {
		results = a.history
	}
	api := httpapi.NewAPI(state, notifier, a.runner, results, defaults, a.cfg.HTTP.MaxWait).
		WithMaxRunTimeout(a.cfg.HTTP.WriteTimeout)
	httpServer := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      api.Routes(server.ShutdownMiddleware(shutdown)),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	shutdown.RegisterCloser("http", server.HTTPServerCloser(httpServer, 10*time.Second))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("http api listening on %s", a.cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			shutdown.Shutdown(context.Background(), "grpc listen failed")
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
		}
		grpcServer := grpc.NewServer()
		reporter := grpcapi.NewHealthReporter(state, a.clock, a.cfg.Watcher.CheckInterval)
		reporter.Register(grpcServer)
		shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
			grpcServer.GracefulStop()
			return nil
		}))

		g.Go(func() error {
			reporter.Run(gctx)
			return nil
		})
		g.Go(func() error {
			logger.Infof("grpc health listening on %s", a.cfg.GRPC.Addr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	// A server failure cancels gctx, which ends the signal wait below.
	g.Go(func() error {
		err := shutdown.ListenForSignals(gctx)
		cancel()
		return err
	})

	return g.Wait()
}
