// Command gateway-forwarder drains the primary store's outbox table and
// projects events into the secondary (read-side) store (spec.md §4.7). It
// generalizes the teacher's cmd/dex-overlord main.go: a single long-lived
// background process, no HTTP surface beyond health, run via oklog/run.Group
// so SIGINT/SIGTERM cancel the forwarder and stop the process. Rows of a
// batch still being shipped at that moment stay pending and are claimed
// again once their 30-second in-flight mark lapses.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/lanonasis/auth-gateway/internal/config"
	"github.com/lanonasis/auth-gateway/internal/log"
	"github.com/lanonasis/auth-gateway/internal/outbox"
)

func main() {
	cmd := &cobra.Command{
		Use:   "gateway-forwarder [config file]",
		Short: "drain the outbox into the read-side store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run_(cfg)
		},
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run_(cfg config.Config) error {
	logger, err := log.NewLogrusLogger(cfg.Logger.Level, cfg.Logger.Format, os.Stderr)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	primary, err := pgxpool.New(ctx, cfg.Storage.PrimaryDSN)
	if err != nil {
		return fmt.Errorf("connect primary: %w", err)
	}
	defer primary.Close()

	secondary, err := pgxpool.New(ctx, cfg.Storage.SecondaryDSN)
	if err != nil {
		return fmt.Errorf("connect secondary: %w", err)
	}
	defer secondary.Close()

	migrateTx, err := secondary.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin secondary migration: %w", err)
	}
	if err := outbox.Migrate(ctx, migrateTx); err != nil {
		_ = migrateTx.Rollback(ctx)
		return fmt.Errorf("migrate secondary: %w", err)
	}
	if err := migrateTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit secondary migration: %w", err)
	}

	forwarder := outbox.NewForwarder(primary, secondary, outbox.NewSQLProjector(), logger, 500*time.Millisecond)

	healthChecker := gosundheit.New()
	healthChecker.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "outbox_backlog",
			CheckFunc: func(ctx context.Context) (interface{}, error) {
				var depth int64
				if err := primary.QueryRow(ctx, `select count(*) from outbox where status = 'pending'`).Scan(&depth); err != nil {
					return nil, fmt.Errorf("outbox depth: %w", err)
				}
				const maxDepth = 10000
				if depth > maxDepth {
					return map[string]int64{"depth": depth}, fmt.Errorf("outbox backlog %d exceeds %d", depth, maxDepth)
				}
				return map[string]int64{"depth": depth}, nil
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	var gr run.Group
	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	forwardCtx, forwardCancel := context.WithCancel(context.Background())
	gr.Add(func() error {
		return forwarder.Run(forwardCtx)
	}, func(error) { forwardCancel() })

	if cfg.Telemetry.HTTP != "" {
		if err := addTelemetryActor(&gr, cfg.Telemetry.HTTP, healthChecker, logger); err != nil {
			return err
		}
	}

	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); ok {
			logger.Infof("%v, shutting down", err)
			return nil
		}
		return fmt.Errorf("run groups: %w", err)
	}
	return nil
}

// addTelemetryActor mounts a /healthz JSON endpoint for h, mirroring
// cmd/gatewayd's telemetry listener.
func addTelemetryActor(gr *run.Group, addr string, h gosundheit.Health, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/healthz", gosundheithttp.HandleHealthJSON(h))
	srv := &http.Server{Addr: addr, Handler: mux}

	gr.Add(func() error {
		logger.Infof("listening (telemetry) on %s", addr)
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return nil
}
