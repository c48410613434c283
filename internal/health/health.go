// Package health wires go-sundheit checks for the gateway's dependencies
// (primary store, outbox depth), generalizing the teacher's cmd/dex/serve.go
// wiring (gosundheit.New, a storage.NewCustomHealthCheckFunc-style custom
// check, gosundheithttp.HandleHealthJSON mounted on the telemetry listener).
package health

import (
	"context"
	"fmt"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"
	"net/http"

	"github.com/lanonasis/auth-gateway/internal/store"
)

// New builds a go-sundheit Health and registers the gateway's standard
// checks: store round-trip and outbox backlog depth.
func New(st store.Store, outboxDepth func(ctx context.Context) (int64, error), maxOutboxDepth int64) gosundheit.Health {
	h := gosundheit.New()

	h.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "store",
			CheckFunc: storeCheck(st),
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})

	if outboxDepth != nil {
		h.RegisterCheck(&gosundheit.Config{
			Check: &checks.CustomCheck{
				CheckName: "outbox_backlog",
				CheckFunc: outboxBacklogCheck(outboxDepth, maxOutboxDepth),
			},
			ExecutionPeriod:  15 * time.Second,
			InitiallyPassing: true,
		})
	}

	return h
}

// storeCheck runs GarbageCollect against the store (deleting whatever has
// expired as of now): if that sweep succeeds, the primary database
// connection is healthy. Unlike a raw ping, it issues real queries against
// the credential tables.
func storeCheck(st store.Store) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		if _, err := st.GarbageCollect(ctx, time.Now()); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return nil, nil
	}
}

// outboxBacklogCheck fails once the outbox's pending-row count exceeds
// maxDepth, signaling the forwarder has fallen behind or stopped.
func outboxBacklogCheck(depth func(ctx context.Context) (int64, error), maxDepth int64) func(context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		n, err := depth(ctx)
		if err != nil {
			return nil, fmt.Errorf("outbox depth: %w", err)
		}
		if n > maxDepth {
			return map[string]int64{"depth": n}, fmt.Errorf("outbox backlog %d exceeds %d", n, maxDepth)
		}
		return map[string]int64{"depth": n}, nil
	}
}

// Handler mounts the JSON health endpoint plus Kubernetes-style liveness and
// readiness aliases, mirroring the teacher's telemetryRouter wiring.
func Handler(h gosundheit.Health) http.Handler {
	mux := http.NewServeMux()
	jsonHandler := gosundheithttp.HandleHealthJSON(h)
	mux.Handle("/healthz", jsonHandler)
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/healthz/ready", jsonHandler)
	return mux
}
