package store

import (
	"context"
	"time"
)

// GCLogger is the minimal logging surface GarbageCollectLoop needs, kept
// separate from internal/log.Logger so this package never imports it.
type GCLogger interface {
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// GarbageCollectLoop runs Store.GarbageCollect every interval until ctx is
// cancelled, generalizing the teacher's server/rotation.go startKeyRotation
// shape (rotate once immediately, then ticker+select) to this gateway's
// expired-code/expired-device-authorization sweep (spec.md §4.2). It
// satisfies oklog/run.Group's blocking-actor signature.
func GarbageCollectLoop(ctx context.Context, st Store, interval time.Duration, logger GCLogger) error {
	if interval <= 0 {
		interval = time.Minute
	}

	sweep := func() {
		result, err := st.GarbageCollect(ctx, time.Now())
		if err != nil {
			logger.Errorf("garbage collect: %v", err)
			return
		}
		logger.Debugf("garbage collect: removed %+v", result)
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweep()
		}
	}
}
