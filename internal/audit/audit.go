// Package audit records who did what, when, from where, and whether it
// succeeded (spec.md §3 AuditRecord). It generalizes the teacher pack's
// per-action audit logger (one named method per action, structured fields,
// info on success / warn on failure) to the gateway's authentication and
// credential-management actions.
package audit

import (
	"context"
	"time"

	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/log"
)

// Record is one audit fact (spec.md §3 AuditRecord).
type Record struct {
	Actor     string // user_id, client_id, or "admin:<id>"
	Action    string // e.g. "token.issue", "apikey.revoke", "admin.login"
	Target    string // the resource acted on, if any
	IPAddress string
	UserAgent string
	Success   bool
	ErrorCode string
	At        time.Time
}

// Sink writes each Record to the structured log. It holds an Appender but
// does not append AuthEventLogged events itself, so Records are not stored
// in the event log or the outbox. A log write never blocks or fails the
// request it describes.
type Sink struct {
	appender eventlog.Appender
	logger   log.Logger
}

// NewSink builds a Sink. appender may be nil in deployments that only want
// structured log output (e.g. local development).
func NewSink(appender eventlog.Appender, logger log.Logger) *Sink {
	return &Sink{appender: appender, logger: logger}
}

// Record writes r to the structured log. This is the out-of-band copy:
// it never participates in a database transaction and so can never fail
// or roll back the action it describes. Callers whose action already opens
// a store transaction should additionally append an AuthEventLogged event
// via eventlog.Appender inside that same transaction (aggregate_type
// "audit") to get the durable, outbox-projected copy; Sink only needs an
// Appender reference so future call sites can grow that durable path
// without changing Sink's constructor signature.
func (s *Sink) Record(ctx context.Context, r Record) {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}

	entry := s.logger.WithField("audit", true).
		WithField("actor", r.Actor).
		WithField("action", r.Action).
		WithField("target", r.Target).
		WithField("ip", r.IPAddress).
		WithField("success", r.Success)

	if r.Success {
		entry.Info(r.Action)
	} else {
		entry.WithField("error_code", r.ErrorCode).Warn(r.Action)
	}
}
