// Package audit appends structured trail entries for every ingestion and
// override. Writes are best-effort: a failed audit write is logged and
// swallowed, never blocking or rolling back the attendance commit.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// Recorder writes audit events to the append-only audit_logs table.
type Recorder struct {
	db      *sql.DB
	timeout time.Duration
}

// NewRecorder creates a recorder. timeout bounds each write independently of
// the caller's context so a cancelled request cannot starve the trail.
func NewRecorder(db *sql.DB, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Recorder{db: db, timeout: timeout}
}

// Record appends one audit entry. Fire-and-forget: errors are logged, not
// returned.
func (r *Recorder) Record(ctx context.Context, ev model.AuditEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		log.Printf("audit: marshal detail failed: %v", err)
		detail = []byte("{}")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (actor, action, severity, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5)
	`, ev.Actor, ev.Action, ev.Severity, detail, ev.At)
	if err != nil {
		log.Printf("audit: write failed for %s by %s: %v", ev.Action, ev.Actor, err)
	}
}
