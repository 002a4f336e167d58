package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuthorizationAudit represents a record stored in authorization_audit: one
// permission or action decision, with enough context to reconstruct why it
// was taken.
type AuthorizationAudit struct {
	UserID      int
	RoleID      int
	RenderingID string
	Collection  string
	Kind        string
	Action      string
	Allowed     bool
	Reason      string
	Meta        map[string]any
	At          time.Time
}

// AuditLogger writes decisions into authorization_audit.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the audit entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuthorizationAudit) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Collection == "" || entry.Kind == "" {
		return errors.New("audit entry requires collection/kind")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO authorization_audit (user_id, role_id, rendering_id, collection, kind, action, allowed, reason, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`,
		entry.UserID, entry.RoleID, entry.RenderingID, entry.Collection, entry.Kind, entry.Action, entry.Allowed, entry.Reason, metaJSON, entry.At)
	return err
}
