package domain

import (
	"context"
	"time"
)

// AuditLogger records side-effect decisions.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}

type AuditEntry struct {
	Action    string // consent_request | consent_yes | consent_no | command_blocked | sudo_invalidated
	Subject   string // command or plan description
	Result    string // approved | declined | blocked | cleared
	Details   string
	CreatedAt time.Time
}
