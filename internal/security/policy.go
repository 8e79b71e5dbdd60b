package security

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"shellmate/internal/config"
	"shellmate/internal/domain"
)

// Audit actions.
const (
	ActionConsentYes      = "consent_yes"
	ActionConsentNo       = "consent_no"
	ActionPasswordGiven   = "sudo_provided"
	ActionPasswordRefused = "sudo_refused"
	ActionBlocked         = "command_blocked"
	ActionSudoCleared     = "sudo_invalidated"
)

// Auditor writes audit entries when auditing is enabled. A nil Auditor
// records nothing.
type Auditor struct {
	store   domain.AuditLogger
	enabled bool
	logger  *slog.Logger
}

func NewAuditor(store domain.AuditLogger, enabled bool, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{store: store, enabled: enabled, logger: logger}
}

func (a *Auditor) Record(ctx context.Context, action, subject, result, details string) {
	if a == nil || !a.enabled || a.store == nil {
		return
	}
	err := a.store.LogAudit(ctx, domain.AuditEntry{
		Action:    action,
		Subject:   subject,
		Result:    result,
		Details:   details,
		CreatedAt: time.Now(),
	})
	if err != nil {
		a.logger.Warn("audit write failed", "action", action, "err", err)
	}
}

// Policy refuses commands matching the configured blacklist before any
// consent is requested.
type Policy struct {
	blacklistRe []*regexp.Regexp
	audit       *Auditor
	logger      *slog.Logger
}

func NewPolicy(cfg config.SecurityConfig, audit *Auditor, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	re, err := compilePatterns(cfg.Blacklist)
	if err != nil {
		return nil, fmt.Errorf("invalid blacklist pattern: %w", err)
	}
	return &Policy{blacklistRe: re, audit: audit, logger: logger}, nil
}

// Check returns the matching blacklist pattern, or "" if command may be
// offered to the user.
func (p *Policy) Check(ctx context.Context, command string) string {
	cmd := strings.TrimSpace(command)
	for _, re := range p.blacklistRe {
		if re.MatchString(cmd) {
			p.logger.Warn("command BLOCKED by blacklist", "command", cmd, "pattern", re.String())
			p.audit.Record(ctx, ActionBlocked, cmd, "blocked", "blacklist match: "+re.String())
			return re.String()
		}
	}
	return ""
}

// Simple strings are converted to case-insensitive substring patterns.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		var re *regexp.Regexp
		var err error
		if isRegex(p) {
			re, err = regexp.Compile(p)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func isRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '{', '}', '|', '^', '$', '.', '*', '+', '?', '\\':
			return true
		}
	}
	return false
}
