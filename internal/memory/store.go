// Package memory persists conversations and the consent audit log in
// SQLite.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"shellmate/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConversationStore and domain.AuditLogger.
// Attachment bytes are not persisted, only their metadata.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Model, conv.CreatedAt, conv.CreatedAt,
	)
	return err
}

// AppendTurn adds a turn to the end of a conversation, creating the
// conversation row if it does not exist yet.
func (s *SQLiteStore) AppendTurn(ctx context.Context, convID string, turn domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)`,
		convID, turn.CreatedAt, turn.CreatedAt,
	); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		convID, string(turn.Role), turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return err
	}
	turnID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, a := range turn.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turn_attachments (turn_id, filename, mime_type, size) VALUES (?, ?, ?, ?)`,
			turnID, a.Filename, a.MimeType, len(a.Data),
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, turn.CreatedAt, convID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Turns returns the last limit turns of a conversation, oldest first.
func (s *SQLiteStore) Turns(ctx context.Context, convID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM turns
		 WHERE conversation_id = ?
		 ORDER BY id DESC LIMIT ?`, convID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	var ids []int64
	for rows.Next() {
		var (
			id      int64
			role    string
			content sql.NullString
			t       domain.Turn
		)
		if err := rows.Scan(&id, &role, &content, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		t.Content = content.String
		turns = append(turns, t)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
		ids[i], ids[j] = ids[j], ids[i]
	}
	for i, id := range ids {
		atts, err := s.attachments(ctx, id)
		if err != nil {
			return nil, err
		}
		turns[i].Attachments = atts
	}
	return turns, nil
}

func (s *SQLiteStore) attachments(ctx context.Context, turnID int64) ([]domain.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, mime_type FROM turn_attachments WHERE turn_id = ? ORDER BY id`, turnID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.Filename, &a.MimeType); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// ListConversations returns the most recently active conversations.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(title, ''), COALESCE(model, ''), created_at
		 FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &c.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, subject, result, details, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Action, entry.Subject, entry.Result, entry.Details, entry.CreatedAt,
	)
	return err
}

// RecentAudit returns the newest audit entries first.
func (s *SQLiteStore) RecentAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COALESCE(subject, ''), COALESCE(result, ''), COALESCE(details, ''), created_at
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.Action, &e.Subject, &e.Result, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
