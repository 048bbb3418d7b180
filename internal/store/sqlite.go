package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ticketbridge/internal/domain"
)

// SQLiteStore implements domain.TicketRepository and domain.TemplateRepository
// on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id             TEXT PRIMARY KEY,
		channel        TEXT NOT NULL DEFAULT '',
		sender         TEXT NOT NULL,
		kind           TEXT NOT NULL DEFAULT 'text',
		message        TEXT NOT NULL DEFAULT '',
		media_mimetype TEXT,
		media_ref      TEXT,
		status         TEXT NOT NULL DEFAULT 'open',
		created_at     DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets(created_at);

	CREATE TABLE IF NOT EXISTS templates (
		id          TEXT PRIMARY KEY,
		ticket_id   TEXT NOT NULL REFERENCES tickets(id),
		summary     TEXT NOT NULL,
		description TEXT NOT NULL,
		priority    TEXT,
		issue_type  TEXT NOT NULL,
		jira_key    TEXT,
		status      INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_templates_ticket ON templates(ticket_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_templates_status ON templates(status, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Tickets ---

func (s *SQLiteStore) CreateTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	if t.From == "" {
		return domain.Ticket{}, &domain.ValidationError{Field: "from"}
	}
	// Media is all-or-nothing: a half-populated reference is a bug upstream.
	if t.Media != nil && (t.Media.MimeType == "" || t.Media.StorageRef == "") {
		return domain.Ticket{}, &domain.ValidationError{Field: "media"}
	}

	t.ID = uuid.NewString()
	if t.Kind == "" {
		t.Kind = domain.KindText
	}
	if t.Status == "" {
		t.Status = domain.TicketOpen
	}
	t.CreatedAt = time.Now().UTC()

	var mimeType, ref sql.NullString
	if t.Media != nil {
		mimeType = sql.NullString{String: t.Media.MimeType, Valid: true}
		ref = sql.NullString{String: t.Media.StorageRef, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, channel, sender, kind, message, media_mimetype, media_ref, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Channel, t.From, string(t.Kind), t.Text, mimeType, ref, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel, sender, kind, message, media_mimetype, media_ref, status, created_at
		 FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, sender, kind, message, media_mimetype, media_ref, status, created_at
		 FROM tickets ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var t domain.Ticket
	var kind, status string
	var mimeType, ref sql.NullString
	if err := row.Scan(&t.ID, &t.Channel, &t.From, &kind, &t.Text, &mimeType, &ref, &status, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Kind = domain.MessageKind(kind)
	t.Status = domain.TicketStatus(status)
	if mimeType.Valid && ref.Valid {
		t.Media = &domain.Media{MimeType: mimeType.String, StorageRef: ref.String}
	}
	return &t, nil
}

// --- Templates ---

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t domain.Template) (domain.Template, error) {
	switch {
	case t.TicketID == "":
		return domain.Template{}, &domain.ValidationError{Field: "ticketId"}
	case t.Summary == "":
		return domain.Template{}, &domain.ValidationError{Field: "summary"}
	case t.Description == "":
		return domain.Template{}, &domain.ValidationError{Field: "description"}
	case t.IssueType == "":
		return domain.Template{}, &domain.ValidationError{Field: "issueType"}
	}

	t.ID = uuid.NewString()
	t.Status = domain.StatusDraft // forced regardless of input
	t.JiraKey = ""
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, ticket_id, summary, description, priority, issue_type, jira_key, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, 0, ?)`,
		t.ID, t.TicketID, t.Summary, t.Description, nullable(t.Priority), t.IssueType, t.CreatedAt,
	)
	if err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ticket_id, summary, description, priority, issue_type, jira_key, status, created_at
		 FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) FindByTicket(ctx context.Context, ticketID string) (*domain.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ticket_id, summary, description, priority, issue_type, jira_key, status, created_at
		 FROM templates WHERE ticket_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, ticketID)
	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context) (drafts, pushed []domain.Template, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticket_id, summary, description, priority, issue_type, jira_key, status, created_at
		 FROM templates ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, nil, err
		}
		if t.Status == domain.StatusPushed {
			pushed = append(pushed, *t)
		} else {
			drafts = append(drafts, *t)
		}
	}
	return drafts, pushed, rows.Err()
}

// MarkPushed is a single conditional update so that two concurrent pushes on
// the same template yield exactly one success and one conflict.
func (s *SQLiteStore) MarkPushed(ctx context.Context, id, trackerKey string) (*domain.Template, error) {
	if trackerKey == "" {
		return nil, &domain.ValidationError{Field: "trackerKey"}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET status = 1, jira_key = ? WHERE id = ? AND status = 0`,
		trackerKey, id,
	)
	if err != nil {
		return nil, fmt.Errorf("mark pushed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		existing, err := s.GetTemplate(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &domain.ConflictError{TrackerKey: existing.JiraKey}
	}

	return s.GetTemplate(ctx, id)
}

func (s *SQLiteStore) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var t domain.Template
	var priority, jiraKey sql.NullString
	var status int
	if err := row.Scan(&t.ID, &t.TicketID, &t.Summary, &t.Description, &priority, &t.IssueType, &jiraKey, &status, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Priority = priority.String
	t.JiraKey = jiraKey.String
	t.Status = domain.TemplateStatus(status)
	return &t, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
