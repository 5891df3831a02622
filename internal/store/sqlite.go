package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/gmail-archiver/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Connection-scoped pragmas only apply to the connection that ran
	// them; a single pooled connection keeps foreign_keys in force for
	// every query and matches SQLite's one-writer model.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// UpsertMessage inserts or replaces the message row keyed by gmail_id and
// returns the internal row id. created_at is untouched on replacement so
// export order keeps reflecting first ingestion.
func (s *SQLiteStore) UpsertMessage(ctx context.Context, msg model.Message) (int64, error) {
	headersJSON, err := json.Marshal(msg.Headers)
	if err != nil {
		return 0, fmt.Errorf("marshaling headers for %s: %w", msg.GmailID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO emails (
			gmail_id, thread_id, message_id, subject, from_addr,
			to_addrs, cc_addrs, bcc_addrs, date, snippet,
			text_body, html_body, headers_json, raw_eml_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(gmail_id) DO UPDATE SET
			thread_id=excluded.thread_id,
			message_id=excluded.message_id,
			subject=excluded.subject,
			from_addr=excluded.from_addr,
			to_addrs=excluded.to_addrs,
			cc_addrs=excluded.cc_addrs,
			bcc_addrs=excluded.bcc_addrs,
			date=excluded.date,
			snippet=excluded.snippet,
			text_body=excluded.text_body,
			html_body=excluded.html_body,
			headers_json=excluded.headers_json,
			raw_eml_path=excluded.raw_eml_path`

	_, err = tx.ExecContext(ctx, query,
		msg.GmailID, msg.ThreadID, msg.MessageID, msg.Subject, msg.From,
		msg.To, msg.Cc, msg.Bcc, NormalizeDate(msg.Date), msg.Snippet,
		msg.TextBody, msg.HTMLBody, string(headersJSON), msg.RawPath,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting message %s: %w", msg.GmailID, err)
	}

	var id int64
	if err := tx.GetContext(ctx, &id, "SELECT id FROM emails WHERE gmail_id = ?", msg.GmailID); err != nil {
		return 0, fmt.Errorf("reading id for message %s: %w", msg.GmailID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing message %s: %w", msg.GmailID, err)
	}

	return id, nil
}

// ReplaceAttachments deletes every attachment row belonging to messageID
// and inserts the new set, all in one transaction.
func (s *SQLiteStore) ReplaceAttachments(
	ctx context.Context,
	messageID int64,
	attachments []model.Attachment,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE email_id = ?", messageID); err != nil {
		return fmt.Errorf("deleting attachments for message %d: %w", messageID, err)
	}

	const query = `
		INSERT INTO attachments (email_id, filename, content_type, size, file_path)
		VALUES (?, ?, ?, ?, ?)`

	for _, a := range attachments {
		_, err := tx.ExecContext(ctx, query, messageID, a.Filename, a.ContentType, a.Size, a.Path)
		if err != nil {
			return fmt.Errorf("inserting attachment %s for message %d: %w", a.Filename, messageID, err)
		}
	}

	return tx.Commit()
}

// ReplaceLabels deletes every label association belonging to messageID and
// inserts the new set, all in one transaction.
func (s *SQLiteStore) ReplaceLabels(
	ctx context.Context,
	messageID int64,
	labels []model.Label,
) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM email_labels WHERE email_id = ?", messageID); err != nil {
		return fmt.Errorf("deleting labels for message %d: %w", messageID, err)
	}

	const query = `
		INSERT INTO email_labels (email_id, label_name, label_id)
		VALUES (?, ?, ?)`

	for _, l := range labels {
		if _, err := tx.ExecContext(ctx, query, messageID, l.Name, l.ID); err != nil {
			return fmt.Errorf("inserting label %s for message %d: %w", l.Name, messageID, err)
		}
	}

	return tx.Commit()
}

// exportColumns is the fixed CSV column order.
var exportColumns = []string{
	"gmail_id", "thread_id", "message_id", "subject", "from_addr",
	"to_addrs", "cc_addrs", "bcc_addrs", "date", "snippet",
	"text_body", "html_body", "raw_eml_path",
}

// ExportCSV writes a full snapshot of all messages to path. Rows are
// ordered by created_at (ingestion order) rather than the date column,
// because an unparseable date falls back to a raw string that sorts
// non-chronologically as plain text, which would silently scramble the
// export order. Row id breaks ties deterministically.
func (s *SQLiteStore) ExportCSV(ctx context.Context, path string) error {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT gmail_id, thread_id, message_id, subject, from_addr,
		       to_addrs, cc_addrs, bcc_addrs, date, snippet,
		       text_body, html_body, raw_eml_path
		FROM emails
		ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("querying messages for export: %w", err)
	}
	defer rows.Close()

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating export directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(exportColumns); err != nil {
		return fmt.Errorf("writing export header: %w", err)
	}

	for rows.Next() {
		cols, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("scanning export row: %w", err)
		}
		record := make([]string, len(cols))
		for i, c := range cols {
			switch v := c.(type) {
			case nil:
				record[i] = ""
			case []byte:
				record[i] = string(v)
			case string:
				record[i] = v
			default:
				record[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing export row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating export rows: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing export file: %w", err)
	}

	return f.Close()
}

// NormalizeDate converts an RFC 5322 date string to "YYYY/MM/DD HH:MM".
// If parsing fails the original value is returned unchanged; the raw
// string must never be dropped.
func NormalizeDate(raw string) string {
	if raw == "" {
		return raw
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		return raw
	}
	return t.Format("2006/01/02 15:04")
}
