// Package store defines the persistence contract for the message index.
// Every mutation is idempotent per message: re-ingesting a gmail id
// replaces all of its state, and related record sets are swapped whole.
package store

import "context"

// Message is the index record for one archived email.
type Message struct {
	ID        int64
	GmailID   string
	ThreadID  string
	MessageID string
	Subject   string
	From      string
	To        string
	Cc        string
	Bcc       string
	Date      string
	Snippet   string
	TextBody  string
	HTMLBody  string
	Headers   map[string]string
	RawPath   string
}

// Attachment is the index record for one extracted attachment file.
type Attachment struct {
	ID          int64
	MessageID   int64
	Filename    string
	ContentType string
	Size        int64
	Path        string
}

// Label pairs a label's user-visible name with its provider id.
type Label struct {
	Name string
	ID   string
}

// Store is the index contract.
type Store interface {
	// UpsertMessage inserts or fully replaces the record keyed by GmailID
	// and returns the internal row id. The change is durable on return.
	// First-ingestion time is preserved across replacements so export
	// order stays stable.
	UpsertMessage(ctx context.Context, msg Message) (int64, error)

	// ReplaceAttachments swaps the attachment set for a message in one
	// transaction: no reader observes a partially replaced set.
	ReplaceAttachments(ctx context.Context, messageID int64, attachments []Attachment) error

	// ReplaceLabels swaps the label-association set for a message in one
	// transaction.
	ReplaceLabels(ctx context.Context, messageID int64, labels []Label) error

	// ExportCSV writes a full snapshot of all messages ordered by first
	// ingestion, not by the display date (which may be unparseable).
	ExportCSV(ctx context.Context, path string) error

	Close() error
}
