package store

import (
	"context"

	"github.com/nhle/gmail-archiver/internal/model"
)

// Store defines the persistence interface for the message index. All
// replace-style operations are atomic per message: a reader never observes
// a half-deleted or half-inserted set as the final state.
type Store interface {
	// UpsertMessage inserts the message or replaces every field of the
	// existing row with the same GmailID, committing before it returns.
	// It returns the internal row id. The row's ingestion timestamp is
	// set on first insert and preserved across re-ingestions.
	UpsertMessage(ctx context.Context, msg model.Message) (int64, error)

	// ReplaceAttachments deletes all attachment rows for the message and
	// inserts the new set in a single transaction.
	ReplaceAttachments(ctx context.Context, messageID int64, attachments []model.Attachment) error

	// ReplaceLabels deletes all label associations for the message and
	// inserts the new set in a single transaction.
	ReplaceLabels(ctx context.Context, messageID int64, labels []model.Label) error

	// ExportCSV writes a full snapshot of all messages (not attachments)
	// to path, ordered by ingestion order.
	ExportCSV(ctx context.Context, path string) error

	Close() error
}
