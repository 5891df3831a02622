// Package transport defines the contract between the sync pipeline and the
// remote mailbox provider. The Gmail implementation lives in
// internal/transport/gmail; any provider exposing labels, raw message
// bytes, and label modification can satisfy it.
package transport

import "context"

// Metadata is the provider-side view of a message the pipeline needs
// without parsing the raw bytes.
type Metadata struct {
	ThreadID string
	Snippet  string
	LabelIDs []string
	Headers  map[string]string
}

// Transport is the remote-mailbox contract.
type Transport interface {
	// ListLabels returns the label name -> label id mapping.
	ListLabels(ctx context.Context) (map[string]string, error)

	// ResolveLabelIDs maps label names to ids. All missing names are
	// reported together in a single typed error; resolution happens before
	// any fetch so a typo aborts the run early.
	ResolveLabelIDs(ctx context.Context, names []string) ([]string, error)

	// ListMessageIDs returns ids of messages carrying all the given label
	// ids and matching the optional provider query. Pagination is internal.
	// max caps the result count; 0 means no limit.
	ListMessageIDs(ctx context.Context, labelIDs []string, query string, max int64) ([]string, error)

	// FetchRaw returns the full RFC 822 bytes of a message.
	FetchRaw(ctx context.Context, id string) ([]byte, error)

	// FetchMetadata returns the restricted metadata view of a message.
	FetchMetadata(ctx context.Context, id string) (*Metadata, error)

	// EnsureLabel creates the label if it does not exist and returns its id.
	EnsureLabel(ctx context.Context, name string) (string, error)

	// AddLabel attaches a label id to a message. Used to mark messages as
	// downloaded; failures here must not fail the message's ingestion.
	AddLabel(ctx context.Context, messageID, labelID string) error
}
