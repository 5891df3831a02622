// Package transport defines the contract the sync pipeline expects from
// the remote mailbox provider, plus the typed errors it classifies on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AuthError indicates that authentication failed or expired for the remote
// mailbox.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// LabelNotFoundError is returned when one or more requested label names do
// not exist on the remote mailbox. It is a configuration error: the run
// must abort before any fetch.
type LabelNotFoundError struct {
	Missing []string
}

func (e *LabelNotFoundError) Error() string {
	return fmt.Sprintf("labels not found: %s", strings.Join(e.Missing, ", "))
}

// IsLabelNotFound reports whether err is a LabelNotFoundError.
func IsLabelNotFound(err error) bool {
	var lnf *LabelNotFoundError
	return errors.As(err, &lnf)
}

// Metadata is the restricted provider-side view of a message used by the
// sync pipeline: conversation/thread id, snippet, label ids, and the fixed
// header subset the extractor also reads.
type Metadata struct {
	ThreadID string
	Snippet  string
	LabelIDs []string
	Headers  map[string]string
}

// Transport is the remote-mailbox collaborator. Implementations perform
// network I/O; every method takes a context for cancellation.
type Transport interface {
	// ListLabels returns the label name -> label id mapping.
	ListLabels(ctx context.Context) (map[string]string, error)

	// ResolveLabelIDs maps label names to ids, returning a
	// LabelNotFoundError naming every missing label.
	ResolveLabelIDs(ctx context.Context, names []string) ([]string, error)

	// ListMessageIDs returns ids of messages carrying all the given label
	// ids and matching the optional query, paginating internally. max
	// caps the result count; 0 means no limit.
	ListMessageIDs(ctx context.Context, labelIDs []string, query string, max int64) ([]string, error)

	// FetchRaw returns the full RFC 822 bytes of a message.
	FetchRaw(ctx context.Context, id string) ([]byte, error)

	// FetchMetadata returns the restricted metadata view of a message.
	FetchMetadata(ctx context.Context, id string) (*Metadata, error)

	// EnsureLabel creates the label if it does not exist and returns its id.
	EnsureLabel(ctx context.Context, name string) (string, error)

	// AddLabel attaches a label id to a message.
	AddLabel(ctx context.Context, messageID, labelID string) error
}
