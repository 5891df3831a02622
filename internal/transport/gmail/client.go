// Package gmail implements the transport.Transport contract on the Gmail
// REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/gmail-archiver/internal/transport"
)

const (
	user = "me"

	// Gmail caps list pages at 500 ids.
	maxPageSize = 500
)

// metadataHeaders is the header subset requested on metadata fetches,
// matching what the extractor reads from the raw message.
var metadataHeaders = []string{
	"Message-ID", "Subject", "From", "To", "Cc", "Bcc", "Date",
}

// Client talks to the Gmail API for a single authenticated user.
type Client struct {
	srv *gmailapi.Service
}

var _ transport.Transport = (*Client)(nil)

// NewClient authenticates against Gmail using the OAuth client secrets at
// credentialsPath and a token cached in the keyring or at tokenPath.
func NewClient(ctx context.Context, credentialsPath, tokenPath string) (*Client, error) {
	cfg, err := loadOAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}

	httpClient, err := oauthClient(ctx, cfg, tokenPath)
	if err != nil {
		return nil, err
	}

	srv, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	return &Client{srv: srv}, nil
}

// ListLabels returns the label name -> label id mapping for the user.
func (c *Client) ListLabels(ctx context.Context) (map[string]string, error) {
	resp, err := c.srv.Users.Labels.List(user).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("listing labels", err)
	}

	labels := make(map[string]string, len(resp.Labels))
	for _, l := range resp.Labels {
		labels[l.Name] = l.Id
	}
	return labels, nil
}

// ResolveLabelIDs maps label names to ids, failing with a
// LabelNotFoundError that names every unresolvable label.
func (c *Client) ResolveLabelIDs(ctx context.Context, names []string) ([]string, error) {
	labelMap, err := c.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	return resolveLabelIDs(labelMap, names)
}

// resolveLabelIDs is the pure resolution step over a pre-fetched mapping.
// Blank names are skipped; all missing names are reported together.
func resolveLabelIDs(labelMap map[string]string, names []string) ([]string, error) {
	var ids []string
	var missing []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := labelMap[name]; ok {
			ids = append(ids, id)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &transport.LabelNotFoundError{Missing: missing}
	}
	return ids, nil
}

// ListMessageIDs returns ids of messages carrying all labelIDs and matching
// the optional query, following nextPageToken until exhausted or max is
// reached (0 = no limit).
func (c *Client) ListMessageIDs(
	ctx context.Context,
	labelIDs []string,
	query string,
	max int64,
) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		call := c.srv.Users.Messages.List(user).Context(ctx)
		if len(labelIDs) > 0 {
			call = call.LabelIds(labelIDs...)
		}
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		if max > 0 {
			remaining := max - int64(len(ids))
			if remaining <= 0 {
				break
			}
			if remaining > maxPageSize {
				remaining = maxPageSize
			}
			call = call.MaxResults(remaining)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, wrapAPIError("listing messages", err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if max > 0 && int64(len(ids)) >= max {
				return ids, nil
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return ids, nil
}

// FetchRaw returns the full RFC 822 bytes of a message.
func (c *Client) FetchRaw(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.srv.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(fmt.Sprintf("fetching raw message %s", id), err)
	}

	raw, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("decoding raw message %s: %w", id, err)
	}
	return raw, nil
}

// FetchMetadata returns the restricted metadata view of a message: thread
// id, snippet, label ids, and the fixed header subset.
func (c *Client) FetchMetadata(ctx context.Context, id string) (*transport.Metadata, error) {
	resp, err := c.srv.Users.Messages.Get(user, id).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapAPIError(fmt.Sprintf("fetching metadata for %s", id), err)
	}

	meta := &transport.Metadata{
		ThreadID: resp.ThreadId,
		Snippet:  resp.Snippet,
		LabelIDs: resp.LabelIds,
		Headers:  map[string]string{},
	}
	if resp.Payload != nil {
		for _, h := range resp.Payload.Headers {
			meta.Headers[h.Name] = h.Value
		}
	}
	return meta, nil
}

// EnsureLabel creates the label if it does not exist and returns its id.
func (c *Client) EnsureLabel(ctx context.Context, name string) (string, error) {
	labelMap, err := c.ListLabels(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := labelMap[name]; ok {
		return id, nil
	}

	created, err := c.srv.Users.Labels.Create(user, &gmailapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", wrapAPIError(fmt.Sprintf("creating label %s", name), err)
	}
	return created.Id, nil
}

// AddLabel attaches a label id to a message.
func (c *Client) AddLabel(ctx context.Context, messageID, labelID string) error {
	_, err := c.srv.Users.Messages.Modify(user, messageID, &gmailapi.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return wrapAPIError(fmt.Sprintf("adding label to message %s", messageID), err)
	}
	return nil
}

// decodeBase64URL decodes Gmail's URL-safe base64, which may arrive with
// or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// wrapAPIError converts 401/403 responses into typed auth errors and wraps
// everything else with the failing operation.
func wrapAPIError(op string, err error) error {
	if apiErr, ok := err.(*googleapi.Error); ok {
		if apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden {
			return &transport.AuthError{
				Message: fmt.Sprintf("%s: %v", op, apiErr.Message),
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
