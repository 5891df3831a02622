package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/nhle/gmail-archiver/internal/credential"
)

// tokenKey is the keyring entry holding the cached OAuth token.
const tokenKey = "gmail-oauth-token"

// scopes cover reading raw messages, modifying them, and managing labels.
var scopes = []string{
	gmailapi.GmailReadonlyScope,
	gmailapi.GmailModifyScope,
	gmailapi.GmailLabelsScope,
}

// oauthClient builds an authenticated HTTP client. The cached token is
// loaded from the system keyring, falling back to tokenPath; when neither
// holds a token, an interactive authorization-code exchange runs once and
// the result is cached for subsequent runs.
func oauthClient(ctx context.Context, cfg *oauth2.Config, tokenPath string) (*http.Client, error) {
	tok, err := loadToken(tokenPath)
	if err != nil {
		tok, err = exchangeInteractive(ctx, cfg)
		if err != nil {
			return nil, err
		}
		saveToken(tokenPath, tok)
	}
	return cfg.Client(ctx, tok), nil
}

// loadToken reads the cached token from the keyring, falling back to the
// token file.
func loadToken(tokenPath string) (*oauth2.Token, error) {
	if raw, err := credential.Get(tokenKey); err == nil {
		tok := &oauth2.Token{}
		if err := json.Unmarshal([]byte(raw), tok); err == nil {
			return tok, nil
		}
	}

	b, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("reading token file %s: %w", tokenPath, err)
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", tokenPath, err)
	}
	return tok, nil
}

// saveToken caches the token in the keyring, with the token file as a
// fallback when no keyring backend is usable. Failure to cache is not
// fatal; the next run will simply re-authenticate.
func saveToken(tokenPath string, tok *oauth2.Token) {
	b, err := json.Marshal(tok)
	if err != nil {
		return
	}
	if err := credential.Set(tokenKey, string(b)); err == nil {
		return
	}
	_ = os.WriteFile(tokenPath, b, 0o600)
}

// exchangeInteractive runs the out-of-band authorization-code flow: the
// user visits the printed URL and pastes the code back on stdin.
func exchangeInteractive(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

// ResetToken drops the cached OAuth token from the keyring and removes the
// fallback token file, forcing the next run to re-authenticate.
func ResetToken(tokenPath string) error {
	if err := credential.Delete(tokenKey); err != nil {
		// No keyring backend or no entry; the file may still exist.
		if rmErr := os.Remove(tokenPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("removing token file %s: %w", tokenPath, rmErr)
		}
		return nil
	}
	if err := os.Remove(tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file %s: %w", tokenPath, err)
	}
	return nil
}

// loadOAuthConfig parses the OAuth client secrets file downloaded from the
// Google Cloud Console.
func loadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file %s: %w", credentialsPath, err)
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret file %s: %w", credentialsPath, err)
	}
	return cfg, nil
}
