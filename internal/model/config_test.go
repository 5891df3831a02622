package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "credentials.json", cfg.CredentialsPath)
	assert.Equal(t, "token.json", cfg.TokenPath)
	assert.Equal(t, "emails", cfg.ArchiveDir)
	assert.Equal(t, filepath.Join("emails", "emails.db"), cfg.DBPath)
	assert.Equal(t, 1, cfg.Workers)
	assert.Empty(t, cfg.Labels)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `credentials: /etc/gmail/creds.json
archive_dir: /srv/mail
labels:
  - Receipts
  - Done Reading
query: newer_than:1y
mark_label: Archived
max_messages: 200
workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/etc/gmail/creds.json", cfg.CredentialsPath)
	assert.Equal(t, "/srv/mail", cfg.ArchiveDir)
	assert.Equal(t, []string{"Receipts", "Done Reading"}, cfg.Labels)
	assert.Equal(t, "newer_than:1y", cfg.Query)
	assert.Equal(t, "Archived", cfg.MarkLabel)
	assert.Equal(t, int64(200), cfg.MaxMessages)
	assert.Equal(t, 4, cfg.Workers)

	// Unset keys keep their defaults.
	assert.Equal(t, "token.json", cfg.TokenPath)
}

func TestLoadConfigClampsWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Workers)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("labels: [unclosed\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
