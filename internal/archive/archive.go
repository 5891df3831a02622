// Package archive manages the on-disk layout of the mail archive: one
// directory per destination label holding .eml originals, with attachments
// under attachments/<gmail-id>/.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Archive writes message originals and attachment files beneath a fixed
// base directory. The base directory is supplied at construction; nothing
// here reads the process working directory.
type Archive struct {
	baseDir string
}

// New returns an Archive rooted at baseDir.
func New(baseDir string) *Archive {
	return &Archive{baseDir: baseDir}
}

// LabelDir returns the destination directory for a label grouping.
func (a *Archive) LabelDir(label string) string {
	return filepath.Join(a.baseDir, strings.TrimSpace(label))
}

// SaveOriginal writes the raw message bytes as <label>/<gmailID>.eml and
// returns the file path.
func (a *Archive) SaveOriginal(label, gmailID string, raw []byte) (string, error) {
	dir := a.LabelDir(label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating label directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, gmailID+".eml")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing original %s: %w", path, err)
	}
	return path, nil
}

// attachmentsDir returns the per-message attachment directory.
func (a *Archive) attachmentsDir(label, gmailID string) string {
	return filepath.Join(a.LabelDir(label), "attachments", gmailID)
}

// ClearAttachments removes the attachment directory for a message if it
// exists. Called before re-saving attachments so no orphaned files survive
// a re-run.
func (a *Archive) ClearAttachments(label, gmailID string) error {
	dir := a.attachmentsDir(label, gmailID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing attachments dir %s: %w", dir, err)
	}
	return nil
}

// SaveAttachment writes an attachment under
// <label>/attachments/<gmailID>/<filename> and returns the file path.
// A name clash among siblings is resolved with a numeric suffix
// (name_1.ext, name_2.ext, ...).
func (a *Archive) SaveAttachment(label, gmailID, filename string, data []byte) (string, error) {
	dir := a.attachmentsDir(label, gmailID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating attachments dir %s: %w", dir, err)
	}

	// Attachment filenames come from untrusted MIME headers; keep only the
	// final path element.
	filename = filepath.Base(filename)

	path := filepath.Join(dir, filename)
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing attachment %s: %w", path, err)
	}
	return path, nil
}
