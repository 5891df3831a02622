package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveOriginal(t *testing.T) {
	a := New(t.TempDir())

	path, err := a.SaveOriginal("Receipts", "gid-1", []byte("raw message"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(a.LabelDir("Receipts"), "gid-1.eml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw message"), data)
}

func TestSaveOriginalTrimsLabelWhitespace(t *testing.T) {
	base := t.TempDir()
	a := New(base)

	path, err := a.SaveOriginal("  Receipts ", "gid-1", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "Receipts", "gid-1.eml"), path)
}

func TestSaveAttachmentCollisionSuffix(t *testing.T) {
	a := New(t.TempDir())

	p1, err := a.SaveAttachment("Receipts", "gid-1", "report.pdf", []byte("one"))
	require.NoError(t, err)
	p2, err := a.SaveAttachment("Receipts", "gid-1", "report.pdf", []byte("two"))
	require.NoError(t, err)
	p3, err := a.SaveAttachment("Receipts", "gid-1", "report.pdf", []byte("three"))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", filepath.Base(p1))
	assert.Equal(t, "report_1.pdf", filepath.Base(p2))
	assert.Equal(t, "report_2.pdf", filepath.Base(p3))

	// Each write lands in its own file.
	data, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestSaveAttachmentCollisionWithoutExtension(t *testing.T) {
	a := New(t.TempDir())

	p1, err := a.SaveAttachment("L", "gid", "README", []byte("one"))
	require.NoError(t, err)
	p2, err := a.SaveAttachment("L", "gid", "README", []byte("two"))
	require.NoError(t, err)

	assert.Equal(t, "README", filepath.Base(p1))
	assert.Equal(t, "README_1", filepath.Base(p2))
}

func TestSaveAttachmentStripsPathComponents(t *testing.T) {
	base := t.TempDir()
	a := New(base)

	path, err := a.SaveAttachment("L", "gid", "../../escape.txt", []byte("x"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "L", "attachments", "gid", "escape.txt"), path)
}

func TestClearAttachments(t *testing.T) {
	a := New(t.TempDir())

	p, err := a.SaveAttachment("L", "gid", "a.txt", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, a.ClearAttachments("L", "gid"))

	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	// Clearing a message that never had attachments is not an error.
	require.NoError(t, a.ClearAttachments("L", "never-seen"))
}
