package gmail

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/gmail-archiver/internal/transport"
)

func TestResolveLabelIDs(t *testing.T) {
	labelMap := map[string]string{
		"Receipts":     "Label_1",
		"Done Reading": "Label_2",
		"INBOX":        "INBOX",
	}

	t.Run("all present", func(t *testing.T) {
		ids, err := resolveLabelIDs(labelMap, []string{"Receipts", "INBOX"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Label_1", "INBOX"}, ids)
	})

	t.Run("blank names skipped", func(t *testing.T) {
		ids, err := resolveLabelIDs(labelMap, []string{" Receipts ", "", "  "})
		require.NoError(t, err)
		assert.Equal(t, []string{"Label_1"}, ids)
	})

	t.Run("missing names reported together", func(t *testing.T) {
		_, err := resolveLabelIDs(labelMap, []string{"Receipts", "Nope", "AlsoNope"})
		require.Error(t, err)

		var lnf *transport.LabelNotFoundError
		require.True(t, errors.As(err, &lnf))
		assert.Equal(t, []string{"Nope", "AlsoNope"}, lnf.Missing)
		assert.True(t, transport.IsLabelNotFound(err))
	})

	t.Run("matching is case sensitive", func(t *testing.T) {
		_, err := resolveLabelIDs(labelMap, []string{"receipts"})
		assert.True(t, transport.IsLabelNotFound(err))
	})
}

func TestDecodeBase64URL(t *testing.T) {
	// Gmail raw payloads arrive URL-safe, sometimes unpadded.
	padded := "aGVsbG8-d29ybGQ_IQ==" // "hello>world?!"
	unpadded := "aGVsbG8-d29ybGQ_IQ"

	for _, in := range []string{padded, unpadded} {
		out, err := decodeBase64URL(in)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello>world?!"), out)
	}
}
