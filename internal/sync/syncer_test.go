package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/gmail-archiver/internal/archive"
	"github.com/nhle/gmail-archiver/internal/model"
	"github.com/nhle/gmail-archiver/internal/transport"
	"github.com/nhle/gmail-archiver/tests/testutil"
)

// fakeTransport serves canned messages and records the listing query and
// every label modification.
type fakeTransport struct {
	mu gosync.Mutex

	labels map[string]string
	raw    map[string][]byte
	meta   map[string]*transport.Metadata

	fetchErr map[string]error
	addErr   error

	listedQuery    string
	listedLabelIDs []string
	added          map[string][]string
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		labels:   map[string]string{},
		raw:      map[string][]byte{},
		meta:     map[string]*transport.Metadata{},
		fetchErr: map[string]error{},
		added:    map[string][]string{},
	}
}

func (f *fakeTransport) ListLabels(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(f.labels))
	for k, v := range f.labels {
		out[k] = v
	}
	return out, nil
}

func (f *fakeTransport) ResolveLabelIDs(ctx context.Context, names []string) ([]string, error) {
	var ids, missing []string
	for _, name := range names {
		if id, ok := f.labels[name]; ok {
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

func (f *fakeTransport) ListMessageIDs(ctx context.Context, labelIDs []string, query string, max int64) ([]string, error) {
	f.listedQuery = query
	f.listedLabelIDs = labelIDs

	var ids []string
	for id := range f.raw {
		ids = append(ids, id)
	}
	if max > 0 && int64(len(ids)) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (f *fakeTransport) FetchRaw(ctx context.Context, id string) ([]byte, error) {
	if err := f.fetchErr[id]; err != nil {
		return nil, err
	}
	return f.raw[id], nil
}

func (f *fakeTransport) FetchMetadata(ctx context.Context, id string) (*transport.Metadata, error) {
	if m, ok := f.meta[id]; ok {
		return m, nil
	}
	return &transport.Metadata{}, nil
}

func (f *fakeTransport) EnsureLabel(ctx context.Context, name string) (string, error) {
	if id, ok := f.labels[name]; ok {
		return id, nil
	}
	id := fmt.Sprintf("Label_%d", len(f.labels)+1)
	f.labels[name] = id
	return id, nil
}

func (f *fakeTransport) AddLabel(ctx context.Context, messageID, labelID string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[messageID] = append(f.added[messageID], labelID)
	return nil
}

// fakeStore records upserts and replacements keyed by gmail id.
type fakeStore struct {
	mu gosync.Mutex

	nextID      int64
	ids         map[string]int64
	messages    map[string]model.Message
	attachments map[int64][]model.Attachment
	labels      map[int64][]model.Label

	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ids:         map[string]int64{},
		messages:    map[string]model.Message{},
		attachments: map[int64][]model.Attachment{},
		labels:      map[int64][]model.Label{},
	}
}

func (f *fakeStore) UpsertMessage(ctx context.Context, msg model.Message) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.ids[msg.GmailID]
	if !ok {
		f.nextID++
		id = f.nextID
		f.ids[msg.GmailID] = id
	}
	f.messages[msg.GmailID] = msg
	return id, nil
}

func (f *fakeStore) ReplaceAttachments(ctx context.Context, messageID int64, atts []model.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachments[messageID] = atts
	return nil
}

func (f *fakeStore) ReplaceLabels(ctx context.Context, messageID int64, labels []model.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[messageID] = labels
	return nil
}

func (f *fakeStore) ExportCSV(ctx context.Context, path string) error { return nil }
func (f *fakeStore) Close() error                                     { return nil }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func rawMessage(subject, body string) []byte {
	return []byte("Subject: " + subject + "\r\nContent-Type: text/plain\r\n\r\n" + body)
}

// rawWithAttachments builds a multipart message with a plain body and the
// given attachment filenames.
func rawWithAttachments(subject string, filenames ...string) []byte {
	msg := "Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"b\"\r\n\r\n" +
		"--b\r\nContent-Type: text/plain\r\n\r\nbody\r\n"
	for _, name := range filenames {
		msg += "--b\r\n" +
			"Content-Type: application/pdf; name=\"" + name + "\"\r\n" +
			"Content-Disposition: attachment; filename=\"" + name + "\"\r\n\r\n" +
			"payload of " + name + "\r\n"
	}
	return []byte(msg + "--b--\r\n")
}

func TestRunRequiresLabels(t *testing.T) {
	s := New(newFakeTransport(), newFakeStore(), archive.New(t.TempDir()), quietLogger(), Options{})

	_, err := s.Run(context.Background())
	require.Error(t, err)
}

func TestRunUnknownLabelAborts(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["Receipts"] = "Label_1"

	s := New(ft, newFakeStore(), archive.New(t.TempDir()), quietLogger(), Options{
		Labels: []string{"Receipts", "Nope"},
	})

	_, err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsLabelNotFound(err))
}

func TestRunIngestsMessages(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["Receipts"] = "Label_1"
	ft.raw["m1"] = rawMessage("hello", "world")
	ft.meta["m1"] = &transport.Metadata{
		ThreadID: "t1",
		Snippet:  "world",
		LabelIDs: []string{"Label_1", "INBOX"},
	}

	fs := newFakeStore()
	baseDir := t.TempDir()

	s := New(ft, fs, archive.New(baseDir), quietLogger(), Options{Labels: []string{"Receipts"}})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Listed)
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, summary.Failures)
	assert.NotEmpty(t, summary.RunID)

	msg := fs.messages["m1"]
	assert.Equal(t, "hello", msg.Subject)
	assert.Equal(t, "world", msg.TextBody)
	assert.Equal(t, "t1", msg.ThreadID)
	assert.Equal(t, filepath.Join(baseDir, "Receipts", "m1.eml"), msg.RawPath)

	// Only labels known by name are recorded; INBOX is not in the map.
	assert.Equal(t, []model.Label{{Name: "Receipts", ID: "Label_1"}}, fs.labels[fs.ids["m1"]])
}

func TestRunGroupsByRequestedLabelOrder(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["Alpha"] = "Label_A"
	ft.labels["Beta"] = "Label_B"
	ft.raw["m1"] = rawMessage("s", "b")
	// The message carries both; requested order decides the grouping.
	ft.meta["m1"] = &transport.Metadata{LabelIDs: []string{"Label_B", "Label_A"}}

	fs := newFakeStore()
	baseDir := t.TempDir()

	s := New(ft, fs, archive.New(baseDir), quietLogger(), Options{Labels: []string{"Alpha", "Beta"}})
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(baseDir, "Alpha", "m1.eml"), fs.messages["m1"].RawPath)
}

func TestRunFallsBackToFirstRequestedLabel(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["Alpha"] = "Label_A"
	ft.raw["m1"] = rawMessage("s", "b")
	// Label metadata no longer matches anything requested.
	ft.meta["m1"] = &transport.Metadata{LabelIDs: []string{"SOMETHING_ELSE"}}

	fs := newFakeStore()
	baseDir := t.TempDir()

	s := New(ft, fs, archive.New(baseDir), quietLogger(), Options{Labels: []string{"Alpha"}})
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(baseDir, "Alpha", "m1.eml"), fs.messages["m1"].RawPath)
}

func TestRunIsolatesPerMessageFailures(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["L"] = "Label_1"
	ft.raw["good"] = rawMessage("ok", "fine")
	ft.raw["bad"] = rawMessage("never fetched", "")
	ft.fetchErr["bad"] = fmt.Errorf("boom")
	ft.meta["good"] = &transport.Metadata{LabelIDs: []string{"Label_1"}}

	fs := newFakeStore()

	s := New(ft, fs, archive.New(t.TempDir()), quietLogger(), Options{Labels: []string{"L"}})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Listed)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "bad", summary.Failures[0].MessageID)
	assert.Equal(t, "fetch", summary.Failures[0].Stage)

	_, ingested := fs.messages["good"]
	assert.True(t, ingested)
}

func TestRunMarkFailureIsWarningOnly(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["L"] = "Label_1"
	ft.raw["m1"] = rawMessage("s", "b")
	ft.meta["m1"] = &transport.Metadata{LabelIDs: []string{"Label_1"}}
	ft.addErr = fmt.Errorf("modify denied")

	fs := newFakeStore()

	s := New(ft, fs, archive.New(t.TempDir()), quietLogger(), Options{
		Labels:    []string{"L"},
		MarkLabel: "Archived",
	})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, summary.Failures)
	assert.Equal(t, 1, summary.MarkFailures)

	// The mark label is excluded from the next listing.
	assert.Equal(t, "-label:Archived", ft.listedQuery)
}

func TestRunMarksDownloadedMessages(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["L"] = "Label_1"
	ft.raw["m1"] = rawMessage("s", "b")
	ft.meta["m1"] = &transport.Metadata{LabelIDs: []string{"Label_1"}}

	fs := newFakeStore()

	s := New(ft, fs, archive.New(t.TempDir()), quietLogger(), Options{
		Labels:    []string{"L"},
		MarkLabel: "Done Reading",
		Workers:   4,
	})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.MarkFailures)
	markID := ft.labels["Done Reading"]
	require.NotEmpty(t, markID)
	assert.Equal(t, []string{markID}, ft.added["m1"])
	assert.Equal(t, `-label:"Done Reading"`, ft.listedQuery)
}

func TestRunReingestRemovesOrphanedAttachments(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["L"] = "Label_1"
	ft.raw["m1"] = rawWithAttachments("s", "a.pdf", "b.pdf")
	ft.meta["m1"] = &transport.Metadata{LabelIDs: []string{"Label_1"}}

	fs := newFakeStore()
	baseDir := t.TempDir()
	ar := archive.New(baseDir)

	run := func() *Summary {
		s := New(ft, fs, ar, quietLogger(), Options{Labels: []string{"L"}})
		summary, err := s.Run(context.Background())
		require.NoError(t, err)
		return summary
	}

	first := run()
	assert.Equal(t, 2, first.AttachmentsSaved)

	// Second ingestion carries one fewer attachment.
	ft.raw["m1"] = rawWithAttachments("s", "a.pdf")
	second := run()
	assert.Equal(t, 1, second.AttachmentsSaved)

	attDir := filepath.Join(baseDir, "L", "attachments", "m1")
	entries, err := filepath.Glob(filepath.Join(attDir, "*"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", filepath.Base(entries[0]))

	stored := fs.attachments[fs.ids["m1"]]
	require.Len(t, stored, 1)
	assert.Equal(t, "a.pdf", stored[0].Filename)
}

func TestRunPersistFailureRecordedWithStage(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["L"] = "Label_1"
	ft.raw["m1"] = rawMessage("s", "b")
	ft.meta["m1"] = &transport.Metadata{LabelIDs: []string{"Label_1"}}

	fs := newFakeStore()
	fs.upsertErr = fmt.Errorf("disk full")

	s := New(ft, fs, archive.New(t.TempDir()), quietLogger(), Options{Labels: []string{"L"}})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "persist", summary.Failures[0].Stage)
}

func TestRunWithRealStore(t *testing.T) {
	ft := newFakeTransport()
	ft.labels["Receipts"] = "Label_1"
	ft.raw["m1"] = rawWithAttachments("invoice", "invoice.pdf")
	ft.meta["m1"] = &transport.Metadata{
		ThreadID: "t1",
		Snippet:  "your invoice",
		LabelIDs: []string{"Label_1"},
	}

	st := testutil.NewTestStore(t)
	baseDir := t.TempDir()

	s := New(ft, st, archive.New(baseDir), quietLogger(), Options{Labels: []string{"Receipts"}})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.AttachmentsSaved)

	csvPath := filepath.Join(t.TempDir(), "emails.csv")
	require.NoError(t, st.ExportCSV(context.Background(), csvPath))

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "m1")
	assert.Contains(t, string(data), "invoice")
}
