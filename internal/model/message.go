package model

// Message is the relational-index record for a single archived email.
// GmailID is the stable external identifier assigned by Gmail; re-ingesting
// the same GmailID overwrites every field in place.
type Message struct {
	// ID is the internal database row id (0 until persisted).
	ID int64 `db:"id"`

	// GmailID is the unique message id assigned by Gmail.
	GmailID string `db:"gmail_id"`

	// ThreadID groups the message into its Gmail conversation thread.
	ThreadID string `db:"thread_id"`

	// MessageID is the RFC 5322 Message-ID header; may be empty or
	// duplicated across messages.
	MessageID string `db:"message_id"`

	Subject string `db:"subject"`
	From    string `db:"from_addr"`
	To      string `db:"to_addrs"`
	Cc      string `db:"cc_addrs"`
	Bcc     string `db:"bcc_addrs"`

	// Date is the Date header normalized to "YYYY/MM/DD HH:MM" when it
	// parses as an RFC 5322 date, otherwise the raw header string.
	Date string `db:"date"`

	Snippet  string `db:"snippet"`
	TextBody string `db:"text_body"`
	HTMLBody string `db:"html_body"`

	// Headers holds every header of the original message, duplicate names
	// collapsed to the last occurrence. Keys are canonical MIME form
	// ("Message-Id", "X-Custom"), not the sender's casing; headers_json
	// consumers should look up canonical names.
	Headers map[string]string `db:"-"`

	// RawPath is the on-disk location of the stored .eml original.
	RawPath string `db:"raw_eml_path"`
}

// Attachment is the index record for a single extracted attachment file.
// Attachments belong to exactly one message and are recreated from scratch
// on every ingestion of that message.
type Attachment struct {
	ID        int64  `db:"id"`
	MessageID int64  `db:"email_id"`
	Filename  string `db:"filename"`

	// ContentType is the declared MIME type of the part, or a sniffed type
	// when the part declared none.
	ContentType string `db:"content_type"`

	Size int64 `db:"size"`

	// Path is the on-disk location of the saved file, unique among the
	// message's attachments (collisions get a numeric suffix).
	Path string `db:"file_path"`
}

// Label is a Gmail label identified by both its user-visible name and its
// API id.
type Label struct {
	Name string `db:"label_name"`
	ID   string `db:"label_id"`
}
