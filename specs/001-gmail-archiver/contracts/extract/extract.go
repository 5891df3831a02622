// Package extract defines the contract for decoding raw RFC 822 bytes into
// the structured form the pipeline persists. Extraction is total: it never
// fails a message outright, and decode problems surface as recorded values
// instead of errors.
package extract

// Email is the decoded view of a raw message.
//
// Body selection: the first text/plain leaf in depth-first tree order
// becomes TextBody and the first text/html leaf becomes HTMLBody, even when
// that leaf decodes to an empty string. Filenames play no part in body
// selection; a named text leaf can be both the body and an attachment.
//
// Attachment selection: any leaf declaring a filename qualifies, regardless
// of its disposition. Leaves without a filename are never emitted (a
// filename is mandatory for on-disk storage), and filenames matching the
// vendor-internal junk marker set are discarded entirely.
type Email struct {
	MessageID string
	Subject   string
	From      string
	To        string
	Cc        string
	Bcc       string

	// Date is the raw Date header; normalization is the store's concern.
	Date string

	TextBody string
	HTMLBody string

	// Headers collapses duplicate names to the last occurrence, with
	// encoded words decoded and keys in canonical MIME form.
	Headers map[string]string

	Attachments []Attachment

	// Problems records parts that could not be fully decoded.
	Problems []Problem
}

// Attachment is a decoded payload ready to write to disk.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

// Problem locates and describes one part-level decode failure.
type Problem struct {
	Part  string
	Stage string
	Err   error
}
