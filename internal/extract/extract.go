package extract

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/gabriel-vasile/mimetype"
)

// Email is the decoded view of a raw RFC 822 message. It is produced in a
// single pass over the MIME tree; callers never need to re-parse the raw
// bytes for attachments.
type Email struct {
	MessageID string
	Subject   string
	From      string
	To        string
	Cc        string
	Bcc       string

	// Date is the raw Date header. Normalization happens at persistence
	// time so the original string survives when it cannot be parsed.
	Date string

	TextBody string
	HTMLBody string

	// Headers holds every header field, duplicate names collapsed to the
	// last occurrence, encoded words decoded. Keys are in canonical MIME
	// form (e.g. "Message-Id", "X-Custom"), not the sender's casing.
	Headers map[string]string

	Attachments []Attachment

	// Problems records parts that could not be fully decoded. They are
	// reported for logging; none of them fail the message as a whole.
	Problems []Problem
}

// Attachment is a decoded attachment payload ready to be written to disk.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

// Problem describes a decode failure for a single MIME part.
type Problem struct {
	// Part locates the part in the tree, e.g. "1.0.2".
	Part string

	// Stage names the failing step ("parse", "read", "charset").
	Stage string

	Err error
}

func (p Problem) String() string {
	return fmt.Sprintf("part %s: %s: %v", p.Part, p.Stage, p.Err)
}

// Outlook/Exchange internal metadata filenames that must never be treated
// as real attachments. These MIME parts carry custom form properties,
// voting buttons, read-receipt flags and similar proprietary state.
var outlookJunkMarkers = []string{
	"EML*OECUSTOMPROPERTY",
	"EML*OECUSTOMHTML",
}

var headerDecoder = mime.WordDecoder{CharsetReader: charset.Reader}

// Parse decodes raw RFC 822 bytes into an Email. Decode failures are never
// fatal: undecodable parts are skipped and recorded on Problems, and a
// message whose MIME structure cannot be read at all still yields its
// headers.
func Parse(raw []byte) *Email {
	e := &Email{Headers: map[string]string{}}
	e.readHeaders(raw)

	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		e.addProblem("", "parse", err)
		return e
	}
	if err != nil {
		e.addProblem("", "charset", err)
	}
	if ent != nil {
		w := &walker{email: e}
		w.walk(ent, "0")
	}
	return e
}

// readHeaders fills the header map (last occurrence wins) and the fixed
// header fields (first occurrence wins) from the top-level header block.
func (e *Email) readHeaders(raw []byte) {
	tr := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	mh, err := tr.ReadMIMEHeader()
	if err != nil && len(mh) == 0 {
		e.addProblem("", "headers", err)
		return
	}

	for name, values := range mh {
		if len(values) == 0 {
			continue
		}
		e.Headers[name] = decodeWords(values[len(values)-1])
	}

	e.MessageID = decodeWords(mh.Get("Message-Id"))
	e.Subject = decodeWords(mh.Get("Subject"))
	e.From = decodeWords(mh.Get("From"))
	e.To = decodeWords(mh.Get("To"))
	e.Cc = decodeWords(mh.Get("Cc"))
	e.Bcc = decodeWords(mh.Get("Bcc"))
	e.Date = mh.Get("Date")
}

func (e *Email) addProblem(part, stage string, err error) {
	e.Problems = append(e.Problems, Problem{Part: part, Stage: stage, Err: err})
}

// walker carries the traversal state for one message tree.
type walker struct {
	email *Email

	// textSet/htmlSet latch after the first text/plain and text/html leaf
	// in tree order, even when that leaf decoded to an empty string.
	textSet bool
	htmlSet bool

	// rfc822Depth counts descents into message/rfc822 parts; only one
	// level of forwarded messages is unwrapped.
	rfc822Depth int
}

// walk visits ent depth-first. Multipart containers contribute structure
// only; every non-container node is a leaf examined for bodies and
// attachments.
func (w *walker) walk(ent *message.Entity, path string) {
	if mr := ent.MultipartReader(); mr != nil {
		for i := 0; ; i++ {
			part, err := mr.NextPart()
			childPath := fmt.Sprintf("%s.%d", path, i)
			if err == io.EOF {
				return
			}
			if err != nil {
				if part != nil && (message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)) {
					w.email.addProblem(childPath, "charset", err)
				} else {
					w.email.addProblem(childPath, "parse", err)
					return
				}
			}
			w.walk(part, childPath)
		}
	}
	w.leaf(ent, path)
}

func (w *walker) leaf(ent *message.Entity, path string) {
	ctype, _, err := ent.Header.ContentType()
	if err != nil || ctype == "" {
		ctype = "text/plain"
	}

	if ctype == "message/rfc822" {
		w.forwarded(ent, path)
		return
	}

	body, readErr := io.ReadAll(ent.Body)
	if readErr != nil {
		w.email.addProblem(path, "read", readErr)
	}

	// Body selection ignores filenames: the first text leaf in tree order
	// latches, even when it also qualifies as an attachment below.
	switch ctype {
	case "text/plain":
		if !w.textSet {
			w.email.TextBody = scrubUTF8(body)
			w.textSet = true
		}
	case "text/html":
		if !w.htmlSet {
			w.email.HTMLBody = scrubUTF8(body)
			w.htmlSet = true
		}
	}

	// Any leaf naming a file is an attachment, whether its disposition
	// says attachment, inline, or nothing at all; without a filename there
	// is nothing to store on disk.
	filename := partFilename(ent)
	if filename == "" {
		return
	}
	if isJunkFilename(filename) {
		return
	}
	if readErr != nil || len(body) == 0 {
		return
	}

	w.email.Attachments = append(w.email.Attachments, Attachment{
		Filename:    filename,
		ContentType: attachmentContentType(ctype, body),
		Data:        body,
		Size:        int64(len(body)),
	})
}

// forwarded unwraps a message/rfc822 part and walks the embedded message's
// own tree. Only the first level of forwarding is decoded; deeper nesting
// is ignored.
func (w *walker) forwarded(ent *message.Entity, path string) {
	if w.rfc822Depth >= 1 {
		return
	}

	body, err := io.ReadAll(ent.Body)
	if err != nil {
		w.email.addProblem(path, "read", err)
		return
	}

	sub, err := message.Read(bytes.NewReader(body))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		w.email.addProblem(path, "parse", err)
		return
	}
	if sub == nil {
		return
	}

	w.rfc822Depth++
	w.walk(sub, path+".0")
	w.rfc822Depth--
}

// partFilename extracts a declared filename from either the
// Content-Disposition "filename" parameter or the Content-Type "name"
// parameter, decoding encoded words.
func partFilename(ent *message.Entity) string {
	if _, params, err := ent.Header.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return decodeWords(name)
		}
	}
	if _, params, err := ent.Header.ContentType(); err == nil {
		if name := params["name"]; name != "" {
			return decodeWords(name)
		}
	}
	return ""
}

// isJunkFilename reports whether the filename marks an Outlook/Exchange
// internal metadata part. Matching is case-insensitive containment.
func isJunkFilename(filename string) bool {
	upper := strings.ToUpper(filename)
	for _, marker := range outlookJunkMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// attachmentContentType keeps the declared MIME type unless the part
// declared nothing useful, in which case the payload is sniffed.
func attachmentContentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}

func decodeWords(s string) string {
	decoded, err := headerDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// scrubUTF8 converts a decoded body to a string, replacing any bytes that
// are not valid UTF-8 after charset conversion.
func scrubUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
