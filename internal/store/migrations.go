package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	gmail_id     TEXT NOT NULL UNIQUE,
	thread_id    TEXT NOT NULL DEFAULT '',
	message_id   TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL DEFAULT '',
	from_addr    TEXT NOT NULL DEFAULT '',
	to_addrs     TEXT NOT NULL DEFAULT '',
	cc_addrs     TEXT NOT NULL DEFAULT '',
	bcc_addrs    TEXT NOT NULL DEFAULT '',
	date         TEXT NOT NULL DEFAULT '',
	snippet      TEXT NOT NULL DEFAULT '',
	text_body    TEXT NOT NULL DEFAULT '',
	html_body    TEXT NOT NULL DEFAULT '',
	headers_json TEXT NOT NULL DEFAULT '{}',
	raw_eml_path TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS attachments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	email_id     INTEGER NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	file_path    TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_attachments_email_id ON attachments(email_id);

CREATE TABLE IF NOT EXISTS email_labels (
	email_id   INTEGER NOT NULL,
	label_name TEXT NOT NULL,
	label_id   TEXT NOT NULL,
	PRIMARY KEY (email_id, label_name),
	FOREIGN KEY (email_id) REFERENCES emails(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_email_labels_label_name ON email_labels(label_name);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
