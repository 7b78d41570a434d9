package cache

// migration holds a single schema migration with its target version.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations, sequential from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	message_id      INTEGER NOT NULL,
	account         TEXT NOT NULL,
	folder          TEXT NOT NULL,
	subject         TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	recipients      TEXT NOT NULL DEFAULT '{}',
	date            INTEGER NOT NULL,
	body            TEXT NOT NULL DEFAULT '',
	has_attachments INTEGER NOT NULL DEFAULT 0,
	metadata        TEXT NOT NULL DEFAULT '{}',
	flags           TEXT NOT NULL DEFAULT '[]',
	last_updated    INTEGER NOT NULL,
	PRIMARY KEY (message_id, account)
);

CREATE TABLE IF NOT EXISTS attachments (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id   INTEGER NOT NULL,
	account      TEXT NOT NULL,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	path         TEXT NOT NULL,
	last_updated INTEGER NOT NULL,
	FOREIGN KEY (message_id, account) REFERENCES emails (message_id, account) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_emails_account_folder ON emails (account, folder);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments (message_id, account);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
