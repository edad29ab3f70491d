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
	id                  TEXT PRIMARY KEY,
	account_id          TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	thread_id           TEXT NOT NULL DEFAULT '',
	subject             TEXT NOT NULL DEFAULT '',
	from_address        TEXT NOT NULL DEFAULT '',
	from_name           TEXT NOT NULL DEFAULT '',
	to_addresses        TEXT NOT NULL DEFAULT '[]',
	cc_addresses        TEXT NOT NULL DEFAULT '[]',
	bcc_addresses       TEXT NOT NULL DEFAULT '[]',
	direction           TEXT NOT NULL CHECK(direction IN ('inbound', 'outbound')),
	body                TEXT NOT NULL DEFAULT '',
	html_body           TEXT NOT NULL DEFAULT '',
	signature           TEXT,
	quoted_content      TEXT,
	snippet             TEXT NOT NULL DEFAULT '',
	key_info            TEXT NOT NULL DEFAULT '{}',
	readability_score   REAL NOT NULL DEFAULT 0,
	attachments         TEXT NOT NULL DEFAULT '[]',
	client_id           TEXT,
	received_at         DATETIME NOT NULL,
	source              TEXT NOT NULL,
	labels              TEXT NOT NULL DEFAULT '[]',
	is_read             INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	is_starred          INTEGER NOT NULL DEFAULT 0 CHECK(is_starred IN (0, 1)),
	metadata            TEXT NOT NULL DEFAULT '{}',
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(account_id, provider_message_id)
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	account_id        TEXT NOT NULL,
	folder            TEXT NOT NULL,
	last_synced_at    DATETIME NOT NULL,
	last_stored_count INTEGER NOT NULL DEFAULT 0,
	history_id        TEXT NOT NULL DEFAULT '',
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account_id, folder)
);

CREATE TABLE IF NOT EXISTS client_addresses (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	email      TEXT NOT NULL,
	UNIQUE(account_id, client_id, email)
);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	source_type TEXT NOT NULL,
	message     TEXT NOT NULL,
	stored      INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	read        INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_emails_account_received ON emails(account_id, received_at);
CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(account_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_client_addresses_account ON client_addresses(account_id);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_emails_client_id
	ON emails(client_id);

CREATE INDEX IF NOT EXISTS idx_notifications_account_id
	ON notifications(account_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
ALTER TABLE sync_cursors ADD COLUMN page_token TEXT NOT NULL DEFAULT '';
ALTER TABLE sync_cursors ADD COLUMN page_since DATETIME;
ALTER TABLE sync_cursors ADD COLUMN page_started_at DATETIME;

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
