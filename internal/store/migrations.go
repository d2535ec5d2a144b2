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

CREATE TABLE IF NOT EXISTS conversations (
	id             TEXT PRIMARY KEY,
	subject        TEXT NOT NULL,
	participants   TEXT NOT NULL DEFAULT '[]',
	terminal_state TEXT NOT NULL,
	archived_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	message_type    TEXT NOT NULL,
	from_agent_id   TEXT NOT NULL,
	from_address    TEXT NOT NULL,
	to_address      TEXT NOT NULL,
	sent_at         DATETIME NOT NULL,
	payload         TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS calendar_events (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	start_time  DATETIME NOT NULL,
	end_time    DATETIME NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	attendees   TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON conversation_messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_events_start ON calendar_events(start_time);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
