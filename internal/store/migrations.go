package store

// migration is one schema version. Statements must be portable between
// SQLite and PostgreSQL.
type migration struct {
	Version    int
	Name       string
	Statements []string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create message status log",
		Statements: []string{
			`CREATE TABLE message_status (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL,
				source      TEXT NOT NULL,
				status      TEXT NOT NULL,
				sender      TEXT NOT NULL DEFAULT '',
				content     TEXT NOT NULL,
				reply       TEXT NOT NULL DEFAULT '',
				error       TEXT NOT NULL DEFAULT '',
				received_at BIGINT NOT NULL,
				updated_at  BIGINT NOT NULL
			)`,
			`CREATE INDEX idx_message_status_user ON message_status (user_id, received_at)`,
			`CREATE INDEX idx_message_status_status ON message_status (status)`,
		},
	},
}
