package sqldb

import "fmt"

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ChunkLimit is the maximum number of values in an IN clause
const ChunkLimit = 500

func schema(driver string) ([]string, error) {
	var blob string
	switch driver {
	case DriverSQLite:
		blob = "BLOB"
	case DriverPostgres:
		blob = "BYTEA"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS mailboxes (
			mailbox_key  TEXT PRIMARY KEY,
			namespace    TEXT NOT NULL,
			username     TEXT NOT NULL,
			name         TEXT NOT NULL,
			uid_validity BIGINT NOT NULL,
			last_uid     BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			mailbox_key   TEXT NOT NULL REFERENCES mailboxes (mailbox_key),
			uid           BIGINT NOT NULL,
			internal_date BIGINT NOT NULL,
			zone_offset   BIGINT NOT NULL DEFAULT 0,
			size          BIGINT NOT NULL,
			flags         TEXT NOT NULL,
			headers       TEXT NOT NULL,
			media_type    TEXT NOT NULL,
			body          ` + blob + ` NOT NULL,
			PRIMARY KEY (mailbox_key, uid)
		)`,
	}, nil
}

var dropSchema = []string{
	`DROP TABLE IF EXISTS messages`,
	`DROP TABLE IF EXISTS mailboxes`,
}

// emptyBlob is the literal selected instead of a body which was not asked for
func emptyBlob(driver string) string {
	if driver == DriverPostgres {
		return "''::bytea"
	}
	return "x''"
}
