package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antigravity-gateway/rotation-gateway/internal/logging"
)

const maxLoggedChars = 4000

// SQLiteAuditLog persists RequestLog rows to an embedded, pure-Go SQLite
// database, independent of whichever Store handles account rotation.
type SQLiteAuditLog struct {
	db *sql.DB
}

// OpenSQLiteAuditLog opens (creating if absent) the audit database at path.
func OpenSQLiteAuditLog(path string) (*SQLiteAuditLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identity TEXT NOT NULL,
	prompt TEXT NOT NULL,
	response_text TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	success INTEGER NOT NULL,
	system_instruction TEXT,
	created_at TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteAuditLog{db: db}, nil
}

// Close releases the underlying database handle.
func (a *SQLiteAuditLog) Close() error { return a.db.Close() }

func truncate(s string) string {
	if len(s) <= maxLoggedChars {
		return s
	}
	return s[:maxLoggedChars]
}

// AddRequestLog inserts one audit row, truncating prompt/response text
// before the row is ever built so an oversight elsewhere cannot leak a
// full body even transiently. Failures are logged and swallowed — audit
// logging is best-effort and must never fail the request it describes.
func (a *SQLiteAuditLog) AddRequestLog(ctx context.Context, entry RequestLogEntry) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO request_logs (identity, prompt, response_text, token_count, success, system_instruction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Identity,
		truncate(entry.Prompt),
		truncate(entry.ResponseText),
		entry.TokenCount,
		boolToInt(entry.Success),
		truncate(entry.SystemInstruction),
		entry.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		logging.Warn("audit log insert failed: %v", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
