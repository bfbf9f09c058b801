package shared

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// BusyTimeoutMillis is how long a connection waits on a locked session database before failing.
const BusyTimeoutMillis = 5000

// sessionPragmas are applied by the driver to every pooled connection.
var sessionPragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {fmt.Sprint(BusyTimeoutMillis)},
	"_foreign_keys": {"on"},
}

// NewDatabase opens the session database at path (":memory:" for tests) and verifies the connection.
// Every connection runs in WAL mode with a busy timeout; pragmas already present in a "?" query on path win.
func NewDatabase(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	db, err := sql.Open("sqlite3", DatabaseDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", path, err)
	}

	return db, nil
}

// DatabaseDSN appends the session pragmas to path as go-sqlite3 connection parameters.
func DatabaseDSN(path string) string {
	base, query, _ := strings.Cut(path, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		params = url.Values{}
	}
	for k, v := range sessionPragmas {
		if !params.Has(k) {
			params[k] = v
		}
	}
	return base + "?" + params.Encode()
}

// ConfigureDatabase bounds the connection pool. Non-positive values leave the driver default.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
}
