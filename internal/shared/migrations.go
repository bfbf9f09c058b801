package shared

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// NoSchema is the version reported for a database with no migrations applied.
const NoSchema = -1

// Migration is one numbered schema change, loaded from a pair of files named
// NNNN_<name>_up.sql and NNNN_<name>_down.sql.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// MigrationReport describes what a call to [RunMigrations] changed.
type MigrationReport struct {
	From    int
	To      int
	Applied []int
}

// Migrations returns the embedded migrations ordered by version.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(schemaFS, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	byVersion := make(map[int]*Migration, len(names)/2)
	for _, name := range names {
		base := strings.TrimPrefix(name, "sql/")
		stem, direction, ok := cutDirection(base)
		if !ok {
			continue
		}
		prefix, label, _ := strings.Cut(stem, "_")
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", base, err)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &Migration{Version: version, Name: label}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %04d_%s needs both up and down scripts", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}

func cutDirection(base string) (stem, direction string, ok bool) {
	if stem, ok = strings.CutSuffix(base, "_up.sql"); ok {
		return stem, "up", true
	}
	if stem, ok = strings.CutSuffix(base, "_down.sql"); ok {
		return stem, "down", true
	}
	return "", "", false
}

// SchemaVersion returns the highest applied migration, or [NoSchema].
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if err := ensureMigrationTable(ctx, db); err != nil {
		return NoSchema, err
	}
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return NoSchema, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return NoSchema, nil
	}
	return int(version.Int64), nil
}

// RunMigrations applies every embedded migration newer than the current
// schema version, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) (MigrationReport, error) {
	migrations, err := Migrations()
	if err != nil {
		return MigrationReport{}, err
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return MigrationReport{}, err
	}

	report := MigrationReport{From: current, To: current}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(ctx, db, m.Up, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.Version, time.Now().UTC())
		if err != nil {
			return report, fmt.Errorf("migration %04d_%s: %w", m.Version, m.Name, err)
		}
		report.Applied = append(report.Applied, m.Version)
		report.To = m.Version
	}
	return report, nil
}

// RollbackMigration reverts the most recently applied migration and returns
// its version. It returns [NoSchema] when nothing is applied.
func RollbackMigration(ctx context.Context, db *sql.DB) (int, error) {
	current, err := SchemaVersion(ctx, db)
	if err != nil || current == NoSchema {
		return NoSchema, err
	}

	migrations, err := Migrations()
	if err != nil {
		return NoSchema, err
	}
	i := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == current })
	if i < 0 {
		return NoSchema, fmt.Errorf("no embedded migration for applied version %d", current)
	}

	m := migrations[i]
	if err := inTx(ctx, db, m.Down, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
		return NoSchema, fmt.Errorf("rollback %04d_%s: %w", m.Version, m.Name, err)
	}
	return m.Version, nil
}

func ensureMigrationTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

// inTx runs script statement by statement followed by the bookkeeping query.
func inTx(ctx context.Context, db *sql.DB, script, record string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range statements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w (statement: %.60q)", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// statements drops "--" comment lines and splits script on semicolons.
func statements(script string) []string {
	var b strings.Builder
	for line := range strings.SplitSeq(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for stmt := range strings.SplitSeq(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
