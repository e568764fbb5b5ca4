package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

// Migration files live under migrations/<dialect>/ and are named
// NNN_description.sql. Versions must be unique per dialect.
//
//go:embed migrations
var migrationFS embed.FS

type migration struct {
	Version int
	Name    string
	SQL     string
}

// loadMigrations reads the dialect's migrations in version order.
func loadMigrations(fsys fs.FS, dialect Dialect) ([]migration, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".sql")
		num, name, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must look like 001_description.sql", e.Name())
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{Version: version, Name: name, SQL: string(body)})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.Version - b.Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d for %s", out[i].Version, dialect)
		}
	}
	return out, nil
}

// runMigrations applies the pending migrations, each in its own
// transaction, and returns the versions it applied.
func runMigrations(ctx context.Context, db *sql.DB, dialect Dialect) ([]int, error) {
	pending, err := loadMigrations(migrationFS, dialect)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return nil, fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}

	record := `INSERT INTO schema_version (version, name) VALUES (?, ?)`
	if dialect == DialectPostgres {
		record = `INSERT INTO schema_version (version, name) VALUES ($1, $2)`
	}

	var applied []int
	for _, m := range pending {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m, record); err != nil {
			return applied, err
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration, record string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, m.Version, m.Name); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}

// splitStatements strips "--" comments and splits a script into its
// statements. Comments go first so a semicolon inside one never ends a
// statement.
func splitStatements(script string) []string {
	var stmts []string
	for _, chunk := range strings.Split(stripComments(script), ";") {
		if chunk = strings.TrimSpace(chunk); chunk != "" {
			stmts = append(stmts, chunk)
		}
	}
	return stmts
}

// stripComments removes "--" comments outside single-quoted literals.
func stripComments(script string) string {
	var b strings.Builder
	b.Grow(len(script))
	for _, line := range strings.SplitAfter(script, "\n") {
		inQuote := false
		cut := len(line)
		for i := 0; i < len(line); i++ {
			switch {
			case line[i] == '\'':
				inQuote = !inQuote
			case !inQuote && strings.HasPrefix(line[i:], "--"):
				cut = i
			}
			if cut < len(line) {
				break
			}
		}
		b.WriteString(line[:cut])
		if cut < len(line) && strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
