package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDrift is returned by Up when a migration already recorded in the schema
// no longer matches its file. The curated tables are rebuilt from upstream
// on every run, but the upstream and ledger tables are not, so an edited
// migration must be replaced by a new version instead.
var ErrDrift = errors.New("applied migration changed on disk")

// Migration is one versioned SQL file, named NNN_description.sql.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Applied is a schema_migrations row. Checksum is empty for rows recorded
// before checksums were kept.
type Applied struct {
	At       time.Time
	Checksum string
}

// MigrationStatus is one line of `curation-etl migrate status`.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Drifted   bool
}

// Migrator applies the curation schema (upstream, curated and ledger tables)
// from a directory of SQL files.
type Migrator struct {
	pool *pgxpool.Pool
	dir  string
}

func NewMigrator(pool *pgxpool.Pool, migrationsDir string) *Migrator {
	return &Migrator{pool: pool, dir: migrationsDir}
}

// parseMigrationName returns the version prefix of a migration file name.
func parseMigrationName(name string) (int, bool) {
	stem, ok := strings.CutSuffix(name, ".sql")
	if !ok {
		return 0, false
	}
	prefix, _, ok := strings.Cut(stem, "_")
	if !ok {
		return 0, false
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, false
	}
	return version, true
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// EnsureMigrationsTable creates schema.schema_migrations and adds the
// checksum column to tables created before it existed.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context, schema string) error {
	if !ValidSchema(schema) {
		return fmt.Errorf("invalid schema identifier: %s", schema)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`, schema),
		fmt.Sprintf(`ALTER TABLE %s.schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT`, schema),
	}
	for _, stmt := range stmts {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("prepare %s.schema_migrations: %w", schema, err)
		}
	}
	return nil
}

// LoadMigrations reads the migration files in version order. Files without
// a numeric prefix are ignored; two files sharing a version are an error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory %s: %w", m.dir, err)
	}

	byVersion := make(map[int]Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev.Name, entry.Name())
		}
		content, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		byVersion[version] = Migration{
			Version:  version,
			Name:     entry.Name(),
			SQL:      string(content),
			Checksum: checksum(string(content)),
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// AppliedVersions reads schema.schema_migrations.
func (m *Migrator) AppliedVersions(ctx context.Context, schema string) (map[int]Applied, error) {
	if !ValidSchema(schema) {
		return nil, fmt.Errorf("invalid schema identifier: %s", schema)
	}
	rows, err := m.pool.Query(ctx, fmt.Sprintf(
		`SELECT version, applied_at, COALESCE(checksum, '') FROM %s.schema_migrations`, schema))
	if err != nil {
		return nil, fmt.Errorf("query applied migrations in %s: %w", schema, err)
	}
	defer rows.Close()

	applied := make(map[int]Applied)
	for rows.Next() {
		var v int
		var a Applied
		if err := rows.Scan(&v, &a.At, &a.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = a
	}
	return applied, rows.Err()
}

// Up applies pending migrations to schema and returns how many it applied.
// It refuses to run while any applied migration has drifted. Each migration
// commits on its own, under a per-schema advisory lock so that concurrent
// `migrate up` and `run` processes apply a version once.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	if err := m.EnsureMigrationsTable(ctx, schema); err != nil {
		return 0, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	applied, err := m.AppliedVersions(ctx, schema)
	if err != nil {
		return 0, err
	}
	for _, s := range mergeStatus(migrations, applied) {
		if s.Drifted {
			return 0, fmt.Errorf("%w: %s in schema %s", ErrDrift, s.Name, schema)
		}
	}

	count := 0
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		ran, err := m.apply(ctx, schema, mig)
		if err != nil {
			return count, fmt.Errorf("apply migration %s: %w", mig.Name, err)
		}
		if ran {
			count++
		}
	}
	return count, nil
}

// apply runs mig unless another process recorded it after AppliedVersions
// was read.
func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) (bool, error) {
	ran := false
	err := WithTx(ctx, m.pool, pgx.TxOptions{}, func(ctx context.Context) error {
		q := Conn(ctx, m.pool)
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, schema+".schema_migrations"); err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		if _, err := q.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}

		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`,
			mig.Version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration: %w", err)
		}
		if exists {
			return nil
		}

		if _, err := q.Exec(ctx, mig.SQL); err != nil {
			return fmt.Errorf("execute SQL: %w", err)
		}
		if _, err := q.Exec(ctx, `INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			mig.Version, mig.Name, mig.Checksum); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		ran = true
		return nil
	})
	return ran, err
}

// Status lists every migration file with whether schema has applied it.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	if err := m.EnsureMigrationsTable(ctx, schema); err != nil {
		return nil, err
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.AppliedVersions(ctx, schema)
	if err != nil {
		return nil, err
	}
	return mergeStatus(migrations, applied), nil
}

func mergeStatus(migrations []Migration, applied map[int]Applied) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		s := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if a, ok := applied[mig.Version]; ok {
			at := a.At
			s.Applied = true
			s.AppliedAt = &at
			s.Drifted = a.Checksum != "" && a.Checksum != mig.Checksum
		}
		out = append(out, s)
	}
	return out
}
