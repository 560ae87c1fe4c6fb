package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	schemaDir = "sql/migrations"
	// schemaLockKey: ключ pg_advisory_lock, общий для всех реплик pdfstore.
	schemaLockKey     = int64(0x70646673)
	schemaLockWait    = 5 * time.Second
	schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version BIGINT PRIMARY KEY,
    label TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	schemaFS embed.FS

	schemaFileName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)
)

// schemaChange: пара up/down скриптов одной версии.
type schemaChange struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (c schemaChange) label() string {
	return fmt.Sprintf("%04d_%s", c.Version, c.Name)
}

// schemaPlan упорядочен по возрастанию версии.
type schemaPlan []schemaChange

func (p schemaPlan) pending(applied []int64) schemaPlan {
	out := make(schemaPlan, 0, len(p))
	for _, c := range p {
		if !slices.Contains(applied, c.Version) {
			out = append(out, c)
		}
	}
	return out
}

func (p schemaPlan) find(version int64) (schemaChange, bool) {
	i, ok := slices.BinarySearchFunc(p, version, func(c schemaChange, v int64) int {
		return cmp.Compare(c.Version, v)
	})
	if !ok {
		return schemaChange{}, false
	}
	return p[i], true
}

// MigrateUp применяет steps ещё не применённых версий, 0 означает все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan, applied []int64) error {
		todo := plan.pending(applied)
		if steps > 0 && steps < len(todo) {
			todo = todo[:steps]
		}
		for _, c := range todo {
			if err := runSchemaStep(ctx, conn, c, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает последние steps версий. При steps<=0 откатывается одна.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan, applied []int64) error {
		for i := len(applied) - 1; i >= 0 && steps > 0; i-- {
			c, ok := plan.find(applied[i])
			if !ok {
				return fmt.Errorf("cannot rollback unknown schema version %d", applied[i])
			}
			if err := runSchemaStep(ctx, conn, c, false); err != nil {
				return err
			}
			steps--
		}
		return nil
	})
}

// MigrationStatus возвращает последнюю применённую версию и число применённых.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(applied) == 0 {
		return 0, 0, nil
	}
	return applied[len(applied)-1], len(applied), nil
}

// MigrationReport описывает состояние схемы для `migrate -direction status`.
type MigrationReport struct {
	Version   int64
	Applied   int
	Available int
	Pending   []string
}

// MigrationReport сравнивает встроенные миграции с применёнными.
func (s *Store) MigrationReport(ctx context.Context) (MigrationReport, error) {
	plan, err := readSchemaPlan(schemaFS)
	if err != nil {
		return MigrationReport{}, err
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return MigrationReport{}, err
	}

	report := MigrationReport{Applied: len(applied), Available: len(plan), Pending: []string{}}
	if len(applied) > 0 {
		report.Version = applied[len(applied)-1]
	}
	for _, c := range plan.pending(applied) {
		report.Pending = append(report.Pending, c.label())
	}
	return report, nil
}

func (s *Store) appliedVersions(ctx context.Context) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store is not initialized")
	}
	queryCtx, cancel := context.WithTimeout(ctx, schemaLockWait)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaVersionsDDL); err != nil {
		return nil, fmt.Errorf("ensure schema_versions: %w", err)
	}
	return listVersions(queryCtx, s.db)
}

// withSchemaLock держит advisory lock на выделенном соединении, пока выполняется fn.
func (s *Store) withSchemaLock(ctx context.Context, fn func(*sql.Conn, schemaPlan, []int64) error) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	plan, err := readSchemaPlan(schemaFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, schemaLockWait)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaVersionsDDL); err != nil {
		return fmt.Errorf("ensure schema_versions: %w", err)
	}
	applied, err := listVersions(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, plan, applied)
}

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// listVersions возвращает применённые версии по возрастанию.
func listVersions(ctx context.Context, q rowsQuerier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_versions ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query schema versions: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema versions: %w", err)
	}
	return versions, nil
}

// runSchemaStep выполняет скрипт и правку schema_versions в одной транзакции.
func runSchemaStep(ctx context.Context, conn *sql.Conn, c schemaChange, up bool) (err error) {
	verb, script := "rollback", c.Down
	if up {
		verb, script = "apply", c.Up
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", verb, c.label(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s %s: %w", verb, c.label(), err)
	}
	if up {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_versions (version, label) VALUES ($1, $2)`, c.Version, c.label())
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_versions WHERE version = $1`, c.Version)
	}
	if err != nil {
		return fmt.Errorf("%s %s: record version: %w", verb, c.label(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s %s: commit: %w", verb, c.label(), err)
	}
	return nil
}

// readSchemaPlan собирает план из каталога sql/migrations.
// У каждой версии обязаны быть оба скрипта.
func readSchemaPlan(fsys fs.FS) (schemaPlan, error) {
	entries, err := fs.ReadDir(fsys, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaChange)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := schemaFileName.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", entry.Name(), err)
		}

		raw, err := fs.ReadFile(fsys, path.Join(schemaDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		c, ok := byVersion[version]
		if !ok {
			c = &schemaChange{Version: version, Name: m[2]}
			byVersion[version] = c
		}
		if c.Name != m[2] {
			return nil, fmt.Errorf("migration %d has two names: %s and %s", version, c.Name, m[2])
		}
		target := &c.Down
		if m[3] == "up" {
			target = &c.Up
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s script for migration %d", m[3], version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	plan := make(schemaPlan, 0, len(byVersion))
	for _, c := range byVersion {
		if c.Up == "" || c.Down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", c.label())
		}
		plan = append(plan, *c)
	}
	slices.SortFunc(plan, func(a, b schemaChange) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return plan, nil
}
