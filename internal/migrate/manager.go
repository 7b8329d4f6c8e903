package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"unitask.org/internal/obs"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

// Runner applies versioned SQL migrations and idempotent seed files.
// Files are read from an fs.FS so callers can point it at a directory
// or an embedded filesystem. File name order is execution order.
type Runner struct {
	db     *sql.DB
	source fs.FS
	seeds  fs.FS
}

// New constructs a Runner. Either filesystem may be nil when the
// corresponding step is not used.
func New(db *sql.DB, source, seeds fs.FS) *Runner {
	return &Runner{db: db, source: source, seeds: seeds}
}

// NewFromDirs is the disk-backed convenience constructor used by cmd/migrate.
func NewFromDirs(db *sql.DB, migrationsDir, seedsDir string) *Runner {
	var source, seeds fs.FS
	if migrationsDir != "" {
		source = os.DirFS(migrationsDir)
	}
	if seedsDir != "" {
		seeds = os.DirFS(seedsDir)
	}
	return New(db, source, seeds)
}

// Up applies every pending migration in name order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	done, err := r.appliedSet(ctx, migrationsTable)
	if err != nil {
		return err
	}
	names, err := listFiles(r.source, upSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := r.runFile(ctx, r.source, name); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if err := r.record(ctx, migrationsTable, name); err != nil {
			return err
		}
		obs.LogEvent(map[string]any{"event": "migrate.applied", "file": name})
	}
	return nil
}

// Down rolls back the most recently applied migration using its paired
// .down.sql file.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	applied, err := r.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	downName := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(r.source, downName); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.runFile(ctx, r.source, downName); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	if _, err := r.db.ExecContext(ctx, `delete from `+migrationsTable+` where name = $1`, last); err != nil {
		return err
	}
	obs.LogEvent(map[string]any{"event": "migrate.rolled_back", "file": last})
	return nil
}

// Applied returns the applied migration names in application order.
func (r *Runner) Applied(ctx context.Context) ([]string, error) {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `select name from `+migrationsTable+` order by applied_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Seed runs each seed file once, tracked in its own bookkeeping table.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureBookkeeping(ctx); err != nil {
		return err
	}
	done, err := r.appliedSet(ctx, seedsTable)
	if err != nil {
		return err
	}
	names, err := listFiles(r.seeds, seedSuffix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := r.runFile(ctx, r.seeds, name); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if err := r.record(ctx, seedsTable, name); err != nil {
			return err
		}
		obs.LogEvent(map[string]any{"event": "migrate.seeded", "file": name})
	}
	return nil
}

func (r *Runner) ensureBookkeeping(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := `create table if not exists ` + table + ` (
			name text primary key,
			applied_at timestamptz not null default now()
		)`
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// runFile executes one SQL file inside a single transaction.
func (r *Runner) runFile(ctx context.Context, src fs.FS, name string) error {
	raw, err := fs.ReadFile(src, name)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Runner) record(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx, `insert into `+table+`(name, applied_at) values ($1, $2)`,
		name, time.Now().UTC())
	return err
}

func (r *Runner) appliedSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `select name from `+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = true
	}
	return set, rows.Err()
}

// listFiles returns names with the given suffix at the root of src, sorted.
func listFiles(src fs.FS, suffix string) ([]string, error) {
	if src == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		// .down.sql also ends in .sql; keep the suffixes disjoint.
		if suffix == seedSuffix && (strings.HasSuffix(e.Name(), upSuffix) || strings.HasSuffix(e.Name(), downSuffix)) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits SQL text on semicolons outside string literals.
func splitStatements(sql string) []string {
	var stmts []string
	var cur strings.Builder
	inString := false
	for _, r := range sql {
		cur.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, cur.String())
				cur.Reset()
			}
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}
