// Package store persists scheduler runs, node results, and events to
// SQLite, and serves as the cross-run memoization cache pkg/scheduler's
// WithMemo option consumes (spec §4.9's "memoization survives a process
// restart" requirement).
//
// Grounded on pkg/stores/sqlite_store.go's connection setup and
// golang-migrate-over-embedded-FS migration pattern, re-pointed from the
// teacher's infra-resource run/plan-unit/resource-state/fact/audit tables
// at the scheduler's run/node-result/event/module-version-cache tables.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"

	"github.com/openfroyo/garden/pkg/gardenerr"
	"github.com/openfroyo/garden/pkg/scheduler"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures a Store.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the SQLite-backed persistence layer for run history and the
// cross-run memoization cache.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a Store bound to cfg.Path. Call Init and Migrate before use.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, gardenerr.New(gardenerr.KindConfiguration, "store path is required")
	}
	return &Store{path: cfg.Path}, nil
}

// Init opens the database connection in WAL mode.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to open store database", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to ping store database", err)
	}
	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate runs pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if s.db == nil {
		return gardenerr.New(gardenerr.KindInternal, "store not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to open embedded migrations", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to create migration driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to create migration runner", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to run migrations", err)
	}
	return nil
}

// CreateRun records the start of a new scheduler run.
func (s *Store) CreateRun(ctx context.Context, id, rootPath string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, root_path, status, started_at, created_at) VALUES (?, ?, 'running', ?, ?)`,
		id, rootPath, time.Now(), time.Now(),
	)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to create run record", err)
	}
	return nil
}

// CompleteRun marks a run terminal, with an error message if it failed.
func (s *Store) CompleteRun(ctx context.Context, id, status string, runErr error) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errMsg, time.Now(), id,
	)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to complete run record", err)
	}
	return nil
}

// SaveResult upserts a terminal node result for cross-run memoization. A
// node is only replayed from the cache if Version matches, so this is
// safe to call unconditionally for every node the scheduler finishes.
func (s *Store) SaveResult(ctx context.Context, runID string, result *scheduler.Result) error {
	outputs, err := json.Marshal(result.Outputs)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal node outputs", err)
	}
	var errMsg *string
	if result.Err != nil {
		msg := result.Err.Error()
		errMsg = &msg
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO node_results (run_id, node_type, node_name, version, status, outputs, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_type, node_name, version) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			outputs = excluded.outputs,
			error = excluded.error,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at
	`,
		runID, int(result.Key.Type), result.Key.Name, result.Key.Version,
		result.Status.String(), string(outputs), errMsg, result.StartedAt, result.EndedAt,
	)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to save node result", err).WithEntity(result.Key.Name)
	}
	return nil
}

// LoadMemo reads every successfully-completed node result and returns it
// as the seed map scheduler.WithMemo expects, so a later run against the
// same module versions skips re-running unchanged work.
func (s *Store) LoadMemo(ctx context.Context) (map[scheduler.MemoKey]*scheduler.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_type, node_name, version, status, outputs, started_at, ended_at FROM node_results WHERE status = 'complete'`,
	)
	if err != nil {
		return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to load memoization cache", err)
	}
	defer rows.Close()

	memo := map[scheduler.MemoKey]*scheduler.Result{}
	for rows.Next() {
		var nodeType int
		var name, version, status, outputsJSON string
		var startedAt, endedAt time.Time
		if err := rows.Scan(&nodeType, &name, &version, &status, &outputsJSON, &startedAt, &endedAt); err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindRuntime, "failed to scan memoization row", err)
		}
		var outputs map[string]interface{}
		if err := json.Unmarshal([]byte(outputsJSON), &outputs); err != nil {
			return nil, gardenerr.Wrap(gardenerr.KindInternal, "failed to decode memoized outputs", err)
		}
		key := scheduler.MemoKey{Type: scheduler.NodeType(nodeType), Name: name, Version: version}
		memo[key] = &scheduler.Result{
			Key:       key,
			Status:    scheduler.Complete,
			Outputs:   outputs,
			StartedAt: startedAt,
			EndedAt:   endedAt,
			Memoized:  true,
		}
	}
	return memo, rows.Err()
}

// Publish implements scheduler.EventPublisher, persisting every scheduler
// event for later audit and the "garden get run" style inspection
// commands.
func (s *Store) Publish(runID string) scheduler.EventPublisher {
	return &eventPublisher{store: s, runID: runID}
}

type eventPublisher struct {
	store *Store
	runID string
}

func (p *eventPublisher) Publish(ctx context.Context, event scheduler.Event) {
	_, _ = p.store.db.ExecContext(ctx,
		`INSERT INTO events (run_id, node_type, node_name, status, message, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		p.runID, int(event.Key.Type), event.Key.Name, event.Status.String(), event.Message, event.Timestamp,
	)
}

// GetModuleVersion returns a cached module version, if present.
func (s *Store) GetModuleVersion(ctx context.Context, moduleName string) (string, bool, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT version FROM module_version_cache WHERE module_name = ?`, moduleName).Scan(&version)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, gardenerr.Wrap(gardenerr.KindRuntime, "failed to read module version cache", err)
	}
	return version, true, nil
}

// SetModuleVersion caches a computed module version.
func (s *Store) SetModuleVersion(ctx context.Context, moduleName, version string, files []string) error {
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindInternal, "failed to marshal tracked files", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO module_version_cache (module_name, version, files, computed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(module_name) DO UPDATE SET version = excluded.version, files = excluded.files, computed_at = excluded.computed_at
	`, moduleName, version, string(filesJSON), time.Now())
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "failed to write module version cache", err)
	}
	return nil
}

// HealthCheck verifies the database connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return gardenerr.New(gardenerr.KindInternal, "store not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "store health check failed", err)
	}
	return nil
}
