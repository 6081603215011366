// Package sqlite is the concrete store.Store backend: it persists every
// entity from internal/model in a single SQLite database using
// github.com/ncruces/go-sqlite3 (a pure-Go, wazero-backed driver — no
// cgo, matching the teacher repo's own storage stack) with schema
// migrations applied via github.com/golang-migrate/migrate/v4.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // bundles the SQLite library, no system dependency

	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/store"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is the sqlite-backed store.Store implementation.
type Store struct {
	db         *sql.DB
	tasks      *taskRepo
	schedules  *scheduleRepo
	jobs       *jobRepo
	executions *executionRepo
	users      *userRepo
	sessions   *sessionRepo
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if necessary) the database at dsn and migrates it
// to the latest schema. dsn is a file path, or ":memory:"/"file::memory:?cache=shared"
// for ephemeral test databases (see OpenMemory).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}

	// SQLite serializes writers at the file level; a single open
	// connection avoids SQLITE_BUSY races from Go's connection pool
	// racing itself, matching the single-writer discipline assumed by
	// JobRepository.Dequeue's compare-and-set (§5 "single *sql.DB per
	// process").
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.tasks = &taskRepo{db: db}
	s.schedules = &scheduleRepo{db: db}
	s.jobs = &jobRepo{db: db}
	s.executions = &executionRepo{db: db}
	s.users = &userRepo{db: db}
	s.sessions = &sessionRepo{db: db}
	return s, nil
}

// OpenMemory opens an ephemeral in-memory database for tests. It uses
// SQLite's shared cache, so stores open at the same time in one process
// share one database; it is discarded when the last of them closes.
func OpenMemory() (*Store, error) {
	return Open("file::memory:?cache=shared")
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: load migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("sqlite: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("sqlite: migrate up: %w", err)
	}
	log.Info(log.CatStore, "schema migrated")
	return nil
}

func (s *Store) Tasks() store.TaskRepository           { return s.tasks }
func (s *Store) Schedules() store.ScheduleRepository    { return s.schedules }
func (s *Store) Jobs() store.JobRepository              { return s.jobs }
func (s *Store) Executions() store.ExecutionRepository  { return s.executions }
func (s *Store) Users() store.UserRepository            { return s.users }
func (s *Store) Sessions() store.SessionRepository      { return s.sessions }

func (s *Store) Close() error { return s.db.Close() }
