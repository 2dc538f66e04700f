// ABOUTME: Durable sync checkpoint for the change feed processor
// ABOUTME: One row per deployment, stored through database/sql on sqlite or postgres

package cast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SyncState is the last change feed sequence fully applied to the target
type SyncState struct {
	SyncedSequence int64
	SyncedDate     time.Time
}

// SyncStateStore persists the checkpoint
type SyncStateStore interface {
	Get(ctx context.Context) (SyncState, error)
	Update(ctx context.Context, state SyncState) error
}

// Supported state store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const syncStateSchema = `
CREATE TABLE IF NOT EXISTS sync_state (
	id INTEGER PRIMARY KEY,
	synced_sequence BIGINT NOT NULL,
	synced_date_ns BIGINT NOT NULL
)`

// SQLSyncStateStore keeps the checkpoint in a single row with id 1
type SQLSyncStateStore struct {
	db     *sql.DB
	driver string
	floor  int64
}

// OpenSQLSyncStateStore opens the database and creates the table if needed. The first
// Get initialises the row to floor.
func OpenSQLSyncStateStore(ctx context.Context, driver, dsn string, floor int64) (*SQLSyncStateStore, error) {
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create state dir: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("cast: unsupported state driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s := &SQLSyncStateStore{db: db, driver: driver, floor: floor}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSyncStateStore) ensureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, syncStateSchema); err != nil {
		return fmt.Errorf("create sync_state: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for postgres
func (s *SQLSyncStateStore) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get returns the checkpoint, creating it at the floor on first use.
func (s *SQLSyncStateStore) Get(ctx context.Context) (SyncState, error) {
	var seq, ns int64
	err := s.db.QueryRowContext(ctx, "SELECT synced_sequence, synced_date_ns FROM sync_state WHERE id = 1").Scan(&seq, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx,
			s.rebind("INSERT INTO sync_state (id, synced_sequence, synced_date_ns) VALUES (1, ?, 0) ON CONFLICT (id) DO NOTHING"),
			s.floor)
		if err != nil {
			return SyncState{}, fmt.Errorf("initialise sync state: %w", err)
		}
		return s.Get(ctx)
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("read sync state: %w", err)
	}

	state := SyncState{SyncedSequence: seq}
	if ns != 0 {
		state.SyncedDate = time.Unix(0, ns).UTC()
	}
	return state, nil
}

// Update overwrites the checkpoint.
func (s *SQLSyncStateStore) Update(ctx context.Context, state SyncState) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO sync_state (id, synced_sequence, synced_date_ns) VALUES (1, ?, ?)
ON CONFLICT (id) DO UPDATE SET synced_sequence = excluded.synced_sequence, synced_date_ns = excluded.synced_date_ns`),
		state.SyncedSequence, state.SyncedDate.UnixNano())
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	return nil
}

// Close releases the database handle
func (s *SQLSyncStateStore) Close() error {
	return s.db.Close()
}
