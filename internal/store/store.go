// Package store provides the persistent, content-addressed key-value
// backing for operation results (spec component C2): an atomic
// claim/complete/fail protocol, a memory-cache fallback for
// non-serializable values, and background persistence writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the terminal/non-terminal execution state of a node.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned by Get when neither the persistent store nor the
// memory cache holds a value for the given id.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyClaimed is returned by TryClaim when another worker's claim
// token already owns the row.
var ErrAlreadyClaimed = errors.New("store: already claimed by other worker")

// ErrInvalidTransition is returned when mark_completed/mark_failed is
// called on a node that is not currently running.
var ErrInvalidTransition = errors.New("store: invalid state transition")

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	data_type TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	size_bytes INTEGER NOT NULL DEFAULT 0,
	metadata TEXT
);

CREATE TABLE IF NOT EXISTS execution_state (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK (status IN ('running','completed','failed')),
	claim_token TEXT,
	session_id TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS session_state (
	session_id TEXT PRIMARY KEY,
	last_heartbeat DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Result is the opaque value produced by a primitive, decoded generically
// (JSON numbers surface as float64, as with any encoding/json round trip).
type Result struct {
	Value    any
	Metadata string
}

type writeJob struct {
	id       string
	data     []byte
	dataType string
	metadata string
}

// Store is the content-addressed, SQLite-backed result store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.Mutex
	memory  map[string]Result // synchronous cache: serializable-pending-write and permanent non-serializable entries
	pending map[string]bool   // ids whose memory entry is pending background eviction

	notifyMu sync.Mutex
	waiters  map[string][]chan struct{}

	writeQueue chan writeJob
	writeWG    sync.WaitGroup
	closeOnce  sync.Once
	closed     chan struct{}

	sessionID string
}

// Options configures store construction.
type Options struct {
	Path        string        // "" or ":memory:" for an in-memory, non-persistent store
	WriteQueue  int           // background write queue depth, default 64
	BusyTimeout time.Duration // SQLite busy_timeout, default 5s
	Logger      *slog.Logger
}

// Open opens (creating if necessary) the SQLite-backed store at path and
// ensures its schema exists.
func Open(ctx context.Context, opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = 64
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every new connection to ":memory:" opens its own empty database, so
		// the pool is held to one connection to share the schema and rows.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("store: set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`PRAGMA busy_timeout = %d;`, opts.BusyTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}

	s := &Store{
		db:         db,
		logger:     logger,
		memory:     make(map[string]Result),
		pending:    make(map[string]bool),
		waiters:    make(map[string][]chan struct{}),
		writeQueue: make(chan writeJob, opts.WriteQueue),
		closed:     make(chan struct{}),
		sessionID:  uuid.NewString(),
	}

	if err := s.registerSession(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.writeWG.Add(1)
	go s.runWriter()

	return s, nil
}

// SessionID returns the session-cohort identifier this store registered at
// startup (spec.md §4.2 crash recovery, §6.2 session_state).
func (s *Store) SessionID() string { return s.sessionID }

// Close stops the background writer, waiting for queued writes to flush.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.writeWG.Wait()
	return s.db.Close()
}

func (s *Store) registerSession(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_state (session_id, last_heartbeat) VALUES (?, datetime('now'))
		 ON CONFLICT(session_id) DO UPDATE SET last_heartbeat = datetime('now')`,
		s.sessionID)
	if err != nil {
		return fmt.Errorf("store: register session: %w", err)
	}
	return nil
}

// Heartbeat refreshes this store's session liveness row.
func (s *Store) Heartbeat(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE session_state SET last_heartbeat = datetime('now') WHERE session_id = ?`, s.sessionID)
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}
	return nil
}

// Exists reports whether id has a result available, either persisted or in
// the memory cache.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, inMemory := s.memory[id]
	s.mu.Unlock()
	if inMemory {
		return true, nil
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM results WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", id, err)
	}
	return count > 0, nil
}

// Put persists value under id. If value cannot be JSON-serialized, it is
// retained only in the memory cache (a SerializationFailure downgraded to a
// warning per spec.md §4.2) and the caller may still call MarkCompleted.
func (s *Store) Put(ctx context.Context, id string, value any, metadata string) error {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("store: serialization failure, retaining in memory only", "node_id", id, "err", err)
		s.mu.Lock()
		s.memory[id] = Result{Value: value, Metadata: metadata}
		s.mu.Unlock()
		return nil
	}

	// Make the result visible to concurrent Get callers immediately (closes
	// the race where a waiter wakes on notification before the background
	// write lands), then queue the actual persistence.
	s.mu.Lock()
	s.memory[id] = Result{Value: value, Metadata: metadata}
	s.pending[id] = true
	s.mu.Unlock()

	select {
	case s.writeQueue <- writeJob{id: id, data: data, dataType: "json", metadata: metadata}:
	case <-s.closed:
		return fmt.Errorf("store: closed")
	}
	return nil
}

func (s *Store) runWriter() {
	defer s.writeWG.Done()
	for {
		select {
		case job := <-s.writeQueue:
			s.persist(job)
		case <-s.closed:
			for {
				select {
				case job := <-s.writeQueue:
					s.persist(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) persist(job writeJob) {
	var metaArg any
	if job.metadata != "" {
		metaArg = job.metadata
	}
	_, err := s.db.Exec(
		`INSERT INTO results (id, data, data_type, size_bytes, metadata) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.id, job.data, job.dataType, len(job.data), metaArg,
	)
	if err != nil {
		s.logger.Error("store: background persist failed, keeping memory cache entry", "node_id", job.id, "err", err)
		return
	}
	s.mu.Lock()
	delete(s.pending, job.id)
	delete(s.memory, job.id)
	s.mu.Unlock()
}

// Get returns the value stored for id, consulting the memory cache before
// the persistent store.
func (s *Store) Get(ctx context.Context, id string) (Result, error) {
	s.mu.Lock()
	if r, ok := s.memory[id]; ok {
		s.mu.Unlock()
		return r, nil
	}
	s.mu.Unlock()

	var data []byte
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT data, metadata FROM results WHERE id = ?`, id).Scan(&data, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, fmt.Errorf("store: get %s: %w", id, err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return Result{}, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return Result{Value: value, Metadata: metadata.String}, nil
}

// TryClaim attempts to claim exclusive computation rights for id. Each call
// generates a fresh claim token; TryClaim inserts the row if absent, then
// re-reads it and reports ErrAlreadyClaimed if another token won the race.
func (s *Store) TryClaim(ctx context.Context, id string) (claimed bool, err error) {
	token := uuid.NewString()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_state (id, status, claim_token, session_id, started_at)
		 VALUES (?, 'running', ?, ?, datetime('now'))
		 ON CONFLICT(id) DO NOTHING`,
		id, token, s.sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("store: try_claim %s: %w", id, err)
	}

	var storedToken string
	err = s.db.QueryRowContext(ctx, `SELECT claim_token FROM execution_state WHERE id = ?`, id).Scan(&storedToken)
	if err != nil {
		return false, fmt.Errorf("store: try_claim %s: read back: %w", id, err)
	}
	if storedToken != token {
		return false, ErrAlreadyClaimed
	}
	return true, nil
}

// MarkCompleted transitions id from running to completed and notifies waiters.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_state SET status = 'completed', finished_at = datetime('now')
		 WHERE id = ? AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("store: mark_completed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: mark_completed %s: %w", id, ErrInvalidTransition)
	}
	s.notify(id)
	return nil
}

// MarkFailed transitions id from running to failed, recording message, and
// notifies waiters.
func (s *Store) MarkFailed(ctx context.Context, id string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_state SET status = 'failed', finished_at = datetime('now'), error_message = ?
		 WHERE id = ? AND status = 'running'`, message, id)
	if err != nil {
		return fmt.Errorf("store: mark_failed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: mark_failed %s: %w", id, ErrInvalidTransition)
	}
	s.notify(id)
	return nil
}

// State describes the current status of a node's execution_state row.
type State struct {
	Status       Status
	ErrorMessage string
}

// GetState reads the current execution state row for id.
func (s *Store) GetState(ctx context.Context, id string) (State, bool, error) {
	var status string
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT status, error_message FROM execution_state WHERE id = ?`, id).Scan(&status, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("store: get_state %s: %w", id, err)
	}
	return State{Status: Status(status), ErrorMessage: errMsg.String}, true, nil
}

// WaitForCompletion blocks until id reaches a terminal state, then returns
// its result or failure.
func (s *Store) WaitForCompletion(ctx context.Context, id string) (Result, error) {
	for {
		// Subscribe before reading the state, so a notification sent between
		// the read and the wait is not lost.
		ch := s.subscribe(id)
		state, ok, err := s.GetState(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if ok && state.Status == StatusCompleted {
			return s.Get(ctx, id)
		}
		if ok && state.Status == StatusFailed {
			return Result{}, fmt.Errorf("store: node %s: %s", id, state.ErrorMessage)
		}

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func (s *Store) subscribe(id string) chan struct{} {
	ch := make(chan struct{})
	s.notifyMu.Lock()
	s.waiters[id] = append(s.waiters[id], ch)
	s.notifyMu.Unlock()
	return ch
}

func (s *Store) notify(id string) {
	s.notifyMu.Lock()
	chans := s.waiters[id]
	delete(s.waiters, id)
	s.notifyMu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

// CleanupStale resets running claims that are either older than staleAfter
// or owned by a session with no recent heartbeat, returning the count
// reclaimed (spec.md §4.2 crash recovery, SPEC_FULL.md §D.3).
func (s *Store) CleanupStale(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	cutoff := now.Add(-staleAfter).UTC().Format("2006-01-02 15:04:05")

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id FROM execution_state e
		LEFT JOIN session_state s ON s.session_id = e.session_id
		WHERE e.status = 'running'
		  AND (e.started_at < ? OR s.session_id IS NULL OR s.last_heartbeat < ?)`,
		cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup_stale: query: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: cleanup_stale: scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("store: cleanup_stale: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM execution_state WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("store: cleanup_stale: delete %s: %w", id, err)
		}
		s.logger.Info("store: reclaimed stale claim", "node_id", id)
	}
	return len(ids), nil
}

// PurgeFailed deletes the failed execution_state row for id, permitting a
// retry on the next run (spec.md §9 open question, resolved in DESIGN.md:
// failures are not retried automatically, but may be purged explicitly).
func (s *Store) PurgeFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_state WHERE id = ? AND status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("store: purge_failed %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: purge_failed %s: no failed row", id)
	}
	return nil
}
