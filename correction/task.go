// Package correction implements the reviewer-driven correction workflow:
// flagging problems against committed entries and regenerating them.
package correction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opendict/lexicore/headword"
)

// Task statuses.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusRejected   = "rejected"
)

var (
	// ErrNoTask is returned by Claim when no claimable task exists.
	ErrNoTask = errors.New("no claimable task")

	// ErrTaskNotFound is returned for operations on an unknown task id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNotClaimant is returned when a worker acts on a task it does not hold.
	ErrNotClaimant = errors.New("task held by another worker")
)

// Task is one correction request filed against a committed entry.
type Task struct {
	ID        int64
	Headword  string
	Problem   string
	Reporter  string
	Status    string
	CreatedAt time.Time
	ClaimedBy string
	ClaimedAt time.Time
	Reason    string
}

// DefaultClaimTTL bounds how long a crashed worker can hold a claim before
// the task becomes claimable again.
const DefaultClaimTTL = 10 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	headword   TEXT NOT NULL,
	problem    TEXT NOT NULL,
	reporter   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	created_at INTEGER NOT NULL,
	claimed_by TEXT NOT NULL DEFAULT '',
	claimed_at INTEGER NOT NULL DEFAULT 0,
	reason     TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS tasks_pending_headword
	ON tasks(headword) WHERE status IN ('open', 'in_progress');
CREATE INDEX IF NOT EXISTS tasks_status ON tasks(status, id);
`

// TaskStore persists correction tasks in a local sqlite database. Task state
// transitions use conditional updates, so concurrent workers on the same
// database never double-claim.
type TaskStore struct {
	db       *sql.DB
	claimTTL time.Duration
}

// TaskStoreOption configures OpenTaskStore.
type TaskStoreOption func(*TaskStore)

// WithClaimTTL sets how long a claim blocks other workers.
func WithClaimTTL(d time.Duration) TaskStoreOption {
	return func(ts *TaskStore) {
		if d > 0 {
			ts.claimTTL = d
		}
	}
}

// OpenTaskStore opens (creating if necessary) the task database at path.
func OpenTaskStore(path string, optFns ...TaskStoreOption) (*TaskStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("task store schema: %w", err)
	}
	ts := &TaskStore{db: db, claimTTL: DefaultClaimTTL}
	for _, fn := range optFns {
		if fn != nil {
			fn(ts)
		}
	}
	return ts, nil
}

// Close closes the underlying database.
func (ts *TaskStore) Close() error { return ts.db.Close() }

// File records a correction request. Filing against a headword that already
// has a pending task returns the existing task instead of a duplicate.
func (ts *TaskStore) File(ctx context.Context, hw, problem, reporter string) (*Task, error) {
	hw = headword.Normalize(hw)
	if hw == "" {
		return nil, fmt.Errorf("empty headword")
	}

	now := time.Now().UTC()
	res, err := ts.db.ExecContext(ctx, `
		INSERT INTO tasks (headword, problem, reporter, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		hw, problem, reporter, StatusOpen, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("file task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ts.pendingByHeadword(ctx, hw)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return ts.Get(ctx, id)
}

// Claim atomically claims the oldest claimable task for workerID. A task is
// claimable when open, or in progress past the claim TTL (a crashed worker's
// claim is reclaimed). Returns ErrNoTask when the queue is empty.
func (ts *TaskStore) Claim(ctx context.Context, workerID string) (*Task, error) {
	now := time.Now().UTC()
	stale := now.Add(-ts.claimTTL).Unix()

	row := ts.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = ?, claimed_by = ?, claimed_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = ? OR (status = ? AND claimed_at < ?)
			ORDER BY id LIMIT 1
		)
		RETURNING id`,
		StatusInProgress, workerID, now.Unix(),
		StatusOpen, StatusInProgress, stale)

	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTask
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return ts.Get(ctx, id)
}

// Release puts a claimed task back to open, keeping it eligible for a later
// worker. Only the claimant may release.
func (ts *TaskStore) Release(ctx context.Context, id int64, workerID string) error {
	return ts.transition(ctx, id, workerID, StatusOpen, "")
}

// Resolve marks a claimed task done. Only the claimant may resolve.
func (ts *TaskStore) Resolve(ctx context.Context, id int64, workerID, reason string) error {
	return ts.transition(ctx, id, workerID, StatusResolved, reason)
}

// Reject closes a claimed task without changing the entry, recording why.
func (ts *TaskStore) Reject(ctx context.Context, id int64, workerID, reason string) error {
	return ts.transition(ctx, id, workerID, StatusRejected, reason)
}

func (ts *TaskStore) transition(ctx context.Context, id int64, workerID, status, reason string) error {
	res, err := ts.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, reason = ?
		WHERE id = ? AND status = ? AND claimed_by = ?`,
		status, reason, id, StatusInProgress, workerID)
	if err != nil {
		return fmt.Errorf("transition task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, gerr := ts.Get(ctx, id); gerr != nil {
			return gerr
		}
		return ErrNotClaimant
	}
	return nil
}

// Get returns one task by id.
func (ts *TaskStore) Get(ctx context.Context, id int64) (*Task, error) {
	return scanTask(ts.db.QueryRowContext(ctx,
		`SELECT id, headword, problem, reporter, status, created_at, claimed_by, claimed_at, reason
		 FROM tasks WHERE id = ?`, id))
}

func (ts *TaskStore) pendingByHeadword(ctx context.Context, hw string) (*Task, error) {
	return scanTask(ts.db.QueryRowContext(ctx,
		`SELECT id, headword, problem, reporter, status, created_at, claimed_by, claimed_at, reason
		 FROM tasks WHERE headword = ? AND status IN (?, ?)`,
		hw, StatusOpen, StatusInProgress))
}

// List returns tasks in a given status, oldest first. An empty status lists
// everything.
func (ts *TaskStore) List(ctx context.Context, status string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, headword, problem, reporter, status, created_at, claimed_by, claimed_at, reason
	      FROM tasks`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := ts.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var created, claimed int64
	err := row.Scan(&t.ID, &t.Headword, &t.Problem, &t.Reporter, &t.Status,
		&created, &t.ClaimedBy, &claimed, &t.Reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	if claimed > 0 {
		t.ClaimedAt = time.Unix(claimed, 0).UTC()
	}
	return &t, nil
}
