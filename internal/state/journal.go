package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/convoy/internal/notify"
)

const defaultJournalBuffer = 1024

// logTimeLayout is fixed width so logged_at sorts lexically.
const logTimeLayout = "2006-01-02T15:04:05.000000000Z"

// LogEntry is one finished task as recorded in task_log.
type LogEntry struct {
	TaskID     string           `json:"task_id"`
	Pool       string           `json:"pool"`
	Type       string           `json:"type,omitempty"`
	TargetRef  string           `json:"target_ref,omitempty"`
	Status     string           `json:"status"`
	WorkerID   string           `json:"worker_id,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Rewards    map[string]int64 `json:"rewards,omitempty"`
	FinishedAt float64          `json:"finished_at"`
	LoggedAt   time.Time        `json:"logged_at"`
}

// Journal is a notify.Sink that records completed and cancelled tasks.
// Notify only enqueues; a background writer inserts rows, so a slow disk
// never stalls the dispatcher. Entries are dropped when the buffer is full.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	now     func() time.Time
	ch      chan LogEntry
	dropped atomic.Int64

	// mu guards closed; Notify sends under the read lock so Close never
	// closes ch under a sender.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewJournal(db *sql.DB, logger *slog.Logger) *Journal {
	return &Journal{
		db:     db,
		logger: logger.With("component", "journal"),
		now:    time.Now,
		ch:     make(chan LogEntry, defaultJournalBuffer),
	}
}

// Start launches the writer. Close stops it after draining.
func (j *Journal) Start() {
	j.wg.Add(1)
	go j.run()
}

// Close stops accepting entries and waits for pending writes.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()
	j.wg.Wait()
}

// Dropped reports entries lost to a full buffer.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) Notify(n notify.Notification) {
	var e LogEntry
	switch ev := n.(type) {
	case notify.TaskCompleted:
		e = LogEntry{
			TaskID:     ev.TaskID,
			Pool:       ev.PoolID,
			Type:       ev.Type,
			TargetRef:  ev.TargetRef,
			Status:     "completed",
			WorkerID:   ev.WorkerID,
			Rewards:    ev.Rewards,
			FinishedAt: ev.At,
		}
	case notify.TaskCancelled:
		e = LogEntry{
			TaskID:     ev.TaskID,
			Pool:       ev.PoolID,
			Status:     "cancelled",
			Reason:     ev.Reason,
			FinishedAt: ev.At,
		}
	default:
		return
	}
	e.LoggedAt = j.now().UTC()

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		j.logger.Debug("journal closed, entry dropped", "task_id", e.TaskID)
		return
	}
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
		j.logger.Warn("journal buffer full, entry dropped", "task_id", e.TaskID)
	}
}

func (j *Journal) run() {
	defer j.wg.Done()
	for e := range j.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.insert(ctx, e); err != nil {
			j.logger.Error("failed to record task", "task_id", e.TaskID, "error", err)
		}
		cancel()
	}
}

func (j *Journal) insert(ctx context.Context, e LogEntry) error {
	var rewards any
	if len(e.Rewards) > 0 {
		b, err := json.Marshal(e.Rewards)
		if err != nil {
			return fmt.Errorf("marshal rewards: %w", err)
		}
		rewards = string(b)
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO task_log(id, pool, type, target_ref, status, worker_id, reason, rewards, finished_at, logged_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, e.TaskID, e.Pool, e.Type, e.TargetRef, e.Status, nullString(e.WorkerID), nullString(e.Reason), rewards,
		e.FinishedAt, e.LoggedAt.UTC().Format(logTimeLayout))
	if err != nil {
		return fmt.Errorf("insert task_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty pool matches
// every pool.
func (j *Journal) Recent(ctx context.Context, pool string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, pool, type, target_ref, status, worker_id, reason, rewards, finished_at, logged_at
FROM task_log
WHERE (? = '' OR pool = ?)
ORDER BY logged_at DESC, id
LIMIT ?;
`, pool, pool, limit)
	if err != nil {
		return nil, fmt.Errorf("query task_log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e                       LogEntry
			worker, reason, rewards sql.NullString
			logged                  string
		)
		if err := rows.Scan(&e.TaskID, &e.Pool, &e.Type, &e.TargetRef, &e.Status, &worker, &reason, &rewards, &e.FinishedAt, &logged); err != nil {
			return nil, fmt.Errorf("scan task_log: %w", err)
		}
		e.WorkerID = worker.String
		e.Reason = reason.String
		if rewards.Valid && rewards.String != "" {
			if err := json.Unmarshal([]byte(rewards.String), &e.Rewards); err != nil {
				return nil, fmt.Errorf("decode rewards for %s: %w", e.TaskID, err)
			}
		}
		if t, err := time.Parse(logTimeLayout, logged); err == nil {
			e.LoggedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneTaskLog deletes entries logged before now minus retention.
func (j *Journal) PruneTaskLog(ctx context.Context, retention time.Duration) error {
	cutoff := j.now().UTC().Add(-retention).Format(logTimeLayout)
	res, err := j.db.ExecContext(ctx, "DELETE FROM task_log WHERE logged_at < ?;", cutoff)
	if err != nil {
		return fmt.Errorf("prune task_log: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		j.logger.Info("pruned task log", "rows", n, "retention", retention)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
