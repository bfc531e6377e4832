// Package state persists dispatcher snapshots and the log of finished
// tasks in SQLite.
package state

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/convoy/internal/dispatch"
)

const (
	DefaultMaxSnapshotBytes = 64 << 20
	DefaultKeepSnapshots    = 5
)

var (
	ErrNoSnapshot      = errors.New("no snapshot stored")
	ErrSnapshotCorrupt = errors.New("snapshot checksum mismatch")
)

// SnapshotInfo describes a stored snapshot row.
type SnapshotInfo struct {
	ID        int64
	Version   int
	TakenAt   float64
	Checksum  string
	CreatedAt time.Time
}

type Store struct {
	db       *sql.DB
	keep     int
	maxBytes int
	now      func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		keep:     DefaultKeepSnapshots,
		maxBytes: DefaultMaxSnapshotBytes,
		now:      time.Now,
	}
}

// Save writes snap with its BLAKE3 checksum and trims older rows so only
// the most recent few remain.
func (s *Store) Save(ctx context.Context, snap dispatch.Snapshot) (SnapshotInfo, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(payload) > s.maxBytes {
		return SnapshotInfo{}, fmt.Errorf("snapshot exceeds max size (%d > %d bytes)", len(payload), s.maxBytes)
	}

	info := SnapshotInfo{
		Version:   snap.Version,
		TakenAt:   snap.TakenAt,
		Checksum:  checksum(payload),
		CreatedAt: s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO dispatcher_snapshot(version, taken_at, checksum, payload, created_at)
VALUES(?, ?, ?, ?, ?);
`, info.Version, info.TakenAt, info.Checksum, string(payload), info.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("insert snapshot: %w", err)
	}
	if info.ID, err = res.LastInsertId(); err != nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
DELETE FROM dispatcher_snapshot
WHERE id NOT IN (SELECT id FROM dispatcher_snapshot ORDER BY id DESC LIMIT ?);
`, s.keep)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("trim snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SnapshotInfo{}, fmt.Errorf("commit tx: %w", err)
	}
	return info, nil
}

// Latest loads the newest snapshot. It returns ErrNoSnapshot when the table
// is empty and ErrSnapshotCorrupt when the payload does not match its
// checksum.
func (s *Store) Latest(ctx context.Context) (dispatch.Snapshot, SnapshotInfo, error) {
	var (
		info    SnapshotInfo
		payload string
		created string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, version, taken_at, checksum, payload, created_at
FROM dispatcher_snapshot ORDER BY id DESC LIMIT 1;
`).Scan(&info.ID, &info.Version, &info.TakenAt, &info.Checksum, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Snapshot{}, SnapshotInfo{}, ErrNoSnapshot
	}
	if err != nil {
		return dispatch.Snapshot{}, SnapshotInfo{}, fmt.Errorf("read snapshot: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		info.CreatedAt = t
	}

	if got := checksum([]byte(payload)); got != info.Checksum {
		return dispatch.Snapshot{}, info, fmt.Errorf("%w: snapshot %d has %s, stored %s", ErrSnapshotCorrupt, info.ID, got, info.Checksum)
	}
	var snap dispatch.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return dispatch.Snapshot{}, info, fmt.Errorf("%w: decode snapshot %d: %v", ErrSnapshotCorrupt, info.ID, err)
	}
	return snap, info, nil
}

func checksum(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Snapshotter is anything that can capture dispatcher state.
type Snapshotter interface {
	Snapshot() dispatch.Snapshot
}

// Checkpointer saves the source's snapshot to the store on demand.
type Checkpointer struct {
	Store  *Store
	Source Snapshotter
}

func (c Checkpointer) Checkpoint(ctx context.Context) error {
	_, err := c.Store.Save(ctx, c.Source.Snapshot())
	return err
}
