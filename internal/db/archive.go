package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zvirb/comandind-sub004/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS rollback_snapshots (
	snapshot_id   TEXT PRIMARY KEY,
	taken_at      TIMESTAMPTZ NOT NULL,
	rollback_safe BOOLEAN NOT NULL,
	checksum      TEXT NOT NULL,
	body          JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS rollback_operations (
	rollback_id        TEXT PRIMARY KEY,
	trigger            TEXT NOT NULL,
	status             TEXT NOT NULL,
	affected_services  TEXT[] NOT NULL,
	target_snapshot_id TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	completed_at       TIMESTAMPTZ,
	body               JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS rollback_operations_created_at ON rollback_operations (created_at DESC);
`

// DB is the subset of *pgxpool.Pool the archive uses
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Archive keeps a durable history of snapshots and rollback operations in
// PostgreSQL. The cache holds the working set; this is the audit trail.
type Archive struct {
	db DB
}

func NewArchive(db DB) *Archive {
	return &Archive{db: db}
}

// EnsureSchema creates the archive tables if they do not exist
func (a *Archive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create archive schema: %w", err)
	}
	return nil
}

func (a *Archive) ArchiveSnapshot(ctx context.Context, snap domain.SystemSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.SnapshotID, err)
	}
	_, err = a.db.Exec(ctx,
		`INSERT INTO rollback_snapshots (snapshot_id, taken_at, rollback_safe, checksum, body)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (snapshot_id) DO NOTHING`,
		snap.SnapshotID, snap.Timestamp, snap.RollbackSafe, snap.Checksum, body,
	)
	if err != nil {
		return fmt.Errorf("archive snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

func (a *Archive) ArchiveRollback(ctx context.Context, op domain.RollbackOperation) error {
	body, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode rollback %s: %w", op.RollbackID, err)
	}
	_, err = a.db.Exec(ctx,
		`INSERT INTO rollback_operations
		 (rollback_id, trigger, status, affected_services, target_snapshot_id, created_at, completed_at, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (rollback_id) DO UPDATE
		 SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at, body = EXCLUDED.body`,
		op.RollbackID, string(op.Trigger), string(op.Status), op.AffectedServices,
		op.TargetSnapshotID, op.CreatedAt, op.CompletedAt, body,
	)
	if err != nil {
		return fmt.Errorf("archive rollback %s: %w", op.RollbackID, err)
	}
	return nil
}

// ListRollbacks returns archived operations, newest first
func (a *Archive) ListRollbacks(ctx context.Context, limit int) ([]domain.RollbackOperation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(ctx,
		`SELECT body FROM rollback_operations ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rollbacks: %w", err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan rollbacks: %w", err)
	}

	out := make([]domain.RollbackOperation, 0, len(bodies))
	for _, body := range bodies {
		var op domain.RollbackOperation
		if err := json.Unmarshal(body, &op); err != nil {
			return nil, fmt.Errorf("decode archived rollback: %w", err)
		}
		out = append(out, op)
	}
	return out, nil
}

// DatabaseState reports server metadata for snapshots. No table data is read.
func (a *Archive) DatabaseState(ctx context.Context) (map[string]string, error) {
	var (
		version, name string
		size, conns   int64
	)
	err := a.db.QueryRow(ctx,
		`SELECT version(), current_database(), pg_database_size(current_database()),
		        (SELECT count(*) FROM pg_stat_activity)`,
	).Scan(&version, &name, &size, &conns)
	if err != nil {
		return nil, fmt.Errorf("query database state: %w", err)
	}
	return map[string]string{
		"status":      "available",
		"version":     version,
		"database":    name,
		"size_bytes":  strconv.FormatInt(size, 10),
		"connections": strconv.FormatInt(conns, 10),
	}, nil
}
