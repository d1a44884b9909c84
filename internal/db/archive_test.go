package db

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zvirb/comandind-sub004/internal/domain"
	"github.com/zvirb/comandind-sub004/internal/rollback"
)

var (
	_ rollback.Archive           = (*Archive)(nil)
	_ rollback.DatabaseInspector = (*Archive)(nil)
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	execs  []execCall
	err    error
	bodies [][]byte
	row    []any
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fakeRows{bodies: f.bodies, pos: -1}, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{values: f.row, err: f.err}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		}
	}
	return nil
}

type fakeRows struct {
	bodies [][]byte
	pos    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.bodies)
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*[]byte)) = r.bodies[r.pos]
	return nil
}

func TestEnsureSchema(t *testing.T) {
	f := &fakeDB{}
	require.NoError(t, NewArchive(f).EnsureSchema(context.Background()))
	require.Len(t, f.execs, 1)
	assert.Contains(t, f.execs[0].sql, "rollback_snapshots")
	assert.Contains(t, f.execs[0].sql, "rollback_operations")

	f.err = errors.New("permission denied")
	assert.Error(t, NewArchive(f).EnsureSchema(context.Background()))
}

func TestArchiveSnapshot(t *testing.T) {
	f := &fakeDB{}
	snap := domain.SystemSnapshot{
		SnapshotID:   "s1",
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		HealthScores: map[string]float64{"api": 0.9},
		RollbackSafe: true,
	}
	snap.Checksum = snap.ComputeChecksum()

	require.NoError(t, NewArchive(f).ArchiveSnapshot(context.Background(), snap))
	require.Len(t, f.execs, 1)
	args := f.execs[0].args
	assert.Equal(t, "s1", args[0])
	assert.Equal(t, true, args[2])
	assert.Equal(t, snap.Checksum, args[3])

	var decoded domain.SystemSnapshot
	require.NoError(t, json.Unmarshal(args[4].([]byte), &decoded))
	assert.NoError(t, decoded.VerifyChecksum())
}

func TestArchiveRollback(t *testing.T) {
	f := &fakeDB{}
	op := domain.RollbackOperation{
		RollbackID:       "r1",
		Trigger:          domain.TriggerManual,
		Status:           domain.RollbackCompleted,
		AffectedServices: []string{"api"},
		TargetSnapshotID: "s1",
	}
	require.NoError(t, NewArchive(f).ArchiveRollback(context.Background(), op))
	require.Len(t, f.execs, 1)
	assert.True(t, strings.Contains(f.execs[0].sql, "ON CONFLICT (rollback_id) DO UPDATE"))
	assert.Equal(t, "manual", f.execs[0].args[1])
	assert.Equal(t, "completed", f.execs[0].args[2])

	f.err = errors.New("connection reset")
	err := NewArchive(f).ArchiveRollback(context.Background(), op)
	assert.ErrorContains(t, err, "archive rollback r1")
}

func TestListRollbacks(t *testing.T) {
	first, _ := json.Marshal(domain.RollbackOperation{RollbackID: "r2", Status: domain.RollbackFailed})
	second, _ := json.Marshal(domain.RollbackOperation{RollbackID: "r1", Status: domain.RollbackCompleted})
	f := &fakeDB{bodies: [][]byte{first, second}}

	ops, err := NewArchive(f).ListRollbacks(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "r2", ops[0].RollbackID)
	assert.Equal(t, domain.RollbackCompleted, ops[1].Status)

	f.bodies = [][]byte{[]byte("{")}
	_, err = NewArchive(f).ListRollbacks(context.Background(), 10)
	assert.Error(t, err)
}

func TestDatabaseState(t *testing.T) {
	f := &fakeDB{row: []any{"PostgreSQL 16.2", "depmon", int64(8192), int64(7)}}
	state, err := NewArchive(f).DatabaseState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"status":      "available",
		"version":     "PostgreSQL 16.2",
		"database":    "depmon",
		"size_bytes":  "8192",
		"connections": "7",
	}, state)

	f.err = errors.New("down")
	_, err = NewArchive(f).DatabaseState(context.Background())
	assert.Error(t, err)
}
