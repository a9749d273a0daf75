package ingest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedgerDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(openLedgerDB(t), "sqlite")
	require.NoError(t, err)
	return ledger
}

func ledgerEntry(hash, status string, finished time.Time) Entry {
	return Entry{
		Hash:       hash,
		Path:       "cases.csv",
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
		Ingested:   3,
		Duplicates: 1,
		Status:     status,
	}
}

func TestNewLedger_RequiresDB(t *testing.T) {
	_, err := NewLedger(nil, "sqlite")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database handle is required")
}

func TestNewLedger_RejectsUnknownDialect(t *testing.T) {
	_, err := NewLedger(openLedgerDB(t), "oracle")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dialect")
}

func TestNewLedger_NormalizesSQLite3DriverName(t *testing.T) {
	ledger, err := NewLedger(openLedgerDB(t), "sqlite3")
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, ledger.Record(ctx, ledgerEntry("aa", StatusCompleted, now)))

	seen, err := ledger.Seen(ctx, "aa")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestLedger_SeenAfterCompleted(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seen, err := ledger.Seen(ctx, "aa")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, ledger.Record(ctx, ledgerEntry("aa", StatusCompleted, now)))

	seen, err = ledger.Seen(ctx, "aa")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestLedger_FailedEntriesAreNotSeen(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := ledgerEntry("bb", StatusFailed, now)
	entry.Error = "Error storing data: connection refused"
	require.NoError(t, ledger.Record(ctx, entry))

	seen, err := ledger.Seen(ctx, "bb")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestLedger_RecordOverwritesByHash(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	failed := ledgerEntry("cc", StatusFailed, now)
	failed.Error = "embedder offline"
	require.NoError(t, ledger.Record(ctx, failed))

	require.NoError(t, ledger.Record(ctx, ledgerEntry("cc", StatusCompleted, now.Add(time.Minute))))

	entries, err := ledger.Entries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, StatusCompleted, entries[0].Status)
	assert.Empty(t, entries[0].Error)

	seen, err := ledger.Seen(ctx, "cc")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestLedger_EntriesNewestFirst(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, ledger.Record(ctx, ledgerEntry("old", StatusCompleted, base)))
	require.NoError(t, ledger.Record(ctx, ledgerEntry("mid", StatusFailed, base.Add(time.Minute))))
	require.NoError(t, ledger.Record(ctx, ledgerEntry("new", StatusCompleted, base.Add(2*time.Minute))))

	entries, err := ledger.Entries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "new", entries[0].Hash)
	assert.Equal(t, "mid", entries[1].Hash)

	all, err := ledger.Entries(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLedger_EntriesRoundTripFields(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	entry := ledgerEntry("dd", StatusCompleted, now)
	entry.Failed = 2
	require.NoError(t, ledger.Record(ctx, entry))

	entries, err := ledger.Entries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "dd", got.Hash)
	assert.Equal(t, "cases.csv", got.Path)
	assert.Equal(t, 3, got.Ingested)
	assert.Equal(t, 1, got.Duplicates)
	assert.Equal(t, 2, got.Failed)
	assert.True(t, got.FinishedAt.Equal(now))
}

func TestLedger_RebindConvertsPlaceholdersForPostgres(t *testing.T) {
	pg := &Ledger{dialect: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &Ledger{dialect: "sqlite"}
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}

func TestContentHash(t *testing.T) {
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		ContentHash([]byte("abc")))
	assert.NotEqual(t, ContentHash([]byte("abc")), ContentHash([]byte("abd")))
}
