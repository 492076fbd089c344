package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"settlecraft.ai/internal/persistence/snapshot"
	"settlecraft.ai/internal/sim/geom"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var station = geom.Vec3i{X: 10, Y: 64, Z: -4}

func open(t *testing.T, path string) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(path, Options{CommitMaxWait: 50 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return idx
}

func flush(t *testing.T, idx *SQLiteIndex) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, idx.Flush(ctx))
}

func TestProgressAndCursorSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx := open(t, path)

	idx.RecordProgress("a-1", station, 3, 20, 100)
	idx.RecordProgress("a-1", station, 4, 20, 110)
	c, ok := idx.SavedCursor("a-1", station)
	require.True(t, ok)
	assert.Equal(t, 4, c)
	require.NoError(t, idx.Close())

	idx = open(t, path)
	defer idx.Close()
	c, ok = idx.SavedCursor("a-1", station)
	require.True(t, ok)
	assert.Equal(t, 4, c)

	_, ok = idx.SavedCursor("a-2", station)
	assert.False(t, ok)
}

func TestStationsAuditsAndSnapshots(t *testing.T) {
	idx := open(t, filepath.Join(t.TempDir(), "index.sqlite"))
	defer idx.Close()

	idx.RecordStation("overworld", station, "a-1", "starter_hut", false, 1)
	idx.RecordStation("overworld", station, "a-1", "starter_hut", true, 900)
	idx.AuditSetBlock(5, "a-1", geom.Vec3i{X: 9, Y: 65, Z: -4}, "AIR", "OAK_PLANKS", "BUILD")
	idx.AuditSetBlock(5, "a-1", geom.Vec3i{X: 9, Y: 64, Z: -4}, "TALL_GRASS", "AIR", "CLEAR")
	idx.RecordSnapshot("/data/snapshots/900.snap.zst", snapshot.Header{Version: 1, Dimension: "overworld", Tick: 900, Stations: 1, Agents: 1})
	require.NoError(t, idx.UpsertCatalogs(map[string]string{"items.json": "d1", "recipes.json": "d2"}))
	flush(t, idx)

	var built bool
	var tick int64
	require.NoError(t, idx.db.QueryRow(`SELECT built, tick FROM stations WHERE x=? AND y=? AND z=?`,
		station.X, station.Y, station.Z).Scan(&built, &tick))
	assert.True(t, built)
	assert.Equal(t, int64(900), tick)

	var audits, maxSeq int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*), MAX(seq) FROM audits WHERE tick=5`).Scan(&audits, &maxSeq))
	assert.Equal(t, 2, audits)
	assert.Equal(t, 1, maxSeq)

	var snaps, catalogs int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&snaps))
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&catalogs))
	assert.Equal(t, 1, snaps)
	assert.Equal(t, 2, catalogs)
	assert.Zero(t, idx.Stats().WriteErrorTotal)
}

func TestQueueDropsWhenFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1), cursors: map[cursorKey]int{}}
	s.RecordStation("overworld", station, "a-1", "hut", false, 1)

	s.RecordStation("overworld", station, "a-1", "hut", false, 2)
	s.AuditSetBlock(2, "a-1", station, "AIR", "DIRT", "BUILD")
	s.RecordSnapshot("x", snapshot.Header{})
	s.RecordProgress("a-1", station, 1, 2, 2)

	st := s.Stats()
	assert.Equal(t, Stats{
		QueueDepth: 1, QueueCapacity: 1,
		DropProgressTotal: 1, DropStationTotal: 1, DropAuditTotal: 1, DropSnapshotTotal: 1,
	}, st)

	c, ok := s.SavedCursor("a-1", station)
	assert.True(t, ok, "dropped progress still updates the cursor cache")
	assert.Equal(t, 1, c)
}

func TestNilIndexIsInert(t *testing.T) {
	var s *SQLiteIndex
	s.RecordProgress("a", station, 1, 1, 1)
	s.RecordStation("overworld", station, "a", "hut", false, 1)
	s.AuditSetBlock(1, "a", station, "AIR", "DIRT", "")
	_, ok := s.SavedCursor("a", station)
	assert.False(t, ok)
	assert.NoError(t, s.Flush(context.Background()))
}
