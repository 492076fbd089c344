package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"settlecraft.ai/internal/metrics"
	"settlecraft.ai/internal/persistence/indexdb"
	"settlecraft.ai/internal/persistence/snapshot"
	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/catalogs"
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/gridworld"
	"settlecraft.ai/internal/sim/model"
	"settlecraft.ai/internal/sim/resolver"
	"settlecraft.ai/internal/sim/settlement"
	"settlecraft.ai/internal/sim/territory"
	"settlecraft.ai/internal/sim/tuning"
)

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

func TestParseStation(t *testing.T) {
	pos, bp, rot, err := parseStation("4,64,-2:starter_hut:1")
	require.NoError(t, err)
	assert.Equal(t, geom.Vec3i{X: 4, Y: 64, Z: -2}, pos)
	assert.Equal(t, "starter_hut", bp)
	assert.Equal(t, 1, rot)

	_, _, rot, err = parseStation("0,64,0:watchtower")
	require.NoError(t, err)
	assert.Zero(t, rot)

	for _, bad := range []string{"0,64:hut", "0,64,0", "0,64,0:", "a,b,c:hut", "0,64,0:hut:x"} {
		_, _, _, err := parseStation(bad)
		assert.Error(t, err, bad)
	}
}

func TestCatalogDigestIgnoresMapOrder(t *testing.T) {
	a := catalogDigest(map[string]string{"items.json": "1", "tags.json": "2"})
	b := catalogDigest(map[string]string{"tags.json": "2", "items.json": "1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, catalogDigest(map[string]string{"items.json": "1", "tags.json": "3"}))
}

type countAuditor struct{ n int }

func (c *countAuditor) AuditSetBlock(uint64, string, geom.Vec3i, string, string, string) { c.n++ }

func TestAuditorsFanOut(t *testing.T) {
	a, b := &countAuditor{}, &countAuditor{}
	auditors{a, b}.AuditSetBlock(1, "a-1", geom.Vec3i{}, "AIR", "GLASS", "BUILD")
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestSnapshotterWritesAndInspects(t *testing.T) {
	log := zaptest.NewLogger(t)
	cats, err := catalogs.Load(filepath.Join(findRepoRoot(t), "configs"), log)
	require.NoError(t, err)
	tun := tuning.Defaults()

	world := gridworld.New(tun.World, cats.Table, log)
	res := resolver.New(cats.Table, cats.Recipes, tun.ResolverMaxDepth, log)
	exec := executor.New(tun.Executor, res, world, executor.Options{Logger: log, Seed: 3})
	host := settlement.New(tun.Settlement, cats.Table, world, territory.NewRegistry(),
		blueprint.NewCompiler(cats.Blueprints, tun.Blueprint, log), exec, tun.Reconcile,
		settlement.Options{
			Navigators: func(a *model.Agent) executor.Navigator { return world.NewNavigator(&a.Pos) },
			Logger:     log,
		})
	_, err = host.PlaceStation(geom.Vec3i{X: 0, Y: tun.World.GroundY, Z: 0}, "starter_hut", 0)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		host.Step()
	}

	dir := t.TempDir()
	s := &snapshotter{
		host: host, world: world, dir: dir,
		digest: catalogDigest(cats.Digests), seed: 3, keep: 1,
		rec: metrics.NewRecorder(), log: log,
	}
	tick, err := s.Write(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), tick)
	host.Step()
	_, err = s.Write(context.Background())
	require.NoError(t, err)

	latest := snapshot.Latest(dir)
	assert.Equal(t, filepath.Join(dir, snapshot.FileName(21)), latest)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "older snapshot pruned")

	var out bytes.Buffer
	inspectCmd.SetOut(&out)
	inspectFull = true
	t.Cleanup(func() { inspectFull = false })
	require.NoError(t, inspectCmd.RunE(inspectCmd, []string{latest}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "tick=21")
	assert.Contains(t, lines[2], "starter_hut")
}

func TestLedgerQueriesStations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := indexdb.OpenSQLite(path, indexdb.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	idx.RecordStation("overworld", geom.Vec3i{X: 1, Y: 64, Z: 2}, "a-1", "starter_hut", true, 300)
	require.NoError(t, idx.Flush(context.Background()))
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	require.NoError(t, queryLedger(db, "stations", 10, &out))
	var row map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &row))
	assert.Equal(t, "starter_hut", row["blueprint"])
	assert.Equal(t, "a-1", row["agent_id"])
	assert.EqualValues(t, 300, row["tick"])

	assert.Error(t, queryLedger(db, "nope", 10, &out))
}
