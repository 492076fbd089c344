package catalogs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const configDir = "../../../configs"

func TestLoadShippedCatalogs(t *testing.T) {
	c, err := Load(configDir, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"fenced_garden", "starter_hut", "watchtower"}, c.Blueprints.IDs())
	for _, name := range []string{"items.json", "blocks.json", "tags.json", "recipes.json", "blueprints"} {
		assert.Len(t, c.Digests[name], 64, name)
	}
	assert.True(t, c.Table.InTag("OAK_LOG", "logs"))
	_, ok := c.Table.Item("GLASS")
	assert.True(t, ok)

	hut, ok := c.Blueprints.Template("starter_hut")
	require.True(t, ok)
	assert.Equal(t, [3]int{5, 4, 5}, hut.Size)
	assert.NotEmpty(t, hut.Cells)
}

// copyConfigs copies the shipped catalogs so a test can break one file.
func copyConfigs(t *testing.T) string {
	t.Helper()
	dst := t.TempDir()
	for _, name := range []string{"items.json", "blocks.json", "tags.json", "recipes.json"} {
		raw, err := os.ReadFile(filepath.Join(configDir, name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, name), raw, 0o644))
	}
	return dst
}

func TestLoadRejectsUnknownRecipeItem(t *testing.T) {
	dir := copyConfigs(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipes.json"), []byte(`[
  {"recipe_id": "mystery", "inputs": [{"item": "UNOBTAINIUM", "count": 1}], "output": {"item": "STICK", "count": 1}}
]`), 0o644))

	_, err := Load(dir, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNOBTAINIUM")
}

func TestLoadRejectsSchemaViolation(t *testing.T) {
	dir := copyConfigs(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recipes.json"), []byte(`{"not": "an array"}`), 0o644))

	_, err := Load(dir, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipes.json")
}

func TestMissingBlueprintDirIsEmpty(t *testing.T) {
	c, err := Load(copyConfigs(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Zero(t, c.Blueprints.Len())
}

const shedJSON = `{"id": "shed", "cells": [{"pos": [0, 0, 0], "kind": "OAK_PLANKS"}]}`

func TestReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shed.json"), []byte(shedJSON), 0o644))
	s := NewBlueprintStore(dir, zaptest.NewLogger(t))
	require.NoError(t, s.Reload())
	digest := s.Digest()
	assert.Equal(t, []string{"shed"}, s.IDs())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.json"), []byte(shedJSON), 0o644))
	err := s.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
	assert.Equal(t, []string{"shed"}, s.IDs())
	assert.Equal(t, digest, s.Digest())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dup.json"), []byte(`{"id": "bad", "cells": [{"pos": [0, 0], "kind": "X"}]}`), 0o644))
	assert.Error(t, s.Reload())
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	s := NewBlueprintStore(dir, zaptest.NewLogger(t))
	require.NoError(t, s.Reload())

	bw, err := NewBlueprintWatcher(s, zaptest.NewLogger(t))
	require.NoError(t, err)
	bw.Debounce = 10 * time.Millisecond
	reloaded := make(chan []string, 4)
	bw.OnReload = func(ids []string) { reloaded <- ids }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bw.Run(ctx) }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "shed.json"), []byte(shedJSON), 0o644))
	select {
	case ids := <-reloaded:
		assert.Equal(t, []string{"shed"}, ids)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
	_, ok := s.Template("shed")
	assert.True(t, ok)

	cancel()
	require.NoError(t, <-done)
}
