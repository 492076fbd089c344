// Package gridworld is an in-memory voxel world: chunked block storage,
// loose ground items and a straight-line navigator. It backs the daemon
// and package tests.
package gridworld

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/encoding"
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/inventory"
	"settlecraft.ai/internal/sim/materials"
)

// World is accessed only from the simulation loop goroutine.
type World struct {
	table  *materials.Table
	store  *chunkStore
	log    *zap.Logger
	locked map[geom.Vec3i]struct{}

	items    map[string]executor.GroundItem
	nextItem int
}

func New(gen Gen, table *materials.Table, log *zap.Logger) *World {
	if log == nil {
		log = zap.NewNop()
	}
	return &World{
		table:  table,
		store:  newChunkStore(gen, newPalette()),
		log:    log,
		locked: map[geom.Vec3i]struct{}{},
		items:  map[string]executor.GroundItem{},
	}
}

func (w *World) GroundY() int { return w.store.gen.GroundY }

func (w *World) MaterialAt(pos geom.Vec3i) materials.State {
	return w.store.palette.state(w.store.get(pos))
}

// SetMaterialAt refuses cells outside the boundary and locked cells.
func (w *World) SetMaterialAt(pos geom.Vec3i, s materials.State) bool {
	if _, ok := w.locked[pos]; ok {
		return false
	}
	return w.store.set(pos, w.store.palette.intern(s))
}

// Lock makes SetMaterialAt refuse pos until Unlock.
func (w *World) Lock(pos geom.Vec3i)   { w.locked[pos] = struct{}{} }
func (w *World) Unlock(pos geom.Vec3i) { delete(w.locked, pos) }

// BreakAndCollect clears pos and returns its drops. Blocks that need a
// tool drop nothing unless tool is a correct one.
func (w *World) BreakAndCollect(pos geom.Vec3i, tool string) []inventory.ItemStack {
	cur := w.MaterialAt(pos)
	if cur.IsAir() || !w.store.set(pos, w.store.palette.air) {
		return nil
	}
	def := w.table.Block(cur.Kind)
	if def.Drops == "" || (def.RequiresTool && !w.table.IsCorrectTool(tool, cur.Kind)) {
		return nil
	}
	return []inventory.ItemStack{{Kind: def.Drops, Count: 1}}
}

// SpawnItem drops a loose stack at pos and returns its id.
func (w *World) SpawnItem(pos geom.Vec3i, s inventory.ItemStack) string {
	w.nextItem++
	id := fmt.Sprintf("item-%d", w.nextItem)
	w.items[id] = executor.GroundItem{ID: id, Pos: pos, Stack: s}
	return id
}

// ItemsNear lists ground items within radius (Euclidean), nearest first.
func (w *World) ItemsNear(center geom.Vec3i, radius int) []executor.GroundItem {
	var out []executor.GroundItem
	for _, it := range w.items {
		if it.Pos.DistSq(center) <= radius*radius {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Pos.DistSq(center), out[j].Pos.DistSq(center)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (w *World) TakeItem(id string) (inventory.ItemStack, bool) {
	it, ok := w.items[id]
	if !ok {
		return inventory.ItemStack{}, false
	}
	delete(w.items, id)
	return it.Stack, true
}

func (w *World) ItemCount() int { return len(w.items) }

// Digest hashes every loaded chunk in key order.
func (w *World) Digest() [32]byte {
	h := sha256.New()
	for _, k := range w.store.loadedKeys() {
		d := w.store.chunks[k].Digest()
		fmt.Fprintf(h, "%d,%d,%d:", k.CX, k.CY, k.CZ)
		h.Write(d[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

type ChunkState struct {
	Key  ChunkKey
	Runs string
}

// State is the serializable form of a World.
type State struct {
	Palette  []materials.State
	Chunks   []ChunkState
	Items    []executor.GroundItem
	NextItem int
}

func (w *World) Export() State {
	st := State{
		Palette:  append([]materials.State(nil), w.store.palette.states...),
		NextItem: w.nextItem,
	}
	for _, k := range w.store.loadedKeys() {
		st.Chunks = append(st.Chunks, ChunkState{Key: k, Runs: encoding.EncodeRuns(w.store.chunks[k].Blocks)})
	}
	for _, it := range w.items {
		st.Items = append(st.Items, it)
	}
	sort.Slice(st.Items, func(i, j int) bool { return st.Items[i].ID < st.Items[j].ID })
	return st
}

// Import replaces the world contents with st.
func (w *World) Import(st State) error {
	if len(st.Palette) == 0 || st.Palette[0].Kind != materials.Air {
		return fmt.Errorf("gridworld: palette must start with %s", materials.Air)
	}
	p := &palette{ids: map[materials.State]uint16{}}
	for i, s := range st.Palette {
		if _, dup := p.ids[s]; dup {
			return fmt.Errorf("gridworld: duplicate palette entry %s", s)
		}
		p.states = append(p.states, s)
		p.ids[s] = uint16(i)
	}
	chunks := make(map[ChunkKey]*Chunk, len(st.Chunks))
	for _, cs := range st.Chunks {
		blocks, err := encoding.DecodeRuns(cs.Runs, chunkSize*chunkSize*chunkSize)
		if err != nil {
			return fmt.Errorf("gridworld: chunk %v: %w", cs.Key, err)
		}
		for _, b := range blocks {
			if int(b) >= len(p.states) {
				return fmt.Errorf("gridworld: chunk %v: palette id %d out of range", cs.Key, b)
			}
		}
		chunks[cs.Key] = &Chunk{Key: cs.Key, Blocks: blocks, dirty: true}
	}
	w.store.palette = p
	w.store.chunks = chunks
	w.items = make(map[string]executor.GroundItem, len(st.Items))
	for _, it := range st.Items {
		w.items[it.ID] = it
	}
	w.nextItem = st.NextItem
	w.log.Debug("world imported", zap.Int("chunks", len(chunks)), zap.Int("items", len(w.items)))
	return nil
}
