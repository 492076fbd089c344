package catalogs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/materials"
)

type BlueprintDef struct {
	ID     string   `json:"id"`
	Author string   `json:"author,omitempty"`
	Size   [3]int   `json:"size,omitempty"`
	Cells  []BPCell `json:"cells"`
}

type BPCell struct {
	Pos   [3]int `json:"pos"`
	Kind  string `json:"kind"`
	Props string `json:"props,omitempty"`
}

func (d BlueprintDef) Template() blueprint.Template {
	t := blueprint.Template{ID: d.ID, Size: d.Size, Cells: make([]blueprint.Cell, 0, len(d.Cells))}
	for _, c := range d.Cells {
		t.Cells = append(t.Cells, blueprint.Cell{
			Pos:   c.Pos,
			State: materials.State{Kind: c.Kind, Props: materials.ParseProps(c.Props)},
		})
	}
	return t
}

// BlueprintStore serves templates from a directory of JSON files and can
// be reloaded while the simulation runs.
type BlueprintStore struct {
	dir string
	log *zap.Logger

	mu     sync.RWMutex
	byID   map[string]blueprint.Template
	digest string
}

func NewBlueprintStore(dir string, log *zap.Logger) *BlueprintStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &BlueprintStore{dir: dir, log: log, byID: map[string]blueprint.Template{}, digest: sha256Hex(nil)}
}

func (s *BlueprintStore) Dir() string { return s.dir }

// Template implements blueprint.Loader.
func (s *BlueprintStore) Template(id string) (blueprint.Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	return t, ok
}

func (s *BlueprintStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *BlueprintStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Digest is the sha256 of every blueprint file, concatenated in name order.
func (s *BlueprintStore) Digest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.digest
}

// Reload reads the directory again. On error the previous templates stay
// in place. A missing directory yields an empty store.
func (s *BlueprintStore) Reload() error {
	byID, digest, err := readBlueprints(s.dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.byID, s.digest = byID, digest
	s.mu.Unlock()
	s.log.Debug("blueprints loaded", zap.String("dir", s.dir), zap.Int("count", len(byID)))
	return nil
}

func readBlueprints(dir string) (map[string]blueprint.Template, string, error) {
	byID := map[string]blueprint.Template{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return byID, sha256Hex(nil), nil
		}
		return nil, "", err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, "", err
		}
		concat.Write(raw)
		concat.WriteByte('\n')

		name := filepath.Base(p)
		if err := validate("blueprint.schema.json", raw); err != nil {
			return nil, "", fmt.Errorf("blueprint %s: %w", name, err)
		}
		var def BlueprintDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, "", fmt.Errorf("blueprint %s: %w", name, err)
		}
		if _, dup := byID[def.ID]; dup {
			return nil, "", fmt.Errorf("blueprint %s: duplicate id %q", name, def.ID)
		}
		byID[def.ID] = def.Template()
	}
	return byID, sha256Hex(concat.Bytes()), nil
}
