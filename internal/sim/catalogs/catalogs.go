// Package catalogs loads the material, recipe and blueprint data files
// from a config directory and validates them against embedded schemas.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/recipes"
)

type Catalogs struct {
	Table      *materials.Table
	Recipes    *recipes.Catalog
	Blueprints *BlueprintStore

	// Digests maps each loaded file (relative to the config dir) to the
	// sha256 of its bytes.
	Digests map[string]string
}

func Load(configDir string, log *zap.Logger) (*Catalogs, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalogs{Digests: map[string]string{}}

	var (
		items []materials.ItemDef
		block []materials.BlockDef
		tags  []materials.TagDef
		recs  []recipes.Recipe
	)
	for _, f := range []struct {
		name   string
		schema string
		out    any
	}{
		{"items.json", "items.schema.json", &items},
		{"blocks.json", "blocks.schema.json", &block},
		{"tags.json", "tags.schema.json", &tags},
		{"recipes.json", "recipes.schema.json", &recs},
	} {
		digest, err := loadJSON(filepath.Join(configDir, f.name), f.schema, f.out)
		if err != nil {
			return nil, err
		}
		c.Digests[f.name] = digest
	}

	table, err := materials.NewTable(items, block, tags)
	if err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}
	if err := checkRefs(table, items, recs); err != nil {
		return nil, err
	}
	cat, err := recipes.NewCatalog(recs)
	if err != nil {
		return nil, fmt.Errorf("recipes.json: %w", err)
	}
	c.Table, c.Recipes = table, cat

	c.Blueprints = NewBlueprintStore(filepath.Join(configDir, "blueprints"), log)
	if err := c.Blueprints.Reload(); err != nil {
		return nil, err
	}
	c.Digests["blueprints"] = c.Blueprints.Digest()

	log.Info("catalogs loaded",
		zap.String("dir", configDir),
		zap.Int("items", len(items)),
		zap.Int("tags", len(tags)),
		zap.Int("recipes", cat.Len()),
		zap.Int("blueprints", c.Blueprints.Len()),
	)
	return c, nil
}

// loadJSON validates path against schema and decodes it into out. It
// returns the file digest.
func loadJSON(path, schema string, out any) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	name := filepath.Base(path)
	if err := validate(schema, raw); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return sha256Hex(raw), nil
}

// checkRefs rejects recipes naming unknown items or tags.
func checkRefs(t *materials.Table, items []materials.ItemDef, recs []recipes.Recipe) error {
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
	}
	check := func(r recipes.Recipe, ing materials.Ingredient) error {
		if ing.Tag != "" {
			if !t.HasTag(ing.Tag) {
				return fmt.Errorf("recipes.json: %s: unknown tag %q", r.ID, ing.Tag)
			}
			return nil
		}
		if _, ok := known[ing.Item]; !ok {
			return fmt.Errorf("recipes.json: %s: unknown item %q", r.ID, ing.Item)
		}
		return nil
	}
	for _, r := range recs {
		for _, in := range r.Inputs {
			if err := check(r, in); err != nil {
				return err
			}
		}
		if err := check(r, r.Output); err != nil {
			return err
		}
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
