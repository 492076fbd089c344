// Package materialstest provides a small, fixed material table and recipe
// catalog for tests.
package materialstest

import (
	"strings"
	"testing"

	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/recipes"
)

var Woods = []string{"oak", "spruce", "birch"}

// WoodKind returns e.g. "OAK_PLANKS" for ("oak", "PLANKS").
func WoodKind(wood, suffix string) string { return strings.ToUpper(wood) + "_" + suffix }

func Items() []materials.ItemDef {
	items := []materials.ItemDef{
		{ID: "STICK"},
		{ID: "COBBLESTONE"},
		{ID: "DIRT"},
		{ID: "GRASS_BLOCK"},
		{ID: "GLASS"},
		{ID: "CRAFTING_TABLE"},
		{ID: "ENDER_CHEST"},
		{ID: "IRON_INGOT"},
		{ID: "IRON_BLOCK"},
		{ID: "WOODEN_PICKAXE", Tool: &materials.ToolDef{Class: materials.Pickaxe, Tier: 1, Speed: 2, MaxDurability: 60}},
		{ID: "WOODEN_AXE", Tool: &materials.ToolDef{Class: materials.Axe, Tier: 1, Speed: 2, MaxDurability: 60}},
		{ID: "WOODEN_SHOVEL", Tool: &materials.ToolDef{Class: materials.Shovel, Tier: 1, Speed: 2, MaxDurability: 60}},
		{ID: "STONE_PICKAXE", Tool: &materials.ToolDef{Class: materials.Pickaxe, Tier: 2, Speed: 4, MaxDurability: 132}},
		{ID: "STONE_AXE", Tool: &materials.ToolDef{Class: materials.Axe, Tier: 2, Speed: 4, MaxDurability: 132}},
		{ID: "STONE_SHOVEL", Tool: &materials.ToolDef{Class: materials.Shovel, Tier: 2, Speed: 4, MaxDurability: 132}},
	}
	for _, w := range Woods {
		for _, s := range []string{"LOG", "PLANKS", "STAIRS", "SLAB", "FENCE", "DOOR", "TRAPDOOR"} {
			items = append(items, materials.ItemDef{ID: WoodKind(w, s), Variant: w})
		}
	}
	return items
}

func Blocks() []materials.BlockDef {
	blocks := []materials.BlockDef{
		{ID: "STONE", ToolClass: materials.Pickaxe, MinTier: 1, RequiresTool: true, Drops: "COBBLESTONE"},
		{ID: "COBBLESTONE", ToolClass: materials.Pickaxe, MinTier: 1, RequiresTool: true, Drops: "COBBLESTONE"},
		{ID: "IRON_ORE", ToolClass: materials.Pickaxe, MinTier: 2, RequiresTool: true, Drops: "IRON_ORE"},
		{ID: "DIRT", ToolClass: materials.Shovel, Drops: "DIRT"},
		{ID: "GRASS_BLOCK", ToolClass: materials.Shovel, Drops: "DIRT"},
		{ID: "TALL_GRASS", Replaceable: true},
		{ID: "GLASS", RequiresTool: false},
	}
	for _, w := range Woods {
		blocks = append(blocks,
			materials.BlockDef{ID: WoodKind(w, "LOG"), ToolClass: materials.Axe, Drops: WoodKind(w, "LOG")},
			materials.BlockDef{ID: WoodKind(w, "PLANKS"), ToolClass: materials.Axe, Drops: WoodKind(w, "PLANKS")},
		)
	}
	return blocks
}

func Tags() []materials.TagDef {
	family := func(id, suffix string) materials.TagDef {
		td := materials.TagDef{ID: id, Equivalence: true}
		for _, w := range Woods {
			td.Members = append(td.Members, WoodKind(w, suffix))
		}
		return td
	}
	return []materials.TagDef{
		family("planks", "PLANKS"),
		family("logs", "LOG"),
		family("wooden_stairs", "STAIRS"),
		family("wooden_slabs", "SLAB"),
		family("wooden_fences", "FENCE"),
		family("wooden_doors", "DOOR"),
		family("wooden_trapdoors", "TRAPDOOR"),
		{ID: "soil", Equivalence: true, Members: []string{"DIRT", "GRASS_BLOCK"}},
	}
}

func Recipes() []recipes.Recipe {
	tag := func(t string, n int) materials.Ingredient { return materials.Ingredient{Tag: t, Count: n} }
	item := func(i string, n int) materials.Ingredient { return materials.Ingredient{Item: i, Count: n} }
	return []recipes.Recipe{
		{ID: "planks_from_logs", Inputs: []materials.Ingredient{tag("logs", 1)}, Output: tag("planks", 4)},
		{ID: "sticks", Inputs: []materials.Ingredient{tag("planks", 2)}, Output: item("STICK", 4)},
		{ID: "fence", Inputs: []materials.Ingredient{item("STICK", 2), tag("planks", 4)}, Output: tag("wooden_fences", 3)},
		{ID: "stairs", Inputs: []materials.Ingredient{tag("planks", 6)}, Output: tag("wooden_stairs", 4)},
		{ID: "slabs", Inputs: []materials.Ingredient{tag("planks", 3)}, Output: tag("wooden_slabs", 6)},
		{ID: "door", Inputs: []materials.Ingredient{tag("planks", 6)}, Output: tag("wooden_doors", 3)},
		{ID: "trapdoor", Inputs: []materials.Ingredient{tag("planks", 6)}, Output: tag("wooden_trapdoors", 2)},
		{ID: "crafting_table", Inputs: []materials.Ingredient{tag("planks", 4)}, Output: item("CRAFTING_TABLE", 1)},
		{ID: "wooden_pickaxe", Inputs: []materials.Ingredient{tag("planks", 3), item("STICK", 2)}, Output: item("WOODEN_PICKAXE", 1)},
		{ID: "wooden_axe", Inputs: []materials.Ingredient{tag("planks", 3), item("STICK", 2)}, Output: item("WOODEN_AXE", 1)},
		{ID: "wooden_shovel", Inputs: []materials.Ingredient{tag("planks", 1), item("STICK", 2)}, Output: item("WOODEN_SHOVEL", 1)},
		{ID: "iron_block", Inputs: []materials.Ingredient{item("IRON_INGOT", 9)}, Output: item("IRON_BLOCK", 1)},
		{ID: "iron_ingot_from_block", Inputs: []materials.Ingredient{item("IRON_BLOCK", 1)}, Output: item("IRON_INGOT", 9)},
	}
}

func Table(t testing.TB) *materials.Table {
	t.Helper()
	tbl, err := materials.NewTable(Items(), Blocks(), Tags())
	if err != nil {
		t.Fatalf("materials.NewTable: %v", err)
	}
	return tbl
}

func Catalog(t testing.TB) *recipes.Catalog {
	t.Helper()
	c, err := recipes.NewCatalog(Recipes())
	if err != nil {
		t.Fatalf("recipes.NewCatalog: %v", err)
	}
	return c
}
