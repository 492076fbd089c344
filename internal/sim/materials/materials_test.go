package materials_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/materials/materialstest"
)

func TestCompatibleIsReflexiveAndSymmetric(t *testing.T) {
	tbl := materialstest.Table(t)
	var kinds []string
	for _, it := range materialstest.Items() {
		kinds = append(kinds, it.ID)
	}
	for _, a := range kinds {
		assert.True(t, tbl.Compatible(a, a), "%s reflexive", a)
		for _, b := range kinds {
			assert.Equal(t, tbl.Compatible(a, b), tbl.Compatible(b, a), "%s/%s symmetric", a, b)
		}
	}
}

func TestCompatibleClosedWithinFamily(t *testing.T) {
	tbl := materialstest.Table(t)
	for _, tag := range materialstest.Tags() {
		for _, a := range tag.Members {
			for _, b := range tag.Members {
				assert.True(t, tbl.Compatible(a, b), "%s ~ %s in %s", a, b, tag.ID)
			}
		}
	}
	assert.True(t, tbl.Compatible("GRASS_BLOCK", "DIRT"))
	assert.False(t, tbl.Compatible("OAK_PLANKS", "OAK_LOG"), "different families")
	assert.False(t, tbl.Compatible("OAK_FENCE", "OAK_DOOR"))
	assert.False(t, tbl.Compatible("STICK", "COBBLESTONE"))
}

func TestNewTableRejectsOverlappingClasses(t *testing.T) {
	_, err := materials.NewTable(nil, nil, []materials.TagDef{
		{ID: "a", Equivalence: true, Members: []string{"X", "Y"}},
		{ID: "b", Equivalence: true, Members: []string{"Y", "Z"}},
	})
	require.Error(t, err)

	// Plain tags may overlap freely.
	_, err = materials.NewTable(nil, nil, []materials.TagDef{
		{ID: "a", Equivalence: true, Members: []string{"X", "Y"}},
		{ID: "b", Members: []string{"Y", "Z"}},
	})
	require.NoError(t, err)
}

func TestToolSpeedAndCorrectness(t *testing.T) {
	tbl := materialstest.Table(t)
	assert.Equal(t, 2.0, tbl.Speed("WOODEN_PICKAXE", "STONE"))
	assert.Equal(t, 1.0, tbl.Speed("WOODEN_AXE", "STONE"))
	assert.Equal(t, 1.0, tbl.Speed("STICK", "STONE"))
	assert.True(t, tbl.IsCorrectTool("WOODEN_PICKAXE", "STONE"))
	assert.False(t, tbl.IsCorrectTool("WOODEN_PICKAXE", "IRON_ORE"), "tier too low")
	assert.Equal(t, 2.0, tbl.Speed("WOODEN_PICKAXE", "IRON_ORE"), "still faster than hands")
	assert.Equal(t, []string{"STONE_PICKAXE", "WOODEN_PICKAXE"}, tbl.ToolsOfClass(materials.Pickaxe))
	assert.Equal(t, 1, tbl.MaxStack("WOODEN_AXE"))
	assert.Equal(t, 64, tbl.MaxStack("OAK_PLANKS"))
}

func TestMemberWithVariant(t *testing.T) {
	tbl := materialstest.Table(t)
	m, ok := tbl.MemberWithVariant("planks", tbl.Variant("BIRCH_FENCE"))
	require.True(t, ok)
	assert.Equal(t, "BIRCH_PLANKS", m)
	_, ok = tbl.MemberWithVariant("planks", tbl.Variant("STICK"))
	assert.False(t, ok)
	assert.Equal(t, "a=1,b=2", materials.ParseProps("b=2, a=1"))
}
