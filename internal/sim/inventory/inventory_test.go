package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolLimits map[string]int

func (l toolLimits) MaxStack(kind string) int {
	if n, ok := l[kind]; ok {
		return n
	}
	return 64
}

func TestAddMergesBeforeEmptySlots(t *testing.T) {
	inv := New(3, nil)
	inv.SetSlot(2, ItemStack{Kind: "DIRT", Count: 60})

	left := inv.Add(ItemStack{Kind: "DIRT", Count: 10})
	require.Equal(t, 0, left)
	assert.Equal(t, 64, inv.Slot(2).Count)
	assert.Equal(t, ItemStack{Kind: "DIRT", Count: 6}, inv.Slot(0))
	assert.True(t, inv.Slot(1).IsEmpty())
}

func TestAddReturnsRemainderWhenFull(t *testing.T) {
	inv := New(2, nil)
	left := inv.Add(ItemStack{Kind: "COBBLESTONE", Count: 150})
	assert.Equal(t, 150-128, left)
	assert.Equal(t, 128, inv.CountKind("COBBLESTONE"))
}

func TestToolsDoNotStack(t *testing.T) {
	inv := New(3, toolLimits{"WOODEN_AXE": 1})
	require.Equal(t, 0, inv.Add(ItemStack{Kind: "WOODEN_AXE", Count: 1, Damage: 3}))
	require.Equal(t, 0, inv.Add(ItemStack{Kind: "WOODEN_AXE", Count: 1}))
	assert.Equal(t, 1, inv.Slot(0).Count)
	assert.Equal(t, 3, inv.Slot(0).Damage)
	assert.Equal(t, 0, inv.Slot(1).Damage)
}

func TestRemoveSpansSlots(t *testing.T) {
	inv := New(4, nil)
	inv.SetSlot(0, ItemStack{Kind: "OAK_PLANKS", Count: 3})
	inv.SetSlot(1, ItemStack{Kind: "STICK", Count: 5})
	inv.SetSlot(3, ItemStack{Kind: "BIRCH_PLANKS", Count: 4})

	planks := func(k string) bool { return k == "OAK_PLANKS" || k == "BIRCH_PLANKS" }
	got := inv.Remove(planks, 5)
	assert.Equal(t, []ItemStack{{Kind: "OAK_PLANKS", Count: 3}, {Kind: "BIRCH_PLANKS", Count: 2}}, got)
	assert.True(t, inv.Slot(0).IsEmpty())
	assert.Equal(t, 2, inv.Slot(3).Count)
	assert.Equal(t, 2, inv.Count(planks))
}

func TestCloneIsIndependent(t *testing.T) {
	inv := New(2, nil)
	inv.Add(ItemStack{Kind: "GLASS", Count: 5})
	c := inv.Clone()
	c.Remove(func(string) bool { return true }, 5)
	assert.Equal(t, 5, inv.CountKind("GLASS"))
	inv.CopyFrom(c)
	assert.True(t, inv.IsEmpty())
}
