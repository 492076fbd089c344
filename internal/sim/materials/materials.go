// Package materials holds the material kinds known to the simulation: item
// and block definitions, tags, and the equivalence table that decides which
// kinds may stand in for one another when building.
package materials

import (
	"fmt"
	"sort"
	"strings"
)

const Air = "AIR"

const DefaultMaxStack = 64

// State is a material kind plus its canonical property string
// ("facing=north,half=bottom"). Two states with the same kind are
// interchangeable for inventory purposes.
type State struct {
	Kind  string `json:"kind"`
	Props string `json:"props,omitempty"`
}

func (s State) IsAir() bool { return s.Kind == "" || s.Kind == Air }

func (s State) String() string {
	if s.Props == "" {
		return s.Kind
	}
	return s.Kind + "[" + s.Props + "]"
}

// Ingredient is an exact item or a tag, with a count.
type Ingredient struct {
	Item  string `json:"item,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Count int    `json:"count"`
}

func (i Ingredient) IsTag() bool { return i.Tag != "" }

func (i Ingredient) String() string {
	if i.Tag != "" {
		return fmt.Sprintf("%dx#%s", i.Count, i.Tag)
	}
	return fmt.Sprintf("%dx%s", i.Count, i.Item)
}

type ToolClass string

const (
	Pickaxe ToolClass = "PICKAXE"
	Axe     ToolClass = "AXE"
	Shovel  ToolClass = "SHOVEL"
)

// CoreToolClasses are the tools every builder is expected to carry.
var CoreToolClasses = []ToolClass{Pickaxe, Axe, Shovel}

type ToolDef struct {
	Class         ToolClass `json:"class"`
	Tier          int       `json:"tier"`
	Speed         float64   `json:"speed"`
	MaxDurability int       `json:"max_durability"`
}

type ItemDef struct {
	ID       string   `json:"id"`
	Variant  string   `json:"variant,omitempty"`
	MaxStack int      `json:"max_stack,omitempty"`
	Tool     *ToolDef `json:"tool,omitempty"`
}

type BlockDef struct {
	ID           string    `json:"id"`
	ToolClass    ToolClass `json:"tool_class,omitempty"`
	MinTier      int       `json:"min_tier,omitempty"`
	RequiresTool bool      `json:"requires_tool,omitempty"`
	Replaceable  bool      `json:"replaceable,omitempty"`
	Drops        string    `json:"drops,omitempty"`
}

type TagDef struct {
	ID          string   `json:"id"`
	Equivalence bool     `json:"equivalence,omitempty"`
	Members     []string `json:"members"`
}

// Table is immutable after construction and safe for concurrent reads.
type Table struct {
	items   map[string]ItemDef
	blocks  map[string]BlockDef
	tags    map[string]TagDef
	tagSet  map[string]map[string]struct{}
	classOf map[string]string
}

func NewTable(items []ItemDef, blocks []BlockDef, tags []TagDef) (*Table, error) {
	t := &Table{
		items:   make(map[string]ItemDef, len(items)),
		blocks:  make(map[string]BlockDef, len(blocks)),
		tags:    make(map[string]TagDef, len(tags)),
		tagSet:  make(map[string]map[string]struct{}, len(tags)),
		classOf: map[string]string{},
	}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("item: empty id")
		}
		if it.Tool != nil && it.Tool.MaxDurability <= 0 {
			return nil, fmt.Errorf("item %s: tool without max_durability", it.ID)
		}
		t.items[it.ID] = it
	}
	for _, b := range blocks {
		if b.ID == "" {
			return nil, fmt.Errorf("block: empty id")
		}
		t.blocks[b.ID] = b
	}
	for _, tag := range tags {
		if tag.ID == "" {
			return nil, fmt.Errorf("tag: empty id")
		}
		if _, dup := t.tags[tag.ID]; dup {
			return nil, fmt.Errorf("tag %s: duplicate", tag.ID)
		}
		set := make(map[string]struct{}, len(tag.Members))
		for _, m := range tag.Members {
			set[m] = struct{}{}
			if !tag.Equivalence {
				continue
			}
			if prev, ok := t.classOf[m]; ok {
				return nil, fmt.Errorf("tag %s: %s already in equivalence class %s", tag.ID, m, prev)
			}
			t.classOf[m] = tag.ID
		}
		t.tags[tag.ID] = tag
		t.tagSet[tag.ID] = set
	}
	return t, nil
}

// Compatible reports whether a may be used where b is required. The
// relation is reflexive and symmetric and holds only inside one
// equivalence class.
func (t *Table) Compatible(a, b string) bool {
	if a == b {
		return true
	}
	ca, ok := t.classOf[a]
	if !ok {
		return false
	}
	return ca == t.classOf[b]
}

// ClassOf returns the equivalence class of kind, if any.
func (t *Table) ClassOf(kind string) (string, bool) {
	c, ok := t.classOf[kind]
	return c, ok
}

func (t *Table) InTag(kind, tag string) bool {
	set, ok := t.tagSet[tag]
	if !ok {
		return false
	}
	_, ok = set[kind]
	return ok
}

// Members returns the tag members in declaration order.
func (t *Table) Members(tag string) []string {
	return append([]string(nil), t.tags[tag].Members...)
}

func (t *Table) HasTag(tag string) bool {
	_, ok := t.tags[tag]
	return ok
}

func (t *Table) Variant(kind string) string { return t.items[kind].Variant }

// MemberWithVariant finds the member of tag sharing the given variant.
func (t *Table) MemberWithVariant(tag, variant string) (string, bool) {
	if variant == "" {
		return "", false
	}
	for _, m := range t.tags[tag].Members {
		if t.items[m].Variant == variant {
			return m, true
		}
	}
	return "", false
}

// Matches reports whether kind satisfies the ingredient.
func (t *Table) Matches(ing Ingredient, kind string) bool {
	if ing.Tag != "" {
		return t.InTag(kind, ing.Tag)
	}
	return ing.Item == kind
}

func (t *Table) Item(kind string) (ItemDef, bool) {
	it, ok := t.items[kind]
	return it, ok
}

// Block returns the block definition; unknown kinds are hand-breakable
// solid blocks.
func (t *Table) Block(kind string) BlockDef {
	if b, ok := t.blocks[kind]; ok {
		return b
	}
	return BlockDef{ID: kind}
}

func (t *Table) Tool(kind string) (ToolDef, bool) {
	it, ok := t.items[kind]
	if !ok || it.Tool == nil {
		return ToolDef{}, false
	}
	return *it.Tool, true
}

func (t *Table) IsTool(kind string) bool {
	_, ok := t.Tool(kind)
	return ok
}

func (t *Table) MaxStack(kind string) int {
	it, ok := t.items[kind]
	if !ok {
		return DefaultMaxStack
	}
	if it.Tool != nil {
		return 1
	}
	if it.MaxStack > 0 {
		return it.MaxStack
	}
	return DefaultMaxStack
}

// Speed is the destroy speed of toolKind against blockKind. Bare hands and
// tools of the wrong class dig at 1.
func (t *Table) Speed(toolKind, blockKind string) float64 {
	tool, ok := t.Tool(toolKind)
	if !ok {
		return 1
	}
	b := t.Block(blockKind)
	if b.ToolClass == "" || b.ToolClass != tool.Class {
		return 1
	}
	return tool.Speed
}

// IsCorrectTool reports whether mining blockKind with toolKind yields drops.
func (t *Table) IsCorrectTool(toolKind, blockKind string) bool {
	tool, ok := t.Tool(toolKind)
	if !ok {
		return false
	}
	b := t.Block(blockKind)
	return b.ToolClass != "" && b.ToolClass == tool.Class && tool.Tier >= b.MinTier
}

// ToolsOfClass lists tool kinds of a class, best tier first.
func (t *Table) ToolsOfClass(c ToolClass) []string {
	var out []string
	for id, it := range t.items {
		if it.Tool != nil && it.Tool.Class == c {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := t.items[out[i]].Tool.Tier, t.items[out[j]].Tool.Tier
		if ti != tj {
			return ti > tj
		}
		return out[i] < out[j]
	})
	return out
}

// ParseProps normalizes "b=2,a=1" into "a=1,b=2".
func ParseProps(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
