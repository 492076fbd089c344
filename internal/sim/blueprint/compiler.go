package blueprint

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/materials"
	"settlecraft.ai/internal/sim/tasks"
)

var ErrTemplateNotFound = errors.New("blueprint template not found")

// Cell is one template entry, relative to the template origin.
type Cell struct {
	Pos   [3]int
	State materials.State
}

// Template is a declarative structure description. Size may be zero, in
// which case it is derived from the cell bounds.
type Template struct {
	ID    string
	Size  [3]int
	Cells []Cell
}

// Loader resolves template identifiers.
type Loader interface {
	Template(id string) (Template, bool)
}

// Rules name the materials the compiler treats specially and the
// priorities it assigns.
type Rules struct {
	MarkerKind  string            `yaml:"marker_kind"`
	AnchorKind  string            `yaml:"anchor_kind"`
	SoilKind    string            `yaml:"soil_kind"`
	GroundCover map[string]string `yaml:"ground_cover"`

	AnchorPriority  int `yaml:"anchor_priority"`
	SupportPriority int `yaml:"support_priority"`
	SoilPriority    int `yaml:"soil_priority"`
	DefaultPriority int `yaml:"default_priority"`
}

func DefaultRules() Rules {
	return Rules{
		MarkerKind:      "ENDER_CHEST",
		AnchorKind:      "CRAFTING_TABLE",
		SoilKind:        "DIRT",
		GroundCover:     map[string]string{"GRASS_BLOCK": "DIRT"},
		AnchorPriority:  100,
		SupportPriority: 99,
		SoilPriority:    10,
		DefaultPriority: 5,
	}
}

type Compiler struct {
	loader Loader
	rules  Rules
	log    *zap.Logger
}

func NewCompiler(loader Loader, rules Rules, log *zap.Logger) *Compiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compiler{loader: loader, rules: rules, log: log}
}

// Compile builds the task for template id anchored at anchor.
func (c *Compiler) Compile(id string, anchor geom.Vec3i) (*tasks.BuildTask, error) {
	return c.CompileRotated(id, anchor, 0)
}

// CompileRotated is Compile with the template turned rotation quarter-turns
// clockwise about the anchor.
func (c *Compiler) CompileRotated(id string, anchor geom.Vec3i, rotation int) (*tasks.BuildTask, error) {
	tpl, ok := c.loader.Template(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
	}
	rot := NormalizeRotation(rotation)
	size := tpl.Size
	if size == [3]int{} {
		size = deriveSize(tpl.Cells)
	}
	origin := [3]int{-size[0] / 2, -1, -size[2] / 2}

	var steps []tasks.BuildStep
	at := map[geom.Vec3i]int{}
	for _, cell := range tpl.Cells {
		if cell.State.IsAir() || cell.State.Kind == c.rules.MarkerKind {
			continue
		}
		off := RotateOffset([3]int{cell.Pos[0] + origin[0], cell.Pos[1] + origin[1], cell.Pos[2] + origin[2]}, rot)
		pos := anchor.Offset(off[0], off[1], off[2])
		if pos == anchor {
			continue
		}
		state := cell.State
		if sub, ok := c.rules.GroundCover[state.Kind]; ok {
			state = materials.State{Kind: sub}
		}
		if i, dup := at[pos]; dup {
			steps[i].Material = state
			steps[i].Priority = c.priorityOf(state.Kind)
			continue
		}
		at[pos] = len(steps)
		steps = append(steps, tasks.BuildStep{Pos: pos, Material: state, Priority: c.priorityOf(state.Kind)})
	}

	// Support under every crafting anchor, synthesized when the template
	// leaves that cell empty.
	n := len(steps)
	for i := 0; i < n; i++ {
		if steps[i].Material.Kind != c.rules.AnchorKind {
			continue
		}
		below := steps[i].Pos.Below()
		if below == anchor {
			continue
		}
		if j, ok := at[below]; ok {
			steps[j].Priority = c.rules.SupportPriority
			continue
		}
		at[below] = len(steps)
		steps = append(steps, tasks.BuildStep{
			Pos:      below,
			Material: materials.State{Kind: c.rules.SoilKind},
			Priority: c.rules.SupportPriority,
		})
	}

	task := tasks.NewBuildTask(tpl.ID, anchor)
	for _, s := range steps {
		task.AddStep(s)
	}
	task.SortSteps()
	c.log.Debug("compiled blueprint",
		zap.String("template", tpl.ID),
		zap.Stringer("anchor", anchor),
		zap.Int("steps", task.Total()),
	)
	return task, nil
}

func (c *Compiler) priorityOf(kind string) int {
	switch kind {
	case c.rules.AnchorKind:
		return c.rules.AnchorPriority
	case c.rules.SoilKind:
		return c.rules.SoilPriority
	default:
		return c.rules.DefaultPriority
	}
}

func deriveSize(cells []Cell) [3]int {
	var size [3]int
	for _, c := range cells {
		for a := 0; a < 3; a++ {
			if c.Pos[a]+1 > size[a] {
				size[a] = c.Pos[a] + 1
			}
		}
	}
	return size
}
