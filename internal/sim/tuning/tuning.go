package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"settlecraft.ai/internal/sim/blueprint"
	"settlecraft.ai/internal/sim/executor"
	"settlecraft.ai/internal/sim/gridworld"
	"settlecraft.ai/internal/sim/reconcile"
	"settlecraft.ai/internal/sim/resolver"
	"settlecraft.ai/internal/sim/settlement"
)

type Tuning struct {
	Settlement settlement.Config `yaml:"settlement"`
	Executor   executor.Config   `yaml:"executor"`
	Blueprint  blueprint.Rules   `yaml:"blueprint"`
	Reconcile  reconcile.Config  `yaml:"reconcile"`
	World      gridworld.Gen     `yaml:"world"`

	ResolverMaxDepth int `yaml:"resolver_max_depth"`

	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	// SnapshotKeep bounds the snapshot files kept on disk; 0 keeps all.
	SnapshotKeep int `yaml:"snapshot_keep"`
	// ArchiveEveryTicks copies snapshots on these boundaries into
	// archives/; 0 disables. Must be a multiple of SnapshotEveryTicks.
	ArchiveEveryTicks int `yaml:"archive_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		Settlement:         settlement.DefaultConfig(),
		Executor:           executor.DefaultConfig(),
		Blueprint:          blueprint.DefaultRules(),
		Reconcile:          reconcile.DefaultConfig(),
		World:              gridworld.DefaultGen(),
		ResolverMaxDepth:   resolver.DefaultMaxDepth,
		SnapshotEveryTicks: 1200,
		SnapshotKeep:       5,
		ArchiveEveryTicks:  72000,
	}
}

// Load overlays the YAML at path on Defaults, so a file only needs the
// keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.Executor.ToolWornFraction <= 0 || t.Executor.ToolWornFraction > 1:
		return fmt.Errorf("executor.tool_worn_fraction %v not in (0,1]", t.Executor.ToolWornFraction)
	case t.Executor.MoveSpeed <= 0:
		return fmt.Errorf("executor.move_speed must be positive")
	case t.Reconcile.Period <= 0:
		return fmt.Errorf("reconcile.period must be positive")
	case t.ResolverMaxDepth < 1:
		return fmt.Errorf("resolver_max_depth must be at least 1")
	case t.Settlement.ClaimRadius < 0:
		return fmt.Errorf("settlement.claim_radius must not be negative")
	case t.Settlement.WorkRadius < t.Settlement.ClaimRadius:
		return fmt.Errorf("settlement.work_radius %d smaller than claim_radius %d", t.Settlement.WorkRadius, t.Settlement.ClaimRadius)
	case t.Settlement.AgentSlots <= 0 || t.Settlement.DepotSlots <= 0:
		return fmt.Errorf("settlement slot counts must be positive")
	case t.ArchiveEveryTicks < 0 || (t.ArchiveEveryTicks > 0 && (t.SnapshotEveryTicks == 0 || t.ArchiveEveryTicks%t.SnapshotEveryTicks != 0)):
		return fmt.Errorf("archive_every_ticks %d must be a multiple of snapshot_every_ticks %d", t.ArchiveEveryTicks, t.SnapshotEveryTicks)
	case t.SnapshotEveryTicks < 0:
		return fmt.Errorf("snapshot_every_ticks must not be negative")
	}
	return nil
}
