package executor

// Config holds the executor's tuning constants. Cooldowns are in ticks.
type Config struct {
	SkipCooldown  int `yaml:"skip_cooldown"`
	CraftCooldown int `yaml:"craft_cooldown"`
	ClearCooldown int `yaml:"clear_cooldown"`
	PlaceCooldown int `yaml:"place_cooldown"`
	FailCooldown  int `yaml:"fail_cooldown"`
	StallCooldown int `yaml:"stall_cooldown"`

	// MaxPlaceFailures consecutive rejected placements escalate to a stall.
	MaxPlaceFailures int `yaml:"max_place_failures"`

	// ToolWornFraction: a tool whose damage exceeds this fraction of its
	// max durability needs replacing.
	ToolWornFraction float64 `yaml:"tool_worn_fraction"`

	PlaceReachSq     int     `yaml:"place_reach_sq"`
	DepotReachSq     int     `yaml:"depot_reach_sq"`
	ReturnHomeDistSq int     `yaml:"return_home_dist_sq"`
	PathTolerance    int     `yaml:"path_tolerance"`
	MoveSpeed        float64 `yaml:"move_speed"`

	MaterialRetryTicks int `yaml:"material_retry_ticks"`
	ToolRetryTicks     int `yaml:"tool_retry_ticks"`
	SurplusRetryTicks  int `yaml:"surplus_retry_ticks"`
	BehaviorTimeout    int `yaml:"behavior_timeout"`

	MaterialNotifyRadius int `yaml:"material_notify_radius"`
	ToolNotifyRadius     int `yaml:"tool_notify_radius"`

	PickupRadius   int `yaml:"pickup_radius"`
	PickupInterval int `yaml:"pickup_interval"`
	PickupReachSq  int `yaml:"pickup_reach_sq"`

	// WanderChance is the 1-in-N chance per idle tick to start a stroll.
	WanderChance int `yaml:"wander_chance"`
	WanderRange  int `yaml:"wander_range"`
}

func DefaultConfig() Config {
	return Config{
		SkipCooldown:         1,
		CraftCooldown:        5,
		ClearCooldown:        5,
		PlaceCooldown:        10,
		FailCooldown:         5,
		StallCooldown:        100,
		MaxPlaceFailures:     3,
		ToolWornFraction:     0.8,
		PlaceReachSq:         25,
		DepotReachSq:         4,
		ReturnHomeDistSq:     64,
		PathTolerance:        1,
		MoveSpeed:            0.6,
		MaterialRetryTicks:   100,
		ToolRetryTicks:       100,
		SurplusRetryTicks:    100,
		BehaviorTimeout:      100,
		MaterialNotifyRadius: 32,
		ToolNotifyRadius:     64,
		PickupRadius:         8,
		PickupInterval:       40,
		PickupReachSq:        4,
		WanderChance:         120,
		WanderRange:          10,
	}
}
