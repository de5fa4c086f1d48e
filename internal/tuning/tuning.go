// Package tuning holds the numeric constants of the agent runtime, loaded from yaml.
package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agentcraft.ai/internal/agent/broker"
	"agentcraft.ai/internal/agent/share"
)

type Tuning struct {
	TickDurationMs      int `yaml:"tick_duration_ms"`
	ObsRadius           int `yaml:"obs_radius"`
	KnowledgeEveryTicks int `yaml:"knowledge_every_ticks"`
	// RetryBudget is how many times in a row one action may fail before its goal fails.
	RetryBudget int `yaml:"retry_budget"`

	// GoalCooldown applies after a goal succeeds or fails unless the goal sets its own.
	GoalCooldown   time.Duration            `yaml:"goal_cooldown"`
	GoalCooldowns  map[string]time.Duration `yaml:"goal_cooldowns,omitempty"`
	UnusableFor    time.Duration            `yaml:"unusable_for"`
	ColorTableSize int                      `yaml:"color_table_size"`

	Broker broker.Config `yaml:"broker"`
	Share  share.Policy  `yaml:"share"`
}

func Defaults() Tuning {
	return Tuning{
		TickDurationMs:      250,
		ObsRadius:           16,
		KnowledgeEveryTicks: 20,
		RetryBudget:         3,
		GoalCooldown:        5 * time.Second,
		UnusableFor:         time.Minute,
		ColorTableSize:      64,
		Broker:              broker.DefaultConfig(),
		Share:               share.DefaultPolicy(),
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize replaces zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickDurationMs <= 0 {
		t.TickDurationMs = d.TickDurationMs
	}
	if t.ObsRadius <= 0 {
		t.ObsRadius = d.ObsRadius
	}
	if t.KnowledgeEveryTicks <= 0 {
		t.KnowledgeEveryTicks = d.KnowledgeEveryTicks
	}
	if t.RetryBudget <= 0 {
		t.RetryBudget = d.RetryBudget
	}
	if t.GoalCooldown <= 0 {
		t.GoalCooldown = d.GoalCooldown
	}
	if t.UnusableFor <= 0 {
		t.UnusableFor = d.UnusableFor
	}
	if t.ColorTableSize <= 0 {
		t.ColorTableSize = d.ColorTableSize
	}
	b := &t.Broker
	if b.OfferWindow <= 0 {
		b.OfferWindow = d.Broker.OfferWindow
	}
	if b.DeliveryTimeout <= 0 {
		b.DeliveryTimeout = d.Broker.DeliveryTimeout
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.Broker.MaxAttempts
	}
	if b.CommitmentTTL <= 0 {
		b.CommitmentTTL = d.Broker.CommitmentTTL
	}
	if b.DedupeTTL <= 0 {
		b.DedupeTTL = d.Broker.DedupeTTL
	}
	if b.DedupeSize <= 0 {
		b.DedupeSize = d.Broker.DedupeSize
	}
	t.Share.Normalize()
}

func (t Tuning) Validate() error {
	if t.Broker.CommitmentTTL < t.Broker.OfferWindow {
		return fmt.Errorf("broker.commitment_ttl (%s) shorter than broker.offer_window (%s)", t.Broker.CommitmentTTL, t.Broker.OfferWindow)
	}
	if t.Share.MaterialCap < 1 {
		return fmt.Errorf("share.material_cap must be positive")
	}
	if t.Share.ToolCap < 1 {
		return fmt.Errorf("share.tool_cap must be positive")
	}
	for name, d := range t.GoalCooldowns {
		if d < 0 {
			return fmt.Errorf("goal_cooldowns.%s is negative", name)
		}
	}
	return nil
}

func (t Tuning) TickPeriod() time.Duration {
	return time.Duration(t.TickDurationMs) * time.Millisecond
}

// CooldownFor is the cooldown of the named goal.
func (t Tuning) CooldownFor(goal string) time.Duration {
	if d, ok := t.GoalCooldowns[goal]; ok {
		return d
	}
	return t.GoalCooldown
}
