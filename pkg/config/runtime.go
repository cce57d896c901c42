package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Runtime holds the tunable rules the engine consults on every operation:
// moderation thresholds, codec selection, and retention windows. It is
// replaced wholesale on reload, never mutated in place.
type Runtime struct {
	Version    string           `yaml:"version"`
	Moderation ModerationConfig `yaml:"moderation"`
	Codecs     CodecTable       `yaml:"codecs"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// LabelRule tunes one moderation label.
type LabelRule struct {
	Threshold    float64 `yaml:"threshold"`
	StrikeWeight int     `yaml:"strikeWeight"`
}

// ModerationConfig drives the strike engine.
type ModerationConfig struct {
	DefaultThreshold     float64              `yaml:"defaultThreshold"`
	ProbationMultiplier  float64              `yaml:"probationMultiplier"`
	WarningCooldownHours int                  `yaml:"warningCooldownHours"`
	Labels               map[string]LabelRule `yaml:"labels"`
}

// ThresholdFor returns the flagging threshold for a label, falling back
// to the default when the label has no rule of its own.
func (m ModerationConfig) ThresholdFor(label string) float64 {
	if rule, ok := m.Labels[label]; ok && rule.Threshold > 0 {
		return rule.Threshold
	}
	return m.DefaultThreshold
}

// WeightFor returns the strike weight a flagged label contributes.
func (m ModerationConfig) WeightFor(label string) int {
	if rule, ok := m.Labels[label]; ok && rule.StrikeWeight > 0 {
		return rule.StrikeWeight
	}
	return 1
}

// CodecTable maps mime types to codec names. Resolution order: exact
// mime, then the "type/*" wildcard, then the default.
type CodecTable struct {
	Default string            `yaml:"default"`
	ByMime  map[string]string `yaml:"byMime"`
}

// Resolve picks the codec name for a mime type.
func (t CodecTable) Resolve(mimeType string) string {
	if name, ok := t.ByMime[mimeType]; ok {
		return name
	}
	if major, _, ok := strings.Cut(mimeType, "/"); ok {
		if name, ok := t.ByMime[major+"/*"]; ok {
			return name
		}
	}
	if t.Default != "" {
		return t.Default
	}
	return "zstd"
}

// RetentionConfig sets how long content stays in each tier. Room
// overrides, when present, replace the system default outright.
type RetentionConfig struct {
	HotDays      int            `yaml:"hotDays"`
	ColdDays     int            `yaml:"coldDays"`
	RoomHotDays  map[string]int `yaml:"roomHotDays"`
	RoomColdDays map[string]int `yaml:"roomColdDays"`
}

// HotDaysFor returns the hot retention window for a room in days.
func (r RetentionConfig) HotDaysFor(roomID string) int {
	if d, ok := r.RoomHotDays[roomID]; ok && d > 0 {
		return d
	}
	return r.HotDays
}

// ColdDaysFor returns the cold retention window for a room in days.
func (r RetentionConfig) ColdDaysFor(roomID string) int {
	if d, ok := r.RoomColdDays[roomID]; ok && d > 0 {
		return d
	}
	return r.ColdDays
}

// Validate rejects rule sets the engine cannot run with.
func (r *Runtime) Validate() error {
	if r.Moderation.DefaultThreshold <= 0 || r.Moderation.DefaultThreshold > 1 {
		return fmt.Errorf("moderation.defaultThreshold must be in (0, 1], got %v", r.Moderation.DefaultThreshold)
	}
	if r.Moderation.ProbationMultiplier <= 0 || r.Moderation.ProbationMultiplier > 1 {
		return fmt.Errorf("moderation.probationMultiplier must be in (0, 1], got %v", r.Moderation.ProbationMultiplier)
	}
	for label, rule := range r.Moderation.Labels {
		if rule.Threshold < 0 || rule.Threshold > 1 {
			return fmt.Errorf("moderation label %q threshold out of range: %v", label, rule.Threshold)
		}
	}
	if name := r.Codecs.Default; name != "" && name != "zstd" && name != "lz4" && name != "none" {
		return fmt.Errorf("unknown default codec %q", name)
	}
	for mime, name := range r.Codecs.ByMime {
		if name != "zstd" && name != "lz4" && name != "none" {
			return fmt.Errorf("unknown codec %q for mime %q", name, mime)
		}
	}
	if r.Retention.HotDays <= 0 {
		return fmt.Errorf("retention.hotDays must be positive, got %d", r.Retention.HotDays)
	}
	if r.Retention.ColdDays <= 0 {
		return fmt.Errorf("retention.coldDays must be positive, got %d", r.Retention.ColdDays)
	}
	return nil
}

// Default returns the rules used when no file is configured.
func Default() *Runtime {
	return &Runtime{
		Version: "builtin",
		Moderation: ModerationConfig{
			DefaultThreshold:     0.8,
			ProbationMultiplier:  0.5,
			WarningCooldownHours: 24,
		},
		Codecs: CodecTable{
			Default: "zstd",
			ByMime: map[string]string{
				"image/*": "none",
				"video/*": "none",
				"audio/*": "none",
			},
		},
		Retention: RetentionConfig{HotDays: 30, ColdDays: 365},
	}
}

// LoadFile reads and validates a rules file.
func LoadFile(path string) (*Runtime, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	rt := Default()
	if err := yaml.Unmarshal(data, rt); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rt, nil
}

// Provider hands out the current Runtime. Swap publishes a new rule set
// atomically; readers holding an old snapshot finish with it.
type Provider struct {
	current atomic.Pointer[Runtime]
}

// NewProvider seeds a provider with an initial rule set.
func NewProvider(rt *Runtime) *Provider {
	p := &Provider{}
	if rt == nil {
		rt = Default()
	}
	p.current.Store(rt)
	return p
}

// Snapshot returns the current rules. Never nil.
func (p *Provider) Snapshot() *Runtime {
	return p.current.Load()
}

// Swap publishes a new rule set.
func (p *Provider) Swap(rt *Runtime) {
	if rt != nil {
		p.current.Store(rt)
	}
}
