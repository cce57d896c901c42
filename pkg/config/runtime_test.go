package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCodecTableResolution(t *testing.T) {
	table := CodecTable{
		Default: "zstd",
		ByMime: map[string]string{
			"application/json": "zstd",
			"image/*":          "none",
			"image/svg+xml":    "lz4",
		},
	}
	cases := []struct {
		mime string
		want string
	}{
		{"application/json", "zstd"},
		{"image/png", "none"},
		{"image/svg+xml", "lz4"},
		{"video/mp4", "zstd"},
		{"", "zstd"},
	}
	for _, tc := range cases {
		if got := table.Resolve(tc.mime); got != tc.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}

func TestRetentionRoomOverrideReplacesDefault(t *testing.T) {
	r := RetentionConfig{
		HotDays:     30,
		ColdDays:    365,
		RoomHotDays: map[string]int{"room-vip": 7},
	}
	if got := r.HotDaysFor("room-vip"); got != 7 {
		t.Fatalf("override room = %d, want 7", got)
	}
	if got := r.HotDaysFor("room-other"); got != 30 {
		t.Fatalf("default room = %d, want 30", got)
	}
	if got := r.ColdDaysFor("room-vip"); got != 365 {
		t.Fatalf("cold fallback = %d, want 365", got)
	}
}

func TestModerationAccessors(t *testing.T) {
	m := ModerationConfig{
		DefaultThreshold: 0.8,
		Labels: map[string]LabelRule{
			"illegal": {Threshold: 0.6, StrikeWeight: 2},
			"pii":     {},
		},
	}
	if got := m.ThresholdFor("illegal"); got != 0.6 {
		t.Fatalf("illegal threshold = %v", got)
	}
	if got := m.ThresholdFor("pii"); got != 0.8 {
		t.Fatalf("pii threshold = %v, want default", got)
	}
	if got := m.WeightFor("illegal"); got != 2 {
		t.Fatalf("illegal weight = %v", got)
	}
	if got := m.WeightFor("hate"); got != 1 {
		t.Fatalf("unknown label weight = %v, want 1", got)
	}
}

func TestLoadFileValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	good := `
version: "2026-08"
moderation:
  defaultThreshold: 0.7
  probationMultiplier: 0.5
  labels:
    illegal:
      threshold: 0.5
      strikeWeight: 2
codecs:
  default: zstd
  byMime:
    image/*: none
retention:
  hotDays: 14
  coldDays: 180
  roomHotDays:
    room-vip: 7
`
	if err := os.WriteFile(path, []byte(good), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rt, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rt.Version != "2026-08" {
		t.Fatalf("version = %q", rt.Version)
	}
	if rt.Retention.HotDaysFor("room-vip") != 7 {
		t.Fatal("room override not loaded")
	}

	bad := `
moderation:
  defaultThreshold: 1.5
retention:
  hotDays: 14
  coldDays: 180
`
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected validation error for threshold > 1")
	}
}

func TestProviderSwap(t *testing.T) {
	p := NewProvider(nil)
	if p.Snapshot() == nil {
		t.Fatal("nil snapshot from fresh provider")
	}
	next := Default()
	next.Version = "v2"
	p.Swap(next)
	if got := p.Snapshot().Version; got != "v2" {
		t.Fatalf("version after swap = %q", got)
	}
	p.Swap(nil)
	if got := p.Snapshot().Version; got != "v2" {
		t.Fatalf("nil swap replaced rules: %q", got)
	}
}
