// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalYAML(t *testing.T) {
	t.Parallel()
	raw := `
displayname_template: "{{.Name}}"
poll_interval_seconds: 30
focused_poll_interval_seconds: 5
backfill_enabled: true
backfill_max_count: 50
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.DisplaynameTemplate != "{{.Name}}" {
		t.Errorf("DisplaynameTemplate: got %q", cfg.DisplaynameTemplate)
	}
	if cfg.PollIntervalSeconds != 30 {
		t.Errorf("PollIntervalSeconds: got %d, want 30", cfg.PollIntervalSeconds)
	}
	if cfg.FocusedPollIntervalSeconds != 5 {
		t.Errorf("FocusedPollIntervalSeconds: got %d, want 5", cfg.FocusedPollIntervalSeconds)
	}
	if !cfg.BackfillEnabled {
		t.Error("BackfillEnabled should be true")
	}
	if cfg.BackfillMaxCount != 50 {
		t.Errorf("BackfillMaxCount: got %d, want 50", cfg.BackfillMaxCount)
	}
}

func TestConfigPostProcessInvalidTemplate(t *testing.T) {
	t.Parallel()
	cfg := Config{DisplaynameTemplate: "{{.Name"}
	if err := cfg.PostProcess(); err == nil {
		t.Error("PostProcess should fail on an unparseable template")
	}
}

func TestFormatDisplayname(t *testing.T) {
	t.Parallel()
	cfg := Config{DisplaynameTemplate: "{{if .Title}}{{.Title}}{{else}}{{.Name}}{{end}} (Tumblr)"}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}

	got := cfg.FormatDisplayname(DisplaynameParams{Name: "someblog", Title: "Some Blog"})
	if got != "Some Blog (Tumblr)" {
		t.Errorf("with title: got %q", got)
	}

	got = cfg.FormatDisplayname(DisplaynameParams{Name: "someblog"})
	if got != "someblog (Tumblr)" {
		t.Errorf("without title: got %q", got)
	}
}

func TestFormatDisplaynameWithoutTemplate(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	got := cfg.FormatDisplayname(DisplaynameParams{Name: "fallback"})
	if got != "fallback" {
		t.Errorf("got %q, want %q", got, "fallback")
	}
}

// TestGetConfigBeforeInit ensures GetConfig returns an addressable config
// that the YAML decoder can write to, even before Init is called.
func TestGetConfigBeforeInit(t *testing.T) {
	t.Parallel()
	tc := &TumblrConnector{}
	example, data, upgrader := tc.GetConfig()

	if example == "" {
		t.Error("example config should not be empty")
	}
	if data == nil {
		t.Fatal("config data must not be nil before Init")
	}
	if upgrader == nil {
		t.Fatal("upgrader must not be nil")
	}

	node := &yaml.Node{}
	if err := yaml.Unmarshal([]byte("backfill_max_count: 42\n"), node); err != nil {
		t.Fatalf("unmarshal YAML node: %v", err)
	}
	if err := node.Decode(data); err != nil {
		t.Fatalf("Decode into config should not error: %v", err)
	}
	if tc.Config.BackfillMaxCount != 42 {
		t.Errorf("BackfillMaxCount after decode: got %d, want 42", tc.Config.BackfillMaxCount)
	}
}

func TestExampleConfigParses(t *testing.T) {
	t.Parallel()
	var cfg Config
	if err := yaml.Unmarshal([]byte(ExampleConfig), &cfg); err != nil {
		t.Fatalf("example config should parse: %v", err)
	}
	if !strings.Contains(cfg.DisplaynameTemplate, "Tumblr") {
		t.Errorf("example displayname template looks wrong: %q", cfg.DisplaynameTemplate)
	}
	if err := cfg.PostProcess(); err != nil {
		t.Errorf("example displayname template should compile: %v", err)
	}
}
