// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"text/template"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the Tumblr connector configuration.
type Config struct {
	DisplaynameTemplate string `yaml:"displayname_template"`

	// PollIntervalSeconds is the unread reconciliation cadence. Zero means
	// the library default.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	// FocusedPollIntervalSeconds is the tightened cadence used while a
	// conversation has recent Matrix activity.
	FocusedPollIntervalSeconds int `yaml:"focused_poll_interval_seconds"`

	BackfillEnabled  bool `yaml:"backfill_enabled"`
	BackfillMaxCount int  `yaml:"backfill_max_count"`

	displaynameTemplate *template.Template `yaml:"-"`
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Name  string
	Title string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.DisplaynameTemplate)
	return err
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "displayname_template")
	helper.Copy(up.Int, "poll_interval_seconds")
	helper.Copy(up.Int, "focused_poll_interval_seconds")
	helper.Copy(up.Bool, "backfill_enabled")
	helper.Copy(up.Int, "backfill_max_count")
}

func (tc *TumblrConnector) GetConfig() (example string, data any, upgrader up.Upgrader) {
	return ExampleConfig, &tc.Config, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// FormatDisplayname generates a display name from the template and params.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf []byte
	err := c.displaynameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil {
		return params.Name
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
