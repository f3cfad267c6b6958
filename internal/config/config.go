package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"boardline/internal/columns"
)

// Config models boardline.yml: workspace defaults plus the catalog of
// system templates seeded into a fresh workspace.
type Config struct {
	Workspace struct {
		DefaultActor string `yaml:"default_actor"`
	} `yaml:"workspace"`
	Templates struct {
		Seed []SeedTemplate `yaml:"seed"`
	} `yaml:"templates"`
}

type SeedTemplate struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Default     bool         `yaml:"default"`
	Columns     []SeedColumn `yaml:"columns"`
}

type SeedColumn struct {
	Name     string `yaml:"name"`
	WIPLimit *int   `yaml:"wip_limit"`
	Color    string `yaml:"color"`
}

// ColumnSet builds the validated column set a seed template describes.
func (t SeedTemplate) ColumnSet() (columns.ColumnSet, error) {
	cols := make([]columns.Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = columns.Column{Name: c.Name, WIPLimit: c.WIPLimit, Color: c.Color}
	}
	return columns.NewColumnSet(cols)
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault falls back to the built-in catalog when no config file
// exists in the workspace.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// FromYAML parses and validates raw config bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the seed catalog obeys the same invariants the engine
// enforces at runtime, so a bad config fails at load instead of first use.
func (c *Config) Validate() error {
	seenNames := map[string]bool{}
	defaults := 0
	for _, t := range c.Templates.Seed {
		if t.Name == "" {
			return fmt.Errorf("config.templates.seed contains a template without a name")
		}
		if seenNames[t.Name] {
			return fmt.Errorf("config.templates.seed has duplicate template %q", t.Name)
		}
		seenNames[t.Name] = true
		if t.Default {
			defaults++
		}
		if _, err := t.ColumnSet(); err != nil {
			return fmt.Errorf("template %q: %w", t.Name, err)
		}
	}
	if len(c.Templates.Seed) > 0 && defaults != 1 {
		return fmt.Errorf("config.templates.seed must mark exactly one default template, got %d", defaults)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "boardline.yml")
}

func limit(n int) *int { return &n }

// Default returns the built-in seed catalog for a fresh workspace.
func Default() *Config {
	var cfg Config
	cfg.Workspace.DefaultActor = "local-user"
	cfg.Templates.Seed = []SeedTemplate{
		{
			Name:        "Software Development",
			Description: "Standard software development workflow with review stage",
			Default:     true,
			Columns: []SeedColumn{
				{Name: "Backlog", Color: "#gray"},
				{Name: "To Do", WIPLimit: limit(10), Color: "#blue"},
				{Name: "In Progress", WIPLimit: limit(5), Color: "#yellow"},
				{Name: "Review", WIPLimit: limit(3), Color: "#purple"},
				{Name: "Done", Color: "#green"},
			},
		},
		{
			Name:        "Simple Kanban",
			Description: "Basic three-column workflow",
			Columns: []SeedColumn{
				{Name: "To Do", Color: "#blue"},
				{Name: "In Progress", WIPLimit: limit(5), Color: "#yellow"},
				{Name: "Done", Color: "#green"},
			},
		},
		{
			Name:        "Support Tickets",
			Description: "Workflow for customer support and issue resolution",
			Columns: []SeedColumn{
				{Name: "New", Color: "#red"},
				{Name: "In Progress", WIPLimit: limit(10), Color: "#yellow"},
				{Name: "Waiting", Color: "#orange"},
				{Name: "Resolved", Color: "#blue"},
				{Name: "Closed", Color: "#green"},
			},
		},
	}
	return &cfg
}
