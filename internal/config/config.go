package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gasline.yml.
type Config struct {
	Depot struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"depot"`
	Cylinders struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"cylinders"`
	Quotes struct {
		ExpiryDays int `yaml:"expiry_days"`
	} `yaml:"quotes"`
	Checklists struct {
		WindowHours int                          `yaml:"window_hours"`
		Templates   map[string]ChecklistTemplate `yaml:"templates"`
	} `yaml:"checklists"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ChecklistTemplate struct {
	Description     string          `yaml:"description"`
	AppliesTo       string          `yaml:"applies_to"`
	BlocksOnFailure bool            `yaml:"blocks_on_failure"`
	Items           []ChecklistItem `yaml:"items"`
}

type ChecklistItem struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Critical bool   `yaml:"critical"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
}

// Template returns the named checklist template.
func (c *Config) Template(id string) (ChecklistTemplate, bool) {
	t, ok := c.Checklists.Templates[id]
	return t, ok
}

// TemplatesFor returns template IDs applying to an entity type.
func (c *Config) TemplatesFor(entityType string) []string {
	var ids []string
	for id, t := range c.Checklists.Templates {
		if t.AppliesTo == entityType {
			ids = append(ids, id)
		}
	}
	return ids
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gl depot config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

var validEntityTypes = map[string]bool{"vehicle": true, "driver": true, "order": true}

var validSizes = map[string]bool{"9kg": true, "14kg": true, "19kg": true, "48kg": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Depot.ID == "" {
		return fmt.Errorf("config.depot.id is required")
	}
	for size := range c.Cylinders.Catalog {
		if !validSizes[size] {
			return fmt.Errorf("config.cylinders.catalog has unknown size %s", size)
		}
	}
	if c.Quotes.ExpiryDays < 0 {
		return fmt.Errorf("config.quotes.expiry_days must not be negative")
	}
	if c.Checklists.WindowHours < 0 {
		return fmt.Errorf("config.checklists.window_hours must not be negative")
	}
	for id, t := range c.Checklists.Templates {
		if id == "" {
			return fmt.Errorf("config.checklists.templates contains empty template id")
		}
		if !validEntityTypes[t.AppliesTo] {
			return fmt.Errorf("template %s applies_to must be vehicle, driver or order", id)
		}
		if len(t.Items) == 0 {
			return fmt.Errorf("template %s has no items", id)
		}
		seen := map[string]bool{}
		critical := false
		for _, item := range t.Items {
			if item.ID == "" {
				return fmt.Errorf("template %s has item with empty id", id)
			}
			if seen[item.ID] {
				return fmt.Errorf("template %s has duplicate item %s", id, item.ID)
			}
			seen[item.ID] = true
			if item.Critical {
				critical = true
			}
		}
		if t.BlocksOnFailure && !critical {
			return fmt.Errorf("template %s blocks on failure but has no critical items", id)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gasline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(depotID string) string {
	return fmt.Sprintf(defaultTemplate, depotID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a depot.
func Default(depotID string) *Config {
	var cfg Config
	cfg.Depot.ID = depotID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, depotID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `depot:
  id: %s
  name: Main Depot

cylinders:
  catalog:
    9kg:
      description: "Domestic 9kg bottle"
    14kg:
      description: "Domestic 14kg bottle"
    19kg:
      description: "Commercial 19kg bottle"
    48kg:
      description: "Industrial 48kg bottle"

quotes:
  expiry_days: 14

checklists:
  window_hours: 24
  templates:
    vehicle.pre_trip:
      description: "Vehicle pre-trip safety inspection"
      applies_to: vehicle
      blocks_on_failure: true
      items:
        - id: brakes
          label: "Brakes operational"
          critical: true
        - id: tyres
          label: "Tyre tread and pressure within limits"
          critical: true
        - id: load_restraints
          label: "Cylinder restraints secured"
          critical: true
        - id: fire_extinguisher
          label: "Fire extinguisher present and in date"
          critical: true
        - id: lights
          label: "Lights and indicators working"
          critical: false
    driver.fitness:
      description: "Driver fitness-for-duty declaration"
      applies_to: driver
      blocks_on_failure: true
      items:
        - id: licence_current
          label: "Dangerous-goods licence current"
          critical: true
        - id: fit_for_duty
          label: "Fit for duty, no impairment"
          critical: true
    order.site_access:
      description: "Delivery site access check"
      applies_to: order
      blocks_on_failure: false
      items:
        - id: access_clear
          label: "Site access clear for vehicle"
          critical: false
        - id: exchange_point
          label: "Cylinder exchange point identified"
          critical: false
`
