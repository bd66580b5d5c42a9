package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pactline/internal/escrow"
)

// Config models pactline.yml.
type Config struct {
	Platform struct {
		Name            string `yaml:"name"`
		DefaultCurrency string `yaml:"default_currency"`
	} `yaml:"platform"`
	Fees escrow.Schedule `yaml:"fees"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound event delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pact config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Platform.DefaultCurrency == "" {
		return fmt.Errorf("config.platform.default_currency is required")
	}
	rates := []struct {
		name string
		bps  int64
	}{
		{"fees.escrow_fee_bps", c.Fees.EscrowFeeBPS},
		{"fees.commission_bps", c.Fees.CommissionBPS},
		{"fees.resident_tax_bps", c.Fees.ResidentTaxBPS},
		{"fees.non_resident_tax_bps", c.Fees.NonResidentTaxBPS},
		{"fees.first_milestone_cap_bps", c.Fees.FirstMilestoneCapBPS},
	}
	for _, r := range rates {
		if r.bps < 0 || r.bps >= 10000 {
			return fmt.Errorf("config.%s must be in [0,10000)", r.name)
		}
	}
	if c.Fees.FirstMilestoneCapBPS == 0 {
		return fmt.Errorf("config.fees.first_milestone_cap_bps is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pactline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
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

const defaultTemplate = `platform:
  name: pactline
  default_currency: USD

fees:
  escrow_fee_bps: 300
  commission_bps: 800
  resident_tax_bps: 500
  non_resident_tax_bps: 2000
  first_milestone_cap_bps: 3000

auth:
  jwt_secret: ""
  allow_legacy_actor_header: true
`
