// Package config provides configuration management for the cost report tool
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/finops-decomposer/internal/environment"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
	"github.com/lvonguyen/finops-decomposer/internal/logging"
)

// Config holds all configuration
type Config struct {
	Input        InputConfig         `yaml:"input"`
	Extraction   extract.Options     `yaml:"extraction"`
	Environments []environment.Entry `yaml:"environments"`
	Reporter     ReporterConfig      `yaml:"reporter"`
	Chargeback   ChargebackConfig    `yaml:"chargeback"`
	Budgets      []Budget            `yaml:"budgets"`
	AWS          AWSConfig           `yaml:"aws"`
	Logging      logging.Config      `yaml:"logging"`
	Metrics      MetricsConfig       `yaml:"metrics"`
}

// InputConfig locates the billing export
type InputConfig struct {
	Path   string `yaml:"path"`   // local path, *.gz, or s3://bucket/key
	Region string `yaml:"region"` // region of the export bucket
}

// ReporterConfig configures report generation
type ReporterConfig struct {
	OutputDir string   `yaml:"output_dir"`
	Formats   []string `yaml:"formats"` // markdown, csv, json, html
	Title     string   `yaml:"title"`
}

// ChargebackConfig configures allocation of unattributed cost
type ChargebackConfig struct {
	UnattributedPool string           `yaml:"unattributed_pool"`
	SharedCostSplit  []SharedCostRule `yaml:"shared_cost_split"`
}

// SharedCostRule assigns a percentage of unattributed cost to a service
type SharedCostRule struct {
	Service    string  `yaml:"service"`
	Percentage float64 `yaml:"percentage"`
}

// Budget defines a spend limit for the whole export or one dimension value
type Budget struct {
	Name         string  `yaml:"name"`
	Dimension    string  `yaml:"dimension"` // all, service, env, aws_service
	Scope        string  `yaml:"scope"`     // dimension value; env accepts short codes
	MonthlyLimit float64 `yaml:"monthly_limit"`
	AlertAt      []int   `yaml:"alert_at"` // percentages to alert at (e.g., 50, 75, 90, 100)
}

// DefaultAlertAt is used when a budget lists no thresholds
var DefaultAlertAt = []int{50, 75, 90, 100}

// AWSConfig holds Cost Explorer settings used for reconciliation
type AWSConfig struct {
	Region       string   `yaml:"region"`
	RoleARN      string   `yaml:"role_arn"`
	AccountIDs   []string `yaml:"account_ids"`
	TolerancePct float64  `yaml:"tolerance_pct"`
}

// MetricsConfig configures the Prometheus textfile output
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the configuration used without a config file
func Default() *Config {
	cfg := &Config{
		Extraction: extract.DefaultOptions(),
		Logging:    logging.DefaultConfig(),
	}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	// Keys present in the file replace defaults, including explicit empty values
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Input.Path == "" {
		c.Input.Path = "data/costs.txt"
	}
	if c.Extraction.OrgPrefix == "" {
		c.Extraction.OrgPrefix = extract.DefaultOrgPrefix
	}
	if len(c.Environments) == 0 {
		c.Environments = append([]environment.Entry(nil), environment.DefaultEntries...)
	}
	if c.Reporter.OutputDir == "" {
		c.Reporter.OutputDir = "./reports"
	}
	if len(c.Reporter.Formats) == 0 {
		c.Reporter.Formats = []string{"markdown"}
	}
	if c.Reporter.Title == "" {
		c.Reporter.Title = "Cost Report"
	}
	for i := range c.Budgets {
		if c.Budgets[i].Dimension == "" {
			c.Budgets[i].Dimension = "all"
		}
		if len(c.Budgets[i].AlertAt) == 0 {
			c.Budgets[i].AlertAt = append([]int(nil), DefaultAlertAt...)
		}
	}
	if c.AWS.TolerancePct == 0 {
		c.AWS.TolerancePct = 1
	}
	if c.Logging.Level == "" {
		c.Logging = logging.DefaultConfig()
	}
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	var split float64
	for _, rule := range c.Chargeback.SharedCostSplit {
		if rule.Service == "" {
			return fmt.Errorf("shared cost rule without service")
		}
		if rule.Percentage < 0 {
			return fmt.Errorf("shared cost rule for %s has negative percentage", rule.Service)
		}
		split += rule.Percentage
	}
	if split > 100 {
		return fmt.Errorf("shared cost split totals %.1f%%, more than 100%%", split)
	}

	for _, b := range c.Budgets {
		if b.Name == "" {
			return fmt.Errorf("budget without name")
		}
		if b.MonthlyLimit <= 0 {
			return fmt.Errorf("budget %s needs a positive monthly_limit", b.Name)
		}
		switch b.Dimension {
		case "all":
		case string(extract.Service), string(extract.Env), string(extract.AWSService):
			if b.Scope == "" {
				return fmt.Errorf("budget %s on %s needs a scope", b.Name, b.Dimension)
			}
		default:
			return fmt.Errorf("budget %s has unknown dimension %q", b.Name, b.Dimension)
		}
		for _, pct := range b.AlertAt {
			if pct <= 0 {
				return fmt.Errorf("budget %s has non-positive alert threshold %d", b.Name, pct)
			}
		}
	}

	for _, f := range c.Reporter.Formats {
		switch f {
		case "markdown", "csv", "json", "html":
		default:
			return fmt.Errorf("unknown report format %q", f)
		}
	}
	return nil
}
