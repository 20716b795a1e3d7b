package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/finops-decomposer/internal/environment"
	"github.com/lvonguyen/finops-decomposer/internal/extract"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "data/costs.txt", cfg.Input.Path)
	assert.Equal(t, extract.DefaultOrgPrefix, cfg.Extraction.OrgPrefix)
	assert.Equal(t, extract.DefaultInfraPrefix, cfg.Extraction.InfraPrefix)
	assert.Equal(t, environment.DefaultEntries, cfg.Environments)
	assert.Equal(t, []string{"markdown"}, cfg.Reporter.Formats)
	assert.Equal(t, 1.0, cfg.AWS.TolerancePct)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("COSTREPORT_BUCKET", "billing-exports")

	path := writeConfig(t, `
input:
  path: s3://${COSTREPORT_BUCKET}/2018-05.txt.gz
  region: us-west-2
extraction:
  org_prefix: cdl
  overrides:
    device:
      pattern: '(swap|/dev/[a-z0-9]+)'
environments:
  - code: prd
    name: production
  - code: qa
    name: qa
reporter:
  output_dir: out
  formats: [markdown, json]
chargeback:
  unattributed_pool: platform
aws:
  region: us-east-1
  account_ids: ["111111111111"]
  tolerance_pct: 2.5
logging:
  level: debug
  format: json
metrics:
  textfile: /var/lib/node_exporter/costreport.prom
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3://billing-exports/2018-05.txt.gz", cfg.Input.Path)
	assert.Equal(t, "us-west-2", cfg.Input.Region)
	assert.Equal(t, "cdl", cfg.Extraction.OrgPrefix)
	assert.Equal(t, extract.DefaultInfraPrefix, cfg.Extraction.InfraPrefix)
	require.Contains(t, cfg.Extraction.Overrides, extract.Device)
	assert.Equal(t, "(swap|/dev/[a-z0-9]+)", cfg.Extraction.Overrides[extract.Device].Pattern)
	assert.Equal(t, []environment.Entry{
		{Code: "prd", Name: "production"},
		{Code: "qa", Name: "qa"},
	}, cfg.Environments)
	assert.Equal(t, "out", cfg.Reporter.OutputDir)
	assert.Equal(t, []string{"markdown", "json"}, cfg.Reporter.Formats)
	assert.Equal(t, "platform", cfg.Chargeback.UnattributedPool)
	assert.Equal(t, []string{"111111111111"}, cfg.AWS.AccountIDs)
	assert.Equal(t, 2.5, cfg.AWS.TolerancePct)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/node_exporter/costreport.prom", cfg.Metrics.Textfile)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "malformed yaml",
			body: "input: [",
			want: "failed to parse config",
		},
		{
			name: "split over 100",
			body: `
chargeback:
  shared_cost_split:
    - service: mrt
      percentage: 70
    - service: dash
      percentage: 40
`,
			want: "more than 100%",
		},
		{
			name: "negative split",
			body: `
chargeback:
  shared_cost_split:
    - service: mrt
      percentage: -5
`,
			want: "negative percentage",
		},
		{
			name: "budget without limit",
			body: `
budgets:
  - name: mrt
    dimension: service
    scope: mrt
`,
			want: "needs a positive monthly_limit",
		},
		{
			name: "budget without scope",
			body: `
budgets:
  - name: mrt
    dimension: service
    monthly_limit: 100
`,
			want: "needs a scope",
		},
		{
			name: "budget on unknown dimension",
			body: `
budgets:
  - name: zone
    dimension: zone
    scope: USE1
    monthly_limit: 100
`,
			want: `unknown dimension "zone"`,
		},
		{
			name: "unknown format",
			body: `
reporter:
  formats: [pdf]
`,
			want: `unknown report format "pdf"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadBudgets(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
budgets:
  - name: total
    monthly_limit: 5000
  - name: mrt-prod
    dimension: env
    scope: prd
    monthly_limit: 1200
    alert_at: [80, 100]
`))
	require.NoError(t, err)
	require.Len(t, cfg.Budgets, 2)

	assert.Equal(t, Budget{Name: "total", Dimension: "all", MonthlyLimit: 5000, AlertAt: DefaultAlertAt}, cfg.Budgets[0])
	assert.Equal(t, Budget{Name: "mrt-prod", Dimension: "env", Scope: "prd", MonthlyLimit: 1200, AlertAt: []int{80, 100}}, cfg.Budgets[1])
}

func TestLoadEmptyInfraPrefix(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
extraction:
  infra_prefix: ""
`))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Extraction.InfraPrefix)
	assert.Equal(t, extract.DefaultOrgPrefix, cfg.Extraction.OrgPrefix)

	rules, err := extract.NewRules(cfg.Extraction)
	require.NoError(t, err)
	got, _ := rules.Extract(extract.Service, "uc3-mrtweb-prd-1")
	assert.Equal(t, "mrtweb", got)

	cfg, err = Load(writeConfig(t, "reporter:\n  title: May\n"))
	require.NoError(t, err)
	assert.Equal(t, extract.DefaultInfraPrefix, cfg.Extraction.InfraPrefix)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
