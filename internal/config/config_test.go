package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
keywords: [panadería, " horno ", panadería]
regions:
  macro: [Andalucía, Aragón, Cataluña]
  sub:
    Andalucía: [Sevilla, Málaga, Cádiz]
    Cataluña: [Girona]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 95, cfg.Budget.DailyLimit)
	assert.Equal(t, "state/search_ledger.json", cfg.Budget.LedgerPath)
	assert.Equal(t, "state/checkpoint.json", cfg.Checkpoint.Path)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "{keyword} {region} contacto site:.es", cfg.Search.QueryTemplate)
	assert.Equal(t, Range{Min: 3 * time.Second, Max: 6 * time.Second}, cfg.Delays.Search)
	assert.Equal(t, Range{Min: time.Second, Max: 3 * time.Second}, cfg.Delays.Extraction)
	assert.Equal(t, "chromedp", cfg.Browser.Engine)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Fetch.RespectRobots)
	assert.Equal(t, 5*time.Second, cfg.Fetch.ProbeTimeout)
	assert.True(t, cfg.Relevance.Enabled)
	assert.Equal(t, 40, cfg.Relevance.Threshold)
	assert.Equal(t, 300*time.Second, cfg.Records.FlushInterval)
	assert.Equal(t, "Hola, ", cfg.Records.WhatsAppMessage)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Contains(t, cfg.Sectors, "default")
	assert.False(t, cfg.TestMode)
}

func TestLoadConfigNormalizesPlan(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"panadería", "horno"}, cfg.Keywords)
	assert.Equal(t, []string{"Andalucía", "Aragón", "Cataluña"}, cfg.Regions.Macro)
	assert.Equal(t, []string{"Sevilla", "Málaga", "Cádiz"}, cfg.Regions.Sub["Andalucía"])
	assert.Equal(t, []string{"Girona"}, cfg.Regions.Sub["Cataluña"])
	assert.NotContains(t, cfg.Regions.Sub, "Aragón")
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML+`
budget:
  daily_limit: 10
delays:
  search: {min: 0s, max: 0s}
browser:
  engine: Rod
relevance:
  sector: Panaderia
sectors:
  panaderia:
    relevant: [pan, horno]
    irrelevant: [receta]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Budget.DailyLimit)
	assert.Zero(t, cfg.Delays.Search.Max)
	assert.Equal(t, "rod", cfg.Browser.Engine)
	assert.Equal(t, "panaderia", cfg.Relevance.Sector)
	require.Contains(t, cfg.Sectors, "panaderia")
	assert.Equal(t, []string{"pan", "horno"}, cfg.Sectors["panaderia"].Relevant)
	assert.NotContains(t, cfg.Sectors, "default")
}

func TestLoadConfigEnvironment(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)
	t.Setenv("PROSPECTOR_SEARCH_API_KEY", "secret")
	t.Setenv("PROSPECTOR_SEARCH_CX", "engine-id")
	t.Setenv("PROSPECTOR_BUDGET_DAILY_LIMIT", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Search.APIKey)
	assert.Equal(t, "engine-id", cfg.Search.CX)
	assert.Equal(t, 7, cfg.Budget.DailyLimit)
	assert.NoError(t, cfg.RequireSearch())
}

func TestLoadConfigSideFiles(t *testing.T) {
	dir := t.TempDir()
	keywords := writeFile(t, dir, "keywords.json", `["pastelería", "obrador"]`)
	regions := writeFile(t, dir, "regiones.json",
		`{"comunidades": ["Galicia", "Asturias"], "ciudades": {"Galicia": ["Vigo", "Lugo"]}}`)
	sectors := writeFile(t, dir, "sectors.yaml", "Pasteleria:\n  relevant: [tarta, pastel]\n")
	path := writeFile(t, dir, "config.yaml", baseYAML+
		"keywords_file: "+keywords+"\nregions_file: "+regions+"\nsectors_file: "+sectors+"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"pastelería", "obrador"}, cfg.Keywords)
	assert.Equal(t, []string{"Galicia", "Asturias"}, cfg.Regions.Macro)
	assert.Equal(t, []string{"Vigo", "Lugo"}, cfg.Regions.Sub["Galicia"])
	assert.Equal(t, []string{"tarta", "pastel"}, cfg.Sectors["pasteleria"].Relevant)
}

func TestLoadConfigSideFileMissing(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML+"keywords_file: /nonexistent/keywords.json\n")

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "keywords.json")
}

func TestLoadConfigExplicitFileMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestTestMode(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
test_mode: true
keywords: [a, b, c, d]
regions:
  macro: [Andalucía, Aragón, Cataluña]
  sub:
    Andalucía: [Sevilla, Málaga, Cádiz]
    Cataluña: [Girona]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.TestMode)
	assert.Equal(t, []string{"a", "b"}, cfg.Keywords)
	assert.Equal(t, []string{"Andalucía", "Aragón"}, cfg.Regions.Macro)
	assert.Equal(t, []string{"Sevilla", "Málaga"}, cfg.Regions.Sub["Andalucía"])
	assert.NotContains(t, cfg.Regions.Sub, "Cataluña")

	before := *cfg
	cfg.ApplyTestMode()
	assert.Equal(t, before.Keywords, cfg.Keywords)
	assert.Equal(t, before.Regions, cfg.Regions)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no keywords", "regions: {macro: [Madrid]}", "keyword"},
		{"no regions", "keywords: [pan]", "macro-region"},
		{"negative budget", baseYAML + "budget: {daily_limit: -1}", "daily_limit"},
		{"inverted delay", baseYAML + "delays: {extraction: {min: 5s, max: 1s}}", "delays.extraction"},
		{"threshold out of range", baseYAML + "relevance: {threshold: 120}", "threshold"},
		{"too many results", baseYAML + "search: {max_results: 50}", "max_results"},
		{"unknown engine", baseYAML + "browser: {engine: firefox}", "browser.engine"},
		{"bad log level", baseYAML + "log: {level: loud}", "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.yaml)

			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRequireSearch(t *testing.T) {
	cfg := &Config{}
	assert.ErrorContains(t, cfg.RequireSearch(), "api_key")

	cfg.Search.APIKey = "key"
	assert.ErrorContains(t, cfg.RequireSearch(), "cx")

	cfg.Search.CX = "cx"
	assert.NoError(t, cfg.RequireSearch())
}
