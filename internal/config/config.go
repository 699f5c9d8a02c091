package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alvmarrod/lead-weaver/internal/relevance"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	configName = "config"
	envPrefix  = "PROSPECTOR"

	// testModeLimit caps every level of the plan in test mode
	testModeLimit = 2
)

// Config holds all runtime configuration parameters
type Config struct {
	Search     SearchConfig                 `mapstructure:"search"`
	Budget     BudgetConfig                 `mapstructure:"budget"`
	Checkpoint CheckpointConfig             `mapstructure:"checkpoint"`
	Delays     DelaysConfig                 `mapstructure:"delays"`
	Browser    BrowserConfig                `mapstructure:"browser"`
	Fetch      FetchConfig                  `mapstructure:"fetch"`
	Classifier ClassifierConfig             `mapstructure:"classifier"`
	Relevance  RelevanceConfig              `mapstructure:"relevance"`
	Sectors    map[string]relevance.Profile `mapstructure:"sectors"`
	Records    RecordsConfig                `mapstructure:"records"`
	Output     OutputConfig                 `mapstructure:"output"`
	Log        LogConfig                    `mapstructure:"log"`

	Keywords []string      `mapstructure:"keywords"`
	Regions  RegionsConfig `mapstructure:"regions"`

	KeywordsFile string `mapstructure:"keywords_file"`
	RegionsFile  string `mapstructure:"regions_file"`
	SectorsFile  string `mapstructure:"sectors_file"`

	TestMode bool `mapstructure:"test_mode"`
}

type SearchConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	CX                string        `mapstructure:"cx"`
	Endpoint          string        `mapstructure:"endpoint"`
	MaxResults        int           `mapstructure:"max_results"`
	QueryTemplate     string        `mapstructure:"query_template"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type BudgetConfig struct {
	DailyLimit int    `mapstructure:"daily_limit"`
	LedgerPath string `mapstructure:"ledger_path"`
}

type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

// Range is a closed interval a random delay is drawn from
type Range struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
}

type DelaysConfig struct {
	Search       Range `mapstructure:"search"`
	Extraction   Range `mapstructure:"extraction"`
	RenderSettle Range `mapstructure:"render_settle"`
}

type BrowserConfig struct {
	Engine    string        `mapstructure:"engine"`
	Headless  bool          `mapstructure:"headless"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ExecPath  string        `mapstructure:"exec_path"`
	UserAgent string        `mapstructure:"user_agent"`
}

type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	UserAgents    []string      `mapstructure:"user_agents"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

type ClassifierConfig struct {
	DynamicDomains []string `mapstructure:"dynamic_domains"`
	LargePageBytes int      `mapstructure:"large_page_bytes"`
}

type RelevanceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Sector    string `mapstructure:"sector"`
	Threshold int    `mapstructure:"threshold"`
}

type RecordsConfig struct {
	RequirePhone    bool          `mapstructure:"require_phone"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	ValidateMX      bool          `mapstructure:"validate_mx"`
	WhatsAppMessage string        `mapstructure:"whatsapp_message"`
}

type OutputConfig struct {
	Dir            string `mapstructure:"dir"`
	Prefix         string `mapstructure:"prefix"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	MetricsPath    string `mapstructure:"metrics_path"`
	PrometheusPath string `mapstructure:"prometheus_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// RegionsConfig is the geographic hierarchy: ordered macro-regions and the
// sub-regions of each
type RegionsConfig struct {
	Macro []string            `mapstructure:"macro" yaml:"macro"`
	Sub   map[string][]string `mapstructure:"sub" yaml:"sub"`
}

// regionsFile also accepts the comunidades/ciudades layout of older region files
type regionsFile struct {
	Macro       []string            `yaml:"macro"`
	Sub         map[string][]string `yaml:"sub"`
	Comunidades []string            `yaml:"comunidades"`
	Ciudades    map[string][]string `yaml:"ciudades"`
}

// DefaultSectors is used when neither the config nor a sectors file defines any
var DefaultSectors = map[string]relevance.Profile{
	relevance.DefaultProfile: {
		Relevant: []string{
			"empresa", "servicios", "presupuesto", "clientes", "profesional",
			"tienda", "taller", "contacto", "horario", "calidad",
		},
		Irrelevant: []string{
			"wikipedia", "noticia", "definición", "foro", "boe", "oposiciones",
		},
	},
}

// LoadConfig reads configuration from path (or config.yaml/config.json in
// . and ./config when path is empty), the environment and an optional .env
// file. A missing config file is not an error; defaults are used.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		logrus.Debug("No config file found, using defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.loadSideFiles(); err != nil {
		return nil, err
	}
	cfg.normalize()

	if cfg.TestMode {
		cfg.ApplyTestMode()
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(v *viper.Viper) {
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.cx", "")
	v.SetDefault("search.endpoint", "https://customsearch.googleapis.com/customsearch/v1")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.query_template", "{keyword} {region} contacto site:.es")
	v.SetDefault("search.requests_per_minute", 60)
	v.SetDefault("search.timeout", 15*time.Second)

	v.SetDefault("budget.daily_limit", 95)
	v.SetDefault("budget.ledger_path", "state/search_ledger.json")
	v.SetDefault("checkpoint.path", "state/checkpoint.json")

	v.SetDefault("delays.search.min", 3*time.Second)
	v.SetDefault("delays.search.max", 6*time.Second)
	v.SetDefault("delays.extraction.min", 1*time.Second)
	v.SetDefault("delays.extraction.max", 3*time.Second)
	v.SetDefault("delays.render_settle.min", 1*time.Second)
	v.SetDefault("delays.render_settle.max", 3*time.Second)

	v.SetDefault("browser.engine", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", 20*time.Second)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_agent", "")

	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.probe_timeout", 5*time.Second)
	v.SetDefault("fetch.max_body_bytes", 5*1024*1024)
	v.SetDefault("fetch.respect_robots", true)

	v.SetDefault("classifier.large_page_bytes", 10000)

	v.SetDefault("relevance.enabled", true)
	v.SetDefault("relevance.sector", relevance.DefaultProfile)
	v.SetDefault("relevance.threshold", relevance.DefaultThreshold)

	v.SetDefault("records.require_phone", false)
	v.SetDefault("records.flush_interval", 300*time.Second)
	v.SetDefault("records.validate_mx", false)
	v.SetDefault("records.whatsapp_message", "Hola, ")

	v.SetDefault("output.dir", "results")
	v.SetDefault("output.prefix", "contacts")
	v.SetDefault("output.sqlite_path", "results/contacts.db")
	v.SetDefault("output.metrics_path", "results/metrics.json")
	v.SetDefault("output.prometheus_path", "results/metrics.prom")

	v.SetDefault("keywords_file", "")
	v.SetDefault("regions_file", "")
	v.SetDefault("sectors_file", "")
	v.SetDefault("test_mode", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// loadSideFiles reads the keyword, region and sector files when configured.
// Their contents replace the inline values.
func (c *Config) loadSideFiles() error {
	if c.KeywordsFile != "" {
		var keywords []string
		if err := readYAML(c.KeywordsFile, &keywords); err != nil {
			return err
		}
		c.Keywords = keywords
	}

	if c.RegionsFile != "" {
		var rf regionsFile
		if err := readYAML(c.RegionsFile, &rf); err != nil {
			return err
		}
		c.Regions = RegionsConfig{Macro: rf.Macro, Sub: rf.Sub}
		if len(rf.Macro) == 0 {
			c.Regions = RegionsConfig{Macro: rf.Comunidades, Sub: rf.Ciudades}
		}
	}

	if c.SectorsFile != "" {
		var sectors map[string]relevance.Profile
		if err := readYAML(c.SectorsFile, &sectors); err != nil {
			return err
		}
		c.Sectors = sectors
	}

	return nil
}

// readYAML decodes a YAML or JSON file into v
func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// normalize trims the plan lists and restores the spelling of sub-region
// keys, which viper lowercases
func (c *Config) normalize() {
	c.Keywords = compact(c.Keywords)
	c.Regions.Macro = compact(c.Regions.Macro)

	subs := make(map[string][]string, len(c.Regions.Sub))
	for _, macro := range c.Regions.Macro {
		list, ok := c.Regions.Sub[macro]
		if !ok {
			list, ok = c.Regions.Sub[strings.ToLower(macro)]
		}
		if ok {
			subs[macro] = compact(list)
		}
	}
	for key := range c.Regions.Sub {
		if !c.hasMacro(key) {
			logrus.Warnf("Sub-regions listed for unknown macro-region %q are ignored", key)
		}
	}
	c.Regions.Sub = subs

	if len(c.Sectors) == 0 {
		c.Sectors = DefaultSectors
	}
	sectors := make(map[string]relevance.Profile, len(c.Sectors))
	for name, p := range c.Sectors {
		sectors[strings.ToLower(name)] = p
	}
	c.Sectors = sectors
	c.Relevance.Sector = strings.ToLower(strings.TrimSpace(c.Relevance.Sector))

	c.Browser.Engine = strings.ToLower(strings.TrimSpace(c.Browser.Engine))
}

func (c *Config) hasMacro(key string) bool {
	for _, m := range c.Regions.Macro {
		if m == key || strings.ToLower(m) == key {
			return true
		}
	}
	return false
}

// ApplyTestMode limits the plan to two keywords, two macro-regions and two
// sub-regions per macro-region. Applying it twice changes nothing.
func (c *Config) ApplyTestMode() {
	c.TestMode = true
	c.Keywords = head(c.Keywords, testModeLimit)
	c.Regions.Macro = head(c.Regions.Macro, testModeLimit)

	subs := make(map[string][]string, len(c.Regions.Macro))
	for _, macro := range c.Regions.Macro {
		if list, ok := c.Regions.Sub[macro]; ok {
			subs[macro] = head(list, testModeLimit)
		}
	}
	c.Regions.Sub = subs
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if len(cfg.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}
	if len(cfg.Regions.Macro) == 0 {
		return fmt.Errorf("at least one macro-region is required")
	}
	if cfg.Budget.DailyLimit < 0 {
		return fmt.Errorf("budget.daily_limit must be >= 0")
	}
	if cfg.Budget.LedgerPath == "" || cfg.Checkpoint.Path == "" {
		return fmt.Errorf("budget.ledger_path and checkpoint.path are required")
	}
	for name, r := range map[string]Range{
		"delays.search":        cfg.Delays.Search,
		"delays.extraction":    cfg.Delays.Extraction,
		"delays.render_settle": cfg.Delays.RenderSettle,
	} {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("%s must satisfy 0 <= min <= max", name)
		}
	}
	if cfg.Relevance.Threshold < 0 || cfg.Relevance.Threshold > 100 {
		return fmt.Errorf("relevance.threshold must be between 0 and 100")
	}
	if cfg.Search.MaxResults < 1 || cfg.Search.MaxResults > 10 {
		return fmt.Errorf("search.max_results must be between 1 and 10")
	}
	switch cfg.Browser.Engine {
	case "chromedp", "rod":
	default:
		return fmt.Errorf("browser.engine must be chromedp or rod, got %q", cfg.Browser.Engine)
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// RequireSearch checks the search credentials, which only the run command needs
func (c *Config) RequireSearch() error {
	if c.Search.APIKey == "" {
		return fmt.Errorf("search.api_key is required (or set %s_SEARCH_API_KEY)", envPrefix)
	}
	if c.Search.CX == "" {
		return fmt.Errorf("search.cx is required (or set %s_SEARCH_CX)", envPrefix)
	}
	return nil
}

// compact trims entries and drops empty ones and repeats, keeping order
func compact(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func head(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}
