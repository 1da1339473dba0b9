package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	DefaultModel        = "openrouter/auto"
	DefaultMaxSteps     = 8
	DefaultTimeout      = 120 * time.Second
	DefaultBaseURL      = "https://openrouter.ai/api/v1"
	DefaultServerAddr   = ":8080"
	DefaultToolTimeout  = 15
	DefaultAPIBytes     = 64 * 1024
	DefaultScrapeBytes  = 30 * 1024
	DefaultMaxResults   = 100
	DefaultStoreName    = "toolhub.json"
)

// ToolLimits controls max output sizes for tools.
type ToolLimits struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	APIMaxBytes    int `mapstructure:"api_max_bytes"`
	ScrapeMaxBytes int `mapstructure:"scrape_max_bytes"`
	MaxResults     int `mapstructure:"max_results"`
}

// Config holds runtime configuration values.
type Config struct {
	Model             string
	MaxSteps          int
	Timeout           time.Duration
	DataDir           string
	StorePath         string
	ServerAddr        string
	NoPlan            bool
	Quiet             bool
	JSON              bool
	Verbose           bool
	OpenRouterBaseURL string
	HTTPReferer       string
	Title             string
	ToolLimits        ToolLimits
}

type rawConfig struct {
	Model             string     `mapstructure:"model"`
	MaxSteps          int        `mapstructure:"max_steps"`
	Timeout           string     `mapstructure:"timeout"`
	DataDir           string     `mapstructure:"data_dir"`
	ServerAddr        string     `mapstructure:"server_addr"`
	NoPlan            bool       `mapstructure:"no_plan"`
	Quiet             bool       `mapstructure:"quiet"`
	JSON              bool       `mapstructure:"json"`
	Verbose           bool       `mapstructure:"verbose"`
	OpenRouterBaseURL string     `mapstructure:"openrouter_base_url"`
	HTTPReferer       string     `mapstructure:"http_referer"`
	Title             string     `mapstructure:"title"`
	ToolLimits        ToolLimits `mapstructure:"tool_limits"`
}

// Load resolves configuration from defaults, config files, env, and flags.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOOLHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("model", DefaultModel)
	v.SetDefault("max_steps", DefaultMaxSteps)
	v.SetDefault("timeout", DefaultTimeout.String())
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("server_addr", DefaultServerAddr)
	v.SetDefault("no_plan", false)
	v.SetDefault("quiet", false)
	v.SetDefault("json", false)
	v.SetDefault("verbose", false)
	v.SetDefault("openrouter_base_url", DefaultBaseURL)
	v.SetDefault("tool_limits.timeout_seconds", DefaultToolTimeout)
	v.SetDefault("tool_limits.api_max_bytes", DefaultAPIBytes)
	v.SetDefault("tool_limits.scrape_max_bytes", DefaultScrapeBytes)
	v.SetDefault("tool_limits.max_results", DefaultMaxResults)

	if cmd != nil {
		_ = v.BindPFlag("model", cmd.Flags().Lookup("model"))
		_ = v.BindPFlag("max_steps", cmd.Flags().Lookup("max-steps"))
		_ = v.BindPFlag("timeout", cmd.Flags().Lookup("timeout"))
		_ = v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
		_ = v.BindPFlag("server_addr", cmd.Flags().Lookup("addr"))
		_ = v.BindPFlag("no_plan", cmd.Flags().Lookup("no-plan"))
		_ = v.BindPFlag("quiet", cmd.Flags().Lookup("quiet"))
		_ = v.BindPFlag("json", cmd.Flags().Lookup("json"))
		_ = v.BindPFlag("verbose", cmd.Flags().Lookup("verbose"))
	}

	if err := loadConfigFile(v); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	decoder, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "mapstructure", Result: &raw})
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, err
	}

	timeout := DefaultTimeout
	if raw.Timeout != "" {
		parsed, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("invalid timeout duration: %w", err)
		}
		timeout = parsed
	}

	cfg := Config{
		Model:             raw.Model,
		MaxSteps:          raw.MaxSteps,
		Timeout:           timeout,
		DataDir:           raw.DataDir,
		ServerAddr:        raw.ServerAddr,
		NoPlan:            raw.NoPlan,
		Quiet:             raw.Quiet,
		JSON:              raw.JSON,
		Verbose:           raw.Verbose,
		OpenRouterBaseURL: raw.OpenRouterBaseURL,
		HTTPReferer:       raw.HTTPReferer,
		Title:             raw.Title,
		ToolLimits:        raw.ToolLimits,
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = DefaultServerAddr
	}
	if cfg.OpenRouterBaseURL == "" {
		cfg.OpenRouterBaseURL = DefaultBaseURL
	}
	if cfg.ToolLimits.TimeoutSeconds <= 0 {
		cfg.ToolLimits.TimeoutSeconds = DefaultToolTimeout
	}
	if cfg.ToolLimits.APIMaxBytes <= 0 {
		cfg.ToolLimits.APIMaxBytes = DefaultAPIBytes
	}
	if cfg.ToolLimits.ScrapeMaxBytes <= 0 {
		cfg.ToolLimits.ScrapeMaxBytes = DefaultScrapeBytes
	}
	if cfg.ToolLimits.MaxResults <= 0 {
		cfg.ToolLimits.MaxResults = DefaultMaxResults
	}
	cfg.StorePath = filepath.Join(cfg.DataDir, DefaultStoreName)

	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolhub"
	}
	return filepath.Join(home, ".local", "share", "toolhub")
}

func loadConfigFile(v *viper.Viper) error {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(configDir, "toolhub")
	candidates := []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}
