package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
)

// Config is the root configuration for replicli.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Browser    BrowserConfig    `json:"browser"`
	Site       SiteConfig       `json:"site"`
	Timeouts   TimeoutsConfig   `json:"timeouts"`
	Transcript TranscriptConfig `json:"transcript"`
	Telegram   TelegramConfig   `json:"telegram"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel      string `json:"logLevel"`
	LogFile       string `json:"logFile,omitempty"` // optional rotating log file
	LogMaxSizeMB  int    `json:"logMaxSizeMB,omitempty"`
	CompanionName string `json:"companionName"` // label used for inbound transcript lines
	EnvFile       string `json:"envFile,omitempty"`
}

type BrowserConfig struct {
	ProfileDir string `json:"profileDir"` // Chrome user data directory (persists cookies)
	Headless   bool   `json:"headless"`
	ExecPath   string `json:"execPath,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
}

type SiteConfig struct {
	URL           string            `json:"url"`
	LandingURL    string            `json:"landingUrl"` // substring expected in the URL after login
	SelectorsFile string            `json:"selectorsFile,omitempty"`
	Selectors     map[string]string `json:"selectors,omitempty"` // role -> "css=..." or "xpath=..."
}

// TimeoutsConfig holds every wait budget and deliberate delay, in seconds.
type TimeoutsConfig struct {
	SubmitSeconds        int `json:"submitSeconds"`
	DeliverySeconds      int `json:"deliverySeconds"`
	SettleSeconds        int `json:"settleSeconds"`
	CollectSeconds       int `json:"collectSeconds"`
	ImageProbeSeconds    int `json:"imageProbeSeconds"`
	LoginFieldSeconds    int `json:"loginFieldSeconds"`
	LoginRedirectSeconds int `json:"loginRedirectSeconds"`
	PostLoginSeconds     int `json:"postLoginSeconds"`
	ImageContinueSeconds int `json:"imageContinueSeconds"`
	ImageStopSeconds     int `json:"imageStopSeconds"`
	OneShotLingerSeconds int `json:"oneShotLingerSeconds"`
}

type TranscriptConfig struct {
	Dir    string `json:"dir"`
	DBPath string `json:"dbPath"`
	Index  bool   `json:"index"` // mirror transcript lines and turns into SQLite
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus textfile written on shutdown.
type MetricsConfig struct {
	Textfile string `json:"textfile,omitempty"`
}

// Seconds converts a config value to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.replicli).
func DefaultConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".replicli"
	}
	return filepath.Join(home, ".replicli")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.ExpandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ExpandPaths resolves ~/ in every path-valued field.
func (cfg *Config) ExpandPaths() {
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.General.EnvFile = ExpandPath(cfg.General.EnvFile)
	cfg.Browser.ProfileDir = ExpandPath(cfg.Browser.ProfileDir)
	cfg.Site.SelectorsFile = ExpandPath(cfg.Site.SelectorsFile)
	cfg.Transcript.Dir = ExpandPath(cfg.Transcript.Dir)
	cfg.Transcript.DBPath = ExpandPath(cfg.Transcript.DBPath)
	cfg.Metrics.Textfile = ExpandPath(cfg.Metrics.Textfile)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if strings.TrimSpace(cfg.General.CompanionName) == "" {
		errs = append(errs, "general.companionName must not be empty")
	}

	if !strings.HasPrefix(cfg.Site.URL, "http://") && !strings.HasPrefix(cfg.Site.URL, "https://") {
		errs = append(errs, "site.url must be an http(s) URL")
	}
	if cfg.Site.LandingURL == "" {
		errs = append(errs, "site.landingUrl must not be empty")
	}

	t := cfg.Timeouts
	for name, v := range map[string]int{
		"submitSeconds":        t.SubmitSeconds,
		"deliverySeconds":      t.DeliverySeconds,
		"collectSeconds":       t.CollectSeconds,
		"imageProbeSeconds":    t.ImageProbeSeconds,
		"loginFieldSeconds":    t.LoginFieldSeconds,
		"loginRedirectSeconds": t.LoginRedirectSeconds,
	} {
		if v < 1 || v > 600 {
			errs = append(errs, fmt.Sprintf("timeouts.%s must be between 1 and 600", name))
		}
	}
	for name, v := range map[string]int{
		"settleSeconds":        t.SettleSeconds,
		"postLoginSeconds":     t.PostLoginSeconds,
		"imageContinueSeconds": t.ImageContinueSeconds,
		"imageStopSeconds":     t.ImageStopSeconds,
		"oneShotLingerSeconds": t.OneShotLingerSeconds,
	} {
		if v < 0 || v > 600 {
			errs = append(errs, fmt.Sprintf("timeouts.%s must be between 0 and 600", name))
		}
	}

	if cfg.Transcript.Dir == "" {
		errs = append(errs, "transcript.dir must not be empty")
	}
	if cfg.Transcript.Index && cfg.Transcript.DBPath == "" {
		errs = append(errs, "transcript.dbPath is required when transcript.index is enabled")
	}

	if cfg.Telegram.Enabled && cfg.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required when telegram is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}
