package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration for shelterbot. It is loaded once at
// startup and passed by value or pointer into every component constructor.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Line       LineConfig       `json:"line"`
	Server     ServerConfig     `json:"server"`
	Answer     AnswerConfig     `json:"answer"`
	Classifier ClassifierConfig `json:"classifier"`
	Shelter    ShelterConfig    `json:"shelter"`
	Guide      GuideConfig      `json:"guide"`
	Router     RouterConfig     `json:"router"`
	Metrics    MetricsConfig    `json:"metrics"`
	Journal    JournalConfig    `json:"journal"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional log file path
	Timezone  string `json:"timezone"`          // IANA name used for the shelter photo date
}

// LineConfig holds the messaging provider credentials. The login id and
// secret are not used by the reply pipeline but are still required.
type LineConfig struct {
	ChannelAccessToken string `json:"channelAccessToken"`
	ChannelSecret      string `json:"channelSecret"`
	LoginID            string `json:"loginId"`
	LoginSecret        string `json:"loginSecret"`
	APIBase            string `json:"apiBase"`
	DataAPIBase        string `json:"dataApiBase"`
	VerifySignature    bool   `json:"verifySignature"`
	TimeoutSeconds     int    `json:"timeoutSeconds"`
}

type ServerConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	BaseURL            string `json:"baseUrl"` // public origin, must match the address the provider can reach
	StaticDir          string `json:"staticDir"`
	RateLimitPerSecond int    `json:"rateLimitPerSecond"` // 0 = disabled
	RateLimitBurst     int    `json:"rateLimitBurst"`
	MaxBodyBytes       int64  `json:"maxBodyBytes"`
}

// BreakerConfig configures a circuit breaker around an external service.
type BreakerConfig struct {
	MaxFailures     uint32 `json:"maxFailures"`
	OpenSeconds     int    `json:"openSeconds"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

type AnswerConfig struct {
	URL            string        `json:"url"`
	TimeoutSeconds int           `json:"timeoutSeconds"`
	FallbackText   string        `json:"fallbackText"`
	Breaker        BreakerConfig `json:"breaker"`
}

type ClassifierConfig struct {
	URL            string        `json:"url"`
	TimeoutSeconds int           `json:"timeoutSeconds"`
	Breaker        BreakerConfig `json:"breaker"`
}

// ShelterConfig locates the daily shelter photo in object storage.
type ShelterConfig struct {
	Bucket           string `json:"bucket"`
	KeyPrefix        string `json:"keyPrefix"`
	Endpoint         string `json:"endpoint,omitempty"` // S3-compatible endpoint for non-AWS storage
	Region           string `json:"region,omitempty"`
	TimeoutSeconds   int    `json:"timeoutSeconds"`
	PrefetchSchedule string `json:"prefetchSchedule"` // cron spec, empty disables
	MapLinkText      string `json:"mapLinkText"`
}

type GuideConfig struct {
	File string `json:"file,omitempty"` // optional YAML file replacing the built-in adoption guide
}

type RouterConfig struct {
	// ErrorReplyText is sent when the image or shelter pipeline fails.
	// Empty means no reply is sent for failed events.
	ErrorReplyText string `json:"errorReplyText,omitempty"`
}

type MetricsConfig struct {
	Enabled             bool   `json:"enabled"`
	Endpoint            string `json:"endpoint"`
	CloudWatchNamespace string `json:"cloudwatchNamespace,omitempty"`
}

type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// Location resolves General.Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.General.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the listen address of the webhook server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Seconds converts a config value in seconds to a duration, using def when unset.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// DefaultConfigDir returns the default config directory (~/.shelterbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shelterbot"
	}
	return filepath.Join(home, ".shelterbot")
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

	// Defaults reference ${VAR} placeholders that never passed through the file.
	for _, field := range []*string{
		&cfg.Line.ChannelAccessToken,
		&cfg.Line.ChannelSecret,
		&cfg.Line.LoginID,
		&cfg.Line.LoginSecret,
		&cfg.Server.BaseURL,
	} {
		*field = ExpandEnvVars(*field)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Server.StaticDir = ExpandPath(cfg.Server.StaticDir)
	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.Guide.File = ExpandPath(cfg.Guide.File)
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left untouched so validation can report it.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks required values and ranges. All problems are reported at once.
func Validate(cfg *Config) error {
	var errs []string

	required := []struct {
		name, value string
	}{
		{"line.channelAccessToken", cfg.Line.ChannelAccessToken},
		{"line.channelSecret", cfg.Line.ChannelSecret},
		{"line.loginId", cfg.Line.LoginID},
		{"line.loginSecret", cfg.Line.LoginSecret},
		{"server.baseUrl", cfg.Server.BaseURL},
		{"classifier.url", cfg.Classifier.URL},
		{"answer.url", cfg.Answer.URL},
	}
	for _, r := range required {
		v := strings.TrimSpace(r.value)
		if v == "" || envVarPattern.MatchString(v) {
			errs = append(errs, r.name+" is required")
		}
	}

	urls := []struct {
		name, value string
	}{
		{"server.baseUrl", cfg.Server.BaseURL},
		{"answer.url", cfg.Answer.URL},
		{"classifier.url", cfg.Classifier.URL},
		{"line.apiBase", cfg.Line.APIBase},
		{"line.dataApiBase", cfg.Line.DataAPIBase},
	}
	for _, r := range urls {
		if r.value == "" || envVarPattern.MatchString(r.value) {
			continue
		}
		u, err := url.Parse(r.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, r.name+" must be an absolute URL")
		}
	}

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.General.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if _, err := time.LoadLocation(cfg.General.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("general.timezone: %v", err))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Server.StaticDir == "" {
		errs = append(errs, "server.staticDir is required")
	}
	if cfg.Server.RateLimitPerSecond < 0 {
		errs = append(errs, "server.rateLimitPerSecond must be >= 0")
	}
	if cfg.Server.MaxBodyBytes < 1 {
		errs = append(errs, "server.maxBodyBytes must be >= 1")
	}

	if cfg.Shelter.Bucket == "" {
		errs = append(errs, "shelter.bucket is required")
	}
	if cfg.Shelter.PrefetchSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Shelter.PrefetchSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("shelter.prefetchSchedule: %v", err))
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.DBPath == "" {
		errs = append(errs, "journal.dbPath is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
