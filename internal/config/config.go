package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// DefaultAPIURL is the public Hacker News item API.
const DefaultAPIURL = "https://hacker-news.firebaseio.com/v0"

// DefaultQuery loads every stored thread. Any SELECT returning the same
// column names can replace it via data.query or data.query_file.
const DefaultQuery = `SELECT id, title, author, type, score, descendants, created_at FROM threads`

type Config struct {
	Data    Data    `yaml:"data"`
	Sources Sources `yaml:"sources"`
	Views   Views   `yaml:"views"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
	Tracing Tracing `yaml:"tracing"`
}

type Data struct {
	DataDir   string `yaml:"data_dir" env:"THREADLENS_DATA_DIR"`
	Query     string `yaml:"query"`
	QueryFile string `yaml:"query_file" env:"THREADLENS_QUERY_FILE"`
}

type Sources struct {
	Feeds []Feed   `yaml:"feeds"`
	Files []string `yaml:"files"`
	API   API      `yaml:"api"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// API configures score refreshes from the Hacker News item API.
type API struct {
	Enabled bool   `yaml:"enabled" env:"THREADLENS_API_ENABLED"`
	BaseURL string `yaml:"base_url" env:"THREADLENS_API_URL"`
	Refresh int    `yaml:"refresh"`
}

type Views struct {
	BarMetrics []string `yaml:"bar_metrics"`
	MaxBars    int      `yaml:"max_bars"`
	Title      string   `yaml:"title"`
	Intro      string   `yaml:"intro"`
}

type Server struct {
	Host           string `yaml:"host" env:"THREADLENS_HOST"`
	Port           int    `yaml:"port" env:"THREADLENS_PORT"`
	SessionIdleMin int    `yaml:"session_idle_minutes"`
}

type Logging struct {
	Level string `yaml:"level" env:"THREADLENS_LOG_LEVEL"`
}

type Tracing struct {
	Enabled     bool   `yaml:"enabled" env:"THREADLENS_OTEL_ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"THREADLENS_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name"`
}

// ConfigDir returns the XDG config directory for threadlens.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "threadlens")
}

// DataDir returns the XDG data directory for threadlens.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "threadlens")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/threadlens/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'threadlens init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file, then applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Data: Data{Query: DefaultQuery},
		Sources: Sources{
			API: API{BaseURL: DefaultAPIURL, Refresh: 100},
		},
		Views: Views{
			BarMetrics: []string{"score", "descendants"},
			Title:      "Hacker News",
		},
		Server:  Server{Host: "127.0.0.1", Port: 4200, SessionIdleMin: 60},
		Logging: Logging{Level: "INFO"},
		Tracing: Tracing{ServiceName: "threadlens"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if n := len(cfg.Views.BarMetrics); n == 0 || n > 2 {
		return nil, fmt.Errorf("views.bar_metrics must list one or two metrics, got %d", n)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Data.DataDir != "" {
		return c.Data.DataDir
	}
	return DataDir()
}

// GetQuery returns the ingestion query, preferring query_file when set.
func (c *Config) GetQuery() (string, error) {
	if c.Data.QueryFile == "" {
		return c.Data.Query, nil
	}
	data, err := os.ReadFile(c.Data.QueryFile)
	if err != nil {
		return "", fmt.Errorf("reading query file: %w", err)
	}
	return string(data), nil
}

// LogLevel maps logging.level to a slog level. Unknown values fall back to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToUpper(strings.TrimSpace(c.Logging.Level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
