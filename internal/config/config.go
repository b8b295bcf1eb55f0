// Package config loads and validates the sitemapd configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Content    ContentConfig    `yaml:"content"`
	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`
	Events     EventsConfig     `yaml:"events"`
	Ping       PingConfig       `yaml:"ping"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig describes the site the sitemaps are generated for.
type SiteConfig struct {
	BaseURL string `yaml:"base_url"`
	// Public controls whether search engines are pinged after runs.
	// Unset means public.
	Public *bool `yaml:"public,omitempty"`
}

// IsPublic reports whether the site should be announced to search engines.
func (s SiteConfig) IsPublic() bool {
	return s.Public == nil || *s.Public
}

// ContentConfig selects and configures the content source.
type ContentConfig struct {
	Source string             `yaml:"source"` // "sqlite" or "git"
	SQLite SQLiteSourceConfig `yaml:"sqlite,omitempty"`
	Git    GitSourceConfig    `yaml:"git,omitempty"`
	Kinds  []KindConfig       `yaml:"kinds"`
}

// SQLiteSourceConfig points at a CMS content database.
type SQLiteSourceConfig struct {
	Path string `yaml:"path"`
}

// GitSourceConfig points at a checked-out content repository.
type GitSourceConfig struct {
	Path       string `yaml:"path"`
	ContentDir string `yaml:"content_dir,omitempty"`
}

// KindConfig describes one content kind exposed through a provider.
type KindConfig struct {
	Kind       string  `yaml:"kind"`
	PathPrefix string  `yaml:"path_prefix"`
	Priority   float64 `yaml:"priority,omitempty"`
	ChangeFreq string  `yaml:"changefreq,omitempty"`
	Images     bool    `yaml:"images,omitempty"` // extract images from bodies
}

// StorageConfig locates the sitemap document database and the run state
// database. StatePath defaults to a sibling of Path.
type StorageConfig struct {
	Path      string `yaml:"path"`
	StatePath string `yaml:"state_path,omitempty"`
}

// GenerationConfig tunes batch generation and the background tick.
type GenerationConfig struct {
	BatchSize    int    `yaml:"batch_size"`
	TickInterval string `yaml:"tick_interval"`
}

// Interval returns the parsed tick interval. Validation guarantees the
// string parses; the fallback only guards direct struct construction.
func (g GenerationConfig) Interval() time.Duration {
	d, err := time.ParseDuration(g.TickInterval)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
}

// EventsConfig configures NATS lifecycle event publishing.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url,omitempty"`
	Stream        string `yaml:"stream,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// PingConfig configures search engine notification after completed runs.
type PingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoints are format strings receiving the sitemap index URL.
	Endpoints []string `yaml:"endpoints,omitempty"`
	Timeout   string   `yaml:"timeout,omitempty"`
}

// PingTimeout returns the parsed per-endpoint timeout.
func (p PingConfig) PingTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Source kinds accepted by ContentConfig.Source.
const (
	SourceSQLite = "sqlite"
	SourceGit    = "git"
)

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFiles(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, defaults and validates raw configuration bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the YAML content
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFiles loads environment variables from .env/.env.local files.
// Existing process environment variables are not overwritten.
func loadEnvFiles() error {
	envPaths := []string{".env", ".env.local"}
	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			fmt.Fprintf(os.Stderr, "Loaded environment variables from %s\n", envPath)
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func (c *Config) applyDefaults() {
	if c.Content.Source == "" {
		c.Content.Source = SourceSQLite
	}
	if c.Content.Git.ContentDir == "" {
		c.Content.Git.ContentDir = "content"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./sitemapd.db"
	}
	if c.Storage.StatePath == "" {
		ext := filepath.Ext(c.Storage.Path)
		c.Storage.StatePath = strings.TrimSuffix(c.Storage.Path, ext) + "-state" + ext
	}
	if c.Generation.BatchSize == 0 {
		c.Generation.BatchSize = 25
	}
	if c.Generation.TickInterval == "" {
		c.Generation.TickInterval = "2m"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8847"
	}
	if c.Events.Stream == "" {
		c.Events.Stream = "SITEMAPD"
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "sitemapd"
	}
	if c.Ping.Enabled && len(c.Ping.Endpoints) == 0 {
		c.Ping.Endpoints = []string{
			"https://www.google.com/ping?sitemap=%s",
			"https://www.bing.com/ping?sitemap=%s",
		}
	}
	if c.Ping.Timeout == "" {
		c.Ping.Timeout = "10s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Init creates a new configuration file with example content
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	public := true
	exampleConfig := Config{
		Site: SiteConfig{
			BaseURL: "https://blog.example.com",
			Public:  &public,
		},
		Content: ContentConfig{
			Source: SourceSQLite,
			SQLite: SQLiteSourceConfig{Path: "./content.db"},
			Git: GitSourceConfig{
				Path:       "./site",
				ContentDir: "content",
			},
			Kinds: []KindConfig{
				{
					Kind:       "post",
					PathPrefix: "/posts",
					Priority:   0.7,
					ChangeFreq: "weekly",
					Images:     true,
				},
				{
					Kind:       "page",
					PathPrefix: "/",
					Priority:   0.5,
					ChangeFreq: "monthly",
				},
			},
		},
		Storage: StorageConfig{Path: "./sitemapd.db"},
		Generation: GenerationConfig{
			BatchSize:    25,
			TickInterval: "2m",
		},
		Server: ServerConfig{
			Addr:    ":8847",
			Metrics: true,
		},
		Events: EventsConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			Stream:        "SITEMAPD",
			SubjectPrefix: "sitemapd",
		},
		Ping: PingConfig{
			Enabled: true,
			Endpoints: []string{
				"https://www.google.com/ping?sitemap=%s",
			},
			Timeout: "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}

	data, err := yaml.Marshal(&exampleConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
