package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidateConfig validates the complete configuration structure.
func ValidateConfig(cfg *Config) error {
	validator := newConfigurationValidator(cfg)
	return validator.validate()
}

// configurationValidator coordinates validation across all configuration domains.
type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

// validate performs configuration validation using domain-specific methods.
func (cv *configurationValidator) validate() error {
	if err := cv.validateSite(); err != nil {
		return err
	}
	if err := cv.validateContent(); err != nil {
		return err
	}
	if err := cv.validateGeneration(); err != nil {
		return err
	}
	if err := cv.validateEvents(); err != nil {
		return err
	}
	if err := cv.validatePing(); err != nil {
		return err
	}
	return nil
}

func (cv *configurationValidator) validateSite() error {
	base := cv.config.Site.BaseURL
	if base == "" {
		return errors.New("site.base_url must be configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("site.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("site.base_url must be an absolute http(s) URL, got %q", base)
	}
	if u.Host == "" {
		return fmt.Errorf("site.base_url is missing a host: %q", base)
	}
	return nil
}

var validChangeFreqs = map[string]bool{
	"always":  true,
	"hourly":  true,
	"daily":   true,
	"weekly":  true,
	"monthly": true,
	"yearly":  true,
	"never":   true,
}

func (cv *configurationValidator) validateContent() error {
	content := cv.config.Content

	switch content.Source {
	case SourceSQLite:
		if content.SQLite.Path == "" {
			return errors.New("content.sqlite.path must be set when content.source is \"sqlite\"")
		}
	case SourceGit:
		if content.Git.Path == "" {
			return errors.New("content.git.path must be set when content.source is \"git\"")
		}
	default:
		return fmt.Errorf("unsupported content source: %q (expected %q or %q)", content.Source, SourceSQLite, SourceGit)
	}

	if len(content.Kinds) == 0 {
		return errors.New("content.kinds must declare at least one kind")
	}

	seen := make(map[string]bool)
	for _, kind := range content.Kinds {
		if kind.Kind == "" {
			return errors.New("content kind name cannot be empty")
		}
		if seen[kind.Kind] {
			return fmt.Errorf("duplicate content kind: %s", kind.Kind)
		}
		seen[kind.Kind] = true

		if !strings.HasPrefix(kind.PathPrefix, "/") {
			return fmt.Errorf("content kind %s: path_prefix must start with /, got %q", kind.Kind, kind.PathPrefix)
		}
		if kind.Priority < 0 || kind.Priority > 1 {
			return fmt.Errorf("content kind %s: priority must be between 0.0 and 1.0, got %g", kind.Kind, kind.Priority)
		}
		if kind.ChangeFreq != "" && !validChangeFreqs[kind.ChangeFreq] {
			return fmt.Errorf("content kind %s: invalid changefreq %q", kind.Kind, kind.ChangeFreq)
		}
	}
	return nil
}

func (cv *configurationValidator) validateGeneration() error {
	gen := cv.config.Generation
	if gen.BatchSize < 1 {
		return fmt.Errorf("generation.batch_size must be at least 1, got %d", gen.BatchSize)
	}
	d, err := time.ParseDuration(gen.TickInterval)
	if err != nil {
		return fmt.Errorf("generation.tick_interval is not a valid duration: %w", err)
	}
	if d < time.Second {
		return fmt.Errorf("generation.tick_interval must be at least 1s, got %s", d)
	}
	return nil
}

func (cv *configurationValidator) validateEvents() error {
	events := cv.config.Events
	if !events.Enabled {
		return nil
	}
	if events.URL == "" {
		return errors.New("events.url must be set when events are enabled")
	}
	if events.Stream == "" {
		return errors.New("events.stream must be set when events are enabled")
	}
	return nil
}

func (cv *configurationValidator) validatePing() error {
	ping := cv.config.Ping
	if !ping.Enabled {
		return nil
	}
	for _, endpoint := range ping.Endpoints {
		if !strings.Contains(endpoint, "%s") {
			return fmt.Errorf("ping endpoint must contain a %%s placeholder for the sitemap URL: %q", endpoint)
		}
		u, err := url.Parse(fmt.Sprintf(endpoint, "https://example.com/sitemap.xml"))
		if err != nil {
			return fmt.Errorf("ping endpoint is not a valid URL template: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("ping endpoint must be http(s): %q", endpoint)
		}
	}
	if _, err := time.ParseDuration(ping.Timeout); err != nil {
		return fmt.Errorf("ping.timeout is not a valid duration: %w", err)
	}
	return nil
}
