package internal

import (
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/quill/internal/site"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration. It is immutable once
// the application starts.
type Config struct {
	App         ApplicationConfig  `yaml:"app"`
	Site        SiteConfig         `yaml:"site"`
	Render      RenderConfig       `yaml:"render"`
	Index       IndexConfig        `yaml:"index"`
	Auth        AuthConfig         `yaml:"auth"`
	Collections []CollectionConfig `yaml:"collections"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Site.Validate(); err != nil {
		return fmt.Errorf("site: %w", err)
	}
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	seen := make(map[string]bool, len(c.Collections))
	for i := range c.Collections {
		col := &c.Collections[i]
		if err := col.Validate(); err != nil {
			return fmt.Errorf("collections[%d]: %w", i, err)
		}
		if seen[col.Dir] {
			return fmt.Errorf("collections[%d]: duplicate dir %q", i, col.Dir)
		}
		seen[col.Dir] = true
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SiteConfig locates the content and templates and carries the values
// exposed to templates as .Site.
type SiteConfig struct {
	Root        string         `yaml:"root"`
	Templates   string         `yaml:"templates"`
	Title       string         `yaml:"title"`
	BaseURL     string         `yaml:"base_url"`
	Development bool           `yaml:"development"`
	Params      map[string]any `yaml:"params"`
}

// Validate validates the site configuration.
func (c *SiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Templates, validation.Required),
		validation.Field(&c.BaseURL, is.URL),
	)
}

// RenderConfig tunes the render pipeline.
type RenderConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	DefaultLayout  string        `yaml:"default_layout"`
	Languages      []string      `yaml:"languages"`
	HighlightStyle string        `yaml:"highlight_style"`
	// Schema is an optional JSON Schema file front-matter must satisfy.
	Schema string `yaml:"schema"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.DefaultLayout, validation.Required),
		validation.Field(&c.HighlightStyle, validation.Required),
	)
}

// WorkerCount returns Workers, or GOMAXPROCS when unset.
func (c *RenderConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// IndexConfig holds the page index database configuration.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// CollectionConfig declares a directory listed on paginated routes.
type CollectionConfig struct {
	Dir     string `yaml:"dir"`
	Title   string `yaml:"title"`
	PerPage int    `yaml:"per_page"`
	Layout  string `yaml:"layout"`
}

// Validate validates one collection.
func (c *CollectionConfig) Validate() error {
	c.Dir = strings.Trim(path.Clean("/"+c.Dir), "/")
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.PerPage, validation.Min(0)),
	)
}

func (c CollectionConfig) collection() site.Collection {
	return site.Collection{Dir: c.Dir, Title: c.Title, PerPage: c.PerPage, Layout: c.Layout}
}

// AuthConfig guards the mutating control endpoints.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Site: SiteConfig{
			Root:      "./content",
			Templates: "./templates",
		},
		Render: RenderConfig{
			Debounce:       300 * time.Millisecond,
			QueueSize:      256,
			DefaultLayout:  "page",
			Languages:      []string{"go", "c", "rust", "zig", "haskell", "python", "javascript", "bash", "yaml", "json"},
			HighlightStyle: "github",
		},
		Index: IndexConfig{
			Path: ":memory:",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
