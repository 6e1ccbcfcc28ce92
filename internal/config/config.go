// Package config loads searchsync configuration from YAML files and the
// environment, and serves it to components that must re-read it per call.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	serrors "github.com/Aman-CERP/searchsync/internal/errors"
)

// Delivery modes.
const (
	DeliveryLocal  = "local"
	DeliveryQueued = "queued"
	DeliveryCustom = "custom"
)

// Backend kinds.
const (
	BackendNative = "native"
	BackendREST   = "rest"
)

// ProjectConfigName is the file looked up in the working directory.
const ProjectConfigName = "searchsync.yaml"

// Config is the full searchsync configuration.
type Config struct {
	Delivery DeliveryConfig `yaml:"delivery" json:"delivery"`
	Backend  BackendConfig  `yaml:"backend" json:"backend"`
	Index    IndexConfig    `yaml:"index" json:"index"`

	// Native holds backend-native node settings, forwarded verbatim.
	Native map[string]string `yaml:"native,omitempty" json:"native,omitempty"`

	Drain   DrainConfig   `yaml:"drain" json:"drain"`
	Node    NodeConfig    `yaml:"node" json:"node"`
	NATS    NATSConfig    `yaml:"nats" json:"nats"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DeliveryConfig selects how index and delete events are carried out.
type DeliveryConfig struct {
	// Mode is local, queued or custom. Read on every event.
	Mode string `yaml:"mode" json:"mode"`

	// CustomHandler names a registered handler, used when Mode is custom.
	CustomHandler string `yaml:"custom_handler,omitempty" json:"custom_handler,omitempty"`

	// BlockEvents is the initial value of the global block switch.
	BlockEvents bool `yaml:"block_events" json:"block_events"`
}

// BackendConfig selects and addresses the search backend.
type BackendConfig struct {
	// Kind is native or rest. Fixed for the process lifetime.
	Kind string `yaml:"kind" json:"kind"`

	// Local runs the native backend embedded in-process. When unset it
	// defaults to true if no hosts are configured.
	Local *bool `yaml:"local,omitempty" json:"local,omitempty"`

	// Hosts is the host:port list of native nodes.
	Hosts []string `yaml:"hosts,omitempty" json:"hosts,omitempty"`

	// URLs is the base URL list for the rest backend.
	URLs []string `yaml:"urls,omitempty" json:"urls,omitempty"`

	// Timeout bounds every backend call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// DataDir persists the embedded node. Empty keeps it in memory.
	DataDir string `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`

	// Compress gzips rest request bodies.
	Compress bool `yaml:"compress" json:"compress"`
}

// IndexConfig controls index naming and searchability.
type IndexConfig struct {
	// Prefix is prepended to every index name.
	Prefix string `yaml:"prefix" json:"prefix"`

	// Searchable lists entity kinds indexed without opting in themselves.
	Searchable []string `yaml:"searchable,omitempty" json:"searchable,omitempty"`
}

// DrainConfig controls the scheduled drain of pending queues.
type DrainConfig struct {
	// Interval between scheduled drains. Zero disables the schedule.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Rate bounds drained operations per second. Zero means unlimited.
	Rate float64 `yaml:"rate" json:"rate"`
}

// NodeConfig configures a standalone node started with `searchsync node`.
type NodeConfig struct {
	Listen         string `yaml:"listen" json:"listen"`
	HTTPListen     string `yaml:"http_listen" json:"http_listen"`
	DataDir        string `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	OpenIndexCache int    `yaml:"open_index_cache" json:"open_index_cache"`
}

// NATSConfig configures the nats delivery handler.
type NATSConfig struct {
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
}

// StoreConfig configures the SQLite primary store used by the CLI.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Delivery: DeliveryConfig{
			Mode: DeliveryLocal,
		},
		Backend: BackendConfig{
			Kind:    BackendNative,
			Timeout: 10 * time.Second,
		},
		Drain: DrainConfig{
			Interval: 0,
		},
		Node: NodeConfig{
			Listen:         "127.0.0.1:9300",
			HTTPListen:     "127.0.0.1:9200",
			OpenIndexCache: 64,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "searchsync.events",
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".searchsync", "store.db")
	}
	return filepath.Join(home, ".searchsync", "store.db")
}

// GetUserConfigPath returns the user configuration file path.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "searchsync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "searchsync", "config.yaml")
	}
	return filepath.Join(home, ".config", "searchsync", "config.yaml")
}

// Load builds the configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/searchsync/config.yaml)
//  3. path, or searchsync.yaml in the working directory when path is empty
//  4. Environment variables (SEARCHSYNC_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path == "" && fileExists(ProjectConfigName) {
		path = ProjectConfigName
	}
	if path != "" {
		if !fileExists(path) {
			return nil, serrors.New(serrors.ErrCodeConfigNotFound, "config file not found: "+path, nil)
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a single file over the defaults, without user config or
// environment. Used by the hot-reloading source.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML decodes path on top of the current values; keys absent from the
// file keep their value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return serrors.ConfigError("failed to parse config file "+path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SEARCHSYNC_DELIVERY_MODE"); v != "" {
		c.Delivery.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("SEARCHSYNC_CUSTOM_HANDLER"); v != "" {
		c.Delivery.CustomHandler = v
	}
	if v := os.Getenv("SEARCHSYNC_BLOCK_EVENTS"); v != "" {
		c.Delivery.BlockEvents = parseBool(v)
	}
	if v := os.Getenv("SEARCHSYNC_BACKEND_KIND"); v != "" {
		c.Backend.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("SEARCHSYNC_BACKEND_LOCAL"); v != "" {
		local := parseBool(v)
		c.Backend.Local = &local
	}
	if v := os.Getenv("SEARCHSYNC_BACKEND_HOSTS"); v != "" {
		c.Backend.Hosts = splitList(v)
	}
	if v := os.Getenv("SEARCHSYNC_BACKEND_URLS"); v != "" {
		c.Backend.URLs = splitList(v)
	}
	if v := os.Getenv("SEARCHSYNC_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Backend.Timeout = d
		}
	}
	if v := os.Getenv("SEARCHSYNC_INDEX_PREFIX"); v != "" {
		c.Index.Prefix = v
	}
	if v := os.Getenv("SEARCHSYNC_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("SEARCHSYNC_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("SEARCHSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// IsLocal reports whether the native backend runs embedded.
func (b BackendConfig) IsLocal() bool {
	if b.Local != nil {
		return *b.Local
	}
	return len(b.Hosts) == 0
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	switch c.Delivery.Mode {
	case DeliveryLocal, DeliveryQueued, DeliveryCustom:
	default:
		return serrors.ConfigError(fmt.Sprintf("delivery.mode must be 'local', 'queued' or 'custom', got %q", c.Delivery.Mode), nil)
	}

	if c.Backend.Timeout <= 0 {
		return serrors.ConfigError(fmt.Sprintf("backend.timeout must be positive, got %s", c.Backend.Timeout), nil)
	}

	switch c.Backend.Kind {
	case BackendNative:
		if !c.Backend.IsLocal() {
			if len(c.Backend.Hosts) == 0 {
				return serrors.New(serrors.ErrCodeNoHosts, "no hosts provided", nil).
					WithSuggestion("set backend.hosts or backend.local: true")
			}
			if _, err := ParseHosts(c.Backend.Hosts); err != nil {
				return err
			}
		}
	case BackendREST:
		if len(c.Backend.URLs) == 0 {
			return serrors.New(serrors.ErrCodeNoHosts, "no urls provided", nil).
				WithSuggestion("set backend.urls, e.g. http://127.0.0.1:9200")
		}
		for _, raw := range c.Backend.URLs {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return serrors.New(serrors.ErrCodeInvalidHost, "invalid url: "+raw, err)
			}
		}
	default:
		return serrors.ConfigError(fmt.Sprintf("backend.kind must be 'native' or 'rest', got %q", c.Backend.Kind), nil)
	}

	if c.Drain.Interval < 0 || c.Drain.Rate < 0 {
		return serrors.ConfigError("drain.interval and drain.rate must not be negative", nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return serrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}
	return nil
}

// Endpoint is one validated host:port pair.
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseHosts validates a host:port list. Entries must have exactly one
// colon and a numeric port.
func ParseHosts(hosts []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(hosts))
	for _, h := range hosts {
		parts := strings.Split(strings.TrimSpace(h), ":")
		if len(parts) != 2 || parts[0] == "" {
			return nil, serrors.New(serrors.ErrCodeInvalidHost, "invalid host: "+h, nil).
				WithSuggestion("use host:port, e.g. 127.0.0.1:9300")
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil || port <= 0 || port > 65535 {
			return nil, serrors.New(serrors.ErrCodeInvalidHost, "invalid port in host: "+h, err)
		}
		out = append(out, Endpoint{Host: parts[0], Port: port})
	}
	return out, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
