// Package config provides configuration management for rowsync.
// It supports YAML and TOML configuration files, .env files, environment
// variables, and sensible defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/klauern/rowsync/internal/batch"
	"github.com/klauern/rowsync/internal/provider"
	"github.com/klauern/rowsync/internal/retry"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/scope"
	"github.com/klauern/rowsync/internal/sync"
	"github.com/klauern/rowsync/internal/util"
	"github.com/klauern/rowsync/internal/validation"
)

// Config represents the complete rowsync configuration.
type Config struct {
	// Server configures the database and endpoint of `rowsync serve`
	Server ServerConfig `yaml:"server" toml:"server"`

	// Client configures the database and server of `rowsync sync`
	Client ClientConfig `yaml:"client" toml:"client"`

	// Scope selects the tables to synchronize
	Scope ScopeConfig `yaml:"scope" toml:"scope"`

	// Options tunes batching, conflicts and retries
	Options OptionsConfig `yaml:"options" toml:"options"`

	// Output configures display preferences
	Output OutputConfig `yaml:"output" toml:"output"`
}

// ServerConfig holds the server side settings.
type ServerConfig struct {
	Provider         string `yaml:"provider" toml:"provider"`
	ConnectionString string `yaml:"connection_string" toml:"connection_string"`
	// Listen is the HTTP listen address
	Listen string `yaml:"listen" toml:"listen"`
	// Path is the HTTP path of the sync endpoint
	Path string `yaml:"path" toml:"path"`
}

// ClientConfig holds the client side settings.
type ClientConfig struct {
	Provider         string `yaml:"provider" toml:"provider"`
	ConnectionString string `yaml:"connection_string" toml:"connection_string"`
	// ServerURL is the full URL of the server's sync endpoint
	ServerURL string `yaml:"server_url" toml:"server_url"`
}

// ScopeConfig describes the synchronized tables. The server's setup is
// authoritative; clients only need the scope name and parameters.
type ScopeConfig struct {
	Name                   string              `yaml:"name" toml:"name"`
	Tables                 []schema.SetupTable `yaml:"tables,omitempty" toml:"tables,omitempty"`
	Filters                []schema.Filter     `yaml:"filters,omitempty" toml:"filters,omitempty"`
	TrackingTablesPrefix   string              `yaml:"tracking_tables_prefix,omitempty" toml:"tracking_tables_prefix,omitempty"`
	TrackingTablesSuffix   string              `yaml:"tracking_tables_suffix,omitempty" toml:"tracking_tables_suffix,omitempty"`
	TriggersPrefix         string              `yaml:"triggers_prefix,omitempty" toml:"triggers_prefix,omitempty"`
	TriggersSuffix         string              `yaml:"triggers_suffix,omitempty" toml:"triggers_suffix,omitempty"`
	StoredProceduresPrefix string              `yaml:"stored_procedures_prefix,omitempty" toml:"stored_procedures_prefix,omitempty"`
	StoredProceduresSuffix string              `yaml:"stored_procedures_suffix,omitempty" toml:"stored_procedures_suffix,omitempty"`
	// Parameters supply filter values, by parameter name
	Parameters map[string]string `yaml:"parameters,omitempty" toml:"parameters,omitempty"`
}

// OptionsConfig holds engine settings.
type OptionsConfig struct {
	BatchMaxBytes ByteSize `yaml:"batch_max_bytes" toml:"batch_max_bytes"`
	BatchMaxRows  int      `yaml:"batch_max_rows" toml:"batch_max_rows"`
	// ConflictPolicy is used by the server (server_wins, client_wins, last_writer_wins, custom)
	ConflictPolicy string `yaml:"conflict_policy" toml:"conflict_policy"`
	// MaxRetries bounds the retries of a batch or HTTP request
	MaxRetries int `yaml:"max_retries" toml:"max_retries"`
	// Compression sends zstd request bodies
	Compression bool `yaml:"compression" toml:"compression"`
	// SessionTTL is how long the server keeps an idle session
	SessionTTL time.Duration `yaml:"session_ttl" toml:"session_ttl"`
	// PreserveTracking rejects migrations that change a primary key
	PreserveTracking bool   `yaml:"preserve_tracking" toml:"preserve_tracking"`
	ScopeTablePrefix string `yaml:"scope_table_prefix" toml:"scope_table_prefix"`
}

// OutputConfig holds display preferences.
type OutputConfig struct {
	// Color controls color output (auto, always, never)
	Color string `yaml:"color" toml:"color"`
	// Verbose enables verbose output
	Verbose bool `yaml:"verbose" toml:"verbose"`
	// LogFormat selects the log handler (text, json)
	LogFormat string `yaml:"log_format" toml:"log_format"`
}

// Default returns the default configuration.
func Default() *Config {
	defaults := sync.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Provider: "sqlite",
			Listen:   "127.0.0.1:8080",
			Path:     "/sync",
		},
		Client: ClientConfig{
			Provider:  "sqlite",
			ServerURL: "http://127.0.0.1:8080/sync",
		},
		Scope: ScopeConfig{
			Name: scope.DefaultName,
		},
		Options: OptionsConfig{
			BatchMaxBytes:    ByteSize(batch.DefaultMaxBytes),
			BatchMaxRows:     batch.DefaultMaxRows,
			ConflictPolicy:   string(sync.DefaultPolicy),
			MaxRetries:       defaults.Retry.MaxRetries,
			Compression:      true,
			SessionTTL:       scope.DefaultSessionTTL,
			ScopeTablePrefix: provider.DefaultScopePrefix,
		},
		Output: OutputConfig{
			Color:     "auto",
			LogFormat: "text",
		},
	}
}

// configFileName is the name of the config file.
const configFileName = "config.yaml"

// FilePath returns the path to the default config file.
func FilePath() string {
	return filepath.Join(util.ConfigDir(), configFileName)
}

// isTOML reports whether path selects the TOML format.
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load loads the default config file, merging with defaults.
// If the config file doesn't exist, returns default configuration.
func Load() (*Config, error) {
	cfg, err := LoadFromPath(FilePath())
	if err != nil && os.IsNotExist(err) {
		cfg = Default()
		cfg.applyEnvironment()
		return cfg, nil
	}
	return cfg, err
}

// LoadFromPath loads configuration from a specific path. Files ending in
// .toml are parsed as TOML, everything else as YAML. Relative SQLite paths
// are resolved against the file's directory.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	// #nosec G304 - path is provided by caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnvironment()
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadEnvFiles loads .env files from dir into the process environment,
// most specific first; variables already set are never overwritten.
// ROWSYNC_ENV selects the environment (default "development").
func LoadEnvFiles(dir string) []string {
	env := os.Getenv("ROWSYNC_ENV")
	if env == "" {
		env = "development"
	}
	candidates := []string{".env." + env + ".local"}
	if env != "test" {
		candidates = append(candidates, ".env.local")
	}
	candidates = append(candidates, ".env."+env, ".env")

	var loaded []string
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if err := godotenv.Load(path); err == nil {
			loaded = append(loaded, path)
		}
	}
	return loaded
}

// Save writes the configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveToPath(FilePath())
}

// SaveToPath writes the configuration to a specific path, as TOML when the
// path ends in .toml.
func (c *Config) SaveToPath(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	data, err := c.Marshal(isTOML(path))
	if err != nil {
		return err
	}

	// #nosec G306 - config file should be readable by user
	return os.WriteFile(path, data, 0o644)
}

// Marshal encodes the configuration as YAML, or TOML when asTOML is set.
func (c *Config) Marshal(asTOML bool) ([]byte, error) {
	if !asTOML {
		return yaml.Marshal(c)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resolvePaths makes relative SQLite database paths relative to baseDir.
func (c *Config) resolvePaths(baseDir string) {
	if c.Server.Provider == "sqlite" && util.IsSQLitePath(c.Server.ConnectionString) {
		c.Server.ConnectionString = util.ExpandPath(c.Server.ConnectionString, baseDir)
	}
	if c.Client.Provider == "sqlite" && util.IsSQLitePath(c.Client.ConnectionString) {
		c.Client.ConnectionString = util.ExpandPath(c.Client.ConnectionString, baseDir)
	}
}

// applyEnvironment applies environment variable overrides.
// Environment variables follow the pattern ROWSYNC_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() {
	// Server settings
	if v := os.Getenv("ROWSYNC_SERVER_PROVIDER"); v != "" {
		c.Server.Provider = v
	}
	if v := os.Getenv("ROWSYNC_SERVER_CONNECTION_STRING"); v != "" {
		c.Server.ConnectionString = v
	}
	if v := os.Getenv("ROWSYNC_SERVER_LISTEN"); v != "" {
		c.Server.Listen = v
	}

	// Client settings
	if v := os.Getenv("ROWSYNC_CLIENT_PROVIDER"); v != "" {
		c.Client.Provider = v
	}
	if v := os.Getenv("ROWSYNC_CLIENT_CONNECTION_STRING"); v != "" {
		c.Client.ConnectionString = v
	}
	if v := os.Getenv("ROWSYNC_CLIENT_SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}

	// Scope settings
	if v := os.Getenv("ROWSYNC_SCOPE_NAME"); v != "" {
		c.Scope.Name = v
	}
	if v := os.Getenv("ROWSYNC_SCOPE_TABLES"); v != "" {
		c.Scope.Tables = schema.NewSetup(splitList(v)...).Tables
	}

	// Engine options
	if v := os.Getenv("ROWSYNC_OPTIONS_BATCH_MAX_BYTES"); v != "" {
		var b ByteSize
		if err := b.parse(v); err == nil {
			c.Options.BatchMaxBytes = b
		}
	}
	if v := os.Getenv("ROWSYNC_OPTIONS_BATCH_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Options.BatchMaxRows = n
		}
	}
	if v := os.Getenv("ROWSYNC_OPTIONS_CONFLICT_POLICY"); v != "" {
		c.Options.ConflictPolicy = v
	}
	if v := os.Getenv("ROWSYNC_OPTIONS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Options.MaxRetries = n
		}
	}
	if v := os.Getenv("ROWSYNC_OPTIONS_COMPRESSION"); v != "" {
		c.Options.Compression = parseBool(v)
	}
	if v := os.Getenv("ROWSYNC_OPTIONS_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Options.SessionTTL = d
		}
	}

	// Output settings
	if v := os.Getenv("ROWSYNC_OUTPUT_COLOR"); v != "" {
		c.Output.Color = v
	}
	if v := os.Getenv("ROWSYNC_OUTPUT_VERBOSE"); v != "" {
		c.Output.Verbose = parseBool(v)
	}
	if v := os.Getenv("ROWSYNC_OUTPUT_LOG_FORMAT"); v != "" {
		c.Output.LogFormat = v
	}
}

// parseBool parses a boolean from common string representations.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitList splits a comma-separated list. Empty items are filtered out.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Setup returns the scope setup described by the configuration.
func (c *Config) Setup() *schema.Setup {
	return &schema.Setup{
		Tables:                 c.Scope.Tables,
		Filters:                c.Scope.Filters,
		TrackingTablesPrefix:   c.Scope.TrackingTablesPrefix,
		TrackingTablesSuffix:   c.Scope.TrackingTablesSuffix,
		TriggersPrefix:         c.Scope.TriggersPrefix,
		TriggersSuffix:         c.Scope.TriggersSuffix,
		StoredProceduresPrefix: c.Scope.StoredProceduresPrefix,
		StoredProceduresSuffix: c.Scope.StoredProceduresSuffix,
	}
}

// GetPolicy returns the conflict policy from config, validating it.
func (c *Config) GetPolicy() sync.ConflictPolicy {
	policy := sync.ConflictPolicy(c.Options.ConflictPolicy)
	if policy.IsValid() {
		return policy
	}
	return sync.DefaultPolicy
}

// SyncOptions returns the orchestrator options.
func (c *Config) SyncOptions() sync.Options {
	opts := sync.DefaultOptions()
	opts.BatchMaxBytes = int64(c.Options.BatchMaxBytes)
	opts.BatchMaxRows = c.Options.BatchMaxRows
	opts.ConflictPolicy = c.GetPolicy()
	opts.Retry = c.RetryPolicy()
	opts.PreserveTracking = c.Options.PreserveTracking
	if c.Options.ScopeTablePrefix != "" {
		opts.ScopeTablePrefix = c.Options.ScopeTablePrefix
	}
	return opts
}

// RetryPolicy returns the retry policy for batches and HTTP requests.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = c.Options.MaxRetries
	return p
}

// Parameters returns the filter parameters. Values that parse as integers
// are passed as int64 so they compare equal to integer columns.
func (c *Config) Parameters() map[string]any {
	if len(c.Scope.Parameters) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.Scope.Parameters))
	for k, v := range c.Scope.Parameters {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}

// Role selects which sections Validate checks.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Validate checks the sections a role needs.
func (c *Config) Validate(role Role) *validation.Result {
	result := validation.NewResult()
	if c.Scope.Name == "" {
		result.AddError(&validation.Error{Field: "scope.name", Message: "scope name cannot be empty"})
	}
	if !sync.ConflictPolicy(c.Options.ConflictPolicy).IsValid() {
		result.AddError(&validation.Error{
			Field:   "options.conflict_policy",
			Message: fmt.Sprintf("unknown conflict policy %q", c.Options.ConflictPolicy),
		})
	}
	result.AddError(validation.ValidateBatchBounds(int64(c.Options.BatchMaxBytes), c.Options.BatchMaxRows))

	switch role {
	case RoleServer:
		result.AddError(validation.ValidateProvider("server", c.Server.Provider, c.Server.ConnectionString))
		result.Merge(validation.ValidateSetup(c.Setup()))
	case RoleClient:
		result.AddError(validation.ValidateProvider("client", c.Client.Provider, c.Client.ConnectionString))
		result.AddError(validation.ValidateURL("client.server_url", c.Client.ServerURL))
	}
	return result
}

// Exists returns true if a config file exists.
func Exists() bool {
	_, err := os.Stat(FilePath())
	return err == nil
}
