package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/klauern/rowsync/internal/provider/sqlite"
	"github.com/klauern/rowsync/internal/schema"
	"github.com/klauern/rowsync/internal/sync"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Options.ConflictPolicy != string(sync.DefaultPolicy) {
		t.Errorf("expected default policy %q, got %q", sync.DefaultPolicy, cfg.Options.ConflictPolicy)
	}
	if cfg.Options.BatchMaxBytes != 1<<20 {
		t.Errorf("expected BatchMaxBytes 1 MiB, got %v", cfg.Options.BatchMaxBytes)
	}
	if cfg.Options.SessionTTL != 30*time.Minute {
		t.Errorf("expected SessionTTL 30m, got %v", cfg.Options.SessionTTL)
	}
	if !cfg.Options.Compression {
		t.Error("expected Compression to be true by default")
	}
	if cfg.Scope.Name != "default" {
		t.Errorf("expected scope name 'default', got %q", cfg.Scope.Name)
	}
	if cfg.Output.Color != "auto" {
		t.Errorf("expected Output.Color to be 'auto', got %q", cfg.Output.Color)
	}
	if cfg.Server.Path != "/sync" {
		t.Errorf("expected Server.Path '/sync', got %q", cfg.Server.Path)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, name)

			cfg := Default()
			cfg.Server.ConnectionString = "/data/server.db"
			cfg.Scope.Tables = []schema.SetupTable{
				{Name: "customers"},
				{Name: "orders", Direction: schema.DownloadOnly},
			}
			cfg.Scope.Parameters = map[string]string{"region": "emea"}
			cfg.Options.ConflictPolicy = string(sync.PolicyClientWins)
			cfg.Options.BatchMaxBytes = 4 << 20
			cfg.Options.SessionTTL = 2 * time.Hour
			cfg.Output.Verbose = true

			if err := cfg.SaveToPath(configPath); err != nil {
				t.Fatalf("SaveToPath failed: %v", err)
			}

			loaded, err := LoadFromPath(configPath)
			if err != nil {
				t.Fatalf("LoadFromPath failed: %v", err)
			}

			if loaded.Options.ConflictPolicy != string(sync.PolicyClientWins) {
				t.Errorf("expected policy %q, got %q", sync.PolicyClientWins, loaded.Options.ConflictPolicy)
			}
			if loaded.Options.BatchMaxBytes != 4<<20 {
				t.Errorf("expected BatchMaxBytes 4 MiB, got %v", loaded.Options.BatchMaxBytes)
			}
			if loaded.Options.SessionTTL != 2*time.Hour {
				t.Errorf("expected SessionTTL 2h, got %v", loaded.Options.SessionTTL)
			}
			if len(loaded.Scope.Tables) != 2 || loaded.Scope.Tables[1].Direction != schema.DownloadOnly {
				t.Errorf("unexpected tables: %+v", loaded.Scope.Tables)
			}
			if loaded.Scope.Parameters["region"] != "emea" {
				t.Errorf("expected region parameter, got %v", loaded.Scope.Parameters)
			}
			if loaded.Server.ConnectionString != "/data/server.db" {
				t.Errorf("expected absolute path to be kept, got %q", loaded.Server.ConnectionString)
			}
			if !loaded.Output.Verbose {
				t.Error("expected Verbose to be true")
			}
		})
	}
}

func TestLoadFromPath_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "rowsync.toml")
	content := `
[server]
provider = "sqlite"
connection_string = "server.db"

[scope]
name = "sales"

[[scope.tables]]
name = "orders"
columns = ["id", "total"]

[options]
batch_max_bytes = "256 KiB"
batch_max_rows = 50
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Scope.Name != "sales" {
		t.Errorf("expected scope 'sales', got %q", cfg.Scope.Name)
	}
	if len(cfg.Scope.Tables) != 1 || len(cfg.Scope.Tables[0].Columns) != 2 {
		t.Errorf("unexpected tables: %+v", cfg.Scope.Tables)
	}
	if cfg.Options.BatchMaxBytes != 256<<10 {
		t.Errorf("expected 256 KiB, got %d", cfg.Options.BatchMaxBytes)
	}
	if cfg.Options.BatchMaxRows != 50 {
		t.Errorf("expected 50 rows, got %d", cfg.Options.BatchMaxRows)
	}
	// Relative SQLite paths resolve against the config directory
	if want := filepath.Join(tmpDir, "server.db"); cfg.Server.ConnectionString != want {
		t.Errorf("expected %q, got %q", want, cfg.Server.ConnectionString)
	}
	// Unset values keep defaults
	if cfg.Options.ConflictPolicy != string(sync.DefaultPolicy) {
		t.Errorf("expected default policy, got %q", cfg.Options.ConflictPolicy)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		check    func(*Config) bool
	}{
		{
			name:     "server provider",
			envKey:   "ROWSYNC_SERVER_PROVIDER",
			envValue: "postgres",
			check:    func(c *Config) bool { return c.Server.Provider == "postgres" },
		},
		{
			name:     "server listen",
			envKey:   "ROWSYNC_SERVER_LISTEN",
			envValue: ":9090",
			check:    func(c *Config) bool { return c.Server.Listen == ":9090" },
		},
		{
			name:     "client server url",
			envKey:   "ROWSYNC_CLIENT_SERVER_URL",
			envValue: "https://sync.example.com/sync",
			check:    func(c *Config) bool { return c.Client.ServerURL == "https://sync.example.com/sync" },
		},
		{
			name:     "scope tables",
			envKey:   "ROWSYNC_SCOPE_TABLES",
			envValue: "customers, sales.orders,",
			check: func(c *Config) bool {
				return len(c.Scope.Tables) == 2 && c.Scope.Tables[1].SchemaName == "sales" && c.Scope.Tables[1].Name == "orders"
			},
		},
		{
			name:     "batch max bytes",
			envKey:   "ROWSYNC_OPTIONS_BATCH_MAX_BYTES",
			envValue: "2MiB",
			check:    func(c *Config) bool { return c.Options.BatchMaxBytes == 2<<20 },
		},
		{
			name:     "invalid batch rows ignored",
			envKey:   "ROWSYNC_OPTIONS_BATCH_MAX_ROWS",
			envValue: "many",
			check:    func(c *Config) bool { return c.Options.BatchMaxRows == 1000 },
		},
		{
			name:     "conflict policy",
			envKey:   "ROWSYNC_OPTIONS_CONFLICT_POLICY",
			envValue: "server_wins",
			check:    func(c *Config) bool { return c.Options.ConflictPolicy == "server_wins" },
		},
		{
			name:     "compression",
			envKey:   "ROWSYNC_OPTIONS_COMPRESSION",
			envValue: "no",
			check:    func(c *Config) bool { return !c.Options.Compression },
		},
		{
			name:     "session ttl",
			envKey:   "ROWSYNC_OPTIONS_SESSION_TTL",
			envValue: "5m",
			check:    func(c *Config) bool { return c.Options.SessionTTL == 5*time.Minute },
		},
		{
			name:     "output verbose",
			envKey:   "ROWSYNC_OUTPUT_VERBOSE",
			envValue: "1",
			check:    func(c *Config) bool { return c.Output.Verbose },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envValue)

			cfg := Default()
			cfg.applyEnvironment()

			if !tt.check(cfg) {
				t.Errorf("environment override for %s did not apply correctly", tt.envKey)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{" on ", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"", false},
		{"maybe", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseBool(tt.input); got != tt.expected {
				t.Errorf("parseBool(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGetPolicy(t *testing.T) {
	tests := []struct {
		input string
		want  sync.ConflictPolicy
	}{
		{"server_wins", sync.PolicyServerWins},
		{"client_wins", sync.PolicyClientWins},
		{"custom", sync.PolicyCustom},
		{"bogus", sync.DefaultPolicy},
		{"", sync.DefaultPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cfg := Default()
			cfg.Options.ConflictPolicy = tt.input
			if got := cfg.GetPolicy(); got != tt.want {
				t.Errorf("GetPolicy() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyncOptions(t *testing.T) {
	cfg := Default()
	cfg.Options.BatchMaxRows = 10
	cfg.Options.MaxRetries = 7
	cfg.Options.PreserveTracking = true
	cfg.Options.ScopeTablePrefix = ""

	opts := cfg.SyncOptions()
	if opts.BatchMaxRows != 10 {
		t.Errorf("expected BatchMaxRows 10, got %d", opts.BatchMaxRows)
	}
	if opts.Retry.MaxRetries != 7 {
		t.Errorf("expected MaxRetries 7, got %d", opts.Retry.MaxRetries)
	}
	if !opts.PreserveTracking {
		t.Error("expected PreserveTracking")
	}
	if opts.ScopeTablePrefix != sync.DefaultOptions().ScopeTablePrefix {
		t.Errorf("empty prefix should keep the default, got %q", opts.ScopeTablePrefix)
	}
}

func TestParameters(t *testing.T) {
	cfg := Default()
	if cfg.Parameters() != nil {
		t.Error("expected nil parameters by default")
	}

	cfg.Scope.Parameters = map[string]string{"customer_id": "42", "region": "emea"}
	params := cfg.Parameters()
	if v, ok := params["customer_id"].(int64); !ok || v != 42 {
		t.Errorf("expected int64 42, got %#v", params["customer_id"])
	}
	if params["region"] != "emea" {
		t.Errorf("expected 'emea', got %#v", params["region"])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "valid server",
			role: RoleServer,
			mutate: func(c *Config) {
				c.Server.ConnectionString = "server.db"
				c.Scope.Tables = []schema.SetupTable{{Name: "items"}}
			},
		},
		{
			name:    "server without tables",
			role:    RoleServer,
			mutate:  func(c *Config) { c.Server.ConnectionString = "server.db" },
			wantErr: "tables",
		},
		{
			name:   "valid client",
			role:   RoleClient,
			mutate: func(c *Config) { c.Client.ConnectionString = "client.db" },
		},
		{
			name: "client with bad url",
			role: RoleClient,
			mutate: func(c *Config) {
				c.Client.ConnectionString = "client.db"
				c.Client.ServerURL = "ftp://example.com"
			},
			wantErr: "client.server_url",
		},
		{
			name: "unknown policy",
			role: RoleClient,
			mutate: func(c *Config) {
				c.Client.ConnectionString = "client.db"
				c.Options.ConflictPolicy = "coin_flip"
			},
			wantErr: "options.conflict_policy",
		},
		{
			name: "no batch bounds",
			role: RoleClient,
			mutate: func(c *Config) {
				c.Client.ConnectionString = "client.db"
				c.Options.BatchMaxBytes = 0
				c.Options.BatchMaxRows = 0
			},
			wantErr: "options.batch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			result := cfg.Validate(tt.role)

			if tt.wantErr == "" {
				if result.HasErrors() {
					t.Fatalf("unexpected errors: %v", result.Error())
				}
				return
			}
			if !result.HasErrors() {
				t.Fatal("expected validation errors")
			}
			if !strings.Contains(result.Error().Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", result.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ROWSYNC_HOME", tmpDir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load should not fail for missing file: %v", err)
	}
	if cfg.Options.ConflictPolicy != string(sync.DefaultPolicy) {
		t.Error("expected default config when file doesn't exist")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("options: [unclosed"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := LoadFromPath(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadInvalidByteSize(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("options:\n  batch_max_bytes: lots\n"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	if _, err := LoadFromPath(configPath); err == nil {
		t.Error("expected error for invalid byte size")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ROWSYNC_ENV", "test")
	t.Setenv("ROWSYNC_SCOPE_NAME", "")
	os.Unsetenv("ROWSYNC_SCOPE_NAME")
	t.Setenv("ROWSYNC_CLIENT_SERVER_URL", "http://preset/sync")

	files := map[string]string{
		".env.test":  "ROWSYNC_SCOPE_NAME=from-test\n",
		".env":       "ROWSYNC_SCOPE_NAME=from-base\nROWSYNC_CLIENT_SERVER_URL=http://dotenv/sync\n",
		".env.local": "ROWSYNC_SCOPE_NAME=from-local\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	loaded := LoadEnvFiles(tmpDir)
	if len(loaded) != 2 {
		t.Errorf("expected .env.test and .env to load, got %v", loaded)
	}
	if got := os.Getenv("ROWSYNC_SCOPE_NAME"); got != "from-test" {
		t.Errorf("expected the environment specific file to win, got %q", got)
	}
	if got := os.Getenv("ROWSYNC_CLIENT_SERVER_URL"); got != "http://preset/sync" {
		t.Errorf("existing variables must not be overwritten, got %q", got)
	}
}

func TestPartialConfigMerge(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	partialConfig := `options:
  batch_max_rows: 25
`
	if err := os.WriteFile(configPath, []byte(partialConfig), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Options.BatchMaxRows != 25 {
		t.Errorf("expected BatchMaxRows 25, got %d", cfg.Options.BatchMaxRows)
	}
	if cfg.Options.BatchMaxBytes != 1<<20 {
		t.Errorf("expected default BatchMaxBytes, got %v", cfg.Options.BatchMaxBytes)
	}
	if cfg.Scope.Name != "default" {
		t.Errorf("expected default scope name, got %q", cfg.Scope.Name)
	}
}

func TestExists(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("ROWSYNC_HOME", tmpDir)

	if Exists() {
		t.Error("expected Exists() to be false before saving")
	}
	if err := Default().Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !Exists() {
		t.Error("expected Exists() to be true after saving")
	}
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"1048576", 1 << 20},
		{"1 MiB", 1 << 20},
		{"500kB", 500000},
		{"64KiB", 64 << 10},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var b ByteSize
			if err := b.UnmarshalText([]byte(tt.input)); err != nil {
				t.Fatalf("UnmarshalText(%q) error: %v", tt.input, err)
			}
			if b != tt.want {
				t.Errorf("UnmarshalText(%q) = %d, want %d", tt.input, b, tt.want)
			}
		})
	}

	if got := ByteSize(1 << 20).String(); got != "1.0 MiB" {
		t.Errorf("String() = %q, want %q", got, "1.0 MiB")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("splitList() = %v", got)
	}
}
