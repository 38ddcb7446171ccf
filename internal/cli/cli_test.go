package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauern/rowsync/internal/config"
	"github.com/klauern/rowsync/internal/interceptor"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "none", in: nil, want: nil},
		{name: "pairs", in: []string{"region=emea", " id =42"}, want: map[string]string{"region": "emea", "id": "42"}},
		{name: "empty value", in: []string{"tag="}, want: map[string]string{"tag": ""}},
		{name: "missing equals", in: []string{"region"}, wantErr: true},
		{name: "missing name", in: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseParams() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("parseParams()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	for _, s := range []string{"server", "client"} {
		side, err := parseSide(s)
		if err != nil || string(side) != s {
			t.Errorf("parseSide(%q) = %q, %v", s, side, err)
		}
	}
	if _, err := parseSide("both"); err == nil {
		t.Error("expected error for unknown side")
	}
}

func TestConfigFrom_Default(t *testing.T) {
	cfg := configFrom(context.Background())
	if cfg.Scope.Name != config.Default().Scope.Name {
		t.Errorf("expected default config, got scope %q", cfg.Scope.Name)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected missing file error, got %v", err)
	}
}

func TestConfigInitShowValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rowsync.toml")
	ctx := context.Background()

	out, err := captureStdout(t, func() error {
		return Run(ctx, []string{"rowsync", "--no-color", "config", "init", path})
	})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote") {
		t.Errorf("unexpected init output %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// A second init without --force refuses to overwrite
	if _, err := captureStdout(t, func() error {
		return Run(ctx, []string{"rowsync", "config", "init", path})
	}); err == nil {
		t.Error("expected init to refuse overwriting")
	}

	out, err = captureStdout(t, func() error {
		return Run(ctx, []string{"rowsync", "--config", path, "config", "show", "--format", "toml"})
	})
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"[server]", "[options]", `conflict_policy = "last_writer_wins"`} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}

	// The default config has no client database yet
	out, err = captureStdout(t, func() error {
		return Run(ctx, []string{"rowsync", "--no-color", "--config", path, "config", "validate", "--role", "client"})
	})
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(out, "client.connection_string") {
		t.Errorf("validate output should name the field, got %q", out)
	}
}

func TestOpenOrchestrator(t *testing.T) {
	cfg := config.Default()
	cfg.Client.ConnectionString = filepath.Join(t.TempDir(), "client.db")

	o, err := openOrchestrator(cfg, interceptor.Client)
	if err != nil {
		t.Fatalf("openOrchestrator: %v", err)
	}
	defer o.Provider.Close()
	if o.Side() != interceptor.Client {
		t.Errorf("side = %q", o.Side())
	}
	if o.Setup != nil {
		t.Error("client orchestrator should take its setup from the server")
	}

	// The server side needs tables
	cfg.Server.ConnectionString = filepath.Join(t.TempDir(), "server.db")
	if _, err := openOrchestrator(cfg, interceptor.Server); err == nil {
		t.Error("expected validation error for a server without tables")
	}
}
