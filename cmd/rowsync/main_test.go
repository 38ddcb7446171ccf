package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/klauern/rowsync/internal/cli"
)

func TestMain(m *testing.M) {
	tempHome, err := os.MkdirTemp("", "rowsync-cmd-test-")
	if err != nil {
		panic(err)
	}
	if err := os.Setenv("ROWSYNC_HOME", tempHome); err != nil {
		panic(err)
	}
	code := m.Run()
	_ = os.RemoveAll(tempHome)
	os.Exit(code)
}

func run(t *testing.T, args ...string) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	runErr := cli.Run(context.Background(), append([]string{"rowsync"}, args...))

	if closeErr := w.Close(); closeErr != nil {
		t.Fatalf("failed to close pipe writer: %v", closeErr)
	}
	os.Stdout = old

	var buf bytes.Buffer
	if _, copyErr := io.Copy(&buf, r); copyErr != nil {
		t.Fatalf("failed to read captured output: %v", copyErr)
	}
	if runErr != nil {
		t.Fatalf("cli.Run(%v) error = %v", args, runErr)
	}
	return buf.String()
}

func TestCLIInitialization(t *testing.T) {
	output := run(t, "--help")

	if !strings.Contains(output, "rowsync") {
		t.Errorf("expected help output to contain 'rowsync', got: %q", output)
	}
	if !strings.Contains(output, "USAGE") || !strings.Contains(output, "COMMANDS") {
		t.Errorf("expected help output to contain USAGE and COMMANDS sections, got: %q", output)
	}
	for _, cmd := range []string{"serve", "sync", "provision", "deprovision", "scope", "config"} {
		if !strings.Contains(output, cmd) {
			t.Errorf("expected help output to list %q", cmd)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	output := run(t, "--version")

	if !strings.Contains(output, cli.Version) {
		t.Errorf("expected version output to contain %q, got: %q", cli.Version, output)
	}
}
