// Package e2e provides testing infrastructure for end-to-end CLI tests.
// It runs rowsync commands in-process against SQLite databases, including a
// background `rowsync serve` for sync tests.
package e2e

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauern/rowsync/internal/cli"
	"github.com/klauern/rowsync/internal/config"
)

// Result contains the outcome of running a CLI command.
type Result struct {
	// Stdout contains the captured standard output.
	Stdout string
	// Err is the error returned by the CLI command, if any.
	Err error
	// ExitCode is the inferred exit code (0 for success, 1 for error).
	ExitCode int
}

// Success returns true if the command completed without error.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Harness provides a test harness for running E2E CLI tests.
// It manages environment isolation, temp directories, and output capture.
type Harness struct {
	t       *testing.T
	homeDir string
}

// NewHarness creates a new E2E test harness with an isolated ROWSYNC_HOME.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	homeDir := t.TempDir()
	h := &Harness{t: t, homeDir: homeDir}

	t.Setenv("ROWSYNC_HOME", homeDir)
	t.Setenv("ROWSYNC_ENV", "test")
	return h
}

// HomeDir returns the isolated home directory for this test harness.
func (h *Harness) HomeDir() string {
	return h.homeDir
}

// Path returns a path inside the home directory.
func (h *Harness) Path(name string) string {
	return filepath.Join(h.homeDir, name)
}

// WriteConfig saves cfg under the home directory and returns its path.
func (h *Harness) WriteConfig(name string, cfg *config.Config) string {
	h.t.Helper()
	path := h.Path(name)
	if err := cfg.SaveToPath(path); err != nil {
		h.t.Fatalf("failed to write config %s: %v", path, err)
	}
	return path
}

// Run executes a CLI command with the given arguments and captures stdout.
func (h *Harness) Run(args ...string) *Result {
	h.t.Helper()

	if len(args) == 0 || args[0] != "rowsync" {
		args = append([]string{"rowsync", "--no-color"}, args...)
	}

	oldStdout := os.Stdout
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		h.t.Fatalf("failed to create stdout pipe: %v", err)
	}
	os.Stdout = stdoutW

	// Read stdout concurrently so large outputs cannot fill the pipe.
	var stdoutBuf bytes.Buffer
	var copyErr error
	copyDone := make(chan struct{})
	go func() {
		defer close(copyDone)
		_, copyErr = io.Copy(&stdoutBuf, stdoutR)
	}()

	cmdErr := cli.Run(context.Background(), args)

	if err := stdoutW.Close(); err != nil {
		h.t.Fatalf("failed to close stdout pipe writer: %v", err)
	}
	os.Stdout = oldStdout

	<-copyDone
	if copyErr != nil {
		h.t.Fatalf("failed to read captured stdout: %v", copyErr)
	}

	exitCode := 0
	if cmdErr != nil {
		exitCode = 1
	}
	return &Result{
		Stdout:   stdoutBuf.String(),
		Err:      cmdErr,
		ExitCode: exitCode,
	}
}

// Server is a `rowsync serve` running in the background.
type Server struct {
	// URL is the sync endpoint.
	URL string

	cancel context.CancelFunc
	done   chan error
}

// StartServer serves the config at configPath on a free local port and
// waits until it answers. The server stops at test cleanup.
func (h *Harness) StartServer(configPath string) *Server {
	h.t.Helper()

	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		h.t.Fatalf("failed to load %s: %v", configPath, err)
	}
	addr := freeAddr(h.t)
	cfg.Server.Listen = addr

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		URL:    "http://" + addr + cfg.Server.Path,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() {
		s.done <- cli.Serve(ctx, cfg, io.Discard)
	}()
	if err := waitReady(s.URL, s.done); err != nil {
		cancel()
		h.t.Fatalf("server did not start: %v", err)
	}

	h.t.Cleanup(s.Stop)
	return s
}

// Stop shuts the server down and waits for it to exit.
func (s *Server) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	<-s.done
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatalf("failed to release port: %v", err)
	}
	return addr
}

// waitReady polls url until the server answers any HTTP response.
func waitReady(url string, done <-chan error) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			if err == nil {
				err = errors.New("server exited")
			}
			return err
		default:
		}
		resp, err := http.Get(url) //nolint:gosec // local test server
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("no response from %s", url)
}
