// Package ui provides terminal output helpers for rowsync.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Color function types for styled output.
var (
	// Success is used for successful operations (green).
	Success = color.New(color.FgGreen).SprintFunc()
	// Error is used for errors and failures (red).
	Error = color.New(color.FgRed).SprintFunc()
	// Warning is used for warnings and cautions (yellow).
	Warning = color.New(color.FgYellow).SprintFunc()
	// Info is used for informational messages (cyan).
	Info = color.New(color.FgCyan).SprintFunc()
	// Bold is used for emphasis (bold white).
	Bold = color.New(color.Bold).SprintFunc()
	// Dim is used for secondary information (faint).
	Dim = color.New(color.Faint).SprintFunc()
	// Header is used for table headers (bold cyan).
	Header = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// Status symbols with colors.
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
	SymbolSkipped = "-"
)

func status(paint func(...any) string, symbol, msg string) string {
	if msg == "" {
		return paint(symbol)
	}
	return paint(symbol) + " " + msg
}

// StatusSuccess returns a green checkmark with optional message.
func StatusSuccess(msg string) string { return status(Success, SymbolSuccess, msg) }

// StatusError returns a red X with optional message.
func StatusError(msg string) string { return status(Error, SymbolError, msg) }

// StatusWarning returns a yellow warning with optional message.
func StatusWarning(msg string) string { return status(Warning, SymbolWarning, msg) }

// StatusSkipped returns a dimmed skip symbol with optional message.
func StatusSkipped(msg string) string { return status(Dim, SymbolSkipped, msg) }

// DisableColors disables all color output.
func DisableColors() {
	color.NoColor = true
}

// EnableColors enables color output.
func EnableColors() {
	color.NoColor = false
}

// IsColorEnabled returns whether colors are currently enabled.
func IsColorEnabled() bool {
	return !color.NoColor
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ConfigureColor applies a color mode: "always", "never", or "auto" (color
// only when out is a terminal and NO_COLOR is unset).
func ConfigureColor(mode string, out *os.File) error {
	switch mode {
	case "always":
		EnableColors()
	case "never":
		DisableColors()
	case "", "auto":
		if os.Getenv("NO_COLOR") != "" || !IsTerminal(out) {
			DisableColors()
		} else {
			EnableColors()
		}
	default:
		return fmt.Errorf("invalid color mode %q (expected auto, always or never)", mode)
	}
	return nil
}
