package util

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeDir returns the user's home directory
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// ConfigDir returns the rowsync configuration directory: $ROWSYNC_HOME when
// set, otherwise ~/.rowsync.
func ConfigDir() string {
	if dir := os.Getenv("ROWSYNC_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(HomeDir(), ".rowsync")
}

// ExpandPath expands a leading ~ to the home directory and resolves
// relative paths against baseDir. An empty path stays empty.
func ExpandPath(path, baseDir string) string {
	switch {
	case path == "":
		return ""
	case path == "~":
		return HomeDir()
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(HomeDir(), path[2:])
	case filepath.IsAbs(path) || baseDir == "":
		return filepath.Clean(path)
	default:
		return filepath.Join(baseDir, path)
	}
}

// IsSQLitePath reports whether a connection string looks like a SQLite
// database file rather than a URI or DSN.
func IsSQLitePath(conn string) bool {
	if strings.Contains(conn, "://") || strings.HasPrefix(conn, "file:") || strings.Contains(conn, "=") {
		return false
	}
	return conn != "" && conn != ":memory:"
}
