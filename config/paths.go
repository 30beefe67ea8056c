package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const appName = "chatdesk"

// GetConfigDir returns $XDG_CONFIG_HOME/chatdesk, or ~/.config/chatdesk.
func GetConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// GetDefaultDataDir returns $XDG_DATA_HOME/chatdesk, or ~/.local/share/chatdesk.
func GetDefaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, fallback string) string {
	if base := os.Getenv(env); filepath.IsAbs(base) {
		return filepath.Join(base, appName)
	}
	return filepath.Join(GetHomeDir(), fallback, appName)
}

func GetSettingsFilePath() string {
	return filepath.Join(GetConfigDir(), "settings.toml")
}

func GetUserConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

func GetHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return string(filepath.Separator)
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = GetHomeDir() + path[1:]
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// EnsureDir creates path with user-only access, tightening the mode of an
// existing directory that is readable by others.
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(path, 0700)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	if info.Mode().Perm() != 0700 {
		return os.Chmod(path, 0700)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
