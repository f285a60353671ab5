// fsutil/locations.go
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/deploymenttheory/go-vdi-inspector/internal/common/osutil"
)

// Location names one of the per-user directories the inspector writes to
type Location int

const (
	ConfigLocation Location = iota
	CacheLocation
	LogLocation
)

// devDirs are relative to the working directory in a development checkout
var devDirs = map[Location]string{
	ConfigLocation: "config",
	CacheLocation:  "cache",
	LogLocation:    "logs",
}

// GetHomeDir returns the user's home directory
func GetHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return home, nil
}

// AppDir resolves a per-user directory for appName following the platform
// conventions (XDG on unix, Library on darwin, AppData on windows).
func AppDir(loc Location, appName string) (string, error) {
	if osutil.IsDevEnvironment() {
		return devDirs[loc], nil
	}

	home, err := GetHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "windows":
		return windowsDir(loc, home, appName), nil
	case "darwin":
		return darwinDir(loc, home, appName), nil
	default:
		return xdgDir(loc, home, appName), nil
	}
}

func windowsDir(loc Location, home, appName string) string {
	if loc == ConfigLocation {
		return filepath.Join(envOr("APPDATA", filepath.Join(home, "AppData", "Roaming")), appName)
	}
	local := envOr("LOCALAPPDATA", filepath.Join(home, "AppData", "Local"))
	if loc == CacheLocation {
		return filepath.Join(local, appName, "Cache")
	}
	return filepath.Join(local, appName, "Logs")
}

func darwinDir(loc Location, home, appName string) string {
	switch loc {
	case CacheLocation:
		return filepath.Join(home, "Library", "Caches", appName)
	case LogLocation:
		return filepath.Join(home, "Library", "Logs", appName)
	default:
		return filepath.Join(home, "Library", "Application Support", appName)
	}
}

func xdgDir(loc Location, home, appName string) string {
	switch loc {
	case CacheLocation:
		return filepath.Join(envOr("XDG_CACHE_HOME", filepath.Join(home, ".cache")), appName)
	case LogLocation:
		if state := os.Getenv("XDG_STATE_HOME"); state != "" {
			return filepath.Join(state, appName, "logs")
		}
		return filepath.Join(envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share")), appName, "logs")
	default:
		return filepath.Join(envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config")), appName)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetConfigDir returns the per-user configuration directory
func GetConfigDir(appName string) (string, error) {
	return AppDir(ConfigLocation, appName)
}

// GetCacheDir returns the per-user cache directory. Expanded images land
// here unless image.work_dir says otherwise.
func GetCacheDir(appName string) (string, error) {
	return AppDir(CacheLocation, appName)
}

// GetLogDir returns the per-user log directory
func GetLogDir(appName string) (string, error) {
	return AppDir(LogLocation, appName)
}

// GetSystemConfigDir returns the system-wide configuration directory
func GetSystemConfigDir(appName string) string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(envOr("ProgramData", filepath.Join("C:", "ProgramData")), appName)
	case "darwin":
		return filepath.Join("/Library", "Application Support", appName)
	default:
		return filepath.Join("/etc", appName)
	}
}
