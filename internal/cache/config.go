package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
)

const appName = "fire-timelapse"

// Backend names accepted by Open
const (
	BackendDisk  = "disk"
	BackendRedis = "redis"
)

// Config represents cache configuration
type Config struct {
	Backend   string
	Dir       string // empty uses GetCacheDir()
	MaxSizeMB int
	TTLDays   int
	RedisAddr string
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Backend:   BackendDisk,
		MaxSizeMB: 250, // 250 MB default
		TTLDays:   30,  // 30 days default
		RedisAddr: "localhost:6379",
	}
}

// Open returns the store for one namespace ("firms" for raw API responses,
// "basemap" for map tiles). Disk namespaces live in sibling directories.
func Open(ctx context.Context, cfg Config, namespace, ext string) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisAddr, appName+":"+namespace, cfg.TTLDays)
	case BackendDisk, "":
		dir := cfg.Dir
		if dir == "" {
			dir = GetCacheDir()
		}
		return NewDiskStore(filepath.Join(dir, namespace), ext, cfg.MaxSizeMB, cfg.TTLDays)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// GetCacheDir returns the OS-specific cache directory
func GetCacheDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin": // macOS
		return filepath.Join(homeDir, "Library", "Caches", appName)
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(appData, appName, "cache")
	default: // Linux and others
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, appName)
	}
}
