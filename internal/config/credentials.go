package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"

	"fire-timelapse/internal/common"
)

const (
	// MapKeyEnv is the variable name looked up in .env and the process environment
	MapKeyEnv = "FIRMS_MAP_KEY"

	// MapKeyConfigField is the field name looked up in config.json
	MapKeyConfigField = "MAP_KEY"

	// MapKeyURL is where users request a key
	MapKeyURL = "https://firms.modaps.eosdis.nasa.gov/api/map_key/"
)

var mapKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// CredentialSources lists the places ResolveMapKey looks, in priority order
type CredentialSources struct {
	DotEnvPath     string
	ConfigJSONPath string
	Getenv         func(string) string
}

// DefaultCredentialSources looks for .env and config.json in dir
func DefaultCredentialSources(dir string) CredentialSources {
	return CredentialSources{
		DotEnvPath:     filepath.Join(dir, ".env"),
		ConfigJSONPath: filepath.Join(dir, "config.json"),
		Getenv:         os.Getenv,
	}
}

// ResolveMapKey returns the FIRMS MAP_KEY from the first source that has one:
// the .env secrets file, then the process environment, then config.json.
// The second return value names the source the key came from.
func ResolveMapKey(src CredentialSources) (string, string, error) {
	if src.DotEnvPath != "" {
		values, err := godotenv.Read(src.DotEnvPath)
		switch {
		case err == nil:
			if key := strings.TrimSpace(values[MapKeyEnv]); key != "" {
				return checkMapKey(key, src.DotEnvPath)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			log.Printf("[Config] Ignoring unreadable %s: %v", src.DotEnvPath, err)
		}
	}

	if src.Getenv != nil {
		if key := strings.TrimSpace(src.Getenv(MapKeyEnv)); key != "" {
			return checkMapKey(key, "environment")
		}
	}

	if src.ConfigJSONPath != "" {
		data, err := os.ReadFile(src.ConfigJSONPath)
		if err == nil {
			var cfg map[string]any
			if err := json.Unmarshal(data, &cfg); err != nil {
				return "", "", &common.ConfigError{
					Kind:   common.ConfigMalformed,
					Source: src.ConfigJSONPath,
					Msg:    "config file is not valid JSON",
					Err:    err,
				}
			}
			if raw, ok := cfg[MapKeyConfigField]; ok && raw != nil {
				key, isString := raw.(string)
				if !isString {
					return "", "", &common.ConfigError{
						Kind:   common.ConfigMalformed,
						Source: src.ConfigJSONPath,
						Msg:    MapKeyConfigField + " must be a string",
					}
				}
				if key = strings.TrimSpace(key); key != "" {
					return checkMapKey(key, src.ConfigJSONPath)
				}
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[Config] Ignoring unreadable %s: %v", src.ConfigJSONPath, err)
		}
	}

	return "", "", &common.ConfigError{
		Kind: common.ConfigMissing,
		Msg: "NASA FIRMS MAP_KEY not configured; set " + MapKeyEnv + " in .env or the environment, " +
			"or add {\"" + MapKeyConfigField + "\": \"...\"} to config.json (get a key at " + MapKeyURL + ")",
	}
}

func checkMapKey(key, source string) (string, string, error) {
	if !mapKeyPattern.MatchString(key) {
		return "", "", &common.ConfigError{
			Kind:   common.ConfigMalformed,
			Source: source,
			Msg:    "MAP_KEY must be 32 hexadecimal characters",
		}
	}
	return key, source, nil
}

// RedactKey hides all but the last four characters of a key for logging
func RedactKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
