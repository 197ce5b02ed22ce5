// Package config resolves the PowerTrack endpoint and credentials.
//
// Each field is taken from the first source that provides it:
//
//  1. explicit values in Options
//  2. the environment (GNIPPY_URL, GNIPPY_AUTH_USERNAME, GNIPPY_AUTH_PASSWORD),
//     with an optional .env file underneath the process environment
//  3. a YAML config file, ~/.gnippy by default
//
// Example file:
//
//	credentials:
//	  username: user@example.com
//	  password: secret
//	powertrack:
//	  url: https://stream.gnip.com:443/accounts/acme/publishers/twitter/streams/track/prod.json
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anggasct/powertrack/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvURL      = "GNIPPY_URL"
	EnvUsername = "GNIPPY_AUTH_USERNAME"
	EnvPassword = "GNIPPY_AUTH_PASSWORD"
)

// DefaultFileName is looked up in the user's home directory.
const DefaultFileName = ".gnippy"

// Credentials is the account used for HTTP basic auth.
type Credentials struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// IsZero reports whether neither field is set.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// Config is a resolved endpoint. It is treated as immutable once returned.
type Config struct {
	URL  string
	Auth Credentials
}

// File mirrors the YAML config file.
type File struct {
	Credentials Credentials `yaml:"credentials"`
	PowerTrack  struct {
		URL string `yaml:"url"`
	} `yaml:"powertrack"`
}

// Options are the inputs to Resolve.
type Options struct {
	URL  string
	Auth *Credentials
	// ConfigFile is an explicit config file path. It must exist.
	ConfigFile string
	// EnvFile is an optional .env file. It must exist when set.
	EnvFile string
	// RequireURL makes a missing URL an error. Stores that only need
	// credentials leave it false.
	RequireURL bool
	// Getenv replaces os.Getenv, for tests.
	Getenv func(string) string
	// HomeDir replaces os.UserHomeDir, for tests.
	HomeDir func() (string, error)
}

// Resolve merges the configured sources into a Config.
func Resolve(opts Options) (*Config, error) {
	cfg := &Config{URL: opts.URL}
	if opts.Auth != nil {
		cfg.Auth = *opts.Auth
	}

	if !complete(cfg, opts.RequireURL) {
		env, err := environment(opts)
		if err != nil {
			return nil, err
		}
		fill(cfg, env[EnvURL], Credentials{Username: env[EnvUsername], Password: env[EnvPassword]})
	}

	if !complete(cfg, opts.RequireURL) {
		file, err := loadFile(opts)
		if err != nil {
			return nil, err
		}
		if file != nil {
			fill(cfg, file.PowerTrack.URL, file.Credentials)
		}
	}

	if missing := missingFields(cfg, opts.RequireURL); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", errors.ErrIncompleteConfiguration, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// Load reads and parses a YAML config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errors.ErrConfigFileNotFound, path)
		}
		return nil, errors.Wrap(err, "config", "Load", "read "+path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", errors.ErrConfiguration, path, err)
	}
	return &f, nil
}

// environment returns the process environment layered over the .env file.
func environment(opts Options) (map[string]string, error) {
	env := make(map[string]string, 3)

	if opts.EnvFile != "" {
		values, err := godotenv.Read(opts.EnvFile)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", errors.ErrConfigFileNotFound, opts.EnvFile)
			}
			return nil, fmt.Errorf("%w: parse %s: %w", errors.ErrConfiguration, opts.EnvFile, err)
		}
		for _, key := range []string{EnvURL, EnvUsername, EnvPassword} {
			env[key] = values[key]
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, key := range []string{EnvURL, EnvUsername, EnvPassword} {
		if v := getenv(key); v != "" {
			env[key] = v
		}
	}

	return env, nil
}

// loadFile returns the explicit config file, or the default one when it
// exists. A missing default file is not an error.
func loadFile(opts Options) (*File, error) {
	if opts.ConfigFile != "" {
		return Load(opts.ConfigFile)
	}

	homeDir := opts.HomeDir
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	home, err := homeDir()
	if err != nil {
		return nil, nil
	}

	f, err := Load(filepath.Join(home, DefaultFileName))
	if errors.Is(err, errors.ErrConfigFileNotFound) {
		return nil, nil
	}
	return f, err
}

// fill sets the fields of cfg that are still empty. Credentials are taken as
// a pair so a username from one source never meets a password from another.
func fill(cfg *Config, url string, auth Credentials) {
	if cfg.URL == "" {
		cfg.URL = url
	}
	if cfg.Auth.IsZero() {
		cfg.Auth = auth
	}
}

func complete(cfg *Config, requireURL bool) bool {
	return len(missingFields(cfg, requireURL)) == 0
}

func missingFields(cfg *Config, requireURL bool) []string {
	var missing []string
	if requireURL && cfg.URL == "" {
		missing = append(missing, "url")
	}
	if cfg.Auth.Username == "" {
		missing = append(missing, "username")
	}
	if cfg.Auth.Password == "" {
		missing = append(missing, "password")
	}
	return missing
}
