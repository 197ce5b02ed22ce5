package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/anggasct/powertrack/config"
)

// CLIConfig holds the flags shared by every subcommand.
type CLIConfig struct {
	ConfigPath string
	EnvFile    string
	URL        string
	Username   string
	Password   string
	LogLevel   string
	LogFormat  string
}

// StreamConfig holds the flags of the stream subcommand.
type StreamConfig struct {
	CLIConfig
	ShutdownTimeout time.Duration
	MetricsAddr     string
	MaxLineSize     int
	ContentType     string
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(appName+" "+name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// bindCommon registers the shared flags. Stream URL and credentials fall
// back to GNIPPY_* and ~/.gnippy when left empty.
func bindCommon(fs *flag.FlagSet, cfg *CLIConfig) {
	fs.StringVar(&cfg.ConfigPath, "config", getEnv("POWERTRACK_CONFIG", ""),
		"YAML config file, default ~/"+config.DefaultFileName+" (env: POWERTRACK_CONFIG)")
	fs.StringVar(&cfg.EnvFile, "env-file", getEnv("POWERTRACK_ENV_FILE", ""),
		"dotenv file with GNIPPY_* variables (env: POWERTRACK_ENV_FILE)")
	fs.StringVar(&cfg.URL, "url", "", "PowerTrack stream URL (env: "+config.EnvURL+")")
	fs.StringVar(&cfg.Username, "username", "", "Gnip username (env: "+config.EnvUsername+")")
	fs.StringVar(&cfg.Password, "password", "", "Gnip password (env: "+config.EnvPassword+")")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("POWERTRACK_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: POWERTRACK_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("POWERTRACK_LOG_FORMAT", "text"),
		"Log format: json, text (env: POWERTRACK_LOG_FORMAT)")
}

func bindStream(fs *flag.FlagSet, cfg *StreamConfig) {
	bindCommon(fs, &cfg.CLIConfig)
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("POWERTRACK_SHUTDOWN_TIMEOUT", 30*time.Second),
		"How long to wait for the stream to stop on SIGINT/SIGTERM (env: POWERTRACK_SHUTDOWN_TIMEOUT)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("POWERTRACK_METRICS_ADDR", ""),
		"Serve Prometheus metrics on this address, empty to disable (env: POWERTRACK_METRICS_ADDR)")
	fs.IntVar(&cfg.MaxLineSize, "max-line-size", 0, "Largest activity in bytes, 0 for the default")
	fs.StringVar(&cfg.ContentType, "content-type", getEnv("POWERTRACK_CONTENT_TYPE", ""),
		"Fail unless the stream's Content-Type contains this, empty to accept any (env: POWERTRACK_CONTENT_TYPE)")
}

func validateCommon(cfg *CLIConfig) error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if (cfg.Username == "") != (cfg.Password == "") {
		return fmt.Errorf("-username and -password must be given together")
	}
	return nil
}

// resolveOptions turns the shared flags into config resolution options.
func (cfg *CLIConfig) resolveOptions(requireURL bool) config.Options {
	opts := config.Options{
		URL:        cfg.URL,
		ConfigFile: cfg.ConfigPath,
		EnvFile:    cfg.EnvFile,
		RequireURL: requireURL,
	}
	if cfg.Username != "" {
		opts.Auth = &config.Credentials{Username: cfg.Username, Password: cfg.Password}
	}
	return opts
}

func printHelp(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - PowerTrack stream, rules and historical job client

Usage:
  %s stream [options]
  %s rules list|add|delete [options]
  %s job list|get|accept|reject [options]
  %s version

Run a subcommand with -h for its options.

Credentials and the stream URL are read from flags, then the GNIPPY_URL,
GNIPPY_AUTH_USERNAME and GNIPPY_AUTH_PASSWORD variables (or -env-file), then
~/%s:

  credentials:
    username: me@example.com
    password: secret
  powertrack:
    url: https://stream.gnip.com:443/accounts/acme/publishers/twitter/streams/track/prod.json

Examples:
  # Print activities until interrupted
  %s stream -metrics-addr :9090 > activities.jsonl

  # Manage rules
  %s rules add -value 'cow OR dog' -tag pets
  %s rules list

  # Accept a quoted historical job
  %s job accept -job-url https://historical.gnip.com/accounts/acme/publishers/twitter/historical/track/jobs/abc.json

Version: %s
`, appName, appName, appName, appName, appName, config.DefaultFileName,
		appName, appName, appName, appName, Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
