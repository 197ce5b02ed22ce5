package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/anggasct/powertrack/config"
	"github.com/anggasct/powertrack/historical"
	"github.com/anggasct/powertrack/middleware"
	"github.com/anggasct/powertrack/middleware/logger"
	"github.com/anggasct/powertrack/middleware/retry"
	"github.com/anggasct/powertrack/rules"
)

// restMiddleware retries transient failures of the rules and jobs APIs and
// logs every attempt. The first middleware is the outermost, so retry wraps
// the logger.
func restMiddleware(log *slog.Logger) []middleware.Middleware {
	return []middleware.Middleware{
		retry.New(retry.DefaultConfig()),
		logger.New(&logger.Config{Logger: log, Level: slog.LevelDebug}),
	}
}

func runRules(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	act, args, err := action(args, "list", "add", "delete")
	if err != nil {
		return err
	}

	cfg := &CLIConfig{}
	var value, tag, rulesURL string
	fs := newFlagSet("rules "+act, stderr)
	bindCommon(fs, cfg)
	fs.StringVar(&rulesURL, "rules-url", "", "Rules endpoint, derived from the stream URL when omitted")
	if act != "list" {
		fs.StringVar(&value, "value", "", "Rule value")
	}
	if act == "add" {
		fs.StringVar(&tag, "tag", "", "Optional rule tag")
	}

	log, err := parse(fs, cfg, args, stderr)
	if err != nil {
		return err
	}

	resolved, err := config.Resolve(cfg.resolveOptions(rulesURL == ""))
	if err != nil {
		return err
	}
	opts := []rules.Option{rules.WithMiddleware(restMiddleware(log)...)}
	if rulesURL != "" {
		opts = append(opts, rules.WithRulesURL(rulesURL))
	}
	store, err := rules.NewStore(resolved, opts...)
	if err != nil {
		return err
	}

	switch act {
	case "list":
		rs, err := store.List(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, rs)
	case "add":
		if err := store.Add(ctx, value, tag); err != nil {
			return err
		}
		log.Info("rule added", "value", value, "tag", tag)
	case "delete":
		if err := store.Delete(ctx, rules.Rule{Value: value}); err != nil {
			return err
		}
		log.Info("rule deleted", "value", value)
	}
	return nil
}

func runJob(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	act, args, err := action(args, "list", "get", "accept", "reject")
	if err != nil {
		return err
	}

	cfg := &CLIConfig{}
	var jobURL, account string
	fs := newFlagSet("job "+act, stderr)
	bindCommon(fs, cfg)
	fs.StringVar(&account, "account", "", "Gnip account name, taken from -job-url when omitted")
	if act != "list" {
		fs.StringVar(&jobURL, "job-url", "", "Historical job URL")
	}

	log, err := parse(fs, cfg, args, stderr)
	if err != nil {
		return err
	}
	if act != "list" && jobURL == "" {
		return fmt.Errorf("%w: -job-url is required", errUsage)
	}
	if account == "" {
		account = accountFromURL(jobURL)
	}

	resolved, err := config.Resolve(cfg.resolveOptions(false))
	if err != nil {
		return err
	}
	jobs, err := historical.NewClient(resolved, account, historical.WithMiddleware(restMiddleware(log)...))
	if err != nil {
		return err
	}

	if act == "list" {
		list, err := jobs.List(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, list)
	}

	job, err := jobs.Get(ctx, jobURL)
	if err != nil {
		return err
	}

	switch act {
	case "accept":
		err = jobs.Accept(ctx, job)
	case "reject":
		err = jobs.Reject(ctx, job)
	}
	if err != nil {
		return err
	}
	return writeJSON(stdout, job)
}

// accountFromURL extracts acme from .../accounts/acme/....
func accountFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "accounts" {
			return parts[i+1]
		}
	}
	return ""
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
