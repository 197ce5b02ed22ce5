package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anggasct/powertrack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// runStream prints every activity to stdout, one per line, until the server
// ends the stream or ctx is cancelled.
func runStream(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := &StreamConfig{}
	fs := newFlagSet("stream", stderr)
	bindStream(fs, cfg)

	logger, err := parse(fs, &cfg.CLIConfig, args, stderr)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	out := bufio.NewWriter(stdout)
	handler := func(line []byte) error {
		if _, err := out.Write(line); err != nil {
			return err
		}
		if err := out.WriteByte('\n'); err != nil {
			return err
		}
		return out.Flush()
	}

	opts := append(clientOptions(&cfg.CLIConfig),
		powertrack.WithLogger(logger),
		powertrack.WithMetrics(reg),
	)
	if cfg.MaxLineSize > 0 {
		opts = append(opts, powertrack.WithMaxLineSize(cfg.MaxLineSize))
	}
	if cfg.ContentType != "" {
		opts = append(opts, powertrack.WithContentType(cfg.ContentType))
	}

	client, err := powertrack.New(handler, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		serveMetrics(gctx, g, cfg.MetricsAddr, reg, logger)
	}

	// The stream request outlives ctx: shutdown goes through Disconnect.
	if err := client.Connect(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	g.Go(func() error {
		defer cancel()

		select {
		case <-client.Done():
		case <-gctx.Done():
			logger.Info("shutting down stream", "timeout", cfg.ShutdownTimeout)
			running, err := client.Disconnect(cfg.ShutdownTimeout)
			if err != nil {
				return err
			}
			if running {
				logger.Warn("stream did not stop before the shutdown timeout")
				return nil
			}
		}

		if err := client.Err(); err != nil {
			return fmt.Errorf("stream %s: %w", client.Reason(), err)
		}
		logger.Info("stream finished", "reason", client.Reason().String())
		return nil
	})

	return g.Wait()
}

// serveMetrics runs a /metrics server in g until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// clientOptions maps the shared flags onto client options.
func clientOptions(cfg *CLIConfig) []powertrack.Option {
	var opts []powertrack.Option
	if cfg.URL != "" {
		opts = append(opts, powertrack.WithURL(cfg.URL))
	}
	if cfg.Username != "" {
		opts = append(opts, powertrack.WithAuth(cfg.Username, cfg.Password))
	}
	if cfg.ConfigPath != "" {
		opts = append(opts, powertrack.WithConfigFile(cfg.ConfigPath))
	}
	if cfg.EnvFile != "" {
		opts = append(opts, powertrack.WithEnvFile(cfg.EnvFile))
	}
	return opts
}
