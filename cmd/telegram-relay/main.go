// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command telegram-relay is a multi-user Telegram message relay. Users log
// in with their phone number over an HTTP API, then start a forwarding rule
// that copies matching messages from one chat to another.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/telegram-relay/pkg/api"
	"github.com/aiku/telegram-relay/pkg/config"
	"github.com/aiku/telegram-relay/pkg/metrics"
	"github.com/aiku/telegram-relay/pkg/relay"
	"github.com/aiku/telegram-relay/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("telegram-relay", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "config.yaml", "path to the config file")
	generate := flagSet.BoolP("generate-example-config", "e", false, "write the example config to the config path and exit")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("telegram-relay %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if *generate {
		if err := os.WriteFile(*configPath, []byte(config.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", *configPath)
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := loadConfig(*configPath, flagSet.Changed("config"))
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Msg("Starting telegram-relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, *log)
}

// loadConfig reads the config file. A missing default config file is not an
// error: credentials can come from the environment alone.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg, err = config.Parse(nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	g, ctx := errgroup.WithContext(ctx)

	platform, err := telegram.NewPlatform(ctx, telegram.Options{
		AppID:      cfg.Telegram.APIID,
		AppHash:    cfg.Telegram.APIHash,
		SessionDir: cfg.Telegram.SessionDir,
	}, log)
	if err != nil {
		return err
	}

	service := relay.New(platform, relay.Options{
		PlatformTimeout: cfg.Relay.PlatformTimeout,
		RelayTimeout:    cfg.Relay.RelayTimeout,
		DefaultRegion:   cfg.Relay.DefaultRegion,
	}, log, m)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.NewRouter(service, reg, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Login and verify may wait for the platform timeout.
		WriteTimeout: cfg.Relay.PlatformTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP API did not shut down cleanly")
		}
		platform.Close()
		return nil
	})

	return g.Wait()
}
