// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/livestate/cmd/livestate/cli"
	"github.com/bureau-foundation/livestate/lib/config"
	"github.com/bureau-foundation/livestate/lib/roomstore"
	"github.com/bureau-foundation/livestate/lib/session"
)

// streams carries the command tree's standard streams so tests can
// substitute buffers.
type streams struct {
	out io.Writer
	in  io.Reader
}

// storeFlags selects the configuration and room store for a command.
type storeFlags struct {
	ConfigPath string
	Database   string
}

func (f *storeFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.ConfigPath, "config", "c", "", "config file (default $LIVESTATE_CONFIG)")
	flagSet.StringVar(&f.Database, "db", "", "room database, overriding store.path")
}

// loadConfig resolves configuration from --config, then
// LIVESTATE_CONFIG. With neither set, --db alone runs on the defaults.
func (f *storeFlags) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case f.ConfigPath != "":
		cfg, err = config.LoadFile(f.ConfigPath)
	case os.Getenv("LIVESTATE_CONFIG") != "" || f.Database == "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if f.Database != "" {
		cfg.Store.Path = f.Database
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// environment is an opened config, logger and store.
type environment struct {
	config *config.Config
	logger *slog.Logger
	store  *roomstore.Store

	// registry gathers session metrics when session.metrics_file is
	// set. Nil otherwise.
	registry *prometheus.Registry
	metrics  *session.Metrics
}

// open loads configuration and opens the room store. name scopes the
// logger ("room/create", "set").
func (f *storeFlags) open(name string) (*environment, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	if f.Database == "" {
		if err := cfg.EnsurePaths(); err != nil {
			return nil, err
		}
	}
	logger := cli.NewCommandLogger(cfg.LogLevel()).With("command", name)

	store, err := roomstore.Open(roomstore.Config{
		Path:     cfg.Store.Path,
		PoolSize: cfg.Store.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	env := &environment{config: cfg, logger: logger, store: store}
	if cfg.Session.MetricsFile != "" {
		env.registry = prometheus.NewRegistry()
		env.metrics = session.NewMetrics(env.registry)
	}
	return env, nil
}

// coordinator returns a session coordinator that fetches from and
// delivers to the store.
func (e *environment) coordinator() (*session.Coordinator, error) {
	return session.New(session.Config{
		Source:            e.store,
		Deliverer:         e.store,
		Logger:            e.logger,
		FetchTimeout:      e.config.FetchTimeout(),
		DeliverTimeout:    e.config.DeliverTimeout(),
		MaxPositionLength: e.config.Session.MaxPositionLength,
		Metrics:           e.metrics,
	})
}

func (e *environment) close(err *error) {
	if e.registry != nil {
		if writeErr := prometheus.WriteToTextfile(e.config.Session.MetricsFile, e.registry); writeErr != nil {
			*err = errors.Join(*err, fmt.Errorf("writing metrics: %w", writeErr))
		}
	}
	if closeErr := e.store.Close(); closeErr != nil {
		*err = errors.Join(*err, fmt.Errorf("closing store: %w", closeErr))
	}
}
