// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command matrix-xmpp-bridge runs the XMPP to Matrix application service. The
// XMPP server feeds it packets through the connector package; this binary
// serves the homeserver-facing appservice API and /metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/matrix-xmpp-bridge/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var generateExample = flag.MakeFull("e", "generate-example-config", "Write the example config to the config path and exit.", "false").Bool()
var wantVersion = flag.MakeFull("v", "version", "Print the version and exit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		"matrix-xmpp-bridge - An XMPP to Matrix application service bridge.",
		"matrix-xmpp-bridge [-hev] [-c <path>]",
	)
	if Tag != "unknown" {
		connector.Version = Tag
	}
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *wantVersion {
		fmt.Printf("matrix-xmpp-bridge %s (commit %s, built %s)\n", connector.Version, Commit, BuildTime)
		os.Exit(0)
	}
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if *generateExample {
		if err := os.WriteFile(*configPath, []byte(connector.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", *configPath)
		return nil
	}

	// A missing .env file is normal in production.
	_ = godotenv.Load()

	cfg, err := connector.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.Info().
		Str("version", connector.Version).
		Str("commit", Commit).
		Str("bridge_domain", cfg.BridgeDomain()).
		Msg("Initializing bridge")

	conn, err := connector.New(cfg, *log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err = conn.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return conn.Stop(shutdownCtx)
}
