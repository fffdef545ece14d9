// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command quiver runs the knowledge-base server and its ingestion pipeline.
//
// Usage:
//
//	quiver serve --config quiver.yaml --transport http --port 8080
//	quiver serve --config quiver.yaml --transport stdio
//	quiver ingest --config quiver.yaml --project myproject --force
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/quiverkb/quiver"
	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the JSON-RPC server."`
	Ingest  IngestCmd  `cmd:"" help:"Run the ingestion pipeline."`

	Config      string `short:"c" help:"Path to config file." type:"path"`
	LogLevel    string `help:"Log level (debug, info, warning, error, critical)." default:"info"`
	Env         string `help:"Path to a .env file to load before anything else." type:"path"`
	PrintConfig bool   `name:"print-config" help:"Print the loaded configuration with secrets redacted, then exit."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("quiver %s\n", quiver.FullVersion())
	return nil
}

// loadConfig loads, defaults, and validates the configuration file.
func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("loaded configuration", "path", cli.Config, "projects", len(cfg.Projects))
	return cfg, nil
}

// signalContext returns a context cancelled on the first SIGINT/SIGTERM. A
// second signal forces an immediate exit.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down, interrupt again to force")
		cancel()
		<-sigCh
		slog.Error("forced shutdown")
		os.Exit(1)
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("quiver"),
		kong.Description("Quiver - retrieval-augmented knowledge base server"),
		kong.UsageOnError(),
	)

	if cli.Env != "" {
		if err := config.LoadEnvFile(cli.Env); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
			os.Exit(1)
		}
	}

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, "simple")

	if cli.PrintConfig {
		cfg, err := loadConfig(&cli)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		redacted, err := cfg.Redacted()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Print(redacted)
		return
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
