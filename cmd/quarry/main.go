// Copyright 2025 Kadir Pekel
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

// Command quarry runs the retrieval service for QA test cases and
// automation methods.
//
// Usage:
//
//	quarry serve --config quarry.yaml
//	quarry ingest testcases.xlsx
//	quarry validate --config quarry.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/quarry"
	"github.com/kadirpekel/quarry/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP service."`
	Ingest   IngestCmd   `cmd:"" help:"Ingest a sheet file."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := quarry.Version
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("quarry version %s\n", version)
	return nil
}

// loadConfig loads the config file, or falls back to flavor defaults when
// no file was given.
func loadConfig(ctx context.Context, configPath string) (*config.Config, *config.Loader, error) {
	if configPath != "" {
		cfg, loader, err := config.LoadConfigFile(ctx, configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		slog.Info("Loaded configuration", "path", configPath)
		return cfg, loader, nil
	}

	slog.Info("No config file given, using defaults", "flavor", config.FlavorTestCase)
	return config.Default(config.FlavorTestCase), nil, nil
}

// printBanner prints the startup banner when stdout is a terminal.
func printBanner() {
	fileInfo, err := os.Stdout.Stat()
	if err != nil || (fileInfo.Mode()&os.ModeCharDevice) == 0 {
		return
	}

	// Amber: #d97706 = RGB(217, 119, 6)
	amberColor := "\033[38;2;217;119;6m"
	resetColor := "\033[0m"

	banner := `
 ██████╗ ██╗   ██╗ █████╗ ██████╗ ██████╗ ██╗   ██╗
██╔═══██╗██║   ██║██╔══██╗██╔══██╗██╔══██╗╚██╗ ██╔╝
██║   ██║██║   ██║███████║██████╔╝██████╔╝ ╚████╔╝
██║▄▄ ██║██║   ██║██╔══██║██╔══██╗██╔══██╗  ╚██╔╝
╚██████╔╝╚██████╔╝██║  ██║██║  ██║██║  ██║   ██║
 ╚══▀▀═╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`
	fmt.Printf("%s%s%s\n", amberColor, banner, resetColor)
}

// shouldSkipBanner reports whether the invoked command is informational
// rather than operational.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}
	for _, arg := range args[1:] {
		if arg == "validate" || arg == "version" {
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("quarry"),
		kong.Description("quarry - retrieval and ingestion service for QA test cases and automation methods"),
		kong.UsageOnError(),
	)

	// Initialize logger before any command runs so config loading logs too.
	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
