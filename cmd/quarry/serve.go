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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/ingest"
	"github.com/kadirpekel/quarry/pkg/runtime"
	"github.com/kadirpekel/quarry/pkg/server"
)

// ServeCmd starts the HTTP service.
type ServeCmd struct {
	WatchConfig bool   `name:"watch-config" help:"Watch the config file for changes and hot-reload."`
	IngestDir   string `name:"ingest-dir" help:"Drop folder to watch for sheet files (overrides config)." type:"path"`
	Port        int    `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.IngestDir != "" {
		cfg.Ingest.Dir = c.IngestDir
	}

	// Start config watching if enabled
	if c.WatchConfig && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Warn("Runtime cleanup error", "error", err)
		}
	}()

	srv, err := server.New(server.Config{
		Server:     &cfg.Server,
		App:        cfg,
		Search:     rt.Search(),
		Ingest:     rt.Ingest(),
		Components: rt.Components(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if cfg.Ingest.Dir != "" {
		watcher, err := ingest.NewWatcher(rt.Ingest(), &cfg.Ingest)
		if err != nil {
			return fmt.Errorf("failed to create ingest watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start ingest watcher: %w", err)
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				slog.Warn("Ingest watcher stop error", "error", err)
			}
		}()
	}

	printStartupInfo(cfg, rt)

	// Start server (blocks until context is cancelled)
	return srv.Start(ctx)
}

// printStartupInfo prints the endpoints and wiring once startup succeeded.
func printStartupInfo(cfg *config.Config, rt *runtime.Runtime) {
	addr := displayAddress(&cfg.Server)

	amberColor := "\033[38;2;217;119;6m"
	resetColor := "\033[0m"
	fmt.Printf("\n%squarry ready!%s\n", amberColor, resetColor)
	fmt.Printf("   Search:   http://%s/search\n", addr)
	fmt.Printf("   Upload:   http://%s/upload\n", addr)
	fmt.Printf("   Update:   http://%s/update/{id}\n", addr)
	fmt.Printf("   Health:   http://%s/health\n", addr)
	fmt.Printf("   Schema:   http://%s/api/schema\n", addr)
	fmt.Printf("   Metrics:  http://%s/metrics\n", addr)

	components := rt.Components()
	fmt.Printf("\n   Flavor:   %s\n", cfg.Flavor)
	fmt.Printf("   Store:    %s (collection %q)\n", components["store"], cfg.Store.Collection)
	fmt.Printf("   Embedder: %s\n", components["embedder"])
	if components["llm"] == "disabled" {
		fmt.Printf("   LLM:      disabled (deterministic fallbacks)\n")
	} else {
		fmt.Printf("   LLM:      %s\n", components["llm"])
	}
	if cfg.Ingest.Dir != "" {
		fmt.Printf("   Drop dir: %s (ledger %s)\n", cfg.Ingest.Dir, components["ledger"])
	}
	if cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:  %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}

	fmt.Println("\nPress Ctrl+C to stop")
}

// displayAddress rewrites the bind address into something reachable from
// a browser: a wildcard bind shows as localhost.
func displayAddress(cfg *config.ServerConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Port)
}
