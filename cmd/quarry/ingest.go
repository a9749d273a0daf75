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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/kadirpekel/quarry/pkg/runtime"
)

// IngestCmd ingests one sheet file from the command line.
type IngestCmd struct {
	File     string `arg:"" help:"Sheet file to ingest (.csv or .xlsx)." type:"path"`
	Recreate bool   `help:"Drop and recreate the collection before ingesting."`
	Yes      bool   `short:"y" help:"Skip the confirmation prompt."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Cancelling...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Recreate && !c.Yes {
		ok, err := confirmRecreate(cfg.Store.Collection)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
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

	if c.Recreate {
		slog.Info("Recreating collection", "collection", cfg.Store.Collection)
		if err := rt.Store().DeleteCollection(ctx, cfg.Store.Collection); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
		if err := rt.Store().EnsureCollection(ctx, cfg.Store.Collection, rt.Embedder().Dimension()); err != nil {
			return fmt.Errorf("failed to recreate collection: %w", err)
		}
	}

	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.File, err)
	}
	defer f.Close()

	result, err := rt.Ingest().IngestSheet(ctx, filepath.Base(c.File), f)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Println(result.Message)
	if result.Failed > 0 {
		fmt.Printf("%d records failed and were skipped.\n", result.Failed)
	}
	return nil
}

// confirmRecreate asks before dropping the collection. A non-interactive
// stdin refuses so scripts must pass --yes explicitly.
func confirmRecreate(collection string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("--recreate drops collection %q; re-run with --yes to confirm", collection)
	}

	fmt.Printf("This drops collection %q and all its records. Continue? [y/N] ", collection)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
