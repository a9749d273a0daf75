// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kadirpekel/quarry/pkg/config"
)

// Watcher ingests sheet files dropped into a directory. Events are
// debounced per path so partially written files settle before parsing,
// and the ledger skips any file whose content already went through.
type Watcher struct {
	service  *Service
	ledger   *Ledger
	dir      string
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	mu       sync.Mutex
	watching bool
	pending  map[string]struct{}
	timer    *time.Timer
}

// NewWatcher creates a watcher over the configured drop folder. The
// ledger, when the service carries one, makes processing restart-safe.
func NewWatcher(service *Service, cfg *config.IngestConfig) (*Watcher, error) {
	if service == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("ingest directory is required")
	}
	cfg.SetDefaults()

	return &Watcher{
		service:  service,
		ledger:   service.ledger,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching. Files already sitting in the folder are swept
// once so sheets dropped while the server was down still get ingested.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.watching = true

	go w.eventLoop(ctx, fw)
	go w.sweep(ctx)

	slog.Info("Started ingest folder watcher", "dir", w.dir, "debounce", w.debounce)
	return nil
}

// Stop ends watching. Safe to call when not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.cancel()
	err := w.watcher.Close()
	w.watcher = nil
	w.watching = false

	slog.Info("Stopped ingest folder watcher")
	return err
}

func (w *Watcher) eventLoop(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	if !isSheetFile(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.processPending(ctx)
	})
}

func (w *Watcher) processPending(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(paths)
	for _, path := range paths {
		w.processFile(ctx, path)
	}
}

// sweep ingests files already present when the watcher starts.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Warn("Ingest folder sweep failed", "dir", w.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.processFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// processFile runs one file through the batch pipeline and records the
// outcome in the ledger. Ledger write failures only log; they never fail
// the ingest itself.
func (w *Watcher) processFile(ctx context.Context, path string) {
	if !isSheetFile(path) {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Debug("Skipping unreadable file", "path", path, "error", err)
		return
	}

	hash := ContentHash(data)
	if w.ledger != nil {
		seen, err := w.ledger.Seen(ctx, hash)
		if err != nil {
			slog.Warn("Ingest ledger lookup failed", "path", path, "error", err)
		} else if seen {
			slog.Debug("Skipping already ingested file", "path", path)
			return
		}
	}

	started := time.Now().UTC()
	result, err := w.service.IngestSheet(ctx, filepath.Base(path), bytes.NewReader(data))

	entry := Entry{
		Hash:       hash,
		Path:       path,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	if err != nil {
		entry.Status = StatusFailed
		entry.Error = err.Error()
		slog.Error("Drop folder ingest failed", "path", path, "error", err)
	} else {
		entry.Status = StatusCompleted
		entry.Ingested = result.Ingested
		entry.Duplicates = result.Duplicates
		entry.Failed = result.Failed
		slog.Info("Drop folder ingest complete", "path", path, "message", result.Message)
	}

	if w.ledger != nil {
		if err := w.ledger.Record(ctx, entry); err != nil {
			slog.Warn("Failed to record ingest ledger entry", "path", path, "error", err)
		}
	}
}

func isSheetFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}
