// Package runtime assembles the configured components into running
// services: store, embedder, LLM gateway, ledger, and the search and
// ingest pipelines built on top of them.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/embed"
	"github.com/kadirpekel/quarry/pkg/ingest"
	"github.com/kadirpekel/quarry/pkg/llm"
	"github.com/kadirpekel/quarry/pkg/observability"
	"github.com/kadirpekel/quarry/pkg/search"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Runtime owns the wired components of one deployment. Construction order
// is observability, embedder, store, gateway, ledger, services; Close
// releases them in reverse.
type Runtime struct {
	cfg      *config.Config
	obs      *observability.Manager
	store    vectorstore.Provider
	embedder embed.Embedder
	gateway  *llm.Gateway
	dbPool   *config.DBPool
	ledger   *ingest.Ledger
	search   *search.Service
	ingest   *ingest.Service
}

// New assembles a runtime from configuration and ensures the record
// collection exists. A construction failure releases everything built up
// to that point.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	r := &Runtime{cfg: cfg}
	cleanupOnError := func() {
		if err := r.Close(); err != nil {
			slog.Warn("Partial runtime cleanup failed", "error", err)
		}
	}

	r.obs = observability.NewManager(cfg.Observability)
	if err := r.obs.Initialize(ctx); err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	embedder, err := embed.New(&cfg.Embedder)
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	r.embedder = embedder

	store, err := vectorstore.New(&cfg.Store, cfg.Flavor)
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	r.store = store

	if err := store.EnsureCollection(ctx, cfg.Store.Collection, embedder.Dimension()); err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to ensure collection %q: %w", cfg.Store.Collection, err)
	}

	gateway, err := llm.New(&cfg.LLM)
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create llm gateway: %w", err)
	}
	r.gateway = gateway

	// The ledger exists for the drop-folder watcher; without a drop folder
	// nothing consults it, so the database is not even opened.
	if cfg.Ingest.Dir != "" {
		if cfg.Ledger.Dialect() == "sqlite" {
			if dir := filepath.Dir(cfg.Ledger.Database); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					cleanupOnError()
					return nil, fmt.Errorf("failed to create ledger directory: %w", err)
				}
			}
		}

		r.dbPool = config.NewDBPool()
		db, err := r.dbPool.Get(&cfg.Ledger)
		if err != nil {
			cleanupOnError()
			return nil, fmt.Errorf("failed to open ledger database: %w", err)
		}
		ledger, err := ingest.NewLedger(db, cfg.Ledger.Dialect())
		if err != nil {
			cleanupOnError()
			return nil, fmt.Errorf("failed to create ingest ledger: %w", err)
		}
		r.ledger = ledger
	}

	searchSvc, err := search.NewService(search.Config{
		Store:         store,
		Embedder:      embedder,
		LLM:           gateway,
		Collection:    cfg.Store.Collection,
		Flavor:        cfg.Flavor,
		Search:        &cfg.Search,
		LLMConfig:     &cfg.LLM,
		Prompts:       &cfg.Prompts,
		NumCandidates: cfg.Store.NumCandidates,
	})
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create search service: %w", err)
	}
	r.search = searchSvc

	ingestSvc, err := ingest.NewService(ingest.Config{
		Store:               store,
		Embedder:            embedder,
		LLM:                 gateway,
		Ledger:              r.ledger,
		Collection:          cfg.Store.Collection,
		Flavor:              cfg.Flavor,
		Prompts:             &cfg.Prompts,
		LLMConfig:           &cfg.LLM,
		Ingest:              &cfg.Ingest,
		DedupeNumCandidates: cfg.Store.DedupeNumCandidates,
	})
	if err != nil {
		cleanupOnError()
		return nil, fmt.Errorf("failed to create ingest service: %w", err)
	}
	r.ingest = ingestSvc

	return r, nil
}

// Config returns the runtime's configuration.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Store returns the vector store provider.
func (r *Runtime) Store() vectorstore.Provider {
	return r.store
}

// Embedder returns the embedding backend.
func (r *Runtime) Embedder() embed.Embedder {
	return r.embedder
}

// Gateway returns the LLM gateway. It is never nil; a deployment without
// an API key gets a disabled gateway.
func (r *Runtime) Gateway() *llm.Gateway {
	return r.gateway
}

// Search returns the search service.
func (r *Runtime) Search() *search.Service {
	return r.search
}

// Ingest returns the ingest service.
func (r *Runtime) Ingest() *ingest.Service {
	return r.ingest
}

// Ledger returns the ingest ledger, or nil when no drop folder is
// configured.
func (r *Runtime) Ledger() *ingest.Ledger {
	return r.ledger
}

// Components names the wired backends, keyed for the health endpoint.
func (r *Runtime) Components() map[string]string {
	components := map[string]string{
		"store":    r.store.Name(),
		"embedder": fmt.Sprintf("%s/%s", r.cfg.Embedder.Type, r.embedder.Model()),
	}
	if r.gateway.Disabled() {
		components["llm"] = "disabled"
	} else {
		components["llm"] = fmt.Sprintf("%s/%s", r.cfg.LLM.Type, r.cfg.LLM.Model)
	}
	if r.ledger != nil {
		components["ledger"] = r.cfg.Ledger.Dialect()
	}
	return components
}

// Close releases every component. Safe on a partially constructed runtime
// and safe to call twice.
func (r *Runtime) Close() error {
	var errs []error

	if r.search != nil {
		r.search.Close()
		r.search = nil
	}
	if r.gateway != nil {
		if err := r.gateway.Close(); err != nil {
			errs = append(errs, fmt.Errorf("llm gateway: %w", err))
		}
		r.gateway = nil
	}
	if r.embedder != nil {
		if err := r.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedder: %w", err))
		}
		r.embedder = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector store: %w", err))
		}
		r.store = nil
	}
	if r.dbPool != nil {
		if err := r.dbPool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger pool: %w", err))
		}
		r.dbPool = nil
		r.ledger = nil
	}
	if r.obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
		cancel()
		r.obs = nil
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
