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

// Package server exposes the search, upload, and update pipelines over
// HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/ingest"
	"github.com/kadirpekel/quarry/pkg/search"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Searcher runs the search pipeline for one request.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Ingester runs batch ingestion and single-record updates.
type Ingester interface {
	IngestSheet(ctx context.Context, filename string, r io.Reader) (*ingest.Result, error)
	Update(ctx context.Context, id string, patch ingest.Patch) (*vectorstore.Record, error)
}

// Config wires the HTTP server.
type Config struct {
	// Server holds the listen address, CORS origins, and timeouts.
	Server *config.ServerConfig

	// App is the full configuration the schema endpoint reflects. The
	// health endpoint reports its flavor.
	App *config.Config

	// Search serves POST /search (required).
	Search Searcher

	// Ingest serves POST /upload and PUT /update/{id} (required).
	Ingest Ingester

	// Components is reported by the health endpoint, name to state.
	Components map[string]string
}

// Server is the quarry HTTP server.
type Server struct {
	cfg        *config.ServerConfig
	appCfg     *config.Config
	search     Searcher
	ingest     Ingester
	components map[string]string

	server *http.Server
}

// New creates the HTTP server.
func New(cfg Config) (*Server, error) {
	if cfg.Search == nil {
		return nil, fmt.Errorf("search service is required")
	}
	if cfg.Ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}

	serverCfg := cfg.Server
	if serverCfg == nil {
		serverCfg = &config.ServerConfig{}
	}
	serverCfg.SetDefaults()

	appCfg := cfg.App
	if appCfg == nil {
		appCfg = config.Default(config.FlavorTestCase)
	}

	return &Server{
		cfg:        serverCfg,
		appCfg:     appCfg,
		search:     cfg.Search,
		ingest:     cfg.Ingest,
		components: cfg.Components,
	}, nil
}

// Router builds the chi router with the full middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Order: logging -> metrics -> cors -> recovery
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))
	r.Use(chimiddleware.Recoverer)

	r.Post("/search", s.handleSearch)
	r.Post("/upload", s.handleUpload)
	r.Put("/update/{id}", s.handleUpdate)
	r.Get("/health", s.handleHealth)
	r.Get("/api/schema", s.handleSchema)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// Start runs the server until ctx is cancelled or ListenAndServe fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.cfg.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	slog.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.cfg.Address()
}
