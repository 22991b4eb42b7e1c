// Package app wires configuration into the components the binaries share.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"registrar/internal/backend"
	_ "registrar/internal/backend/claude"
	_ "registrar/internal/backend/gemini"
	_ "registrar/internal/backend/ollama"
	_ "registrar/internal/backend/openai"
	"registrar/internal/config"
	"registrar/internal/pipeline"
	"registrar/internal/port"
	"registrar/internal/registry"
	"registrar/internal/repository/postgres"
	"registrar/internal/repository/sqlite"
	"registrar/internal/signature"
	s3storage "registrar/internal/storage/s3"
)

// Components is the extraction stack built from one Config.
type Components struct {
	Catalog  *signature.Catalog
	Registry *registry.Registry
	Backend  port.Backend
	Pipeline *pipeline.Pipeline
	Model    string
}

// LoadCatalog returns the configured signature catalog, or the built-in one.
func LoadCatalog(cfg config.PipelineConfig) (*signature.Catalog, error) {
	if cfg.SignaturesFile != "" {
		return signature.LoadFile(cfg.SignaturesFile)
	}
	return signature.Default()
}

// LoadRegistry returns the built-in registry with the configured overrides.
func LoadRegistry(cfg config.PipelineConfig) (*registry.Registry, error) {
	if cfg.RegistryFile != "" {
		return registry.LoadFile(cfg.RegistryFile)
	}
	return registry.Default(), nil
}

// Build resolves the catalog, registry and backend chain into a Pipeline.
func Build(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	catalog, err := LoadCatalog(cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	reg, err := LoadRegistry(cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	for _, id := range []string{signature.ClassifierID, signature.StructurerID} {
		if !catalog.Has(id) {
			return nil, fmt.Errorf("signature catalog is missing %s", id)
		}
	}

	b, err := backend.New(cfg, catalog, logger)
	if err != nil {
		return nil, fmt.Errorf("building backend: %w", err)
	}
	model, err := cfg.ResolveModel(cfg.Backend.Primary.Model)
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.ConfigFrom(cfg.Pipeline)
	table := pipeline.NewSignatureTable(catalog.IDs(), b, pcfg.Normalize)
	p, err := pipeline.New(pcfg, b, table, reg, logger)
	if err != nil {
		return nil, err
	}
	return &Components{Catalog: catalog, Registry: reg, Backend: b, Pipeline: p, Model: model}, nil
}

// Store is the configured result store. Repo is nil for the "none" driver.
type Store struct {
	Repo port.ResultRepository
	DB   *sqlx.DB
}

// OpenStore connects the result store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StoreNone, "":
		return &Store{}, nil
	case config.StorePostgres:
		db, err := postgres.NewDB(ctx, &cfg.DB)
		if err != nil {
			return nil, err
		}
		return &Store{Repo: postgres.NewResultRepo(db), DB: db}, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return &Store{Repo: sqlite.NewResultRepo(db), DB: db}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Close releases the database handle, if any.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// OpenStorage returns the S3 object storage, or nil when it is disabled.
func OpenStorage(ctx context.Context, cfg *config.Config) (port.ObjectStorage, error) {
	if !cfg.S3.Enabled {
		return nil, nil
	}
	storage, err := s3storage.NewS3Client(ctx, &cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	return storage, nil
}
