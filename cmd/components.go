// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/internal/audit"
	"github.com/xkilldash9x/diligence-cli/internal/config"
	"github.com/xkilldash9x/diligence-cli/internal/orchestrator"
	"github.com/xkilldash9x/diligence-cli/internal/registry"
	"github.com/xkilldash9x/diligence-cli/internal/status"
	"github.com/xkilldash9x/diligence-cli/internal/transport"
	"github.com/xkilldash9x/diligence-cli/internal/upload"
)

// components holds the initialized services shared by the subcommands.
type components struct {
	Registry     *registry.Registry
	Tracker      *status.Tracker
	Orchestrator *orchestrator.Orchestrator
	Uploads      *upload.Coordinator
	Audit        *audit.Store

	dbPool *pgxpool.Pool
}

// Shutdown releases held resources.
func (c *components) Shutdown() {
	if c.dbPool != nil {
		c.dbPool.Close()
	}
}

// initializeComponents handles dependency injection for the commands that
// talk to the analysis endpoint.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	if cfg.Transport.BaseURL == "" {
		return nil, fmt.Errorf("analysis endpoint is not configured (set --endpoint or DILIGENCE_TRANSPORT_BASE_URL)")
	}

	comps := &components{}

	reg, err := registry.New(cfg.Agents)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent registry: %w", err)
	}
	comps.Registry = reg

	client, err := transport.New(cfg.Transport, reg.KnownID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transport client: %w", err)
	}

	comps.Tracker = status.New(reg.Names(), logger)

	// The audit trail is optional; without a database URL invocations are
	// simply not persisted.
	var recorder orchestrator.Recorder
	if cfg.Audit.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Audit.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to audit database: %w", err)
		}
		comps.dbPool = dbPool

		store, err := audit.New(ctx, dbPool, logger)
		if err != nil {
			comps.Shutdown()
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			comps.Shutdown()
			return nil, fmt.Errorf("failed to prepare audit schema: %w", err)
		}
		comps.Audit = store
		recorder = store
	}

	orch, err := orchestrator.New(cfg.Orchestrator, client, reg, comps.Tracker, recorder, logger)
	if err != nil {
		comps.Shutdown()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	comps.Orchestrator = orch

	comps.Uploads = upload.New(cfg.Upload, client, logger)

	return comps, nil
}
