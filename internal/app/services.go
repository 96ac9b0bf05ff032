package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	auditlog "github.com/odyssey-erp/stockledger/internal/audit"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/integration"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/reconciliation"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ServiceDeps are the shared resources the domain services are built from.
type ServiceDeps struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Retry   integration.RetryEnqueuer
}

// Services bundles the domain services shared by the API and the worker.
type Services struct {
	Inventory      *inventory.Service
	Ledger         *ledger.Service
	Reconciliation *reconciliation.Service
	Audit          *auditlog.Service
}

// NewServices wires repositories, cache and integration hooks.
func NewServices(deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := shared.NewAuditLogger(deps.Pool)
	materials := catalog.NewRepository(deps.Pool)

	var cache *ledger.Cache
	if deps.Redis != nil {
		ttl := defaultStatsTTL
		if deps.Config != nil && deps.Config.StatsCacheTTL > 0 {
			ttl = deps.Config.StatsCacheTTL
		}
		cache = ledger.NewCache(deps.Redis, ttl)
	}

	inventoryRepo := inventory.NewRepository(deps.Pool)
	ledgerService := ledger.NewService(ledger.NewRepository(deps.Pool), inventoryRepo, materials, cache, audit, logger).
		WithMetrics(deps.Metrics)
	hooks := integration.NewHooks(ledgerService, deps.Retry, logger)
	inventoryService := inventory.NewService(inventoryRepo, materials, audit, hooks, logger).
		WithMetrics(deps.Metrics)
	reconciliationService := reconciliation.NewService(reconciliation.NewRepository(deps.Pool), inventoryService, ledgerService, audit, logger)

	return &Services{
		Inventory:      inventoryService,
		Ledger:         ledgerService,
		Reconciliation: reconciliationService,
		Audit:          auditlog.NewService(auditlog.NewRepository(deps.Pool)),
	}
}
