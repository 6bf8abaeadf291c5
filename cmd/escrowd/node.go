package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"tradesee/config"
	"tradesee/core"
	"tradesee/core/state"
	"tradesee/indexer"
	"tradesee/native/escrow"
	"tradesee/observability"
	"tradesee/observability/logging"
	"tradesee/rpc"
	"tradesee/rpc/middleware"
	"tradesee/storage"
)

// node owns every long-lived resource of the daemon.
type node struct {
	db        storage.Database
	index     *indexer.SQLiteStore
	processor *core.Processor
	server    *rpc.Server
	logger    *slog.Logger
}

func newNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mint, err := cfg.Mint()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.EnginePolicy()
	if err != nil {
		return nil, err
	}
	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		return nil, err
	}

	n := &node{logger: logger}
	n.db, err = openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	mgr := state.NewManager(n.db)
	applied, err := core.ApplyGenesis(mgr, allocs)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis allocations applied", slog.Int("count", len(allocs)))
	}

	engine := escrow.NewEngine(mint)
	engine.SetPolicy(policy)
	n.processor = core.NewProcessor(mgr, engine)
	n.processor.SetLogger(logger)
	n.processor.AddSink(observability.Events())
	hub := rpc.NewEventHub()
	n.processor.AddSink(hub)

	var lister rpc.EventLister
	if cfg.Indexer.Enabled {
		path := cfg.IndexerPath()
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				n.Close()
				return nil, err
			}
		}
		n.index, err = indexer.NewSQLiteStore(path)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("open event index: %w", err)
		}
		n.index.SetLogger(logger)
		n.processor.AddSink(n.index)
		lister = n.index
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limiter = middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"rpc": {RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute), Burst: cfg.RateLimit.Burst},
		}, logger)
	}

	n.server, err = rpc.NewServer(rpc.Config{
		Processor: n.processor,
		Events:    lister,
		Hub:       hub,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:        cfg.Auth.Enabled,
			HMACSecret:     cfg.AuthSecret(),
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			ScopeClaim:     cfg.Auth.ScopeClaim,
			AllowAnonymous: cfg.Auth.AllowAnonymous,
			ClockSkew:      cfg.ClockSkew(),
		}, logger),
		RateLimiter: limiter,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			LogRequests: true,
			Enabled:     true,
		}, logger),
		CORS:   middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger: logger,
	})
	if err != nil {
		n.Close()
		return nil, err
	}
	logger.Info("escrow node ready",
		slog.String("database", cfg.Database),
		slog.String("deposit_mint", cfg.DepositMint),
		slog.String("deposit_expiry", policy.DepositExpiry.String()),
		slog.Bool("indexer", cfg.Indexer.Enabled),
		slog.Bool("auth", cfg.Auth.Enabled),
		logging.MaskField("auth_secret", cfg.AuthSecret()))
	return n, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Database {
	case config.DatabaseMemory:
		return storage.NewMemDB(), nil
	case config.DatabaseLevelDB:
		db, err := storage.NewLevelDB(cfg.StoragePath())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	default:
		return nil, errors.New("unknown database backend " + cfg.Database)
	}
}

func (n *node) Close() {
	if n.index != nil {
		if err := n.index.Close(); err != nil {
			n.logger.Warn("close event index", slog.Any("error", err))
		}
	}
	if n.db != nil {
		n.db.Close()
	}
}
