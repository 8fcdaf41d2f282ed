package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckmesh/querypilot/internal/agent"
	"github.com/duckmesh/querypilot/internal/api"
	"github.com/duckmesh/querypilot/internal/auth"
	"github.com/duckmesh/querypilot/internal/config"
	"github.com/duckmesh/querypilot/internal/executor"
	"github.com/duckmesh/querypilot/internal/export"
	"github.com/duckmesh/querypilot/internal/history"
	historypostgres "github.com/duckmesh/querypilot/internal/history/postgres"
	"github.com/duckmesh/querypilot/internal/llm"
	"github.com/duckmesh/querypilot/internal/migrations"
	"github.com/duckmesh/querypilot/internal/observability"
	"github.com/duckmesh/querypilot/internal/schema"
	"github.com/duckmesh/querypilot/internal/schema/introspect"
	s3store "github.com/duckmesh/querypilot/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	connections := make([]executor.ConnectionConfig, 0, len(cfg.Connections))
	for _, item := range cfg.Connections {
		connections = append(connections, executor.ConnectionConfig{ID: item.ID, Dialect: item.Dialect, DSN: item.DSN})
	}
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	registry, err := executor.Open(openCtx, connections, executor.PoolConfig{
		MaxOpenConns:    cfg.ConnectionPool.MaxOpenConns,
		MaxIdleConns:    cfg.ConnectionPool.MaxIdleConns,
		ConnMaxIdleTime: cfg.ConnectionPool.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnectionPool.ConnMaxLifetime,
	})
	cancelOpen()
	if err != nil {
		logger.Error("failed to open target databases", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = registry.Close() }()
	schemas := schema.NewCache(introspect.NewLoader(registry), cfg.Agent.SchemaCacheTTL)

	readiness := []api.ReadinessCheck{
		registry.Ping,
		api.CheckHistoryDSN(cfg),
		api.CheckObjectStoreConfig(cfg),
	}

	var historyStore history.Store
	if cfg.History.Enabled {
		historyDB, err := historypostgres.Open(context.Background(), cfg.History)
		if err != nil {
			logger.Error("failed to open history db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func(db *sql.DB) { _ = db.Close() }(historyDB)
		repository := historypostgres.NewRepository(historyDB)
		historyStore = repository
		readiness = append(readiness, repository.HealthCheck, api.CheckMigrations(func(ctx context.Context) ([]int64, error) {
			return migrations.NewRunner().Pending(ctx, historyDB)
		}))
	} else {
		historyStore = history.NewMemory()
	}

	var archiver *export.Archiver
	if cfg.Export.Enabled {
		objectStore, err := s3store.New(context.Background(), cfg.ObjectStore)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver, err = export.NewArchiver(objectStore, logger)
		if err != nil {
			logger.Error("failed to initialize result archiver", slog.Any("error", err))
			os.Exit(1)
		}
	}

	model, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL:   cfg.AI.BaseURL,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
		Timeout:   cfg.AI.Timeout,
		Referer:   cfg.AI.Referer,
		Title:     cfg.AI.Title,
	})
	if err != nil {
		logger.Error("failed to initialize model client", slog.Any("error", err))
		os.Exit(1)
	}

	agentDeps := agent.Dependencies{
		LLM:      model,
		Tools:    model,
		Executor: registry,
		Schemas:  schemas,
		History:  historyStore,
		Logger:   logger,
	}
	if archiver != nil {
		agentDeps.Archiver = archiver
	}
	agentOpts := agent.Options{
		MaxAttempts:     cfg.Agent.MaxAttempts,
		MaxIterations:   cfg.Agent.MaxIterations,
		RowLimit:        cfg.Agent.RowLimit,
		HistoryMessages: cfg.Agent.HistoryMessages,
		HistoryChars:    cfg.Agent.HistoryChars,
	}
	pipeline, err := agent.NewPipeline(agentDeps, agentOpts)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	toolLoop, err := agent.NewToolLoop(agentDeps, agentOpts)
	if err != nil {
		logger.Error("failed to initialize tool loop", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger: logger,
		Agent: agent.Router{
			Default: cfg.Agent.Strategy,
			Runners: map[string]agent.Runner{
				agent.StrategyPipeline: pipeline,
				agent.StrategyToolLoop: toolLoop,
			},
		},
		Connections:       registry,
		Schemas:           schemas,
		History:           historyStore,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
	}
	if archiver != nil {
		deps.Archive = archiver
	}
	if cfg.Auth.Required {
		validator, err := newValidator(cfg.Auth, logger)
		if err != nil {
			logger.Error("failed to initialize authentication", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.Int("connections", len(connections)),
			slog.String("strategy", cfg.Agent.Strategy),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// newValidator accepts static API keys and, when a secret is configured, HS256 bearer tokens.
func newValidator(cfg config.AuthConfig, logger *slog.Logger) (auth.Validator, error) {
	var validators auth.Chain
	if cfg.StaticKeys != "" {
		static, err := auth.NewStaticAPIKeyValidator(cfg.StaticKeys)
		if err != nil {
			return nil, err
		}
		validators = append(validators, static)
	}
	if cfg.JWTSecret != "" {
		tokens, err := auth.NewJWTValidator(auth.JWTConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}, logger)
		if err != nil {
			return nil, err
		}
		validators = append(validators, tokens)
	}
	if len(validators) == 0 {
		return nil, errors.New("auth is required but neither static keys nor a jwt secret is configured")
	}
	return validators, nil
}
