package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mediaqueue/internal/adapter/repo"
	"mediaqueue/internal/gateway"
	"mediaqueue/internal/infra"
	"mediaqueue/internal/infra/credentials"
	"mediaqueue/internal/orchestrator"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: db connection failed")
	}
	defer pool.Close()

	jobs := repo.NewJobRepository(pool)
	ledger := repo.NewCreditLedger(pool)

	apiToken := cfg.GatewayAPIToken
	if apiToken == "" {
		credStore := credentials.NewStore(pool)
		if token, err := credStore.Token(ctx, "gateway"); err != nil {
			logger.Warn().Err(err).Msg("sweeper: failed to load gateway token from store")
		} else {
			apiToken = token
		}
	}

	gw, err := gateway.NewQueueClient(gateway.QueueOptions{
		BaseURL:  cfg.GatewayBaseURL,
		APIToken: apiToken,
		Timeout:  cfg.GatewayTimeout,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to configure gateway")
	}

	orch := orchestrator.New(orchestrator.Options{
		Jobs:        jobs,
		Ledger:      ledger,
		Gw:          gw,
		Logger:      logger,
		Costs:       cfg.Costs(),
		DefaultCost: cfg.CreditCostDefault,
		BaseContext: ctx,
	})

	sweeper := orchestrator.NewSweeper(orch, logger, orchestrator.SweeperOptions{
		Period:     cfg.SweepPeriod,
		StaleAfter: cfg.SweepStaleAfter,
		FailAfter:  cfg.SweepFailAfter,
		BatchSize:  cfg.SweepBatchSize,
		Workers:    cfg.SweepWorkers,
		QPS:        cfg.SweepQPS,
	})

	if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("sweeper: stopped with error")
	}
	logger.Info().Msg("sweeper: stopped")
}
