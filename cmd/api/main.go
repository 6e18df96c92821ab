package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"mediaqueue/internal/adapter/repo"
	"mediaqueue/internal/gateway"
	"mediaqueue/internal/http/handlers"
	"mediaqueue/internal/http/httpapi"
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
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect database")
	}
	defer pool.Close()

	jobs := repo.NewJobRepository(pool)
	ledger := repo.NewCreditLedger(pool)

	apiToken := cfg.GatewayAPIToken
	if apiToken == "" {
		credStore := credentials.NewStore(pool)
		if token, err := credStore.Token(ctx, "gateway"); err != nil {
			logger.Warn().Err(err).Msg("api: failed to load gateway token from store")
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
		logger.Fatal().Err(err).Msg("api: failed to configure gateway")
	}

	callbackURL := ""
	if cfg.CallbackBaseURL != "" {
		callbackURL = strings.TrimRight(cfg.CallbackBaseURL, "/") + "/v1/webhooks/provider"
		logger.Info().Str("callback_url", callbackURL).Msg("api: webhook channel enabled")
	} else {
		logger.Info().Msg("api: no public callback url, submissions will poll the provider")
	}

	orch := orchestrator.New(orchestrator.Options{
		Jobs:         jobs,
		Ledger:       ledger,
		Gw:           gw,
		Logger:       logger,
		Costs:        cfg.Costs(),
		DefaultCost:  cfg.CreditCostDefault,
		CallbackURL:  callbackURL,
		PollInterval: cfg.PollInterval,
		PollMaxWait:  cfg.PollMaxWait,
		BaseContext:  ctx,
	})

	app := handlers.NewApp(orch, ledger, logger)
	app.DB = pool
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
