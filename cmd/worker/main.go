package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/wagateway/internal/app"
	"github.com/unclebandit/wagateway/internal/config"
	"github.com/unclebandit/wagateway/internal/logger"
	"github.com/unclebandit/wagateway/internal/queue"
	"github.com/unclebandit/wagateway/internal/quota"
	"github.com/unclebandit/wagateway/internal/service"
)

func main() {
	cfg, dotenv, err := config.Load()
	log := logger.New(cfg.AppEnv).With().Str("process", "worker").Logger()
	if !dotenv {
		log.Info().Msg("no .env file found, relying on OS environment variables")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.AMQPURL == "" {
		log.Fatal().Msg("AMQP_URL is required for the worker")
	}
	if cfg.QuotaBackend != config.QuotaBackendRedis {
		log.Warn().Msg("worker and server do not share quota holds without QUOTA_BACKEND=redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to AMQP")
	}
	defer q.Close()

	if err := service.NewWorker(a.Dispatch, log).Start(q); err != nil {
		log.Fatal().Err(err).Msg("subscribe to scheduled sends")
	}

	resets := &quota.ResetJob{Accounts: a.Accounts, Credentials: a.Credentials, Log: log}
	go resets.Run(ctx)

	log.Info().Msg("worker running, waiting for messages...")
	<-ctx.Done()
	log.Info().Msg("worker shutting down")
}
