// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/wagateway/internal/app"
	"github.com/unclebandit/wagateway/internal/config"
	"github.com/unclebandit/wagateway/internal/controller"
	"github.com/unclebandit/wagateway/internal/handler"
	"github.com/unclebandit/wagateway/internal/logger"
	"github.com/unclebandit/wagateway/internal/queue"
	"github.com/unclebandit/wagateway/internal/quota"
	"github.com/unclebandit/wagateway/internal/service"
)

func main() {
	cfg, dotenv, err := config.Load()
	log := logger.New(cfg.AppEnv)
	if !dotenv {
		log.Info().Msg("no .env file found, relying on OS environment variables")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// Due scheduled messages go to AMQP for cmd/worker when a broker is
	// configured; otherwise they are dispatched in this process, which then
	// also runs the quota reset job.
	var q queue.Queue
	if cfg.AMQPURL != "" {
		aq, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to AMQP")
		}
		defer aq.Close()
		q = aq
	} else {
		mq := queue.NewInMemoryQueue(log)
		if err := service.NewWorker(a.Dispatch, log).Start(mq); err != nil {
			log.Fatal().Err(err).Msg("start in-process worker")
		}
		defer mq.Wait()
		q = mq

		resets := &quota.ResetJob{Accounts: a.Accounts, Credentials: a.Credentials, Log: log}
		go resets.Run(ctx)
	}

	scheduler := &service.Scheduler{
		Messages: a.Messages,
		Queue:    q,
		Interval: cfg.SchedulerInterval,
		Batch:    cfg.SchedulerBatch,
		Lease:    cfg.SchedulerLease,
		Log:      log,
	}
	go scheduler.Start(ctx)

	limiter := controller.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Cleanup(ctx, 5*time.Minute, 10*time.Minute)

	messages := &controller.MessageController{
		Dispatch:     a.Dispatch,
		Campaigns:    a.Campaign,
		History:      a.History,
		DefaultDelay: cfg.DefaultPacingDelay,
		MaxDelay:     cfg.MaxPacingDelay,
		Log:          log.With().Str("component", "http").Logger(),
	}
	receipts := &handler.ReceiptHandler{Receipts: a.History, Log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Route("/messages", func(r chi.Router) {
			r.Use(controller.RequireAccount)
			messages.Routes(r)
		})
		r.Route("/v1/messages", func(r chi.Router) {
			r.Use(controller.CredentialAuth(a.Credentials, log, nil))
			messages.APIRoutes(r)
		})
		r.Post("/callbacks/receipts", receipts.HandleReceipt)
	})

	srv := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	log.Info().Str("addr", cfg.AppAddr).Str("quota_backend", cfg.QuotaBackend).Msg("server running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server stopped")
	}
}
