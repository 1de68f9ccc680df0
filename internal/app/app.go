// Package app wires stores, the quota ledger, transport and services from a
// Config. Both the API server and the worker build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wagateway/internal/config"
	"github.com/unclebandit/wagateway/internal/db"
	"github.com/unclebandit/wagateway/internal/quota"
	"github.com/unclebandit/wagateway/internal/repository"
	"github.com/unclebandit/wagateway/internal/service"
	"github.com/unclebandit/wagateway/internal/transport"
	"github.com/unclebandit/wagateway/internal/webhook"
)

type App struct {
	Config config.Config
	Log    zerolog.Logger
	DB     *sql.DB
	Redis  *redis.Client

	Accounts    *repository.AccountRepository
	Credentials *repository.CredentialRepository
	Templates   *repository.CachedTemplateRepository
	Messages    *repository.MessageRepository

	Ledger   *quota.Ledger
	Notifier *webhook.Notifier
	Dispatch *service.DispatchService
	Campaign *service.CampaignService
	History  *service.HistoryService
}

func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, DB: database}

	a.Accounts = &repository.AccountRepository{DB: database}
	a.Credentials = &repository.CredentialRepository{DB: database}
	a.Messages = &repository.MessageRepository{DB: database}
	a.Templates = repository.NewCachedTemplateRepository(&repository.TemplateRepository{DB: database}, cfg.TemplateCacheTTL)

	backend, err := a.quotaBackend(ctx)
	if err != nil {
		database.Close()
		return nil, err
	}
	a.Ledger = quota.NewLedger(backend, quota.StoreLoader{Accounts: a.Accounts, Credentials: a.Credentials}, log)

	router := &transport.Router{
		API:      transport.WithMetrics(transport.NewAPIChannel(cfg.ProviderAPIURL, &http.Client{})),
		Personal: transport.WithMetrics(transport.NewPersonalChannel(cfg.PersonalBridgeURL, &http.Client{})),
		Timeout:  cfg.TransportTimeout,
		Log:      log.With().Str("component", "transport").Logger(),
	}
	a.Notifier = webhook.NewNotifier(&http.Client{}, cfg.WebhookTimeout, a.Messages, log)

	renderer := service.Renderer{ReplaceAll: cfg.TemplateReplaceAll}
	a.Dispatch = &service.DispatchService{
		Accounts:  a.Accounts,
		Templates: a.Templates,
		Messages:  a.Messages,
		Ledger:    a.Ledger,
		Transport: router,
		Notifier:  a.Notifier,
		Renderer:  renderer,
		Log:       log.With().Str("component", "dispatch").Logger(),
	}
	a.Campaign = &service.CampaignService{
		Accounts:  a.Accounts,
		Templates: a.Templates,
		Messages:  a.Messages,
		Ledger:    a.Ledger,
		Transport: router,
		Notifier:  a.Notifier,
		Renderer:  renderer,
		Log:       log.With().Str("component", "campaign").Logger(),
	}
	a.History = &service.HistoryService{Messages: a.Messages}
	return a, nil
}

func (a *App) quotaBackend(ctx context.Context) (quota.Backend, error) {
	if a.Config.QuotaBackend != config.QuotaBackendRedis {
		a.Log.Warn().Msg("in-process quota backend: run a single API instance")
		return quota.NewMemoryBackend(), nil
	}
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	a.Redis = redis.NewClient(opts)
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		a.Redis.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return quota.NewRedisBackend(a.Redis), nil
}

// Close waits for pending webhooks and releases connections.
func (a *App) Close() {
	a.Notifier.Wait()
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.DB.Close()
}
