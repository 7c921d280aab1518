// Package app wires configuration into stores, gateways, notifiers and
// services for the server and cronjob binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"carrental-backend/internal/cache"
	"carrental-backend/internal/config"
	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway/sandbox"
	stripegw "carrental-backend/internal/gateway/stripe"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/notification"
	"carrental-backend/internal/repository"
	"carrental-backend/internal/repository/memory"
	"carrental-backend/internal/repository/postgres"
	"carrental-backend/internal/service"
)

type App struct {
	Config *config.Config

	Store repository.Store
	// Sandbox is set when no Stripe key is configured.
	Sandbox *sandbox.Gateway
	// Dedup is nil when Redis is not configured or unreachable.
	Dedup *cache.WebhookDeduplicator

	Inventory service.InventoryService
	Rentals   service.RentalService
	Payments  service.PaymentService

	closers []func() error
}

// New opens every backing resource. Call Close when done, also on error
// paths after New succeeded.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	var gateway service.PaymentGateway
	if cfg.Stripe.SecretKey != "" {
		logger.Info("Using Stripe checkout gateway", "currency", cfg.Stripe.Currency)
		gateway = stripegw.New(stripegw.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			Currency:   cfg.Stripe.Currency,
			SessionTTL: cfg.StripeSessionTTL(),
		})
	} else {
		logger.Warn("No Stripe key configured, using the sandbox gateway")
		opts := []sandbox.Option{}
		if ttl := cfg.StripeSessionTTL(); ttl > 0 {
			opts = append(opts, sandbox.WithTTL(ttl))
		}
		a.Sandbox = sandbox.New(cfg.Server.BaseURL, opts...)
		gateway = a.Sandbox
	}

	notifier, err := a.openNotifier(store)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.openDedup(ctx)

	policy := service.RentalPolicy{MinDays: cfg.Rental.MinDays, MaxDays: cfg.Rental.MaxDays}
	a.Inventory = service.NewInventoryService(store)
	a.Rentals = service.NewRentalService(store, a.Inventory, service.NewRoleAccessChecker(),
		notifier, policy, service.SystemClock)
	a.Payments = service.NewPaymentService(store, a.Rentals, gateway, notifier, service.PaymentURLs{
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	}, service.SystemClock)

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	cfg := a.Config
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		store := memory.NewStore()
		seedDemoData(store)
		return store, nil
	}

	logger.Debug("Connecting to database...", "connection_string", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database))
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database schema is up to date")
	}
	return postgres.NewStore(db, postgres.WithLockTimeout(cfg.LockTimeout())), nil
}

func (a *App) openNotifier(store repository.Store) (service.Notifier, error) {
	cfg := a.Config
	sinks := []notification.Sink{notification.LogNotifier{}}

	if len(cfg.Kafka.Brokers) > 0 {
		k, err := notification.NewKafkaNotifier(notification.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, k.Close)
		sinks = append(sinks, k)
	}
	if cfg.SendGrid.APIKey != "" {
		sinks = append(sinks, notification.NewEmailNotifier(notification.EmailConfig{
			APIKey:    cfg.SendGrid.APIKey,
			FromEmail: cfg.SendGrid.FromEmail,
			FromName:  cfg.SendGrid.FromName,
		}, store.Users()))
	}
	return notification.NewFanout(sinks...), nil
}

func (a *App) openDedup(ctx context.Context) {
	cfg := a.Config
	if cfg.Redis.Addr == "" {
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx, client); err != nil {
		logger.Warn("Redis unreachable, webhook dedup disabled", "addr", cfg.Redis.Addr, "error", err)
		return
	}
	a.Dedup = cache.NewWebhookDeduplicator(client, cfg.WebhookDedupTTL())
}

// Close releases resources in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func seedDemoData(store *memory.Store) {
	store.AddUser(domain.User{ID: 1, Email: "customer@example.com", Name: "Demo Customer", Role: domain.UserRoleCustomer})
	store.AddUser(domain.User{ID: 2, Email: "manager@example.com", Name: "Demo Manager", Role: domain.UserRoleManager})
	store.AddCar(domain.Car{Brand: "Toyota", Model: "Corolla", Inventory: 3, DailyFee: decimal.NewFromInt(40)})
	store.AddCar(domain.Car{Brand: "Volkswagen", Model: "Golf", Inventory: 2, DailyFee: decimal.RequireFromString("55.50")})
	store.AddCar(domain.Car{Brand: "Tesla", Model: "Model 3", Inventory: 1, DailyFee: decimal.NewFromInt(95)})
}
