// internal/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	router "paygate/internal/api"
	"paygate/internal/api/auth"
	"paygate/internal/api/handler"
	"paygate/internal/config"
	"paygate/internal/domain"
	"paygate/internal/notify"
	"paygate/internal/rail"
	"paygate/internal/repository"
	"paygate/internal/repository/memory"
	"paygate/internal/repository/postgres"
	"paygate/internal/review"
	"paygate/internal/service"
	"paygate/internal/util"
	"paygate/pkg/db"
)

// notifier is a Sink that owns background resources.
type notifier interface {
	notify.Sink
	Close()
}

// Application holds all the initialized components of the application.
type Application struct {
	Config *config.AppConfig
	Logger *slog.Logger
	DB     *sqlx.DB      // Set for the postgres and pgx drivers
	Memory *memory.Store // Set for the memory driver

	// Repositories
	UserRepository        repository.UserRepository
	TransactionRepository repository.TransactionRepository
	AuditRepository       repository.AuditRepository
	WhitelistRepository   repository.WhitelistRepository
	SettingsRepository    repository.SettingsRepository

	// Services
	LedgerService     *service.LedgerService
	SettingsService   *service.SettingsService
	ConversionService *service.ConversionService
	WhitelistService  *service.WhitelistService
	PaymentService    service.PaymentService

	Rails    *rail.Registry
	Notifier notify.Sink
	Sessions *review.Store
	Auth     *auth.Authenticator

	// HTTP API
	HTTPHandler http.Handler

	sink        notifier
	queueWorker *notify.QueueWorker
	stopJanitor context.CancelFunc
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration from the environment and initializes all application components.
func (app *Application) Initialize(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return app.InitializeWithConfig(ctx, cfg)
}

// InitializeWithConfig initializes all application components from cfg.
func (app *Application) InitializeWithConfig(ctx context.Context, cfg *config.AppConfig) error {
	app.Config = cfg

	// 1. Initialize Logger
	util.InitLogger(cfg.LogLevel)
	app.Logger = util.GetLogger()
	app.Logger.Info("Application configuration loaded successfully.", "db_driver", cfg.DB.Driver, "ledger_currency", cfg.LedgerCurrency)

	// 2. Connect to the store and initialize repositories
	var (
		dbExecutor repository.DBExecutor
		beginTx    db.BeginTxFunc
	)
	if cfg.DB.Driver == config.DriverMemory {
		app.Memory = memory.NewStore()
		dbExecutor, beginTx = app.Memory, app.Memory.Begin
		app.UserRepository = memory.NewUserRepository()
		app.TransactionRepository = memory.NewTransactionRepository()
		app.AuditRepository = memory.NewAuditRepository()
		app.WhitelistRepository = memory.NewWhitelistRepository()
		app.SettingsRepository = memory.NewSettingsRepository()
		app.Logger.Warn("Using the in-process memory store; data is lost on exit.")
	} else {
		database, err := db.NewPostgresDB(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.DB = database
		if err := postgres.Migrate(ctx, database); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		dbExecutor, beginTx = database, db.Beginner(database)
		app.UserRepository = postgres.NewUserRepository()
		app.TransactionRepository = postgres.NewTransactionRepository()
		app.AuditRepository = postgres.NewAuditRepository()
		app.WhitelistRepository = postgres.NewWhitelistRepository()
		app.SettingsRepository = postgres.NewSettingsRepository()
		app.Logger.Info("Database connection established.")
	}
	app.Logger.Info("Repositories initialized.")

	// 3. Notifications
	var deliverer notify.Deliverer = notify.LogDeliverer{}
	if cfg.Notify.TelegramToken != "" {
		deliverer = notify.NewTelegramDeliverer(cfg.Notify.TelegramToken, cfg.Notify.TelegramURL, &http.Client{Timeout: cfg.Notify.Timeout})
	}
	if cfg.Notify.RedisAddr != "" {
		app.sink = notify.NewQueueSink(cfg.Notify.RedisAddr, cfg.AdminIDs, cfg.Notify.MaxRetry)
		app.queueWorker = notify.NewQueueWorker(cfg.Notify.RedisAddr, deliverer, cfg.Notify.Workers)
		if err := app.queueWorker.Start(); err != nil {
			return fmt.Errorf("failed to start notification worker: %w", err)
		}
		app.Logger.Info("Notifications queued on Redis.", "addr", cfg.Notify.RedisAddr)
	} else {
		app.sink = notify.NewAsyncSink(deliverer, cfg.AdminIDs, cfg.Notify.Workers, cfg.Notify.QueueSize, cfg.Notify.Timeout)
	}
	app.Notifier = app.sink

	// 4. Initialize Services
	tx := service.NewTxRunner(beginTx, db.CommitTx, db.RollbackTx)
	defaults := service.DefaultSettings(cfg.LedgerCurrency)
	for k, v := range cfg.Settings {
		defaults[k] = v
	}
	app.LedgerService = service.NewLedgerService(dbExecutor, tx, app.UserRepository)
	app.SettingsService = service.NewSettingsService(dbExecutor, tx, app.SettingsRepository, app.AuditRepository, defaults)
	app.ConversionService = service.NewConversionService(app.SettingsService)
	app.WhitelistService = service.NewWhitelistService(dbExecutor, tx, app.UserRepository, app.WhitelistRepository, app.AuditRepository, app.sink, cfg.WhitelistRequiresApproval)

	app.Rails = rail.NewRegistry(cfg.RailTimeout)
	app.Rails.Register(domain.RailCashAgent, rail.NewManualAdapter(domain.RailCashAgent, app.SettingsService))
	app.Rails.Register(domain.RailWalletCash, rail.NewManualAdapter(domain.RailWalletCash, app.SettingsService))
	if cfg.CoinEx.Enabled() {
		app.Rails.Register(domain.RailExchange, rail.NewCoinExAdapter(rail.CoinExConfig{
			AccessID:   cfg.CoinEx.AccessID,
			SecretKey:  cfg.CoinEx.SecretKey,
			BaseURL:    cfg.CoinEx.BaseURL,
			HTTPClient: &http.Client{Timeout: cfg.RailTimeout},
		}))
	} else {
		app.Logger.Warn("CoinEx credentials missing; the exchange rail is disabled.")
	}

	app.PaymentService = service.NewPaymentService(
		dbExecutor,
		tx,
		app.UserRepository,
		app.TransactionRepository,
		app.AuditRepository,
		app.WhitelistRepository,
		app.SettingsService,
		app.ConversionService,
		app.Rails,
		app.sink,
		service.PaymentConfig{LedgerCurrency: cfg.LedgerCurrency},
	)
	app.Logger.Info("Services initialized.")

	// 5. Review sessions
	app.Sessions = review.NewStore(cfg.ReviewSessionTTL)
	janitorCtx, cancel := context.WithCancel(context.Background())
	app.stopJanitor = cancel
	go app.Sessions.RunJanitor(janitorCtx, time.Minute)

	// 6. Initialize HTTP Handlers and Router
	app.Auth = auth.NewAuthenticator(cfg.JWTSecret, cfg.AdminIDs)
	paymentHandler := handler.NewPaymentHandler(app.PaymentService, app.LedgerService, app.WhitelistService, cfg.LedgerCurrency, app.Logger)
	adminHandler := handler.NewAdminHandler(app.PaymentService, app.SettingsService, app.WhitelistService, app.Sessions, app.Logger)
	app.HTTPHandler = router.NewRouter(paymentHandler, adminHandler, app.Auth, app.Logger)
	app.Logger.Info("HTTP router and handlers initialized.")

	return nil
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("Shutting down application...")
	if app.stopJanitor != nil {
		app.stopJanitor()
	}
	if app.queueWorker != nil {
		app.queueWorker.Shutdown()
	}
	if app.sink != nil {
		app.sink.Close()
		app.Logger.Info("Notifier drained.")
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Error("Failed to close database connection", "error", err)
			return fmt.Errorf("failed to close database connection: %w", err)
		}
		app.Logger.Info("Database connection closed.")
	}
	app.Logger.Info("Application shut down gracefully.")
	return nil
}
