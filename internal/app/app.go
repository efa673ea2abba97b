package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"storefront/internal/audit"
	"storefront/internal/bot"
	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/delivery"
	"storefront/internal/gateway"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/purchase"
	"storefront/internal/relay"
	"storefront/internal/relay/mtproto"
	"storefront/internal/storage"
	"storefront/internal/storage/ch"
	"storefront/internal/storage/memory"
	"storefront/internal/storage/redisstore"
)

const (
	auditMemoryLimit = 500
	shutdownTimeout  = 10 * time.Second
)

// App represents the application
type App struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store    storage.Storage
	auditLog storage.AuditLog

	api     *tgbotapi.BotAPI
	bot     *bot.Bot
	relay   *mtproto.Client
	session *relay.Session
	server  *http.Server
}

// New creates and initializes a new application instance
func New(ctx context.Context) (*App, error) {
	// Load .env file if it exists
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	a := &App{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	logger.Info("Starting storefront bot",
		zap.String("store", cfg.StoreBackend),
		zap.Bool("webhook_mode", cfg.WebhookMode),
		zap.Bool("relay", cfg.RelayEnabled),
	)

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.initBot(); err != nil {
		a.closeStorage()
		return nil, err
	}
	a.initHTTPServer()

	return a, nil
}

// initStorage opens the transaction store and the audit log
func (a *App) initStorage(ctx context.Context) error {
	switch a.config.StoreBackend {
	case config.StoreRedis:
		a.logger.Info("Connecting to Redis", zap.String("addr", a.config.RedisAddr), zap.Int("db", a.config.RedisDB))
		store, err := redisstore.Connect(ctx, a.config.RedisAddr, a.config.RedisPassword, a.config.RedisDB,
			a.config.TransactionTTL, a.logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.store = store
	default:
		a.logger.Info("Using in-memory transaction store")
		a.store = memory.New(memory.WithTTL(a.config.TransactionTTL))
	}

	if !a.config.AuditClickHouse {
		a.auditLog = memory.NewAuditLog(auditMemoryLimit)
		return nil
	}

	tlsStatus := "without TLS"
	if a.config.ClickHouseUseTLS {
		tlsStatus = "with TLS"
	}
	a.logger.Info("Connecting to ClickHouse audit log",
		zap.String("host", a.config.ClickHouseHost),
		zap.Int("port", a.config.ClickHousePort),
		zap.String("database", a.config.ClickHouseDatabase),
		zap.String("tls", tlsStatus),
	)
	auditLog, err := ch.NewAuditLog(
		a.config.ClickHouseHost,
		a.config.ClickHousePort,
		a.config.ClickHouseDatabase,
		a.config.ClickHouseUser,
		a.config.ClickHousePassword,
		a.config.ClickHouseUseTLS,
	)
	if err != nil {
		a.store.Close()
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	a.auditLog = auditLog
	return nil
}

// initBot wires the purchase flow and the optional relay into the Telegram bot
func (a *App) initBot() error {
	api, err := bot.NewAPI(a.config.TelegramToken, a.logger)
	if err != nil {
		return err
	}
	a.api = api

	cat := catalog.Default()
	out := bot.NewMessenger(api, a.logger.Named("messenger"))
	reporter := audit.NewReporter(a.auditLog, out, a.config.AdminChatID, a.logger.Named("audit"))

	resolver := delivery.NewResolver(delivery.Config{
		Dir:            a.config.DeliverablesDir,
		SupportContact: a.config.SupportContact,
	}, cat, out, a.store, reporter, a.metrics, a.logger.Named("delivery"))

	gw := gateway.NewClient(gateway.Options{
		BaseURL:      a.config.ExnodeBaseURL,
		PublicKey:    a.config.ExnodePublicKey,
		PrivateKey:   a.config.ExnodePrivateKey,
		MerchantUUID: a.config.MerchantUUID,
	}, a.logger.Named("gateway"))

	orchestrator := purchase.New(cat, gw, a.store, resolver, reporter, a.metrics,
		a.config.ExnodeCallbackURL, a.logger.Named("purchase"))

	deps := bot.Deps{
		Catalog:      cat,
		Purchases:    orchestrator,
		Usage:        a.store,
		Entitlements: a.store,
		AuditLog:     a.auditLog,
	}

	if a.config.RelayEnabled {
		a.relay = mtproto.New(mtproto.Config{
			AppID:       a.config.TelegramAPIID,
			AppHash:     a.config.TelegramAPIHash,
			SessionFile: a.config.RelaySessionFile,
			Peer:        a.config.RelayPeer,
		}, a.logger.Named("relay"))
		a.session = relay.NewSession(a.relay, clock.RealClock{}, relay.Config{
			Command: a.config.RelayCommand,
		}, a.metrics, a.logger.Named("relay"))
		a.session.SetReady(false)
		deps.Relay = a.session
	}

	opts := bot.Options{
		AdminUserIDs:   a.config.AdminUserIDs,
		SupportContact: a.config.SupportContact,
		FreeLookups:    a.config.FreeLookups,
	}
	if a.config.WebhookSignatureChk {
		opts.WebhookSecret = a.config.ExnodePrivateKey
	}

	a.bot = bot.NewBot(api, out, deps, opts, a.logger.Named("bot"))
	a.logger.Info("Bot created", zap.Int64s("admins", a.config.AdminUserIDs))
	return nil
}

// initHTTPServer initializes the HTTP server for health checks, metrics and webhooks
func (a *App) initHTTPServer() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		mode := "polling"
		if a.config.WebhookMode {
			mode = "webhook"
		}
		fmt.Fprintf(w, "Storefront bot is running (mode: %s)", mode)
	})
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return a.metrics.Instrument("webhook", next)
		})
		bot.NewHTTPServer(a.bot).RegisterRoutes(r)
	})

	a.server = &http.Server{
		Addr:         ":" + strconv.Itoa(a.config.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Run starts the application and blocks until ctx is done or a component fails
func (a *App) Run(ctx context.Context) error {
	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			return errors.Join(fmt.Errorf("failed to setup webhook: %w", err), a.Shutdown())
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.relay != nil {
		// the purchase flow keeps running when the relay session fails
		g.Go(func() error {
			err := a.relay.Run(ctx, func(ctx context.Context) error {
				a.session.SetReady(true)
				defer a.session.SetReady(false)
				a.logger.Info("Relay session connected", zap.String("peer", a.config.RelayPeer))
				<-ctx.Done()
				return nil
			})
			if err != nil && ctx.Err() == nil {
				a.logger.Error("Relay session stopped, lookups are unavailable", zap.Error(err))
			}
			return nil
		})
	}

	if !a.config.WebhookMode {
		g.Go(func() error {
			return a.bot.Start(ctx)
		})
	}

	err := g.Wait()
	return errors.Join(err, a.Shutdown())
}

// Shutdown releases storage connections
func (a *App) Shutdown() error {
	err := a.closeStorage()
	if err != nil {
		a.logger.Error("Error closing storage", zap.Error(err))
	} else {
		a.logger.Info("Shutdown complete")
	}
	a.logger.Sync()
	return err
}

func (a *App) closeStorage() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.auditLog != nil {
		errs = append(errs, a.auditLog.Close())
	}
	return errors.Join(errs...)
}
