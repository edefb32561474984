// cmd/enrollment-sync/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"enrollment-sync/internal/common/auth"
	awsclient "enrollment-sync/internal/common/aws"
	"enrollment-sync/internal/common/camunda"
	"enrollment-sync/internal/common/config"
	"enrollment-sync/internal/common/database"
	"enrollment-sync/internal/common/logger"
	"enrollment-sync/internal/common/observability"
	"enrollment-sync/internal/common/zoho"
	autosavesynchronizer "enrollment-sync/internal/engine/autosave-synchronizer"
	eventbus "enrollment-sync/internal/engine/event-bus"
	identitymanager "enrollment-sync/internal/engine/identity-manager"
	localstore "enrollment-sync/internal/engine/local-store"
	sessioncoordinator "enrollment-sync/internal/engine/session-coordinator"
	stepcontroller "enrollment-sync/internal/engine/step-controller"
	submissionnotifier "enrollment-sync/internal/engine/submission-notifier"
	validationengine "enrollment-sync/internal/engine/validation-engine"
	"enrollment-sync/internal/engine/workspace"
	"enrollment-sync/internal/gateway"
	httpgateway "enrollment-sync/internal/gateway/http-gateway"
	postgresgateway "enrollment-sync/internal/gateway/postgres-gateway"
	sessionapi "enrollment-sync/internal/session-api"
)

func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting enrollment sync",
		zap.String("version", cfg.App.Version),
		zap.String("store", cfg.Store.Driver),
		zap.String("gateway", cfg.Gateway.Mode),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()
	var closers []func() error

	store, closeStore := openStore(ctx, cfg, zapLog)
	closers = append(closers, closeStore)

	authenticator, accounts := newAuth(cfg, log)

	gw, closeGateway := openGateway(ctx, cfg, authenticator, obs, zapLog, log)
	if closeGateway != nil {
		closers = append(closers, closeGateway)
	}

	notifier, closeNotifier := newNotifier(ctx, cfg, zapLog, log)
	if closeNotifier != nil {
		closers = append(closers, closeNotifier)
	}

	bus := eventbus.New(log)
	ids := identitymanager.New(gw, store, log)
	coord := sessioncoordinator.New(sessioncoordinator.Deps{
		Auth:     authenticator,
		Gateway:  gw,
		Identity: ids,
		Autosave: autosavesynchronizer.New(gw, ids, authenticator, bus, log, autosavesynchronizer.Config{
			QuietPeriod:  config.GetDuration(cfg.Wizard.AutosaveQuietPeriod),
			SavedDisplay: config.GetDuration(cfg.Wizard.SavedDisplay),
			SaveTimeout:  config.GetDuration(cfg.Gateway.Timeout),
		}),
		Steps:            stepcontroller.New(store, bus, log, cfg.Wizard.TotalSteps),
		Workspace:        workspace.New(store, bus, log),
		Validator:        validationengine.New(),
		Notifier:         notifier,
		Bus:              bus,
		Logger:           log,
		OperationTimeout: config.GetDuration(cfg.Gateway.Timeout),
	})
	if err := coord.Start(ctx); err != nil {
		zapLog.Warn("session start incomplete", zap.Error(err))
	}

	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        "ready",
			"authenticated": authenticator.IsAuthenticated(),
			"saving":        coord.Snapshot().Saving,
			"time":          time.Now().Format(time.RFC3339),
		})
	})
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.Handler())
	}
	sessionapi.New(coord, accounts, log).Register(router)

	server := &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("addr", cfg.App.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, flushing session...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping HTTP server", zap.Error(err))
	}
	if authenticator.IsAuthenticated() {
		if err := coord.Flush(shutdownCtx); err != nil {
			zapLog.Warn("Pending edits were not saved", zap.Error(err))
		}
	}
	coord.Close()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			zapLog.Error("Error closing resource", zap.Error(err))
		}
	}
	zapLog.Info("Enrollment sync stopped gracefully")
}

// openStore opens the durable local store selected by store.driver.
func openStore(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (localstore.Store, func() error) {
	switch cfg.Store.Driver {
	case "memory":
		store := localstore.NewMemoryStore()
		return store, store.Close

	case "redis":
		redis := database.NewRedis(cfg.Database.Redis)
		err := retryWithBackoff(func() error {
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		zapLog.Info("Redis store connected successfully")
		return localstore.NewRedisStore(redis.Client, cfg.Store.Namespace, config.GetDuration(cfg.Store.RedisTTL)), redis.Close

	default:
		sqlite, err := database.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			zapLog.Fatal("sqlite open failed", zap.Error(err))
		}
		store, err := localstore.NewSQLiteStore(ctx, sqlite.DB, cfg.Store.Namespace)
		if err != nil {
			zapLog.Fatal("sqlite store init failed", zap.Error(err))
		}
		zapLog.Info("SQLite store opened", zap.String("path", cfg.Store.SQLitePath))
		return store, sqlite.Close
	}
}

// newAuth picks Keycloak when a realm URL is configured and the embedded
// authenticator otherwise.
func newAuth(cfg *config.Config, log logger.Logger) (auth.Authenticator, sessionapi.Accounts) {
	if cfg.Auth.Keycloak.URL != "" {
		kc := auth.NewKeycloakAuthenticator(auth.KeycloakConfig{
			BaseURL:      cfg.Auth.Keycloak.URL,
			Realm:        cfg.Auth.Keycloak.Realm,
			ClientID:     cfg.Auth.Keycloak.ClientID,
			ClientSecret: cfg.Auth.Keycloak.ClientSecret,
			Timeout:      config.GetDuration(cfg.Auth.Keycloak.Timeout),
		}, log)
		return kc, keycloakAccounts{kc: kc}
	}
	local := auth.NewLocalAuthenticator()
	return local, embeddedAccounts{local: local}
}

// openGateway builds the remote gateway selected by gateway.mode.
func openGateway(ctx context.Context, cfg *config.Config, authenticator auth.Authenticator, obs *observability.Observability, zapLog *zap.Logger, log logger.Logger) (gateway.Gateway, func() error) {
	if cfg.Gateway.Mode != "postgres" {
		return httpgateway.New(httpgateway.Config{
			BaseURL: cfg.Gateway.BaseURL,
			Timeout: config.GetDuration(cfg.Gateway.Timeout),
		}, authenticator, obs, log), nil
	}

	var pg *database.PostgresClient
	err := retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	zapLog.Info("PostgreSQL connected successfully")

	gw := postgresgateway.New(pg.DB, authenticator, obs, log)
	if err := gw.Migrate(ctx); err != nil {
		zapLog.Fatal("postgres migration failed", zap.Error(err))
	}
	return gw, pg.Close
}

// newNotifier wires the enabled submission channels. It returns a nil Notifier
// when every channel is disabled.
func newNotifier(ctx context.Context, cfg *config.Config, zapLog *zap.Logger, log logger.Logger) (sessioncoordinator.Notifier, func() error) {
	var (
		email     submissionnotifier.EmailSender
		sms       submissionnotifier.SMSSender
		publisher submissionnotifier.MessagePublisher
		closer    func() error
	)

	if cfg.Notifications.Email.Enabled {
		ses, err := awsclient.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		email = ses
	}
	if cfg.Notifications.SMS.Enabled {
		sns, err := awsclient.NewSNSClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.SMS.SenderID)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		sms = sns
	}
	if cfg.Camunda.Enabled {
		var zeebe *camunda.Client
		err := retryWithBackoff(func() error {
			var err error
			zeebe, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
				GatewayAddress:         cfg.Camunda.BrokerAddress,
				UsePlaintextConnection: true,
				RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
			})
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		zapLog.Info("Zeebe client connected successfully")
		publisher = zeebe
		closer = zeebe.Close
	}

	crmCfg := cfg.Notifications.CRM
	if email == nil && sms == nil && publisher == nil && !crmCfg.Enabled {
		return nil, nil
	}
	n := submissionnotifier.New(email, sms, publisher, submissionnotifier.Config{
		MessageName: cfg.Camunda.MessageName,
		MessageTTL:  config.GetDuration(cfg.Camunda.MessageTTL),
		Timeout:     config.GetDuration(cfg.Camunda.RequestTimeout),
	}, log)
	if crmCfg.Enabled {
		n.WithCRM(zoho.NewCRMClient(crmCfg.BaseURL, crmCfg.OAuthToken, config.GetDuration(crmCfg.Timeout)))
	}
	return n, closer
}
