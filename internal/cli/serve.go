package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/courriel-systems/messagerie/internal/broker"
	"github.com/courriel-systems/messagerie/internal/cache"
	"github.com/courriel-systems/messagerie/internal/command"
	"github.com/courriel-systems/messagerie/internal/config"
	"github.com/courriel-systems/messagerie/internal/handlers"
	"github.com/courriel-systems/messagerie/internal/logging"
	"github.com/courriel-systems/messagerie/internal/pki"
	"github.com/courriel-systems/messagerie/internal/pump"
	"github.com/courriel-systems/messagerie/internal/query"
	"github.com/courriel-systems/messagerie/internal/server"
	"github.com/courriel-systems/messagerie/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the message pump and the read API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("messagerie"))
	logging.SetDefault(logger)

	logger.Info("starting messagerie",
		logging.Node(cfg.NodeID),
		logging.Port(cfg.Server.Port),
	)

	// Trust material is load-bearing: without a valid CA, node cert and
	// key there is nothing to verify against, so refuse to start.
	bundle, err := pki.Load(cfg.PKI.CAFile, cfg.PKI.CertFile, cfg.PKI.KeyFile)
	if err != nil {
		return fmt.Errorf("load pki bundle: %w", err)
	}
	logger.Info("pki bundle loaded")

	connString := cfg.Store.ConnString()

	logger.Info("running database migrations")
	m, err := migrate.New("file://"+cfg.Store.MigrationsPath, connString)
	if err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	st, err := store.NewPostgresStore(ctx, connString)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer st.Close()

	var c cache.Cache = cache.NoOpCache{}
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Cache.URL, cfg.Cache.MaxStaleness)
		if err != nil {
			logger.Warn("cache unavailable, reads fall through to the store", logging.Error(err))
		} else {
			c = redisCache
			defer redisCache.Close()
		}
	}

	brokerCfg := broker.DefaultConfig()
	brokerCfg.URL = cfg.Broker.URL
	brokerCfg.Name = cfg.NodeID
	brokerCfg.TLS = bundle.TLSConfig()
	js, err := broker.NewJetStreamClient(brokerCfg)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer js.Close()

	consumer, err := broker.NewConsumer(ctx,
		js, broker.DefaultConsumerConfig(cfg.Broker.ConsumerName, broker.SubjectTransactions))
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	publisher, err := broker.NewPublisher(ctx, js)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	dlq, err := broker.NewDeadLetterQueue(ctx, js)
	if err != nil {
		return fmt.Errorf("create dead letter queue: %w", err)
	}

	cmdLogger := logging.New(
		logging.ParseLevel(cfg.Logging.ComponentLevel("commandes")), cfg.Logging.Format)
	commandHandler := command.NewHandler(bundle, cmdLogger)

	pumpLogger := logging.New(
		logging.ParseLevel(cfg.Logging.ComponentLevel("pompe_messages")), cfg.Logging.Format)
	msgPump := pump.New(st, commandHandler, publisher, dlq, pump.Options{
		Workers:          cfg.Pump.Workers,
		MaxApplyAttempts: cfg.Pump.MaxApplyAttempts,
		RetryBase:        cfg.Pump.RetryBase,
		RetryMax:         cfg.Pump.RetryMax,
	}, pumpLogger)

	queryLogger := logging.New(
		logging.ParseLevel(cfg.Logging.ComponentLevel("requetes")), cfg.Logging.Format)
	queries := query.NewService(st, c, cfg.Cache.TTL, queryLogger)
	msgPump.SetInvalidator(queries)

	handler := handlers.NewHandler(queries, st, c, dlq, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- msgPump.Run(runCtx, consumer)
	}()

	go func() {
		logger.Info("read API listening", logging.Port(cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", logging.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-runCtx.Done():
	}

	logger.Info("shutting down")

	// Stop the pump first so in-flight messages finish and ack before
	// the broker connection drains.
	cancel()
	<-pumpDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shut down", logging.Error(err))
	}

	if err := js.Drain(); err != nil {
		logger.Warn("broker drain failed", logging.Error(err))
	}

	logger.Info("stopped")
	return nil
}
