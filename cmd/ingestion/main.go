package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"dogsense/ingestion/internal/config"
	"dogsense/ingestion/internal/notify"
	"dogsense/ingestion/internal/pipeline"
	"dogsense/ingestion/internal/registry"
	"dogsense/ingestion/internal/rules"
	"dogsense/ingestion/internal/store"
	adminhttp "dogsense/ingestion/internal/transport/http"
	"dogsense/ingestion/internal/transport/mqtt"
	"dogsense/ingestion/internal/transport/nats"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("ingestion service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()
	ruleSet, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	table, err := ruleSet.SeverityTable()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewTimescaleStore(ctx, cfg.DatabaseURL(), cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to timescaledb", slog.String("host", cfg.DBHost), slog.String("db", cfg.DBName))

	live, err := store.NewRedisStore(ctx, store.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return err
	}
	defer live.Close()
	logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr))

	notifiers := notify.Multi{notify.NewLogNotifier(logger), notify.NewRedisNotifier(live)}
	if kafka := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaAlertTopic); kafka != nil {
		defer kafka.Close()
		notifiers = append(notifiers, kafka)
		logger.Info("exporting alerts to kafka", slog.String("topic", cfg.KafkaAlertTopic))
	}

	lookups := registry.NewCache(db, cfg.RegistryCacheTTL)
	emitter := rules.NewEmitter(db, notifiers, logger)

	behavior, err := rules.NewBehaviorEvaluator(ruleSet.Behavior.Thresholds, emitter)
	if err != nil {
		return err
	}
	deps := pipeline.Deps{
		Registry:  lookups,
		Sink:      db,
		Emitter:   emitter,
		Severity:  table,
		Geofences: rules.NewGeofenceEvaluator(lookups, emitter),
		Behavior:  behavior,
		State:     live,
		Tracker:   db,
		Logger:    logger,
	}
	if ruleSet.VitalsEnabled() {
		if deps.Vitals, err = rules.NewVitalsEvaluator(ruleSet.Vitals.Ranges, table, emitter); err != nil {
			return err
		}
	}
	if n := ruleSet.AnomalyHistory(); n > 0 {
		deps.Anomaly = rules.NewAnomalyEvaluator(db, n, ruleSet.Anomaly.Threshold, emitter)
	}

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	service := pipeline.NewService(transport, pipeline.NewRouter(pipeline.NewHandlers(deps), logger), pipeline.ServiceConfig{
		Workers:        cfg.WorkerCount,
		QueueSize:      cfg.WorkerQueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout,
		HandlerTimeout: cfg.HandlerTimeout,
	}, logger)

	admin := adminhttp.NewServer(":"+cfg.AdminPort, adminhttp.NewRouter(adminhttp.AdminDeps{
		Service: service,
		Checks:  map[string]adminhttp.Pinger{"timescaledb": db, "redis": live},
		APIKeys: cfg.AdminAPIKeys,
		Logger:  logger,
	}))

	if err := service.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lookups.Run(gctx, cfg.RegistryCacheTTL)
		return nil
	})
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("port", cfg.AdminPort))
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		stopErr := service.Stop(shutdownCtx)
		return errors.Join(stopErr, admin.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func newTransport(cfg *config.Config, logger *slog.Logger) (pipeline.Transport, error) {
	switch cfg.Transport {
	case "mqtt":
		return mqtt.New(mqtt.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			QoS:       byte(cfg.MQTTQoS),
			Topics:    pipeline.Subscriptions,
		}, logger), nil
	case "nats":
		return nats.New(cfg.NATSURL, pipeline.Subscriptions, logger), nil
	}
	return nil, fmt.Errorf("unknown transport %q (want mqtt or nats)", cfg.Transport)
}
