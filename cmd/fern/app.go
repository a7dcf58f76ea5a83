package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/store"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/interactions"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/timeline"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const (
	depPostgres = "postgres"
	depRedis    = "redis"
	depKafka    = "kafka"
	depGraph    = "graph"
)

// app owns configuration, logging and every external connection of one command
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup

	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer
	graph    *graph.Client

	shutdownTracing func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.PrettyLogs})
	if err != nil {
		return nil, err
	}

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Exporter:    cfg.Tracing.Exporter,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.Tracing.OTLPEndpoint,
			Protocol: cfg.Tracing.OTLPProtocol,
			Insecure: cfg.Tracing.OTLPInsecure,
		},
	}, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:             cfg,
		logger:          log,
		startup:         startup.NewStartup(log, cfg.App.StartupAttempts),
		shutdownTracing: shutdown,
	}, nil
}

// connect starts the named dependencies plus whatever they require.
// Optional dependencies that are disabled in config are skipped.
func (a *app) connect(ctx context.Context, deps ...string) error {
	for _, dep := range deps {
		switch dep {
		case depPostgres:
			a.startup.AddDependency(&startup.Dependency{
				Name:    depPostgres,
				StartFn: a.startPostgres,
				StopFn: func(context.Context) error {
					return a.db.Close()
				},
			})
		case depRedis:
			if !a.cfg.Redis.Enabled {
				continue
			}
			a.startup.AddDependency(&startup.Dependency{
				Name:    depRedis,
				StartFn: a.startRedis,
				StopFn: func(context.Context) error {
					return a.redis.Close()
				},
			})
		case depKafka:
			if !a.cfg.Kafka.Enabled() {
				continue
			}
			a.startup.AddDependency(&startup.Dependency{
				Name:    depKafka,
				StartFn: a.startKafka,
				StopFn: func(context.Context) error {
					return a.producer.Close()
				},
			})
		case depGraph:
			if !a.cfg.Graph.Enabled {
				continue
			}
			a.startup.AddDependency(&startup.Dependency{
				Name:    depGraph,
				StartFn: a.startGraph,
				StopFn: func(ctx context.Context) error {
					return a.graph.Close(ctx)
				},
			})
		default:
			return fmt.Errorf("unknown dependency %q", dep)
		}
	}
	return a.startup.Start(ctx)
}

func (a *app) startPostgres(ctx context.Context) error {
	db, err := database.Connect(ctx, database.Config{
		URL:             a.cfg.Postgres.URL,
		MaxOpenConns:    a.cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    a.cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Postgres.ConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db

	if a.cfg.Postgres.AutoMigrate {
		if err := a.migrate(); err != nil {
			_ = db.Close()
			return err
		}
	}
	return nil
}

func (a *app) migrate() error {
	return database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.Postgres.MigrationsPath,
	}).Migrate(a.db)
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:      a.cfg.Redis.Host,
		Port:      a.cfg.Redis.Port,
		Password:  a.cfg.Redis.Password,
		DB:        a.cfg.Redis.DB,
		KeyPrefix: "fern:lock:",
		LockTTL:   a.cfg.Redis.LockTTL,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	return nil
}

func (a *app) startKafka(ctx context.Context) error {
	if err := kafka.Ping(ctx, a.cfg.Kafka.Brokers); err != nil {
		return fmt.Errorf("failed to reach kafka: %w", err)
	}
	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.Kafka.Brokers,
		Topic:        a.cfg.Kafka.Topic,
		BatchSize:    a.cfg.Kafka.BatchSize,
		BatchTimeout: a.cfg.Kafka.BatchTimeout,
		RequiredAcks: a.cfg.Kafka.RequiredAcks,
		Compression:  a.cfg.Kafka.Compression,
	}, a.logger)
	return nil
}

func (a *app) startGraph(ctx context.Context) error {
	client, err := graph.NewClient(graph.Config{
		Host:     a.cfg.Graph.Host,
		Port:     a.cfg.Graph.Port,
		Username: a.cfg.Graph.Username,
		Password: a.cfg.Graph.Password,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return fmt.Errorf("failed to reach graph database: %w", err)
	}
	a.graph = client
	return nil
}

// close stops every started dependency and flushes spans
func (a *app) close(ctx context.Context) {
	if err := a.startup.Stop(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to stop dependencies cleanly")
	}
	if err := a.shutdownTracing(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to flush traces")
	}
}

func (a *app) store() *store.Store {
	return store.New(a.db, a.logger, a.cfg.Postgres.BatchSize)
}

// locker prefers Redis and falls back to a Postgres advisory lock
func (a *app) locker() pipeline.Locker {
	if a.redis != nil {
		return newRedisRunLocker(a.redis.Locker(), a.logger)
	}
	return newAdvisoryRunLocker(database.NewAdvisoryLocker(a.db, a.logger))
}

// publishers returns the optional downstream fan-out targets that are connected
func (a *app) publishers() []pipeline.Publisher {
	var out []pipeline.Publisher
	if a.producer != nil {
		out = append(out, events.NewEmitter(a.producer, events.DefaultBreakerConfig(), a.logger))
	}
	if a.graph != nil {
		out = append(out, graph.NewProjector(a.graph, a.logger))
	}
	return out
}

func (a *app) pipeline(st pipeline.Store, locker pipeline.Locker, publishers ...pipeline.Publisher) (*pipeline.Pipeline, error) {
	opts, err := pipelineOptions(a.cfg)
	if err != nil {
		return nil, err
	}
	mapping, err := timeline.LoadMapping(a.cfg.Pipeline.MappingPath)
	if err != nil {
		return nil, err
	}
	return pipeline.New(a.logger, st, locker, mapping, opts, publishers...), nil
}

func pipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	loc, err := cfg.Pipeline.Location()
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("invalid pipeline timezone: %w", err)
	}

	opts := pipeline.DefaultOptions()
	opts.LockName = cfg.Pipeline.LockName
	opts.Workers = cfg.Pipeline.Workers
	opts.Location = loc
	opts.LowNameThreshold = cfg.Pipeline.LowNameThreshold
	opts.NameLookupThreshold = cfg.Pipeline.NameLookupThreshold
	opts.Interactions = interactions.Options{
		CoPresenceWindow:  cfg.Pipeline.CoPresenceWindow,
		PurchaseLookback:  cfg.Pipeline.PurchaseLookback,
		LookbackDays:      cfg.Pipeline.LookbackDays,
		MembershipSizes:   cfg.Pipeline.MembershipSizes,
		MaxMemberIDGap:    cfg.Pipeline.MaxMemberIDGap,
		GuestEntryMethods: cfg.Pipeline.GuestEntryMethods,
		Workers:           cfg.Pipeline.Workers,
	}
	if opts.LockName == "" {
		return opts, errors.New("pipeline lock name is required")
	}
	return opts, nil
}
