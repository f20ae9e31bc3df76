package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/kestrelsec/kestrel-correlate/internal/behavioral"
	"github.com/kestrelsec/kestrel-correlate/internal/config"
	"github.com/kestrelsec/kestrel-correlate/internal/dedup"
	"github.com/kestrelsec/kestrel-correlate/internal/emit"
	"github.com/kestrelsec/kestrel-correlate/internal/enrichment"
	"github.com/kestrelsec/kestrel-correlate/internal/graph"
	"github.com/kestrelsec/kestrel-correlate/internal/intake"
	"github.com/kestrelsec/kestrel-correlate/internal/logging"
	"github.com/kestrelsec/kestrel-correlate/internal/metrics"
	"github.com/kestrelsec/kestrel-correlate/internal/oracle"
	"github.com/kestrelsec/kestrel-correlate/internal/orchestrator"
	"github.com/kestrelsec/kestrel-correlate/internal/rules"
	"github.com/kestrelsec/kestrel-correlate/internal/scheduler"
	"github.com/kestrelsec/kestrel-correlate/internal/server"
	"github.com/kestrelsec/kestrel-correlate/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	migrationsPath := flag.String("migrations", "file://migrations", "migrations source URL")
	printConfig := flag.Bool("print-config", false, "print effective config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(out)
		return
	}

	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(log)
	log.Info("starting correlate service")

	ctx := context.Background()

	// Persistence is optional: without it the service runs fully
	// in-memory and rebuilds state from the live stream.
	var repo storage.Repository
	var persister *storage.Persister
	if cfg.Database.Enabled {
		connString := cfg.Database.Postgres.ConnString()

		log.Info("running database migrations")
		m, err := migrate.New(*migrationsPath, connString)
		if err != nil {
			log.Error("failed to initialize migrations", "error", err)
			os.Exit(1)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		pg, err := storage.NewPostgresRepository(ctx, connString)
		if err != nil {
			log.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		repo = pg
		persister = storage.NewPersister(repo, cfg.Pipeline.QueueSize, log)
	}

	// State stores and engines.
	baselines := behavioral.NewStore(cfg.Behavioral.InitialConfidence)
	behavioralEngine := behavioral.NewEngine(baselines, cfg.Behavioral, log)

	graphStore := graph.NewStore()
	graphEngine := graph.NewEngine(graphStore, cfg.Graph, log)

	registry := rules.NewRegistry()

	if repo != nil {
		restoreState(ctx, repo, baselines, graphStore, registry, log)
	}

	if cfg.Rules.CatalogPath != "" {
		n, err := rules.LoadCatalog(cfg.Rules.CatalogPath, registry)
		if err != nil {
			log.Error("failed to load rule catalog", "error", err, "path", cfg.Rules.CatalogPath)
			os.Exit(1)
		}
		log.Info("loaded rule catalog", "path", cfg.Rules.CatalogPath, "rules", n)
	}
	metrics.BaselinesTracked.Set(float64(baselines.Len()))
	metrics.GraphEdges.Set(float64(graphStore.EdgeCount()))

	// Collaborators.
	var ruleOracle oracle.RuleOracle
	if cfg.Oracle.URL != "" {
		ruleOracle = oracle.NewHTTPOracle(cfg.Oracle.URL, cfg.Oracle.Timeout)
		log.Info("using HTTP rule oracle", "url", cfg.Oracle.URL)
	} else {
		ruleOracle = oracle.NewHeuristicOracle()
		log.Info("using heuristic rule oracle")
	}

	var enricher enrichment.Enricher = enrichment.Noop{}
	if cfg.Enrichment.URL != "" {
		enricher = enrichment.NewHTTPClient(cfg.Enrichment.URL, cfg.Enrichment.Timeout)
		log.Info("using HTTP enrichment", "url", cfg.Enrichment.URL)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	}
	dedupCache := dedup.NewCache(redisClient, cfg.Redis.Enabled, cfg.Graph.Retention)

	// NATS connection serves both intake and emission.
	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Error("failed to connect to NATS", "error", err, "url", cfg.NATS.URL)
			os.Exit(1)
		}
		defer natsConn.Close()
		log.Info("connected to NATS", "url", cfg.NATS.URL)
	}

	emitOpts := []emit.Option{}
	if natsConn != nil {
		emitOpts = append(emitOpts, emit.WithNATS(natsConn, cfg.NATS.VerdictSubject, cfg.NATS.RecSubject))
	}
	if cfg.OpenSearch.Enabled {
		sink, err := emit.NewOpenSearchSink(cfg.OpenSearch)
		if err != nil {
			log.Error("failed to initialize opensearch sink", "error", err)
			os.Exit(1)
		}
		emitOpts = append(emitOpts, emit.WithSink(sink))
		log.Info("indexing verdicts to opensearch", "index", cfg.OpenSearch.Index)
	}
	emitter := emit.NewEmitter(log, emitOpts...)

	orch := orchestrator.New(*cfg, orchestrator.Deps{
		Behavioral: behavioralEngine,
		Graph:      graphEngine,
		Registry:   registry,
		Oracle:     ruleOracle,
		Enricher:   enricher,
		Emitter:    emitter,
		Dedup:      dedupCache,
		Persister:  persister,
	}, log)
	orch.Start()

	var subscriber *intake.Subscriber
	if natsConn != nil {
		subscriber = intake.NewSubscriber(natsConn, cfg.NATS.IntakeSubject, cfg.NATS.QueueGroup, orch, log)
		if err := subscriber.Start(ctx); err != nil {
			log.Error("failed to subscribe to intake subject", "error", err)
			os.Exit(1)
		}
		log.Info("subscribed to intake subject", "subject", cfg.NATS.IntakeSubject, "queue", cfg.NATS.QueueGroup)
	}

	// Background maintenance.
	jobs := []scheduler.Job{
		{Name: "graph_decay", Interval: cfg.Graph.DecayInterval, Run: func(ctx context.Context) {
			graphStore.Decay(time.Now().UTC())
		}},
		{Name: "graph_cleanup", Interval: cfg.Graph.CleanupInterval, Run: func(ctx context.Context) {
			edges, entities := graphStore.Cleanup(cfg.Graph.Retention, time.Now().UTC())
			if edges > 0 || entities > 0 {
				log.InfoContext(ctx, "graph cleanup", "edges_removed", edges, "entities_removed", entities)
			}
			metrics.GraphEdges.Set(float64(graphStore.EdgeCount()))
		}},
		{Name: "baseline_sweep", Interval: cfg.Behavioral.SweepInterval, Run: func(ctx context.Context) {
			removed := baselines.Sweep(cfg.Behavioral.Retention, time.Now().UTC())
			if removed > 0 {
				log.InfoContext(ctx, "baseline sweep", "removed", removed)
			}
			metrics.BaselinesTracked.Set(float64(baselines.Len()))
		}},
	}
	if persister != nil {
		jobs = append(jobs, scheduler.Job{
			Name: "edge_flush", Interval: cfg.Graph.DecayInterval, Run: func(ctx context.Context) {
				for _, edge := range graphStore.SnapshotEdges() {
					persister.QueueEdge(edge)
				}
			},
		})
	}
	sched := scheduler.New(log, jobs...)
	schedCtx, schedCancel := context.WithCancel(ctx)
	sched.Start(schedCtx)

	handler := server.NewHandler(orch, emitter, baselines, graphStore, registry, log)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler, cfg.Auth),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("correlate service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Stop intake first: drain the NATS subscription and close the HTTP
	// listener so no new events or feedback reach the pipeline, then
	// drain the workers and flush writes.
	if subscriber != nil {
		if err := subscriber.Stop(); err != nil {
			log.Warn("failed to drain intake subscription", "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	orch.Stop()
	schedCancel()
	sched.Stop()
	if persister != nil {
		persister.Stop()
	}

	log.Info("stopped")
}

// restoreState warms the in-memory stores from postgres so baselines
// and edges survive restarts.
func restoreState(ctx context.Context, repo storage.Repository, baselines *behavioral.Store, graphStore *graph.Store, registry *rules.Registry, log *logging.Logger) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	saved, err := repo.LoadBaselines(loadCtx)
	if err != nil {
		log.Warn("failed to load baselines", "error", err)
	} else {
		baselines.Restore(saved)
		log.Info("restored baselines", "count", len(saved))
	}

	edges, err := repo.LoadEdges(loadCtx)
	if err != nil {
		log.Warn("failed to load graph edges", "error", err)
	} else {
		graphStore.RestoreEdges(edges)
		log.Info("restored graph edges", "count", len(edges))
	}

	loaded, err := repo.LoadRules(loadCtx)
	if err != nil {
		log.Warn("failed to load rules", "error", err)
	} else {
		for _, rule := range loaded {
			registry.Upsert(rule)
		}
		log.Info("restored rules", "count", len(loaded))
	}
}
