package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zvirb/comandind-sub004/internal/cache"
	"github.com/zvirb/comandind-sub004/internal/config"
	"github.com/zvirb/comandind-sub004/internal/container"
	"github.com/zvirb/comandind-sub004/internal/db"
	"github.com/zvirb/comandind-sub004/internal/depgraph"
	"github.com/zvirb/comandind-sub004/internal/events"
	"github.com/zvirb/comandind-sub004/internal/handler"
	"github.com/zvirb/comandind-sub004/internal/logger"
	"github.com/zvirb/comandind-sub004/internal/monitor"
	"github.com/zvirb/comandind-sub004/internal/observability"
	"github.com/zvirb/comandind-sub004/internal/probe"
	"github.com/zvirb/comandind-sub004/internal/provider"
	"github.com/zvirb/comandind-sub004/internal/rollback"
	"github.com/zvirb/comandind-sub004/internal/safety"
	"github.com/zvirb/comandind-sub004/internal/storage"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dependency monitor, rollback manager and HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.New(logger.Options{
			Environment: cfg.Environment,
			Level:       cfg.LogLevel,
			File:        cfg.LogFile,
		})
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

// closers run in reverse order on shutdown
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var cleanup closers
	defer cleanup.run()

	table, err := loadTable(cfg.DependencyTable)
	if err != nil {
		return err
	}
	graph, err := depgraph.New(table)
	if err != nil {
		return fmt.Errorf("dependency table: %w", err)
	}
	log.Info("dependency graph loaded",
		zap.Int("services", len(graph.Services())),
		zap.Int("edges", len(graph.Edges())),
	)

	store, err := cache.Open(ctx, cache.Config{
		Backend:    cfg.CacheBackend,
		RedisURL:   cfg.RedisURL,
		BadgerPath: cfg.BadgerPath,
	}, log)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	cleanup.add(func() { _ = store.Close() })

	clients := probe.Clients{K8sNamespace: cfg.K8sNamespace}
	if cfg.EnableDocker {
		docker, err := container.NewDocker()
		if err != nil {
			log.Warn("docker unavailable, container restore disabled", zap.Error(err))
		} else {
			clients.Runtime = docker
			cleanup.add(func() { _ = docker.Close() })
		}
	}
	if cfg.EnableK8s {
		cs, err := probe.NewKubernetesClient(cfg.KubeConfig)
		if err != nil {
			log.Warn("kubernetes unavailable, k8s probes disabled", zap.Error(err))
		} else {
			clients.Kubernetes = cs
		}
	}
	if cfg.EnableAWS {
		aws, err := probe.NewAWSClients(ctx, cfg.AWSRegion)
		if err != nil {
			log.Warn("aws unavailable, aws probes disabled", zap.Error(err))
		} else {
			clients.AWS = aws
		}
	}

	scores, err := newProvider(cfg, table, graph, clients, log)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	esm := safety.NewEmergencyStopManager(log)

	var (
		archives  []rollback.Archive
		inspector rollback.DatabaseInspector
		lister    handler.RollbackLister
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		cleanup.add(pool.Close)
		archive := db.NewArchive(pool)
		if err := archive.EnsureSchema(ctx); err != nil {
			return err
		}
		archives = append(archives, archive)
		inspector = archive
		lister = archive
	}
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewSnapshotArchive(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, log)
		if err != nil {
			log.Warn("object archive unavailable", zap.Error(err))
		} else {
			archives = append(archives, objects)
		}
	}

	var (
		monitorEvents  monitor.EventSink  = events.Noop{}
		rollbackEvents rollback.EventSink = events.Noop{}
		recovery       monitor.RecoveryExecutor
	)
	if cfg.RabbitMQURL != "" {
		pub, err := events.Dial(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("event broker unavailable, events disabled", zap.Error(err))
		} else {
			cleanup.add(func() { _ = pub.Close() })
			monitorEvents, rollbackEvents, recovery = pub, pub, pub
		}
	}

	manager, err := rollback.New(rollback.Deps{
		Runtime:       clients.Runtime,
		Provider:      scores,
		Graph:         graph,
		Cache:         store,
		Database:      inspector,
		Archives:      archives,
		Events:        rollbackEvents,
		EmergencyStop: esm,
		Metrics:       metrics,
		Logger:        log,
	}, rollback.Options{
		SnapshotInterval:     cfg.SnapshotInterval,
		TriggerInterval:      cfg.TriggerInterval,
		ExecutionInterval:    cfg.ExecutionInterval,
		MaintenanceInterval:  cfg.RollbackMaintenanceInterval,
		SnapshotRetention:    cfg.SnapshotRetention,
		HealthWaitTimeout:    cfg.HealthWaitTimeout,
		CriticalServices:     cfg.CriticalServices,
		ConfigFiles:          cfg.ConfigFiles,
		Network:              cfg.DockerNetwork,
		MaxManualBlastRadius: cfg.MaxManualBlastRadius,
	})
	if err != nil {
		return err
	}

	mon, err := monitor.New(monitor.Deps{
		Graph:         graph,
		Provider:      scores,
		Cache:         store,
		Recovery:      recovery,
		Rollback:      manager,
		Events:        monitorEvents,
		EmergencyStop: esm,
		Metrics:       metrics,
		Logger:        log,
	}, monitor.Options{
		HealthCheckInterval: cfg.HealthCheckInterval,
		CascadeInterval:     cfg.CascadeInterval,
		BreakerInterval:     cfg.BreakerInterval,
		PreventionInterval:  cfg.PreventionInterval,
		MaintenanceInterval: cfg.MaintenanceInterval,
		RollbackThreshold:   cfg.RollbackRiskThreshold,
		AutoRollback:        cfg.AutoRollback,
		Scoring:             monitor.DefaultScoring().WithCritical(cfg.CriticalServices),
	})
	if err != nil {
		return err
	}

	if err := manager.Initialize(ctx); err != nil {
		log.Warn("rollback state not restored", zap.Error(err))
	}
	if err := mon.Initialize(ctx); err != nil {
		log.Warn("monitor state not restored", zap.Error(err))
	}
	manager.Start(ctx)
	defer manager.Stop()
	mon.Start(ctx)
	defer mon.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handler.SetupRouter(handler.RouterConfig{
		Dependencies:  handler.NewDependencyHandler(mon),
		Topology:      handler.NewTopologyHandler(graph, mon),
		Rollbacks:     handler.NewRollbackHandler(manager, lister),
		EmergencyStop: esm,
		Metrics:       metrics,
		Logger:        log,
		CORSOrigin:    cfg.CORSAllowOrigin,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("depmon starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	return nil
}

func loadTable(path string) (*depgraph.Table, error) {
	if path == "" {
		return depgraph.DefaultTable()
	}
	table, err := depgraph.LoadTable(path)
	if err != nil {
		return nil, fmt.Errorf("dependency table %s: %w", path, err)
	}
	return table, nil
}

// newProvider prefers the remote health-score service and otherwise scores
// services with the probes declared in the table
func newProvider(cfg *config.Config, table *depgraph.Table, graph *depgraph.Graph, clients probe.Clients, log *zap.Logger) (provider.HealthScoreProvider, error) {
	if cfg.HealthScoreURL != "" {
		return provider.NewRemoteProvider(provider.RemoteConfig{
			BaseURL:           cfg.HealthScoreURL,
			RequestsPerSecond: cfg.HealthScoreRPS,
			Burst:             int(cfg.HealthScoreRPS),
		}, log)
	}
	return provider.NewProbeProviderFromSources(table.HealthSources, clients, log,
		provider.WithServices(graph.Services()...))
}
