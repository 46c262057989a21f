package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/devrev/pairdb/gridcache/internal/config"
	"github.com/devrev/pairdb/gridcache/internal/handler"
	"github.com/devrev/pairdb/gridcache/internal/health"
	"github.com/devrev/pairdb/gridcache/internal/metrics"
	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/devrev/pairdb/gridcache/internal/partition"
	"github.com/devrev/pairdb/gridcache/internal/serialization"
	"github.com/devrev/pairdb/gridcache/internal/server"
	"github.com/devrev/pairdb/gridcache/internal/service"
	"github.com/devrev/pairdb/gridcache/internal/store"
	"github.com/devrev/pairdb/gridcache/internal/util/workerpool"
	pb "github.com/devrev/pairdb/gridcache/pkg/proto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("member_id", cfg.Member.ID))

	logger.Info("Configuration loaded",
		zap.String("config_path", configPath),
		zap.String("host", cfg.Gateway.Host),
		zap.Int("port", cfg.Gateway.Port),
		zap.Int("partitions", cfg.Partition.Count))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(cfg.Member.ID, prometheus.DefaultRegisterer)

	stores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize cache stores", zap.Error(err))
	}
	defer stores.Close()

	partitions := partition.NewMap(&partition.Config{
		PartitionCount:           cfg.Partition.Count,
		VirtualNodes:             cfg.Partition.VirtualNodes,
		DeferKeyAssociationCheck: cfg.Gateway.DeferKeyAssociationCheck,
		LocalMember:              cfg.Member.ID,
	}, logger)

	events := service.NewEventService(m, logger)
	defer events.Close()

	grid := service.NewGridService(&service.GridConfig{
		LockTimeout:         cfg.Processing.LockTimeout,
		MaxRetries:          cfg.Processing.MaxRetries,
		RetryBackoff:        cfg.Processing.RetryBackoff,
		Parallelism:         cfg.Processing.Parallelism,
		ExpirySweepInterval: cfg.Cache.ExpirySweepInterval,
		StoreTimeout:        cfg.Processing.StoreTimeout,
	}, partitions, events, stores, m, logger)
	grid.Start()
	defer grid.Stop()

	gossip, err := service.NewGossipService(&service.GossipConfig{
		Enabled:        cfg.Gossip.Enabled,
		BindAddr:       cfg.Gossip.BindAddr,
		BindPort:       cfg.Gossip.BindPort,
		SeedNodes:      cfg.Gossip.SeedNodes,
		GossipInterval: cfg.Gossip.GossipInterval,
		ProbeTimeout:   cfg.Gossip.ProbeTimeout,
		ProbeInterval:  cfg.Gossip.ProbeInterval,
	}, cfg.Member.ID, advertiseAddress(cfg.Gateway.Host, cfg.Gateway.Port), partitions, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize gossip service", zap.Error(err))
	}
	defer gossip.Shutdown()

	sessions := service.NewSessionService(&service.SessionConfig{
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
	}, events, serialization.NewRegistry(), m, logger)

	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "gateway",
		MaxWorkers: cfg.Gateway.Workers,
		QueueSize:  cfg.Gateway.QueueSize,
		Logger:     logger,
	})

	proxy := handler.NewProxyServer(&handler.Config{
		MemberID:       cfg.Member.ID,
		Lanes:          cfg.Gateway.Lanes,
		LaneDepth:      cfg.Gateway.LaneDepth,
		PageSize:       cfg.Gateway.PageSize,
		RequestTimeout: cfg.Gateway.RequestTimeout,
		OutboxLimit:    cfg.Gateway.OutboxLimit,
		StopTimeout:    cfg.Gateway.ShutdownTimeout,
	}, grid, sessions, gossip, pool, m, logger)

	hc := health.NewHealthChecker(&health.Config{
		MemberID: cfg.Member.ID,
		Stats: func() model.HealthMetrics {
			caches, entries := grid.Stats()
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			return model.HealthMetrics{
				Caches:      caches,
				Entries:     entries,
				Sessions:    sessions.Count(),
				Listeners:   events.RegistrationCount(),
				MemoryBytes: int64(mem.HeapAlloc),
				Goroutines:  runtime.NumGoroutine(),
			}
		},
	}, logger)
	hc.Register("engine", health.EngineCheck(grid))
	hc.Register("gateway", health.GatewayCheck(proxy))
	hc.Register("membership", health.MembershipCheck(gossip))
	hc.Register("stores", health.StoreCheck(stores))
	hc.OnStatusChange(gossip.UpdateHealthStatus)

	grpcServer := grpc.NewServer()
	pb.RegisterProxyServiceServer(grpcServer, proxy)
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	hc.BindGRPC(healthServer, pb.ProxyService_ServiceDesc.ServiceName)
	go hc.Start(ctx)

	var mgmt *server.Server
	if cfg.Management.Enabled {
		mgmt = server.NewServer(&server.Config{
			Host:              cfg.Management.Host,
			Port:              cfg.Management.Port,
			ReadTimeout:       cfg.Management.ReadTimeout,
			WriteTimeout:      cfg.Management.WriteTimeout,
			RequestsPerSecond: cfg.Management.RequestsPerSecond,
			Burst:             cfg.Management.Burst,
		}, grid, sessions, gossip, hc, logger)
		errCh := mgmt.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				logger.Error("Management server failed", zap.Error(err))
			}
		}()
	}

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	logger.Info("Grid member starting",
		zap.String("address", addr),
		zap.Bool("gossip", gossip.Enabled()),
		zap.Bool("management", mgmt != nil))

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down gracefully...")
		hc.Drain()

		proxy.Stop()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.Gateway.ShutdownTimeout):
			logger.Warn("Graceful stop timed out, forcing")
			grpcServer.Stop()
		}

		if err := pool.Stop(cfg.Gateway.ShutdownTimeout); err != nil {
			logger.Warn("Worker pool did not stop", zap.Error(err))
		}
		if mgmt != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := mgmt.Shutdown(sctx); err != nil {
				logger.Warn("Management server shutdown failed", zap.Error(err))
			}
			cancel()
		}
	}()

	if err := grpcServer.Serve(listener); err != nil {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
	logger.Info("Grid member stopped")
}

// buildStores binds the configured cache stores. Members sharing a store
// type share one connection.
func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Resolver, error) {
	resolver := store.NewResolver(logger)
	byType := make(map[string]store.CacheStore)
	for _, b := range cfg.Stores {
		s, ok := byType[b.Type]
		if !ok {
			var err error
			s, err = openStore(ctx, b.Type, cfg, logger)
			if err != nil {
				_ = resolver.Close()
				return nil, err
			}
			byType[b.Type] = s
		}
		if err := resolver.Bind(b.Pattern, s); err != nil {
			_ = resolver.Close()
			return nil, err
		}
	}
	return resolver, nil
}

func openStore(ctx context.Context, kind string, cfg *config.Config, logger *zap.Logger) (store.CacheStore, error) {
	switch kind {
	case config.StorePostgres:
		return store.NewPostgresStore(ctx, &store.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
			Table:    cfg.Postgres.Table,
		}, logger)
	case config.StoreRedis:
		return store.NewRedisStore(ctx, &store.RedisConfig{
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
	default:
		return store.NewMemoryStore(), nil
	}
}

// advertiseAddress is the proxy address published to other members
func advertiseAddress(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		if name, err := os.Hostname(); err == nil {
			host = name
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
