// Package main provides the entry point for the distribution service
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	admin "github.com/kekeling/kekeling/services/distribution/internal/grpc"
	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
	"github.com/kekeling/kekeling/services/distribution/internal/ratelimit"
	"github.com/kekeling/kekeling/services/distribution/internal/repository"
	"github.com/kekeling/kekeling/services/distribution/internal/service"
	"github.com/kekeling/kekeling/services/distribution/internal/worker"
	"github.com/kekeling/kekeling/services/distribution/pkg/config"
)

const healthService = "distribution"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewLoggerFromEnv(cfg.Env)
	defer log.AtExit()

	if err := run(cfg, log); err != nil {
		log.Error("distribution service stopped with error", logging.Error(err))
		log.AtExit()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := repository.NewNeo4jStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to Neo4j: %w", err)
	}
	defer store.Close(context.Background())
	log.Info("connected to Neo4j", logging.String("uri", cfg.Neo4j.URI))

	if err := store.EnsureSchema(ctx); err != nil {
		log.Warn("failed to initialize schema", logging.Error(err))
	}

	m := metrics.New()

	limiter, err := newLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}

	pool := worker.NewPool(log, cfg.Service.Workers, cfg.Service.StatsQueueSize)
	pool.Start(ctx)

	svc := service.New(store, service.Options{
		Config:    cfg.Service,
		Log:       log,
		Limiter:   limiter,
		Scheduler: pool,
		Metrics:   m,
	})

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.Server.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.Server.MaxSendMsgSize),
		grpc.UnaryInterceptor(admin.UnaryServerInterceptor(log, m)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)
	admin.RegisterDistributionAdminServer(grpcServer, admin.NewAdminServer(log, svc, service.SystemClock()))

	listener, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddress(), Handler: mux}

	errCh := make(chan error, 2)
	go func() {
		log.Info("distribution gRPC server starting", logging.String("address", cfg.Server.Address()))
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- fmt.Errorf("failed to serve gRPC: %w", err)
		}
	}()
	go func() {
		log.Info("metrics server starting", logging.String("address", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve metrics: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errCh:
	case sig := <-sigCh:
		log.Info("received signal, shutting down", logging.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		log.Info("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn("shutdown timeout exceeded, forcing stop")
		grpcServer.Stop()
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("failed to stop metrics server", logging.Error(err))
	}
	// queued statistics jobs and notifications still run against the store
	pool.Stop(shutdownCtx)

	log.Info("distribution service shutdown complete")
	return runErr
}

// newLimiter counts bind attempts in Redis when configured so that every
// replica shares the budget, and in process otherwise
func newLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger) (ratelimit.Limiter, error) {
	if !cfg.Redis.Enabled() {
		log.Info("redis not configured, bind throttle is per instance")
		return ratelimit.NewLocalLimiter(cfg.Service.BindAttemptLimit, cfg.Service.BindAttemptWindow), nil
	}
	client, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("connected to Redis", logging.String("addr", cfg.Redis.Addr))
	return ratelimit.NewRedisLimiter(log, client, "distribution:bind:", cfg.Service.BindAttemptLimit, cfg.Service.BindAttemptWindow), nil
}
