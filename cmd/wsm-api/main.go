package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/activity"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/api"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/cloud"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/flight"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/job"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/observability"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/resource"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/store"
	"github.com/DataBiosphere/terra-workspace-manager-sub002/internal/workspace"
)

func main() {
	var cfg api.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	var engineCfg flight.Config
	if err := envconfig.Process("", &engineCfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	var poolCfg store.PoolConfig
	if err := envconfig.Process("", &poolCfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	// Replace global logger
	zap.ReplaceGlobals(log)

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := store.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	db := store.NewPostgres(pool)
	if err := db.Migrate(ctx); err != nil {
		log.Fatal("schema migration failed", zap.Error(err))
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		log.Fatal("cloud provider init failed", zap.Error(err))
	}

	flightReg := flight.NewRegistry()
	resource.NewFlights(db, db, providers).Register(flightReg)
	workspace.NewFlights(db, db, providers).Register(flightReg)

	engine := flight.NewEngine(db, flightReg, engineCfg, log, activity.NewHook(db, log))
	engine.Start(ctx)
	defer engine.Stop()

	// Resume flights interrupted by the previous process before taking
	// traffic; their checkpoints are already durable.
	recovered, err := engine.Recover(ctx)
	if err != nil {
		log.Fatal("flight recovery failed", zap.Error(err))
	}
	if recovered > 0 {
		log.Info("resumed interrupted flights", zap.Int("count", recovered))
	}

	jobs := job.NewService(engine, db, log)

	// Main API server
	apiHandler := api.NewAPI(db, jobs, pool.Ping, log)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiHandler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("API server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down API server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	log.Info("API server stopped")
}

// buildProviders assembles the cloud ports. The fake backend covers every
// resource type; the aws backend swaps in S3 for buckets and keeps the fake
// for types without a real adapter yet.
func buildProviders(ctx context.Context, cfg api.Config) (cloud.Providers, error) {
	fake := cloud.NewFakeProvider()
	providers := fake.AllPorts()

	switch cfg.CloudProvider {
	case "fake":
	case "aws":
		s3p, err := cloud.NewS3Provider(ctx, cfg.AWSRegion)
		if err != nil {
			return cloud.Providers{}, err
		}
		providers.Buckets = s3p
	default:
		return cloud.Providers{}, fmt.Errorf("unknown cloud provider %q", cfg.CloudProvider)
	}
	return providers, nil
}
