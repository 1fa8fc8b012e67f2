package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookstore/checkout/internal/checkout"
	"github.com/bookstore/checkout/internal/clock"
	"github.com/bookstore/checkout/internal/config"
	"github.com/bookstore/checkout/internal/db"
	"github.com/bookstore/checkout/internal/events"
	grpcserver "github.com/bookstore/checkout/internal/grpc"
	"github.com/bookstore/checkout/internal/httpapi"
	"github.com/bookstore/checkout/internal/metrics"
	"github.com/bookstore/checkout/internal/payment"
	"github.com/bookstore/checkout/internal/repo"
	"github.com/bookstore/checkout/internal/scheduler"
	"github.com/bookstore/checkout/internal/tracing"
	"github.com/bookstore/checkout/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const version = "1.0.0"

// orderPublisher is what the service needs from either publisher flavor
type orderPublisher interface {
	checkout.Publisher
	IsHealthy() bool
	Close() error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	log.Info("Checkout service starting",
		zap.String("db_driver", cfg.DBDriver),
		zap.Duration("reservation_ttl", cfg.ReservationTTL),
		zap.Duration("purge_delay", cfg.PurgeDelay),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tp, err := tracing.Init(rootCtx, cfg.ServiceName, version, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Error("Tracer shutdown error", zap.Error(err))
		}
	}()

	// Connect to database
	log.Info("Connecting to database...")
	database, err := db.Connect(cfg.DBDriver, cfg.PGDSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	log.Info("Running database migrations...")
	if err := db.RunMigrations(database); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}

	store := repo.NewStore(database, log)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Connect to RabbitMQ
	log.Info("Connecting to RabbitMQ")
	var publisher orderPublisher
	publisher, err = events.NewPublisher(cfg.RabbitMQURL, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, order events disabled", zap.Error(err))
		publisher = events.NewNopPublisher(log)
	}
	defer publisher.Close()

	consumer, err := events.NewConsumer(cfg.RabbitMQURL, cfg.ServiceName, store, log)
	if err != nil {
		log.Warn("RabbitMQ unavailable, catalog sync disabled", zap.Error(err))
	} else {
		defer consumer.Close()
		go func() {
			if err := consumer.Start(); err != nil {
				log.Error("Event consumer stopped", zap.Error(err))
			}
		}()
	}

	// Checkout orchestrator and its scheduler
	clk := clock.Real{}
	sched := scheduler.New(clk, scheduler.Options{
		PurgeDelay:   cfg.PurgeDelay,
		RetryInitial: cfg.ExpireRetryInitial,
		RetryMax:     cfg.ExpireRetryMax,
	}, m, log)

	svc := checkout.NewService(
		store,
		sched,
		payment.NewSimulator(cfg.PaymentLatency, log),
		publisher,
		clk,
		m,
		checkout.Options{
			ReservationTTL: cfg.ReservationTTL,
			PurgeDelay:     cfg.PurgeDelay,
			TaxRate:        cfg.TaxRate,
		},
		log,
	)
	sched.Start(svc)

	if err := svc.Recover(rootCtx); err != nil {
		log.Fatal("Failed to recover order timers", zap.Error(err))
	}

	go refreshStats(rootCtx, svc, cfg.StatsInterval, log)

	// Create gRPC server
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(log)),
	)

	// Register health service
	healthServer := grpcserver.NewHealthServer(database, publisher, log)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	go func() {
		log.Info("Starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	// Start HTTP server
	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.NewHandler(svc, log), httpapi.RouterConfig{
		ServiceName: cfg.ServiceName,
		Health:      healthServer,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Log:         log,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-rootCtx.Done()

	log.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop gRPC server
	grpcServer.GracefulStop()

	// Timers are rebuilt by Recover on the next start.
	sched.Stop()
	svc.Flush()

	log.Info("Server stopped")
}

func refreshStats(ctx context.Context, svc *checkout.Service, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := svc.RefreshStats(ctx); err != nil {
			log.Warn("Failed to refresh stats", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
