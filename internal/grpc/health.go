// Package grpc exposes the checkout service's gRPC health endpoint.
package grpc

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger reports whether the database answers
type Pinger interface {
	Ping() error
}

// BrokerHealth reports whether the event broker is reachable
type BrokerHealth interface {
	IsHealthy() bool
}

// HealthServer implements the gRPC health checking protocol
type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	db     Pinger
	broker BrokerHealth
	log    *zap.Logger
}

// NewHealthServer creates a new health check server
func NewHealthServer(database Pinger, broker BrokerHealth, log *zap.Logger) *HealthServer {
	return &HealthServer{
		db:     database,
		broker: broker,
		log:    log,
	}
}

// Check implements the health check
func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: h.status()}, nil
}

// Watch sends the current status once
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, server grpc_health_v1.Health_WatchServer) error {
	return server.Send(&grpc_health_v1.HealthCheckResponse{Status: h.status()})
}

// Serving reports whether every dependency is up
func (h *HealthServer) Serving() bool {
	return h.status() == grpc_health_v1.HealthCheckResponse_SERVING
}

func (h *HealthServer) status() grpc_health_v1.HealthCheckResponse_ServingStatus {
	if err := h.db.Ping(); err != nil {
		h.log.Error("Database health check failed", zap.Error(err))
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}

	if !h.broker.IsHealthy() {
		h.log.Error("RabbitMQ health check failed")
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}

	return grpc_health_v1.HealthCheckResponse_SERVING
}
