package grpc

import (
	"context"
	"time"

	"github.com/bookstore/checkout/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// CorrelationHeader carries the request correlation id in metadata
const CorrelationHeader = "x-correlation-id"

// LoggingInterceptor logs all gRPC requests and tags their context with a
// correlation id, taken from metadata when the caller sent one.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		correlationID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(CorrelationHeader); len(values) > 0 {
				correlationID = values[0]
			}
		}
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx = events.WithCorrelationID(ctx, correlationID)

		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("correlation_id", correlationID),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Error("gRPC request failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("gRPC request completed", fields...)
		}

		return resp, err
	}
}
