package grpc

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	requestIDHeader    = "x-request-id"
	healthMethodPrefix = "/grpc.health.v1.Health/"
)

type requestIDContextKey struct{}

var interceptorLogger = factory.NewModuleLogger("grpc")

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(requestIDHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return v
	}
	return ""
}

// RequestIDInterceptor requires an x-request-id on every call. Health checks
// are exempt and get a generated id.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		requestID := requestIDFromMetadata(ctx)
		if requestID == "" {
			if info == nil || !strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
				return nil, status.Error(codes.InvalidArgument, "x-request-id metadata is required")
			}
			requestID = uuid.NewString()
		}

		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, requestID))
		return handler(context.WithValue(ctx, requestIDContextKey{}, requestID), req)
	}
}

func RecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				method := ""
				if info != nil {
					method = info.FullMethod
				}
				loggerWithContext(ctx).WithFields(logrus.Fields{
					"method": method,
					"panic":  rec,
					"stack":  string(debug.Stack()),
				}).Error("gRPC handler panicked")
				resp = nil
				err = status.Error(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

func LoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		method := ""
		if info != nil {
			method = info.FullMethod
		}
		entry := loggerWithContext(ctx).WithFields(logrus.Fields{
			"method":      method,
			"code":        status.Code(err).String(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if err != nil {
			entry.WithError(err).Warn("gRPC request failed")
		} else {
			entry.Debug("gRPC request")
		}

		return resp, err
	}
}

func loggerWithContext(ctx context.Context) logrus.FieldLogger {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		return interceptorLogger.WithField("request_id", requestID)
	}
	if requestID := requestIDFromMetadata(ctx); requestID != "" {
		return interceptorLogger.WithField("request_id", requestID)
	}
	return interceptorLogger
}
