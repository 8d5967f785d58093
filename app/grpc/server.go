package grpc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultCheckTimeout = 3 * time.Second

// HealthCheck pings one dependency; a non-nil error marks it NOT_SERVING.
type HealthCheck func(ctx context.Context) error

type ServerOption func(*Server)

// WithOptionalCheck reports check under its own name only. Its failures do
// not change the aggregate status.
func WithOptionalCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		if name != "" && check != nil {
			s.checks[name] = check
			s.optional[name] = true
		}
	}
}

// Server exposes grpc.health.v1.Health. Each named check is reported as its
// own service and the empty service name aggregates the required ones.
type Server struct {
	health   *health.Server
	checks   map[string]HealthCheck
	optional map[string]bool
	logger   logrus.FieldLogger

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewServer(checks map[string]HealthCheck, opts ...ServerOption) *Server {
	items := make(map[string]HealthCheck, len(checks))
	for name, check := range checks {
		if name != "" && check != nil {
			items[name] = check
		}
	}

	s := &Server{
		health:   health.NewServer(),
		checks:   items,
		optional: map[string]bool{},
		logger:   factory.NewModuleLogger("grpc-health"),
		last:     map[string]healthpb.HealthCheckResponse_ServingStatus{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

func (s *Server) HealthServer() healthpb.HealthServer {
	return s.health
}

// Refresh runs every check once and publishes the result.
func (s *Server) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING

	for _, name := range s.checkNames() {
		checkCtx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
		err := s.checks[name](checkCtx)
		cancel()

		state := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			state = healthpb.HealthCheckResponse_NOT_SERVING
			if !s.optional[name] {
				overall = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		s.publish(name, state, err)
	}

	s.publish("", overall, nil)
}

// Run refreshes the health state every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) Shutdown() {
	s.health.Shutdown()
}

func (s *Server) publish(name string, state healthpb.HealthCheckResponse_ServingStatus, err error) {
	s.mu.Lock()
	previous, seen := s.last[name]
	s.last[name] = state
	s.mu.Unlock()

	s.health.SetServingStatus(name, state)

	if seen && previous == state {
		return
	}
	entry := s.logger.WithFields(logrus.Fields{"service": name, "status": state.String()})
	if err != nil {
		entry.WithError(err).Warn("Dependency health changed")
		return
	}
	entry.Info("Dependency health changed")
}

func (s *Server) checkNames() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
