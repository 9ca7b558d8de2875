package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	configpkg "github.com/drblury/protorelay/internal/runtime/config"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
	transportpkg "github.com/drblury/protorelay/internal/runtime/transport"
)

const tracerName = "github.com/drblury/protorelay"

// ServiceDependencies holds optional collaborators. Nil fields fall back to
// the defaults noted on each.
type ServiceDependencies struct {
	// TransportFactory builds the bus connection; defaults to the registry of built-in transports.
	TransportFactory transportpkg.Factory
	// Hooks observe every handler invocation.
	Hooks RequestHooks
	// MetricsRegisterer receives the relay collectors; defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
	// Tracer overrides the tracer chosen from Conf.TracingEnabled.
	Tracer trace.Tracer
}

// Service is the relay node: it owns the endpoint registry, the bus
// connection and the handler task set.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	rawConf   configpkg.Config
	registry  *Registry
	factory   transportpkg.Factory
	hooks     RequestHooks
	metrics   *RelayMetrics
	tracer    trace.Tracer
	tasks     *TaskSet
	resources *resourceTracker

	startedAt time.Time
	started   atomic.Bool
	state     atomic.Int32
	current   atomic.Pointer[transportpkg.Transport]

	httpMu      sync.Mutex
	httpMuxes   map[int]*http.ServeMux
	httpServers []*http.Server
}

// NewService constructs a relay node. Register endpoints, or call Discover,
// before Start. conf is copied with defaults applied.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	if conf == nil {
		panic("protorelay: config cannot be nil")
	}
	if log == nil {
		panic("protorelay: logger cannot be nil")
	}
	withDefaults := conf.WithDefaults()

	log.Info("Creating relay service", loggingpkg.LogFields{
		"transport":  withDefaults.PubSubSystem,
		"cluster_id": withDefaults.ClusterID,
		"config":     withDefaults.String(),
	})

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}

	tracer := deps.Tracer
	if tracer == nil {
		if withDefaults.TracingEnabled {
			tracer = otel.Tracer(tracerName)
		} else {
			tracer = noop.NewTracerProvider().Tracer(tracerName)
		}
	}

	return &Service{
		Conf:      &withDefaults,
		rawConf:   *conf,
		Logger:    log,
		registry:  NewRegistry(),
		factory:   factory,
		hooks:     deps.Hooks,
		metrics:   NewRelayMetrics(deps.MetricsRegisterer),
		tracer:    tracer,
		tasks:     NewTaskSet(int64(withDefaults.MaxInFlight)),
		resources: newResourceTracker(),
		startedAt: time.Now(),
	}
}

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) ClusterID() string { return s.Conf.ClusterID }

// StartedAt is when the service was constructed.
func (s *Service) StartedAt() time.Time { return s.startedAt }

// InFlight returns the number of running handlers.
func (s *Service) InFlight() int64 { return s.tasks.Len() }

func (s *Service) Metrics() *RelayMetrics { return s.metrics }

// ResourceUsage samples process CPU and memory.
func (s *Service) ResourceUsage() ResourceUsage { return s.resources.Snapshot() }

// NodeInfo summarises a running node.
type NodeInfo struct {
	ClusterID  string          `json:"cluster_id"`
	StartedAt  time.Time       `json:"started_at"`
	Uptime     string          `json:"uptime"`
	State      string          `json:"state"`
	Transport  string          `json:"transport"`
	Endpoints  []string        `json:"endpoints"`
	InFlight   int64           `json:"in_flight"`
	Resources  ResourceUsage   `json:"resources"`
	Statistics MetricsSnapshot `json:"statistics"`
}

// Info reports the node's current state.
func (s *Service) Info() NodeInfo {
	topics := s.registry.Topics()
	endpoints := make([]string, len(topics))
	for i, t := range topics {
		endpoints[i] = t.String()
	}
	return NodeInfo{
		ClusterID:  s.Conf.ClusterID,
		StartedAt:  s.startedAt,
		Uptime:     time.Since(s.startedAt).Truncate(time.Second).String(),
		State:      s.State().String(),
		Transport:  s.Conf.PubSubSystem,
		Endpoints:  endpoints,
		InFlight:   s.InFlight(),
		Resources:  s.resources.Snapshot(),
		Statistics: s.metrics.Snapshot(),
	}
}

// RegisterHTTPHandler mounts handler on the server for port. Servers start
// with the service and stop when it shuts down.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	if s.httpMuxes == nil {
		s.httpMuxes = make(map[int]*http.ServeMux)
	}
	mux, ok := s.httpMuxes[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpMuxes[port] = mux
	}
	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() error {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()

	for port, mux := range s.httpMuxes {
		addr := fmt.Sprintf(":%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.httpServers = append(s.httpServers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
	return nil
}

func (s *Service) stopHTTPServers(ctx context.Context) {
	s.httpMu.Lock()
	servers := s.httpServers
	s.httpServers = nil
	s.httpMu.Unlock()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, nil)
		}
	}
}
