package runtime

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
	bus "github.com/drblury/protorelay/transport"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateSubscribing
	StateListening
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		s.Logger.Debug("Connection state changed", loggingpkg.LogFields{"from": prev.String(), "to": st.String()})
	}
	s.metrics.SetState(st)
}

// Start connects to the bus, subscribes every registered topic and serves
// requests until ctx is cancelled. The registry is frozen first. A bus that
// cannot be reached at startup yields a *ConnectError; connection loss
// afterwards is retried until ctx ends. Start returns nil on cancellation,
// after waiting for in-flight handlers up to the shutdown timeout.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyStarted
	}
	if err := s.rawConf.Validate(); err != nil {
		return errspkg.ConfigValidationError{Err: err}
	}
	if s.registry.Len() == 0 {
		return errspkg.ErrNoEndpoints
	}
	s.registry.Freeze()

	if s.Conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return err
		}
		if s.Conf.MetricsPort > 0 {
			s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", s.metricsHandler())
			s.RegisterHTTPHandler(s.Conf.MetricsPort, "/healthz", s.healthHandler())
			s.RegisterHTTPHandler(s.Conf.MetricsPort, "/info", s.infoHandler())
		}
	}
	if err := s.startHTTPServers(); err != nil {
		s.stopHTTPServers(context.Background())
		return err
	}

	sess, err := s.connect(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		s.stopHTTPServers(context.Background())
		return &errspkg.ConnectError{Transport: s.Conf.PubSubSystem, Err: err}
	}

	s.run(ctx, sess)
	s.shutdown()
	return nil
}

func (s *Service) metricsHandler() http.Handler {
	if g, ok := s.metrics.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// connect builds a fresh transport and subscribes every topic on it.
func (s *Service) connect(ctx context.Context) (*session, error) {
	s.setState(StateSubscribing)

	tr, err := s.factory.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return nil, err
	}
	sess, err := s.subscribe(ctx, tr)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	s.current.Store(&tr)
	s.setState(StateListening)

	caps := bus.GetCapabilities(s.Conf.PubSubSystem)
	s.Logger.Info("Listening", loggingpkg.LogFields{
		"transport":          s.Conf.PubSubSystem,
		"topics":             s.registry.Len(),
		"heartbeat":          tr.Pinger != nil,
		"subscription_watch": caps.RequiresSubscriptionWatch(),
	})
	if caps.Name != "" && !caps.Fanout {
		s.Logger.Warn("Transport does not fan out, multi-node requests reach a single node", loggingpkg.LogFields{"transport": s.Conf.PubSubSystem})
	}
	return sess, nil
}

// run listens on sess and replaces it after every connection loss. The
// registry is reused as is.
func (s *Service) run(ctx context.Context, sess *session) {
	for {
		err := s.listen(ctx, sess)
		s.closeSession(sess)
		if ctx.Err() != nil {
			return
		}

		s.Logger.Error("Connection lost", err, loggingpkg.LogFields{"transport": s.Conf.PubSubSystem})
		s.metrics.Reconnected()

		sess, err = s.reconnect(ctx)
		if err != nil {
			return
		}
	}
}

func (s *Service) reconnect(ctx context.Context) (*session, error) {
	s.setState(StateReconnecting)
	policy := s.reconnectPolicy()

	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		s.Logger.Info("Reconnecting", loggingpkg.LogFields{"attempt": attempt, "retry_in": wait.String()})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		sess, err := s.connect(ctx)
		if err == nil {
			s.Logger.Info("Reconnected", loggingpkg.LogFields{"attempt": attempt})
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.setState(StateReconnecting)
		s.Logger.Error("Reconnect failed", err, loggingpkg.LogFields{"attempt": attempt})
	}
}

// reconnectPolicy waits ReconnectDelay between attempts, growing toward
// ReconnectMaxDelay when that is larger.
func (s *Service) reconnectPolicy() backoff.BackOff {
	if s.Conf.ReconnectMaxDelay <= s.Conf.ReconnectDelay {
		return backoff.NewConstantBackOff(s.Conf.ReconnectDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Conf.ReconnectDelay
	b.MaxInterval = s.Conf.ReconnectMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func (s *Service) closeSession(sess *session) {
	sess.cancel()
	s.current.Store(nil)
	if err := sess.transport.Close(); err != nil {
		s.Logger.Error("Failed to close transport", err, nil)
	}
}

func (s *Service) shutdown() {
	s.setState(StateDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), s.Conf.ShutdownTimeout)
	defer cancel()

	if err := s.tasks.Wait(ctx); err != nil {
		s.Logger.Error("Shutdown timed out waiting for handlers", err, loggingpkg.LogFields{"in_flight": s.tasks.Len()})
	}
	s.stopHTTPServers(ctx)
	s.Logger.Info("Relay stopped", nil)
}
