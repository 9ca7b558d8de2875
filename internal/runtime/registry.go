package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
)

// Endpoint handles requests published on its topic. A nil result means no
// reply is sent.
type Endpoint interface {
	Topic() Topic
	Handle(ctx context.Context, req *Request) (any, error)
}

// PayloadShaper is implemented by endpoints that want their request data
// decoded into a concrete type. NewPayload must return a fresh pointer.
type PayloadShaper interface {
	NewPayload() any
}

// EndpointFactory constructs an endpoint for a service. Factories run once,
// during discovery, before the service starts listening.
type EndpointFactory func(svc *Service) (Endpoint, error)

// Registry maps canonical topics to endpoints. It is append-only until
// frozen and read-only afterwards, when lookups take no lock.
type Registry struct {
	mu        sync.Mutex
	frozen    atomic.Bool
	endpoints map[string]Endpoint
	topics    []Topic
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]Endpoint)}
}

// Register claims the endpoint's topic. The first endpoint to claim a topic
// keeps it.
func (r *Registry) Register(ep Endpoint) error {
	if ep == nil {
		return errspkg.ErrEndpointRequired
	}
	topic := ep.Topic()
	if topic.IsZero() {
		return &errspkg.InvalidTopicError{Input: fmt.Sprintf("%T", ep), Reason: "endpoint topic has no segments"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return errspkg.ErrRegistryFrozen
	}
	key := topic.String()
	if _, exists := r.endpoints[key]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateTopic, key)
	}
	r.endpoints[key] = ep
	r.topics = append(r.topics, topic)
	return nil
}

// Freeze stops further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

func (r *Registry) Frozen() bool { return r.frozen.Load() }

func (r *Registry) Len() int {
	defer r.read()()
	return len(r.topics)
}

// Topics returns the registered topics in registration order.
func (r *Registry) Topics() []Topic {
	defer r.read()()
	out := make([]Topic, len(r.topics))
	copy(out, r.topics)
	return out
}

// Lookup finds the endpoint registered for exactly this topic.
func (r *Registry) Lookup(topic Topic) (Endpoint, bool) {
	defer r.read()()
	ep, ok := r.endpoints[topic.String()]
	return ep, ok
}

// Resolve finds the endpoint for an inbound channel: an exact canonical
// match first, then the endpoint owning the channel's first segment, so
// "VERIFYALL:123" reaches VERIFYALL.
func (r *Registry) Resolve(channel string) (Endpoint, bool) {
	topic, err := NewTopic(channel)
	if err != nil {
		return nil, false
	}

	defer r.read()()
	if ep, ok := r.endpoints[topic.String()]; ok {
		return ep, true
	}
	if topic.Len() > 1 {
		if ep, ok := r.endpoints[topic.Head().String()]; ok {
			return ep, true
		}
	}
	return nil, false
}

func (r *Registry) read() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// RegisterEndpoint adds an endpoint to the service registry.
func (s *Service) RegisterEndpoint(ep Endpoint) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if err := s.registry.Register(ep); err != nil {
		return err
	}
	s.Logger.Debug("Registered endpoint", loggingpkg.LogFields{"topic": ep.Topic().String()})
	return nil
}

// Discover instantiates every factory and registers the endpoints it
// produces. Factories that panic, fail, return nil, or claim a taken topic
// are logged and skipped. It returns the number of endpoints registered.
func (s *Service) Discover(factories ...EndpointFactory) int {
	registered := 0
	for i, factory := range factories {
		if factory == nil {
			s.Logger.Warn("Skipped nil endpoint factory", loggingpkg.LogFields{"index": i})
			continue
		}
		ep, err := s.instantiate(factory)
		if err == nil {
			err = s.RegisterEndpoint(ep)
		}
		if err != nil {
			s.Logger.Error("Skipped endpoint", err, loggingpkg.LogFields{"index": i, "endpoint": fmt.Sprintf("%T", ep)})
			continue
		}
		registered++
	}
	s.Logger.Info("Discovered endpoints", loggingpkg.LogFields{"registered": registered, "offered": len(factories)})
	return registered
}

func (s *Service) instantiate(factory EndpointFactory) (ep Endpoint, err error) {
	defer func() {
		if r := recover(); r != nil {
			ep = nil
			err = fmt.Errorf("endpoint factory panicked: %v", r)
		}
	}()
	ep, err = factory(s)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, errspkg.ErrEndpointRequired
	}
	// Topic is user code too; surface its panic here rather than in the loop.
	_ = ep.Topic()
	return ep, nil
}
