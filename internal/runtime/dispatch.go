package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	idspkg "github.com/drblury/protorelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
	transportpkg "github.com/drblury/protorelay/internal/runtime/transport"
	bus "github.com/drblury/protorelay/transport"
)

// inbound is a message taken off a subscription, stamped on arrival.
type inbound struct {
	channel    string
	msg        *message.Message
	receivedAt time.Time
}

// session is one connected period of the bus: its transport, the
// subscriptions feeding intake, and the failures that end it.
type session struct {
	transport transportpkg.Transport
	replier   Replier
	intake    chan inbound
	failures  chan error
	cancel    context.CancelFunc
}

func (sess *session) fail(err error) {
	select {
	case sess.failures <- err:
	default:
	}
}

// subscribe opens one subscription per registered topic and starts the
// heartbeat. Single-segment topics also get a prefix subscription when the
// transport offers one, so "VERIFYALL:123" reaches VERIFYALL. Cancelling ctx,
// or calling sess.cancel, stops them all.
func (s *Service) subscribe(ctx context.Context, tr transportpkg.Transport) (*session, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		transport: tr,
		replier: Replier{
			Publisher:      &serviceBus{svc: s},
			ClusterID:      s.Conf.ClusterID,
			Logger:         s.Logger,
			PublishTimeout: s.Conf.PingTimeout,
		},
		intake:   make(chan inbound),
		failures: make(chan error, 1),
		cancel:   cancel,
	}

	prefixes, canPrefix := tr.Subscriber.(bus.PrefixSubscriber)
	for _, topic := range s.registry.Topics() {
		channel := topic.String()
		messages, err := tr.Subscriber.Subscribe(sessCtx, channel)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
		go s.forward(sessCtx, sess, subscription{channel: channel}, messages)

		if !canPrefix || topic.Len() != 1 {
			continue
		}
		prefix := channel + TopicSeparator
		messages, err = prefixes.SubscribePrefix(sessCtx, prefix)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe %s*: %w", prefix, err)
		}
		go s.forward(sessCtx, sess, subscription{channel: prefix + "*", prefix: true}, messages)
	}
	if !canPrefix {
		s.Logger.Warn("Transport cannot subscribe by prefix, only exact topic channels are received", loggingpkg.LogFields{"transport": s.Conf.PubSubSystem})
	}

	if tr.Pinger != nil {
		go s.heartbeat(sessCtx, sess, tr.Pinger)
	}
	return sess, nil
}

// subscription names what a forward goroutine reads from.
type subscription struct {
	channel string
	prefix  bool
}

// forward acks every message as it arrives and hands it to the loop.
// Messages from a prefix subscription carry their concrete channel in
// metadata; those on an exactly registered channel are skipped because the
// exact subscription delivers them too.
func (s *Service) forward(ctx context.Context, sess *session, sub subscription, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() == nil {
					sess.fail(&errspkg.TransportError{Channel: sub.channel, Err: errspkg.ErrSubscriptionClosed})
				}
				return
			}
			receivedAt := time.Now()
			msg.Ack()

			channel := sub.channel
			if c := msg.Metadata.Get(bus.ChannelMetadataKey); c != "" {
				channel = c
			}
			if sub.prefix && s.registered(channel) {
				continue
			}
			select {
			case sess.intake <- inbound{channel: channel, msg: msg, receivedAt: receivedAt}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Service) registered(channel string) bool {
	topic, err := NewTopic(channel)
	if err != nil {
		return false
	}
	_, ok := s.registry.Lookup(topic)
	return ok
}

func (s *Service) heartbeat(ctx context.Context, sess *session, pinger bus.Pinger) {
	ticker := time.NewTicker(s.Conf.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.Conf.PingTimeout)
			err := pinger.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				sess.fail(&errspkg.TransportError{Err: fmt.Errorf("%w: %w", errspkg.ErrHeartbeatMissed, err)})
				return
			}
			s.Logger.Trace("Heartbeat", nil)
		}
	}
}

// listen runs the receive loop until ctx ends or the session fails.
func (s *Service) listen(ctx context.Context, sess *session) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sess.failures:
			return err
		case in := <-sess.intake:
			s.dispatch(sess, in)
		}
	}
}

// dispatch decodes one message and hands it to a handler goroutine. It never
// waits on the handler.
func (s *Service) dispatch(sess *session, in inbound) {
	s.metrics.Received(in.channel)
	log := s.Logger.With(loggingpkg.LogFields{"channel": in.channel})

	env, err := DecodeEnvelope(in.channel, in.msg.Payload)
	if err != nil {
		log.Warn("Dropped malformed message", loggingpkg.LogFields{"error": err.Error()})
		s.metrics.Dropped(DropMalformed)
		return
	}

	ep, ok := s.registry.Resolve(in.channel)
	if !ok {
		log.Warn("Ignored request, no suitable endpoints.", nil)
		s.metrics.Dropped(DropNoEndpoint)
		return
	}

	payload, err := ResolvePayload(ep, in.channel, env.Data)
	if err != nil {
		log.Warn("Dropped malformed message", loggingpkg.LogFields{"error": err.Error(), "nonce": env.Nonce})
		s.metrics.Dropped(DropMalformed)
		return
	}

	topic, err := NewTopic(in.channel)
	if err != nil {
		topic = ep.Topic()
	}
	req := &Request{
		Nonce:      env.Nonce,
		Payload:    payload,
		ReceivedAt: in.receivedAt,
		Topic:      topic,
		Channel:    in.channel,
		replier:    sess.replier,
	}

	if !s.tasks.Go(func() { s.handle(ep, req) }) {
		log.Error("Dropped request", errspkg.ErrInFlightLimit, loggingpkg.LogFields{"nonce": env.Nonce, "in_flight": s.tasks.Len()})
		s.metrics.Dropped(DropInFlight)
	}
}

type handlerResult struct {
	value any
	err   error
}

// handle runs one request under the handler timeout. A handler still running
// at the deadline is abandoned and its result discarded.
func (s *Service) handle(ep Endpoint, req *Request) {
	topic := ep.Topic().String()
	ctx, cancel := context.WithTimeout(context.Background(), s.Conf.HandlerTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "relay.handle "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("relay.topic", topic),
			attribute.String("relay.channel", req.Channel),
			attribute.String("relay.nonce", req.Nonce),
		))
	defer span.End()

	log := s.Logger.With(loggingpkg.LogFields{"topic": topic, "channel": req.Channel, "nonce": req.Nonce})
	started := time.Now()
	rc := RequestContext{
		Topic:      topic,
		Channel:    req.Channel,
		Nonce:      req.Nonce,
		ReceivedAt: req.ReceivedAt,
		StartedAt:  started,
		Context:    ctx,
	}

	s.hooks.start(rc)
	s.metrics.HandlerStarted()
	defer s.metrics.HandlerFinished()

	results := make(chan handlerResult, 1)
	go func() {
		results <- invoke(ctx, ep, req)
	}()

	var res handlerResult
	select {
	case res = <-results:
	case <-ctx.Done():
		rc.Duration = time.Since(started)
		log.Error("Handler timed out", errspkg.ErrHandlerTimeout, loggingpkg.LogFields{"timeout_ms": s.Conf.HandlerTimeout.Milliseconds()})
		span.SetStatus(codes.Error, "timeout")
		s.hooks.timedOut(rc)
		s.metrics.Handled(topic, OutcomeTimeout, rc.Duration)
		return
	}
	rc.Duration = time.Since(started)

	if res.err != nil {
		kind, outcome := errorKind(res.err)
		log.Error("Handler failed", res.err, loggingpkg.LogFields{"error_kind": kind})
		span.RecordError(res.err)
		span.SetStatus(codes.Error, kind)
		s.hooks.failed(rc, res.err)
		s.metrics.Handled(topic, outcome, rc.Duration)
		return
	}

	if res.value == nil {
		s.hooks.done(rc)
		s.metrics.Handled(topic, OutcomeNoReply, rc.Duration)
		return
	}

	if err := req.Respond(ctx, res.value); err != nil {
		if errors.Is(err, errspkg.ErrChannelRequired) {
			log.Warn("Reply dropped", loggingpkg.LogFields{"error": err.Error()})
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply failed")
		s.hooks.failed(rc, err)
		s.metrics.Handled(topic, OutcomeReplyFail, rc.Duration)
		return
	}
	s.hooks.done(rc)
	s.metrics.Handled(topic, OutcomeReplied, rc.Duration)
}

// invoke calls the endpoint behind Watermill's Recoverer so a panic becomes
// an error carrying the stack.
func invoke(ctx context.Context, ep Endpoint, req *Request) handlerResult {
	var value any
	h := middleware.Recoverer(func(msg *message.Message) ([]*message.Message, error) {
		v, err := ep.Handle(msg.Context(), req)
		value = v
		return nil, err
	})

	msg := message.NewMessage(idspkg.CreateULID(), nil)
	msg.SetContext(ctx)
	if _, err := h(msg); err != nil {
		return handlerResult{err: err}
	}
	return handlerResult{value: value}
}

func errorKind(err error) (kind, outcome string) {
	var recovered middleware.RecoveredPanicError
	if errors.As(err, &recovered) {
		return "panic", OutcomePanic
	}
	return fmt.Sprintf("%T", err), OutcomeError
}
