package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	idspkg "github.com/drblury/protorelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
)

// Replier publishes replies on behalf of requests. A replier built by the
// service publishes through whichever transport is live at reply time, so a
// reply survives a reconnect that happens while its handler runs.
type Replier struct {
	Publisher message.Publisher
	ClusterID string
	Logger    loggingpkg.ServiceLogger
	// PublishTimeout bounds each publish. Zero leaves it to the transport.
	PublishTimeout time.Duration
}

// Request is one inbound message bound for an endpoint. It is owned by the
// goroutine running the handler.
type Request struct {
	Nonce      string
	Payload    Payload
	ReceivedAt time.Time
	Topic      Topic
	Channel    string

	replier Replier
}

// NewRequest builds a request received now.
func NewRequest(topic Topic, nonce string, payload Payload, replier Replier) *Request {
	return &Request{
		Nonce:      nonce,
		Payload:    payload,
		ReceivedAt: time.Now(),
		Topic:      topic,
		Channel:    topic.String(),
		replier:    replier,
	}
}

// Decode unmarshals the request data into v.
func (r *Request) Decode(v any) error {
	return r.Payload.Decode(v)
}

type respondOptions struct {
	channel string
}

// RespondOption customises a single Respond call.
type RespondOption func(*respondOptions)

// WithChannel publishes the reply on channel instead of the nonce reply channel.
func WithChannel(channel string) RespondOption {
	return func(o *respondOptions) {
		o.channel = channel
	}
}

// Respond publishes data as a reply to this request. It may be called more
// than once; every call publishes. A request without a nonce needs an
// explicit channel, otherwise ErrChannelRequired is returned.
//
// ctx carries values (trace spans) into the publish but not its cancellation:
// the publish runs under its own PublishTimeout. Replies sent after the
// handler returned may therefore pass the handler's ctx or a fresh one.
func (r *Request) Respond(ctx context.Context, data any, opts ...RespondOption) error {
	var o respondOptions
	for _, opt := range opts {
		opt(&o)
	}

	channel := o.channel
	if channel == "" {
		if r.Nonce == "" {
			return errspkg.ErrChannelRequired
		}
		channel = ReplyChannel(r.Nonce)
	}

	log := r.logger().With(loggingpkg.LogFields{"channel": channel, "nonce": r.Nonce, "topic": r.Topic.String()})

	body, err := EncodeReply(r.Nonce, data, r.replier.ClusterID)
	if err != nil {
		log.Error("Failed to encode reply", err, nil)
		return err
	}

	if r.replier.Publisher == nil {
		return errspkg.ErrPublisherRequired
	}

	pubCtx, cancel := r.replier.publishContext(ctx)
	defer cancel()

	msg := message.NewMessage(idspkg.CreateULID(), body)
	msg.SetContext(pubCtx)
	if err := r.replier.Publisher.Publish(channel, msg); err != nil {
		err = &errspkg.TransportError{Channel: channel, Err: err}
		log.Error("Failed to publish reply", err, nil)
		return err
	}

	fields := loggingpkg.LogFields{"latency_ms": time.Since(r.ReceivedAt).Milliseconds()}
	if sent, ok := idspkg.NonceTime(r.Nonce); ok {
		fields["nonce_age_ms"] = time.Since(sent).Milliseconds()
	}
	log.Debug("Published reply", fields)
	return nil
}

func (rp Replier) publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	if rp.PublishTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, rp.PublishTimeout)
}

func (r *Request) logger() loggingpkg.ServiceLogger {
	if r.replier.Logger != nil {
		return r.replier.Logger
	}
	return nopLogger{}
}

type nopLogger struct{}

func (n nopLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return n }
func (nopLogger) Debug(string, loggingpkg.LogFields)                   {}
func (nopLogger) Info(string, loggingpkg.LogFields)                    {}
func (nopLogger) Warn(string, loggingpkg.LogFields)                    {}
func (nopLogger) Error(string, error, loggingpkg.LogFields)            {}
func (nopLogger) Trace(string, loggingpkg.LogFields)                   {}
