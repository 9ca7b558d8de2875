package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	idspkg "github.com/drblury/protorelay/internal/runtime/ids"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
)

// DefaultRequestTimeout bounds Request when ctx carries no deadline.
const DefaultRequestTimeout = 5 * time.Second

// Client publishes requests onto the bus and collects replies addressed to
// their nonce.
type Client struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     loggingpkg.ServiceLogger
}

// NewClient returns a requester over the given publisher and subscriber.
func NewClient(pub message.Publisher, sub message.Subscriber, log loggingpkg.ServiceLogger) (*Client, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if sub == nil {
		return nil, errspkg.ErrTransportRequired
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Client{publisher: pub, subscriber: sub, logger: log}, nil
}

// Request publishes data on topic and returns the first reply. Later replies
// to the same nonce are ignored. Without a deadline on ctx the wait is bounded
// by DefaultRequestTimeout.
func (c *Client) Request(ctx context.Context, topic any, data any) (Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}

	replies, cancel, err := c.send(ctx, topic, data)
	if err != nil {
		return Reply{}, err
	}
	defer cancel()

	select {
	case reply, ok := <-replies:
		if !ok {
			return Reply{}, errspkg.ErrReplyTimeout
		}
		return reply, nil
	case <-ctx.Done():
		return Reply{}, errspkg.ErrReplyTimeout
	}
}

// Gather publishes data on topic and collects every reply that arrives within
// window, one per responding node. An empty result is not an error.
func (c *Client) Gather(ctx context.Context, topic any, data any, window time.Duration) ([]Reply, error) {
	ctx, cancelWindow := context.WithTimeout(ctx, window)
	defer cancelWindow()

	replies, cancel, err := c.send(ctx, topic, data)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var out []Reply
	for {
		select {
		case reply, ok := <-replies:
			if !ok {
				return out, nil
			}
			out = append(out, reply)
		case <-ctx.Done():
			return out, nil
		}
	}
}

// send subscribes to the reply channel before publishing, so no reply can
// be missed.
func (c *Client) send(ctx context.Context, topic any, data any) (<-chan Reply, context.CancelFunc, error) {
	t, err := ParseTopic(topic)
	if err != nil {
		return nil, nil, err
	}
	nonce := idspkg.NewNonce()
	channel := ReplyChannel(nonce)

	body, err := EncodeRequest(nonce, data)
	if err != nil {
		return nil, nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	messages, err := c.subscriber.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, nil, &errspkg.TransportError{Channel: channel, Err: err}
	}

	msg := message.NewMessage(idspkg.CreateULID(), body)
	msg.SetContext(ctx)
	if err := c.publisher.Publish(t.String(), msg); err != nil {
		cancel()
		return nil, nil, &errspkg.TransportError{Channel: t.String(), Err: err}
	}
	c.logger.Debug("Published request", loggingpkg.LogFields{"topic": t.String(), "nonce": nonce})

	replies := make(chan Reply)
	go func() {
		defer close(replies)
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-messages:
				if !ok {
					return
				}
				m.Ack()
				reply, err := DecodeReply(channel, m.Payload)
				if err != nil {
					c.logger.Warn("Dropped malformed reply", loggingpkg.LogFields{"channel": channel, "error": err.Error()})
					continue
				}
				select {
				case replies <- reply:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()
	return replies, cancel, nil
}

// NewClient returns a requester that publishes through whichever transport
// the service is currently connected with.
func (s *Service) NewClient() *Client {
	b := &serviceBus{svc: s}
	c, _ := NewClient(b, b, s.Logger)
	return c
}

// serviceBus routes through the live transport, which changes on reconnect.
type serviceBus struct {
	svc *Service
}

func (b *serviceBus) Publish(topic string, messages ...*message.Message) error {
	tr := b.svc.current.Load()
	if tr == nil {
		return errspkg.ErrTransportRequired
	}
	return tr.Publisher.Publish(topic, messages...)
}

func (b *serviceBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	tr := b.svc.current.Load()
	if tr == nil {
		return nil, errspkg.ErrTransportRequired
	}
	return tr.Subscriber.Subscribe(ctx, topic)
}

func (b *serviceBus) Close() error { return nil }
