package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
)

// RequestContext describes one handler invocation to hooks.
type RequestContext struct {
	// Topic is the canonical topic of the endpoint that handled the request.
	Topic string
	// Channel is the bus channel the message arrived on.
	Channel string
	// Nonce is the correlation nonce, empty for fire-and-forget requests.
	Nonce string
	// ReceivedAt is when the message came off the bus.
	ReceivedAt time.Time
	// StartedAt is when the handler was invoked.
	StartedAt time.Time
	// Duration is only set for done, error and timeout events.
	Duration time.Duration
	// Context is the handler context, carrying its deadline.
	Context context.Context
}

// RequestHooks are optional callbacks around handler invocations. Hooks run
// on the handler goroutine and must not block.
type RequestHooks struct {
	OnRequestStart   func(ctx RequestContext)
	OnRequestDone    func(ctx RequestContext)
	OnRequestError   func(ctx RequestContext, err error)
	OnRequestTimeout func(ctx RequestContext)
}

// Merge returns hooks that call h first and then other.
func (h RequestHooks) Merge(other RequestHooks) RequestHooks {
	return RequestHooks{
		OnRequestStart:   chain(h.OnRequestStart, other.OnRequestStart),
		OnRequestDone:    chain(h.OnRequestDone, other.OnRequestDone),
		OnRequestError:   chainErr(h.OnRequestError, other.OnRequestError),
		OnRequestTimeout: chain(h.OnRequestTimeout, other.OnRequestTimeout),
	}
}

func chain(a, b func(RequestContext)) func(RequestContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErr(a, b func(RequestContext, error)) func(RequestContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx RequestContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h RequestHooks) start(rc RequestContext) {
	if h.OnRequestStart != nil {
		h.OnRequestStart(rc)
	}
}

func (h RequestHooks) done(rc RequestContext) {
	if h.OnRequestDone != nil {
		h.OnRequestDone(rc)
	}
}

func (h RequestHooks) failed(rc RequestContext, err error) {
	if h.OnRequestError != nil {
		h.OnRequestError(rc, err)
	}
}

func (h RequestHooks) timedOut(rc RequestContext) {
	if h.OnRequestTimeout != nil {
		h.OnRequestTimeout(rc)
	}
}

// LoggingHooks logs every request lifecycle event at debug, and failures at error.
func LoggingHooks(logger loggingpkg.ServiceLogger) RequestHooks {
	fields := func(rc RequestContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"topic":       rc.Topic,
			"channel":     rc.Channel,
			"nonce":       rc.Nonce,
			"duration_ms": rc.Duration.Milliseconds(),
		}
	}
	return RequestHooks{
		OnRequestStart: func(rc RequestContext) {
			logger.Debug("Request started", loggingpkg.LogFields{"topic": rc.Topic, "nonce": rc.Nonce})
		},
		OnRequestDone: func(rc RequestContext) {
			logger.Debug("Request completed", fields(rc))
		},
		OnRequestError: func(rc RequestContext, err error) {
			logger.Error("Request failed", err, fields(rc))
		},
		OnRequestTimeout: func(rc RequestContext) {
			logger.Warn("Request timed out", fields(rc))
		},
	}
}

// MetricsHooks forwards lifecycle events to per-topic counters.
func MetricsHooks(onStart, onDone, onError, onTimeout func(topic string)) RequestHooks {
	call := func(fn func(string)) func(RequestContext) {
		if fn == nil {
			return nil
		}
		return func(rc RequestContext) { fn(rc.Topic) }
	}
	hooks := RequestHooks{
		OnRequestStart:   call(onStart),
		OnRequestDone:    call(onDone),
		OnRequestTimeout: call(onTimeout),
	}
	if onError != nil {
		hooks.OnRequestError = func(rc RequestContext, _ error) { onError(rc.Topic) }
	}
	return hooks
}

// AlertingHooks calls alert for every failed request.
func AlertingHooks(alert func(ctx RequestContext, err error)) RequestHooks {
	return RequestHooks{OnRequestError: alert}
}
