// Package handlers adapts typed Go functions into relay endpoints.
package handlers

import (
	"context"
	"fmt"
	"reflect"

	runtimepkg "github.com/drblury/protorelay/internal/runtime"
	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
)

// JSONRequest is the typed view of a request handed to a JSONHandler.
type JSONRequest[T any] struct {
	RequestBase
	Payload T
}

// JSONHandler processes a decoded payload. Returning a nil result sends no reply.
type JSONHandler[T any] func(ctx context.Context, req JSONRequest[T]) (any, error)

// JSONEndpoint decodes request data into T, which must be a pointer type,
// before calling its handler.
type JSONEndpoint[T any] struct {
	topic      runtimepkg.Topic
	handler    JSONHandler[T]
	logger     loggingpkg.ServiceLogger
	newPayload func() T
}

// NewJSONEndpoint builds a typed endpoint. topic may be a string, a segment
// slice or a Topic.
func NewJSONEndpoint[T any](topic any, handler JSONHandler[T], logger loggingpkg.ServiceLogger) (*JSONEndpoint[T], error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	t, err := runtimepkg.ParseTopic(topic)
	if err != nil {
		return nil, err
	}
	factory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}
	return &JSONEndpoint[T]{topic: t, handler: handler, logger: logger, newPayload: factory}, nil
}

func (e *JSONEndpoint[T]) Topic() runtimepkg.Topic { return e.topic }

// NewPayload lets the dispatcher decode data straight into T.
func (e *JSONEndpoint[T]) NewPayload() any { return e.newPayload() }

func (e *JSONEndpoint[T]) Handle(ctx context.Context, req *runtimepkg.Request) (any, error) {
	payload, err := PayloadAs[T](req)
	if err != nil {
		return nil, err
	}
	return e.handler(ctx, JSONRequest[T]{RequestBase: newRequestBase(req, e.logger), Payload: payload})
}

// JSON returns a factory for a typed endpoint that logs through the service logger.
func JSON[T any](topic any, handler JSONHandler[T]) runtimepkg.EndpointFactory {
	return func(svc *runtimepkg.Service) (runtimepkg.Endpoint, error) {
		ep, err := NewJSONEndpoint(topic, handler, svc.Logger)
		if err != nil {
			return nil, err
		}
		return ep, nil
	}
}

// PayloadAs returns the request payload as T. A payload already decoded into
// T is returned as is; anything else is decoded from the raw data.
func PayloadAs[T any](req *runtimepkg.Request) (T, error) {
	if typed, ok := req.Payload.Value.(T); ok {
		return typed, nil
	}

	var zero T
	factory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return zero, err
	}
	out := factory()
	if err := req.Decode(out); err != nil {
		return zero, &errspkg.MalformedMessageError{Channel: req.Channel, Err: fmt.Errorf("decode %T: %w", out, err)}
	}
	return out, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeNeeded
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointer
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

// Func handles a request with its generically decoded payload.
type Func func(ctx context.Context, req *runtimepkg.Request) (any, error)

type funcEndpoint struct {
	topic runtimepkg.Topic
	fn    Func
}

func (e funcEndpoint) Topic() runtimepkg.Topic { return e.topic }

func (e funcEndpoint) Handle(ctx context.Context, req *runtimepkg.Request) (any, error) {
	return e.fn(ctx, req)
}

// NewFuncEndpoint wraps fn as an endpoint on topic.
func NewFuncEndpoint(topic any, fn Func) (runtimepkg.Endpoint, error) {
	if fn == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	t, err := runtimepkg.ParseTopic(topic)
	if err != nil {
		return nil, err
	}
	return funcEndpoint{topic: t, fn: fn}, nil
}

// Raw returns a factory for NewFuncEndpoint.
func Raw(topic any, fn Func) runtimepkg.EndpointFactory {
	return func(*runtimepkg.Service) (runtimepkg.Endpoint, error) {
		return NewFuncEndpoint(topic, fn)
	}
}
