package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired   = sterrors.New("protorelay: relay service is required")
	ErrEndpointRequired  = sterrors.New("protorelay: endpoint is required")
	ErrHandlerRequired   = sterrors.New("protorelay: handler function is required")
	ErrPublisherRequired = sterrors.New("protorelay: publisher is required")
	ErrTopicRequired     = sterrors.New("protorelay: topic is required")
	ErrConfigRequired    = sterrors.New("protorelay: configuration is required")
	ErrLoggerRequired    = sterrors.New("protorelay: logger is required")
	ErrTransportRequired = sterrors.New("protorelay: transport is required")

	// ErrChannelRequired is returned by Respond when the request carries no
	// nonce and no explicit reply channel was given.
	ErrChannelRequired = sterrors.New("protorelay: channel must be provided if lacking nonce")

	ErrDuplicateTopic    = sterrors.New("protorelay: topic already claimed by another endpoint")
	ErrNoEndpoints       = sterrors.New("protorelay: no endpoints registered")
	ErrRegistryFrozen    = sterrors.New("protorelay: registry is frozen once the service is listening")
	ErrPayloadTypeNeeded = sterrors.New("protorelay: payload type is required")
	ErrPayloadPointer    = sterrors.New("protorelay: payload type must be a pointer")

	ErrSubscriptionClosed = sterrors.New("protorelay: subscription channel closed")
	ErrHeartbeatMissed    = sterrors.New("protorelay: heartbeat missed")
	ErrHandlerTimeout     = sterrors.New("protorelay: handler exceeded process time")
	ErrReplyTimeout       = sterrors.New("protorelay: no reply received before timeout")
	ErrInFlightLimit      = sterrors.New("protorelay: in-flight handler limit reached")
	ErrAlreadyStarted     = sterrors.New("protorelay: service already started")
)

// InvalidTopicError reports a topic that could not be constructed.
type InvalidTopicError struct {
	Input  any
	Reason string
}

func (e *InvalidTopicError) Error() string {
	return fmt.Sprintf("protorelay: invalid topic %#v: %s", e.Input, e.Reason)
}

// MalformedMessageError wraps an inbound body that could not be decoded into
// an envelope or coerced into the endpoint payload.
type MalformedMessageError struct {
	Channel string
	Err     error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("protorelay: malformed message on %s: %v", e.Channel, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// EncodingError is returned when reply data cannot be serialized.
type EncodingError struct {
	Value any
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("protorelay: cannot encode %T: %v", e.Value, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ConnectError is returned by Start when the bus cannot be reached at all.
type ConnectError struct {
	Transport string
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("protorelay: failed to connect %s transport: %v", e.Transport, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError marks a connection loss detected while listening.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Channel == "" {
		return "protorelay: transport error: " + e.Err.Error()
	}
	return fmt.Sprintf("protorelay: transport error on %s: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigValidationError wraps the joined configuration problems.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "protorelay: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }
