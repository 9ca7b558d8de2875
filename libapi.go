package protorelay

import (
	runtimepkg "github.com/drblury/protorelay/internal/runtime"
	configpkg "github.com/drblury/protorelay/internal/runtime/config"
	endpointspkg "github.com/drblury/protorelay/internal/runtime/endpoints"
	errspkg "github.com/drblury/protorelay/internal/runtime/errors"
	handlerpkg "github.com/drblury/protorelay/internal/runtime/handlers"
	idspkg "github.com/drblury/protorelay/internal/runtime/ids"
	jsoncodec "github.com/drblury/protorelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/protorelay/internal/runtime/logging"
	transportpkg "github.com/drblury/protorelay/internal/runtime/transport"
	bus "github.com/drblury/protorelay/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	State                = runtimepkg.State
	NodeInfo             = runtimepkg.NodeInfo
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	Topic           = runtimepkg.Topic
	Endpoint        = runtimepkg.Endpoint
	EndpointFactory = runtimepkg.EndpointFactory
	PayloadShaper   = runtimepkg.PayloadShaper
	Registry        = runtimepkg.Registry
	Request         = runtimepkg.Request
	Payload         = runtimepkg.Payload
	PayloadKind     = runtimepkg.PayloadKind
	RespondOption   = runtimepkg.RespondOption
	Reply           = runtimepkg.Reply
	Client          = runtimepkg.Client
	TaskSet         = runtimepkg.TaskSet

	JSONRequest[T any]  = handlerpkg.JSONRequest[T]
	JSONHandler[T any]  = handlerpkg.JSONHandler[T]
	JSONEndpoint[T any] = handlerpkg.JSONEndpoint[T]
	RequestBase         = handlerpkg.RequestBase
	HandlerFunc         = handlerpkg.Func

	IdentifyReply = endpointspkg.IdentifyReply

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Request lifecycle hooks
	RequestContext = runtimepkg.RequestContext
	RequestHooks   = runtimepkg.RequestHooks

	// Metrics
	RelayMetrics    = runtimepkg.RelayMetrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	ResourceUsage   = runtimepkg.ResourceUsage

	InvalidTopicError     = errspkg.InvalidTopicError
	MalformedMessageError = errspkg.MalformedMessageError
	EncodingError         = errspkg.EncodingError
	ConnectError          = errspkg.ConnectError
	TransportError        = errspkg.TransportError
	ConfigValidationError = errspkg.ConfigValidationError

	// Modular transport types
	TransportBuilder      = bus.Builder
	TransportConfig       = bus.Config
	TransportRegistry     = bus.Registry
	TransportCapabilities = bus.Capabilities
	Pinger                = bus.Pinger
	PingerFunc            = bus.PingerFunc
	PrefixSubscriber      = bus.PrefixSubscriber
)

const (
	StateDisconnected = runtimepkg.StateDisconnected
	StateSubscribing  = runtimepkg.StateSubscribing
	StateListening    = runtimepkg.StateListening
	StateReconnecting = runtimepkg.StateReconnecting

	RawPayload   = runtimepkg.RawPayload
	TypedPayload = runtimepkg.TypedPayload

	IdentifyTopic     = endpointspkg.IdentifyTopic
	InformationPrefix = endpointspkg.InformationPrefix

	DefaultRequestTimeout = runtimepkg.DefaultRequestTimeout
)

var (
	NewService     = runtimepkg.NewService
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewTopic           = runtimepkg.NewTopic
	TopicFromSegments  = runtimepkg.TopicFromSegments
	ParseTopic         = runtimepkg.ParseTopic
	MustTopic          = runtimepkg.MustTopic
	NewRegistry        = runtimepkg.NewRegistry
	NewRequest         = runtimepkg.NewRequest
	NewClient          = runtimepkg.NewClient
	NewTaskSet         = runtimepkg.NewTaskSet
	ReplyChannel       = runtimepkg.ReplyChannel
	WithChannel        = runtimepkg.WithChannel
	NewFuncEndpoint    = handlerpkg.NewFuncEndpoint
	RawEndpoint        = handlerpkg.Raw
	Identify           = endpointspkg.Identify
	Information        = endpointspkg.Information
	InformationTopic   = endpointspkg.InformationTopic
	Echo               = endpointspkg.Echo
	BuiltinEndpoints   = endpointspkg.Builtins
	NewRelayMetrics    = runtimepkg.NewRelayMetrics
	DefaultTransports  = transportpkg.DefaultFactory
	RegistryTransports = transportpkg.RegistryFactory

	// Request lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	// Transport capabilities
	GetCapabilities = bus.GetCapabilities

	// Modular transport registry. Transports register themselves on import:
	// _ "github.com/drblury/protorelay/transport/redis"
	DefaultTransportRegistry = bus.DefaultRegistry
	RegisterTransport        = bus.Register
	BuildTransport           = bus.Build
	ErrUnknownTransport      = bus.ErrUnknownTransport

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrEndpointRequired   = errspkg.ErrEndpointRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrTransportRequired  = errspkg.ErrTransportRequired
	ErrChannelRequired    = errspkg.ErrChannelRequired
	ErrDuplicateTopic     = errspkg.ErrDuplicateTopic
	ErrNoEndpoints        = errspkg.ErrNoEndpoints
	ErrRegistryFrozen     = errspkg.ErrRegistryFrozen
	ErrPayloadTypeNeeded  = errspkg.ErrPayloadTypeNeeded
	ErrPayloadPointer     = errspkg.ErrPayloadPointer
	ErrSubscriptionClosed = errspkg.ErrSubscriptionClosed
	ErrHeartbeatMissed    = errspkg.ErrHeartbeatMissed
	ErrHandlerTimeout     = errspkg.ErrHandlerTimeout
	ErrReplyTimeout       = errspkg.ErrReplyTimeout
	ErrInFlightLimit      = errspkg.ErrInFlightLimit
	ErrAlreadyStarted     = errspkg.ErrAlreadyStarted
	ErrClusterIDRequired  = endpointspkg.ErrClusterIDRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	CreateULID = idspkg.CreateULID
	NewNonce   = idspkg.NewNonce
)

// NewJSONEndpoint builds an endpoint whose request data is decoded into T.
func NewJSONEndpoint[T any](topic any, handler JSONHandler[T], logger ServiceLogger) (*JSONEndpoint[T], error) {
	return handlerpkg.NewJSONEndpoint(topic, handler, logger)
}

// JSON returns a factory for a typed endpoint, for use with Service.Discover.
func JSON[T any](topic any, handler JSONHandler[T]) EndpointFactory {
	return handlerpkg.JSON(topic, handler)
}

// PayloadAs returns the request payload as T.
func PayloadAs[T any](req *Request) (T, error) {
	return handlerpkg.PayloadAs[T](req)
}
