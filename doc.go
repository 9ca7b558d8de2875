// Package protorelay answers request/reply traffic carried over a pub/sub bus.
// A node subscribes to the topics of its registered endpoints, decodes each
// inbound {"nonce","data"} envelope, runs the matching endpoint under a
// deadline, and publishes the result on REPLY:<nonce> together with its
// cluster id.
//
// Service owns the registry, the bus connection and the in-flight handlers.
// A minimal node fills Config (or calls LoadConfig), creates a Service,
// registers endpoints with RegisterEndpoint or Discover, and calls Start,
// which blocks until its context is cancelled.
//
// # Transports
//
// The bus is chosen by Config.PubSubSystem:
//   - redis: Redis pub/sub via go-redis
//   - nats: core NATS subjects
//   - rabbitmq: AMQP fanout exchanges
//   - channel: in-memory Go channels for tests and single-process use
//
// A lost connection is rebuilt with exponential backoff. The registry is
// kept across reconnects, so every topic resumes without rediscovery.
//
// # Endpoints
//
// An Endpoint names its Topic and handles a *Request. JSON and
// NewJSONEndpoint decode the request data into a typed payload first;
// NewFuncEndpoint and RawEndpoint receive the generically decoded value.
// Returning nil sends no reply. Request.Respond publishes additional or
// early replies. On transports that subscribe by prefix (channel, redis),
// single-segment topics route by prefix as well, so VERIFYALL:123 reaches
// the VERIFYALL endpoint. On nats and rabbitmq only exact channels arrive.
//
// BuiltinEndpoints registers IDENTIFY and CLUSTER_<id>, which report the
// node's cluster id and runtime information.
//
// # Hooks and metrics
//
// RequestHooks observe every request (start, done, error, timeout).
// With MetricsEnabled the node serves Prometheus metrics on /metrics and
// its connection state on /healthz.
package protorelay
