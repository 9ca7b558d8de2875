/*
Package runtime implements the relay node: topic routing, the request
dispatch loop, reply correlation and the connection lifecycle.

# Architecture Overview

A Service owns one registry of endpoints and one bus connection at a time.
Start freezes the registry, subscribes every registered topic and runs the
receive loop until its context ends. Each inbound envelope is decoded,
routed to its endpoint and handled on its own goroutine under the handler
timeout. A non-nil result is published on REPLY:<nonce>.

# Package Structure

## Topics and Registry (topic.go, registry.go)

Topics are ordered segments whose canonical form is upper-cased and joined
with ":". The registry maps canonical topics to endpoints, rejects
duplicates, and becomes lock-free for reads once frozen. Resolve falls back
to the first segment of a channel, so arguments can ride in the topic. Such
channels only arrive when the transport implements PrefixSubscriber, which
dispatch.go uses for every single-segment topic.

## Wire Codec (codec.go)

Request and reply envelopes, payload coercion into an endpoint's typed
payload, and the reply channel naming.

## Requests (request.go, client.go)

Request carries the nonce, payload and receive time; Respond publishes on
the reply channel or an explicit one. Client is the requesting side: it
subscribes to its reply channel before publishing.

## Dispatch and Lifecycle (dispatch.go, lifecycle.go, taskset.go)

The receive loop, heartbeat and per-request tasks; reconnection with
exponential backoff that keeps the registry; graceful shutdown that drains
the TaskSet.

## Observability (hooks.go, metrics.go, resources.go, introspect.go)

Request hooks, Prometheus collectors, process resource sampling, and the
/metrics, /healthz and /info HTTP handlers.

# Sub-packages

  - config/: environment configuration with validation
  - endpoints/: IDENTIFY and CLUSTER_<id> endpoints
  - errors/: sentinel and typed errors
  - handlers/: typed JSON and function endpoints
  - ids/: ULID nonces
  - jsoncodec/: JSON encoding
  - logging/: logger interface and adapters
  - transport/: transport factory over the bus registry

# Usage Example

	cfg, _ := config.Load()
	svc := runtime.NewService(cfg, logger, runtime.ServiceDependencies{})
	svc.Discover(endpoints.Builtins()...)
	err := svc.Start(ctx)
*/
package runtime
