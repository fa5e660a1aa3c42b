/*
Package runtime provides the message broker at the core of relay.

# Architecture Overview

The broker dispatches envelopes to one or more routers, correlates the
replies routers report back with the requests waiting for them, enforces
per-request timeouts and routes replies that have no waiting request onward.
Request/reply looks synchronous to the caller while every router underneath
stays asynchronous.

	caller -> DispatchContext -> Broker (validate) -> router table (select)
	       -> Router.Dispatch -> wire ... -> reply notification
	       -> correlation table -> caller

# Package Structure

## Broker (broker.go)

The Broker owns the lifecycle state machine (not started, initializing,
completed, failed, finalizing), validates envelopes before any network
activity and fans them out to routers. One-way sends never report router
failures to the caller; requests resolve exactly once with the reply, a
remote error, a timeout or the routing failure.

## Dispatch Context (dispatch_context.go)

Fluent builder for one outbound envelope: recipients, timeout, priority,
properties and the input router used to stop replies bouncing between
routers.

## Router Registry (registry.go)

Registrations are turned into an ordered, immutable table at
initialization. Routers initialize concurrently; optional routers that fail
are dropped. Recipients are matched by regular expression or a pluggable
matcher, and grouped per router for fan-out.

## Correlation Table (correlation.go)

Pending requests keyed by message id. Whichever of reply, timeout, failure,
cancellation or finalization removes a slot first resolves it.

## Configured Routers (configured.go)

Builds transport routers for the routers declared in config, using the
transport registry.

## Observability (metrics.go, tracing.go, hooks.go, status.go)

  - Metrics: Prometheus counters and histograms per router and per reply outcome
  - Tracing: OpenTelemetry spans around dispatches and replies
  - Hooks: callbacks on dispatch, reply, timeout and redirect
  - Status: JSON status and /metrics over HTTP

# Sub-packages

  - codec/: Envelope wire encoding
  - config/: Broker configuration with validation
  - endpoint/: Endpoint addresses
  - envelope/: The message envelope
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for message IDs
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - router/: Router contract, in-process and transport routers

# Usage Example

	cfg := &relay.Config{
		AppID: "orders",
		Routers: []relay.RouterConfig{
			{Name: "bus", Transport: "kafka", Fallback: true},
		},
		KafkaBrokers: []string{"localhost:9092"},
	}

	broker, err := relay.NewBroker(cfg, logger, relay.BrokerDependencies{})
	if err != nil {
		return err
	}
	if err := broker.Initialize(ctx); err != nil {
		return err
	}
	defer broker.Finalize(context.Background())

	reply, err := broker.Dispatch(ctx, GetOrder{ID: "42"}, func(c *relay.DispatchContext) {
		c.To(relay.NewEndpoint("inventory", "", ""))
	})
*/
package runtime
