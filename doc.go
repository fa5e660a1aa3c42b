// Package relay is a message broker for request/reply and publish/subscribe
// between applications. A Broker hands envelopes to routers, each of which
// owns one way of delivering them: in the same process, or over a Watermill
// transport (Kafka, RabbitMQ, AWS SNS/SQS, NATS, HTTP or Go channels).
//
// Requests look synchronous to the caller. Dispatch sends the envelope and
// waits until the reply arrives, the peer reports a failure, the request
// times out or the caller's context ends. Events and other one-way envelopes
// return as soon as they are handed to the routers.
//
// Routers are matched against recipient endpoints by regular expression or
// a custom Matcher, in priority order. Envelopes without recipients, and
// recipients nobody claimed, go to the fallback router. An envelope for
// recipients spread over several routers is fanned out concurrently, one
// call per router.
//
// A reply that arrives on a router with no request waiting for it is routed
// onward once, which lets a process forward replies for requests it relayed.
// The relay-redirected property stops it from travelling further.
//
// # Transports
//
// Importing relay registers every built-in transport. Declare transport
// routers in Config.Routers and the broker builds them on Initialize:
//   - channel: In-memory bus shared by every broker in the process
//   - kafka: Consumer-group backed topics
//   - rabbitmq: AMQP durable queues
//   - aws: SNS topics with SQS subscriptions, LocalStack supported
//   - nats: Core NATS subjects
//   - nats-jetstream: Durable NATS consumers on one JetStream stream
//   - redis: Redis Streams read through consumer groups
//   - http: Webhook style delivery between processes
//
// # Observability
//
// The broker exports Prometheus metrics, opens OpenTelemetry spans around
// dispatches and replies, and calls DispatchHooks on dispatch, reply,
// timeout and redirect. Set Config.StatusAddress to serve a JSON status
// page and /metrics.
package relay
