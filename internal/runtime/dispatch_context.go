package runtime

import (
	"context"
	"time"

	"github.com/drblury/relay/internal/runtime/endpoint"
	"github.com/drblury/relay/internal/runtime/envelope"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/router"
)

// DispatchContext builds one outbound envelope. Obtain it from
// Broker.NewContext, configure it with the fluent setters and send it with
// Dispatch, DispatchAsync or Publish.
//
// A DispatchContext is not safe for concurrent use. Disposing it does not
// affect the envelope, which may outlive the context once sent.
type DispatchContext struct {
	broker *Broker
	env    *envelope.Envelope
	input  router.Router
}

// Configure adjusts a DispatchContext before it is sent.
type Configure func(c *DispatchContext)

// NewContext starts an envelope carrying content, sent from the broker
// endpoint with the configured default timeout.
func (b *Broker) NewContext(content any) *DispatchContext {
	env := envelope.New(content)
	env.Sender = b.endpoint
	env.Timeout = b.conf.DefaultTimeout
	return &DispatchContext{broker: b, env: env}
}

// ContextFor wraps an envelope built elsewhere.
func (b *Broker) ContextFor(env *envelope.Envelope) *DispatchContext {
	return &DispatchContext{broker: b, env: env}
}

// Envelope returns the envelope being built.
func (c *DispatchContext) Envelope() *envelope.Envelope { return c.env }

// InputRouter returns the router the triggering message arrived on, if any.
func (c *DispatchContext) InputRouter() router.Router { return c.input }

// From sets the sender.
func (c *DispatchContext) From(sender endpoint.Endpoint) *DispatchContext {
	c.env.Sender = sender
	return c
}

// To replaces the recipients.
func (c *DispatchContext) To(recipients ...endpoint.Endpoint) *DispatchContext {
	c.env.SetRecipients(recipients...)
	return c
}

// OneWay marks the envelope as not expecting a reply.
func (c *DispatchContext) OneWay() *DispatchContext {
	c.env.OneWay = true
	return c
}

// ReplyTo makes the envelope the reply to the message with id messageID.
func (c *DispatchContext) ReplyTo(messageID string) *DispatchContext {
	c.env.ReplyToMessageID = messageID
	return c
}

// Timeout overrides the reply timeout.
func (c *DispatchContext) Timeout(d time.Duration) *DispatchContext {
	c.env.Timeout = d
	return c
}

// WithoutTimeout waits for the reply indefinitely. The caller's context
// still bounds the wait.
func (c *DispatchContext) WithoutTimeout() *DispatchContext {
	c.env.Timeout = 0
	return c
}

// Priority sets the delivery priority.
func (c *DispatchContext) Priority(p envelope.Priority) *DispatchContext {
	c.env.Priority = p
	return c
}

// Property sets a free-form property.
func (c *DispatchContext) Property(key string, value any) *DispatchContext {
	c.env.SetProperty(key, value)
	return c
}

// Content replaces the payload. Event content makes the envelope one-way.
func (c *DispatchContext) Content(content any) *DispatchContext {
	c.env.SetContent(content)
	return c
}

// BearerToken attaches a token for the receiving side.
func (c *DispatchContext) BearerToken(token string) *DispatchContext {
	c.env.BearerToken = token
	return c
}

// Trace sets the trace id.
func (c *DispatchContext) Trace(trace string) *DispatchContext {
	c.env.Trace = trace
	return c
}

// WithInputRouter records the router the triggering message arrived on. A
// reply redirected through this context is not bounced back to it.
func (c *DispatchContext) WithInputRouter(r router.Router) *DispatchContext {
	c.input = r
	return c
}

// Dispatch sends the envelope and waits for the reply content. One-way
// envelopes return nil as soon as they are handed to the routers.
func (c *DispatchContext) Dispatch(ctx context.Context) (any, error) {
	pending, err := c.DispatchAsync(ctx)
	if err != nil {
		return nil, err
	}
	return pending.Wait(ctx)
}

// DispatchAsync sends the envelope. For requests the returned Pending
// resolves with the reply; one-way envelopes return a nil Pending.
func (c *DispatchContext) DispatchAsync(ctx context.Context) (*Pending, error) {
	if c.broker == nil {
		return nil, errspkg.ErrContextDisposed
	}
	if c.input != nil {
		ctx = router.WithInput(ctx, c.input)
	}
	return c.broker.send(ctx, c.env)
}

// Publish sends the envelope one-way.
func (c *DispatchContext) Publish(ctx context.Context) error {
	c.OneWay()
	_, err := c.DispatchAsync(ctx)
	return err
}

// Dispose releases the broker. Later sends fail.
func (c *DispatchContext) Dispose() {
	c.broker = nil
	c.input = nil
}
