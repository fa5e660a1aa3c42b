package router

import (
	"context"
	"sync/atomic"

	"github.com/drblury/relay/internal/runtime/envelope"
	"github.com/drblury/relay/internal/runtime/logging"
)

// Handler processes a request or event and returns the reply content. The
// result is ignored for one-way envelopes. A returned error is sent back to
// the caller as an error-wrapper reply.
type Handler func(ctx context.Context, env *envelope.Envelope) (any, error)

// InProcess delivers envelopes to a handler in the same process.
type InProcess struct {
	Notifier

	name    string
	handler Handler
	logger  logging.ServiceLogger

	dispatched  atomic.Int64
	initialized atomic.Bool
}

// NewInProcess builds a router named name. A nil handler acknowledges every
// request without replying; a nil logger discards logs.
func NewInProcess(name string, handler Handler, logger logging.ServiceLogger) *InProcess {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &InProcess{
		name:    name,
		handler: handler,
		logger:  logger.With(logging.LogFields{"router": name}),
	}
}

func (r *InProcess) Name() string { return r.name }

func (r *InProcess) Initialize(context.Context) error {
	r.initialized.Store(true)
	return nil
}

func (r *InProcess) Finalize(context.Context) error {
	r.initialized.Store(false)
	return nil
}

// Initialized reports whether Initialize ran without a later Finalize.
func (r *InProcess) Initialized() bool { return r.initialized.Load() }

// Dispatched returns the number of Dispatch calls served.
func (r *InProcess) Dispatched() int64 { return r.dispatched.Load() }

// Dispatch runs the handler. Replies addressed to this process are raised on
// the reply notification instead.
func (r *InProcess) Dispatch(ctx context.Context, env *envelope.Envelope) (Instruction, *envelope.Envelope, error) {
	r.dispatched.Add(1)

	if env.IsReply() {
		r.Notify(ctx, r, env)
		return InstructionNone, nil, nil
	}
	if r.handler == nil {
		r.logger.Debug("No handler, envelope acknowledged", logging.LogFields{"message_id": env.ID})
		return InstructionNone, nil, nil
	}

	result, err := r.handler(ctx, env)
	if env.OneWay {
		if err != nil {
			r.logger.Error("One-way handler failed", err, logging.LogFields{"message_id": env.ID})
		}
		return InstructionNone, nil, nil
	}
	if err != nil {
		return InstructionReply, envelope.NewReply(env, err), nil
	}
	return InstructionReply, envelope.NewReply(env, result), nil
}
