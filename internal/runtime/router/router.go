// Package router defines the contract between the broker and the components
// that physically deliver envelopes.
package router

import (
	"context"
	"sync"

	"github.com/drblury/relay/internal/runtime/envelope"
)

// Instruction tells the broker what to do with the envelope a router returns
// from Dispatch.
type Instruction int

const (
	// InstructionNone means the router has nothing further for the broker.
	InstructionNone Instruction = iota
	// InstructionReply means the returned envelope is a reply and must be
	// handled as if it had been raised through the reply notification.
	InstructionReply
)

func (i Instruction) String() string {
	switch i {
	case InstructionNone:
		return "none"
	case InstructionReply:
		return "reply"
	default:
		return "unknown"
	}
}

// ReplyReceivedFunc receives replies a router collected from the wire.
type ReplyReceivedFunc func(ctx context.Context, source Router, reply *envelope.Envelope)

// Router delivers envelopes over one transport.
//
// Dispatch must not mutate env. Routers may invoke reply callbacks from any
// goroutine, concurrently with Dispatch.
type Router interface {
	Name() string
	Initialize(ctx context.Context) error
	Dispatch(ctx context.Context, env *envelope.Envelope) (Instruction, *envelope.Envelope, error)
	OnReplyReceived(fn ReplyReceivedFunc) (unsubscribe func())
	Finalize(ctx context.Context) error
}

// Notifier implements the reply subscription half of Router. Embed it and
// call Notify when a reply arrives.
type Notifier struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]ReplyReceivedFunc
}

// OnReplyReceived registers fn. The returned func removes it and is safe to
// call more than once.
func (n *Notifier) OnReplyReceived(fn ReplyReceivedFunc) func() {
	if fn == nil {
		return func() {}
	}
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[uint64]ReplyReceivedFunc)
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Notify hands reply to every subscriber. It reports whether anyone listened.
func (n *Notifier) Notify(ctx context.Context, source Router, reply *envelope.Envelope) bool {
	n.mu.RLock()
	subs := make([]ReplyReceivedFunc, 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.RUnlock()

	for _, fn := range subs {
		fn(ctx, source, reply)
	}
	return len(subs) > 0
}

// Subscribers returns the number of registered callbacks.
func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

type inputKey struct{}

// WithInput tags ctx with the router an inbound envelope arrived on.
func WithInput(ctx context.Context, r Router) context.Context {
	return context.WithValue(ctx, inputKey{}, r)
}

// InputFrom returns the router ctx was tagged with.
func InputFrom(ctx context.Context) (Router, bool) {
	if ctx == nil {
		return nil, false
	}
	r, ok := ctx.Value(inputKey{}).(Router)
	return r, ok && r != nil
}
