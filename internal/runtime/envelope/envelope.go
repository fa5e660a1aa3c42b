// Package envelope defines the unit of transmission handled by the broker.
//
// An Envelope carries routing metadata (identity, sender, recipients,
// correlation fields, timeout, priority) around an opaque content value. The
// broker never inspects content beyond two markers: Event, which makes a send
// one-way, and ErrorContent, which a peer uses to report a failure in a reply.
package envelope

import (
	"fmt"
	"maps"
	"time"

	"github.com/drblury/relay/internal/runtime/endpoint"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
)

// DefaultTimeout applies to envelopes created with New.
const DefaultTimeout = 30 * time.Second

// Event marks content that announces something happened. Sending an event
// never expects a reply.
type Event interface {
	EventName() string
}

// Priority orders envelopes for transports that support prioritised delivery.
type Priority int

const (
	PriorityLowest  Priority = -2
	PriorityLow     Priority = -1
	PriorityNormal  Priority = 0
	PriorityHigh    Priority = 1
	PriorityHighest Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Envelope wraps a message with the metadata needed to route it.
//
// Recipients and content are only reachable through methods so the
// invariants tying them to OneWay hold. A zero Timeout waits indefinitely.
type Envelope struct {
	ID               string
	Sender           endpoint.Endpoint
	OneWay           bool
	Timeout          time.Duration
	ReplyToMessageID string
	BearerToken      string
	Properties       map[string]any
	Priority         Priority
	Trace            string

	recipients []endpoint.Endpoint
	content    any
}

// New creates an envelope with a fresh id and the default timeout.
func New(content any) *Envelope {
	env := &Envelope{
		ID:      idspkg.NewMessageID(),
		Timeout: DefaultTimeout,
	}
	return env.SetContent(content)
}

// NewReply creates the reply to request. The reply is addressed to the
// request sender, is itself one-way and carries the request trace. An error
// content is wrapped into ErrorContent.
func NewReply(request *Envelope, content any) *Envelope {
	if err, ok := content.(error); ok {
		content = NewErrorContent(err)
	}
	reply := &Envelope{
		ID:               idspkg.NewMessageID(),
		ReplyToMessageID: request.ID,
		OneWay:           true,
		Priority:         request.Priority,
		Trace:            request.Trace,
		content:          content,
	}
	if !request.Sender.IsZero() {
		reply.recipients = []endpoint.Endpoint{request.Sender}
	}
	return reply
}

// Content returns the payload.
func (e *Envelope) Content() any { return e.content }

// SetContent replaces the payload. Event content forces the envelope one-way.
func (e *Envelope) SetContent(content any) *Envelope {
	e.content = content
	if _, ok := content.(Event); ok {
		e.OneWay = true
	}
	return e
}

// IsEvent reports whether the content is an Event.
func (e *Envelope) IsEvent() bool {
	_, ok := e.content.(Event)
	return ok
}

// IsReply reports whether the envelope answers another envelope.
func (e *Envelope) IsReply() bool { return e.ReplyToMessageID != "" }

// Recipients returns a copy of the ordered recipient set.
func (e *Envelope) Recipients() []endpoint.Endpoint {
	if len(e.recipients) == 0 {
		return nil
	}
	return append([]endpoint.Endpoint(nil), e.recipients...)
}

// RecipientCount returns the number of recipients without copying them.
func (e *Envelope) RecipientCount() int { return len(e.recipients) }

// SetRecipients materialises recipients once. Zero endpoints and duplicate
// URLs are dropped; order of first occurrence is kept.
func (e *Envelope) SetRecipients(recipients ...endpoint.Endpoint) *Envelope {
	e.recipients = dedupe(recipients)
	return e
}

func dedupe(recipients []endpoint.Endpoint) []endpoint.Endpoint {
	if len(recipients) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(recipients))
	out := make([]endpoint.Endpoint, 0, len(recipients))
	for _, r := range recipients {
		if r.IsZero() {
			continue
		}
		if _, ok := seen[r.String()]; ok {
			continue
		}
		seen[r.String()] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Property returns a property value.
func (e *Envelope) Property(key string) (any, bool) {
	if e.Properties == nil {
		return nil, false
	}
	v, ok := e.Properties[key]
	return v, ok
}

// SetProperty stores a property value, allocating the map on first use.
func (e *Envelope) SetProperty(key string, value any) *Envelope {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	e.Properties[key] = value
	return e
}

// Clone copies the envelope with a new properties map. The content reference
// is shared.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Properties = maps.Clone(e.Properties)
	clone.recipients = e.Recipients()
	return &clone
}

// CloneWithRecipients is Clone with the recipient set replaced.
func (e *Envelope) CloneWithRecipients(recipients []endpoint.Endpoint) *Envelope {
	clone := e.Clone()
	clone.recipients = dedupe(recipients)
	return clone
}

func (e *Envelope) String() string {
	return fmt.Sprintf("envelope{id=%s content=%T recipients=%d one_way=%t reply_to=%s}",
		e.ID, e.content, len(e.recipients), e.OneWay, e.ReplyToMessageID)
}

// ErrorContent is the reply payload reporting that processing failed.
type ErrorContent struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// NewErrorContent wraps err for transmission. Remote errors keep their kind.
func NewErrorContent(err error) ErrorContent {
	if remote, ok := err.(*errspkg.RemoteError); ok {
		return ErrorContent{Kind: remote.Kind, Message: remote.Message}
	}
	return ErrorContent{Kind: fmt.Sprintf("%T", err), Message: err.Error()}
}

// Err converts the wrapped failure into a typed messaging error.
func (c ErrorContent) Err() error {
	return &errspkg.RemoteError{Kind: c.Kind, Message: c.Message}
}

// AsError returns the failure carried by content, if content is an ErrorContent.
func AsError(content any) (error, bool) {
	switch c := content.(type) {
	case ErrorContent:
		return c.Err(), true
	case *ErrorContent:
		if c == nil {
			return nil, false
		}
		return c.Err(), true
	default:
		return nil, false
	}
}
