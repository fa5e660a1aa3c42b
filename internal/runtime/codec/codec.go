// Package codec converts envelopes to and from watermill messages.
//
// The envelope is written as a JSON document. Content is tagged with a type
// name so the receiving side can rebuild the concrete Go value: protobuf
// messages travel as a google.protobuf.Any, other values are looked up in the
// codec's type registry. Unregistered content decodes as generic JSON.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/drblury/relay/internal/runtime/endpoint"
	"github.com/drblury/relay/internal/runtime/envelope"
	"github.com/drblury/relay/internal/runtime/metadata"
)

const (
	// ContentTypeProto marks content encoded as a protojson Any.
	ContentTypeProto = "proto"
	// ContentTypeError marks an error-wrapper reply.
	ContentTypeError = "relay.error"
)

var (
	ErrNilEnvelope = errors.New("codec: envelope is nil")
	ErrNilMessage  = errors.New("codec: message is nil")
)

var jsonAPI = sonic.ConfigStd

type wireEnvelope struct {
	ID          string              `json:"id"`
	Sender      endpoint.Endpoint   `json:"sender,omitempty"`
	Recipients  []endpoint.Endpoint `json:"recipients,omitempty"`
	OneWay      bool                `json:"one_way,omitempty"`
	TimeoutMS   int64               `json:"timeout_ms,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	BearerToken string              `json:"bearer_token,omitempty"`
	Properties  map[string]any      `json:"properties,omitempty"`
	Priority    envelope.Priority   `json:"priority,omitempty"`
	Trace       string              `json:"trace,omitempty"`
	ContentType string              `json:"content_type,omitempty"`
	Content     json.RawMessage     `json:"content,omitempty"`
}

// Codec is safe for concurrent use. Register content types before the first
// message is decoded.
type Codec struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// New returns a codec with the error-wrapper content pre-registered.
func New() *Codec {
	c := &Codec{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	c.Register(ContentTypeError, envelope.ErrorContent{})
	return c
}

// Register associates name with the dynamic type of sample. Pointer samples
// decode as pointers. An empty name defaults to the event name for events and
// to the Go type name otherwise.
func (c *Codec) Register(name string, sample any) {
	if sample == nil {
		return
	}
	t := reflect.TypeOf(sample)
	if name == "" {
		name = defaultName(sample)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[name] = t
	c.byType[t] = name
}

// ContentType returns the name content is tagged with on the wire.
func (c *Codec) ContentType(content any) string {
	if content == nil {
		return ""
	}
	if _, ok := content.(proto.Message); ok {
		return ContentTypeProto
	}
	c.mu.RLock()
	name, ok := c.byType[reflect.TypeOf(content)]
	c.mu.RUnlock()
	if ok {
		return name
	}
	return defaultName(content)
}

func defaultName(content any) string {
	if ev, ok := content.(envelope.Event); ok && ev.EventName() != "" {
		return ev.EventName()
	}
	return reflect.TypeOf(content).String()
}

// Marshal writes env as a JSON document.
func (c *Codec) Marshal(env *envelope.Envelope) ([]byte, error) {
	if env == nil {
		return nil, ErrNilEnvelope
	}
	wire := wireEnvelope{
		ID:          env.ID,
		Sender:      env.Sender,
		Recipients:  env.Recipients(),
		OneWay:      env.OneWay,
		TimeoutMS:   env.Timeout.Milliseconds(),
		ReplyTo:     env.ReplyToMessageID,
		BearerToken: env.BearerToken,
		Properties:  env.Properties,
		Priority:    env.Priority,
		Trace:       env.Trace,
	}
	if content := env.Content(); content != nil {
		raw, err := c.marshalContent(content)
		if err != nil {
			return nil, fmt.Errorf("codec: encode content %T: %w", content, err)
		}
		wire.ContentType = c.ContentType(content)
		wire.Content = raw
	}
	return jsonAPI.Marshal(wire)
}

func (c *Codec) marshalContent(content any) ([]byte, error) {
	if pm, ok := content.(proto.Message); ok {
		packed, err := anypb.New(pm)
		if err != nil {
			return nil, err
		}
		return protojson.Marshal(packed)
	}
	return jsonAPI.Marshal(content)
}

// Unmarshal rebuilds an envelope from a document written by Marshal.
func (c *Codec) Unmarshal(data []byte) (*envelope.Envelope, error) {
	var wire wireEnvelope
	if err := jsonAPI.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("codec: decode envelope: %w", err)
	}

	env := &envelope.Envelope{
		ID:               wire.ID,
		Sender:           wire.Sender,
		OneWay:           wire.OneWay,
		Timeout:          time.Duration(wire.TimeoutMS) * time.Millisecond,
		ReplyToMessageID: wire.ReplyTo,
		BearerToken:      wire.BearerToken,
		Properties:       wire.Properties,
		Priority:         wire.Priority,
		Trace:            wire.Trace,
	}
	env.SetRecipients(wire.Recipients...)

	if len(wire.Content) > 0 {
		content, err := c.unmarshalContent(wire.ContentType, wire.Content)
		if err != nil {
			return nil, fmt.Errorf("codec: decode content %q: %w", wire.ContentType, err)
		}
		env.SetContent(content)
	}
	return env, nil
}

func (c *Codec) unmarshalContent(contentType string, raw []byte) (any, error) {
	if contentType == ContentTypeProto {
		var packed anypb.Any
		if err := protojson.Unmarshal(raw, &packed); err != nil {
			return nil, err
		}
		return packed.UnmarshalNew()
	}

	c.mu.RLock()
	t, ok := c.byName[contentType]
	c.mu.RUnlock()
	if !ok {
		var generic any
		if err := jsonAPI.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		return generic, nil
	}

	if t.Kind() == reflect.Pointer {
		target := reflect.New(t.Elem())
		if err := jsonAPI.Unmarshal(raw, target.Interface()); err != nil {
			return nil, err
		}
		return target.Interface(), nil
	}
	target := reflect.New(t)
	if err := jsonAPI.Unmarshal(raw, target.Interface()); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}

// Encode builds a watermill message carrying env. The watermill UUID is the
// envelope id.
func (c *Codec) Encode(env *envelope.Envelope) (*message.Message, error) {
	payload, err := c.Marshal(env)
	if err != nil {
		return nil, err
	}
	msg := message.NewMessage(env.ID, payload)
	msg.Metadata = metadata.ToWatermill(Headers(env, c.ContentType(env.Content())))
	return msg, nil
}

// Decode rebuilds the envelope carried by msg.
func (c *Codec) Decode(msg *message.Message) (*envelope.Envelope, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	return c.Unmarshal(msg.Payload)
}

// Headers mirrors the routing fields of env as transport metadata.
func Headers(env *envelope.Envelope, contentType string) metadata.Metadata {
	md := metadata.New(
		metadata.KeyMessageID, env.ID,
		metadata.KeyPriority, strconv.Itoa(int(env.Priority)),
	).
		With(metadata.KeyReplyTo, env.ReplyToMessageID).
		With(metadata.KeySender, env.Sender.String()).
		With(metadata.KeyContentType, contentType).
		With(metadata.KeyTraceID, env.Trace)
	md.SetBool(metadata.KeyOneWay, env.OneWay)
	return md
}
