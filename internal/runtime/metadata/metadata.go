// Package metadata holds the transport headers relay attaches to every
// watermill message it publishes.
package metadata

import (
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Header keys. The envelope travels in the payload; these mirror the routing
// fields so brokers and operators can inspect a message without decoding it.
const (
	KeyMessageID   = "relay_message_id"
	KeyReplyTo     = "relay_reply_to"
	KeySender      = "relay_sender"
	KeyContentType = "relay_content_type"
	KeyOneWay      = "relay_one_way"
	KeyPriority    = "relay_priority"
	KeyTraceID     = "trace_id"
)

// Metadata represents the headers carried alongside an envelope.
type Metadata map[string]string

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns a shallow copy. The result is never nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a copy containing key=value. Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// Bool reads a header written by SetBool.
func (m Metadata) Bool(key string) bool {
	v, err := strconv.ParseBool(m[key])
	return err == nil && v
}

// SetBool stores a boolean header. False removes the key.
func (m Metadata) SetBool(key string, value bool) {
	if !value {
		delete(m, key)
		return
	}
	m[key] = strconv.FormatBool(value)
}

// FromWatermill copies watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies the headers into a new watermill metadata map.
func ToWatermill(md Metadata) message.Metadata {
	result := make(message.Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}
