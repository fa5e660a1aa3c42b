package runtime

import (
	"context"
	"time"

	"github.com/drblury/relay/internal/runtime/envelope"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
)

// DispatchInfo describes one broker event to hooks.
type DispatchInfo struct {
	// Context is the context of the dispatch or of the reply notification.
	Context context.Context
	// Envelope is the request, or the reply for OnReply and OnRedirect.
	Envelope *envelope.Envelope
	// Router names the router involved. Empty when none was.
	Router string
	// StartedAt is when the dispatch or the request began.
	StartedAt time.Time
	// Duration is the router call time for OnDispatch and the request
	// round trip for OnReply and OnTimeout.
	Duration time.Duration
}

// DispatchHooks defines callbacks for broker events.
// All hooks are optional - nil hooks are simply not called.
type DispatchHooks struct {
	// OnDispatch is called after a router returned from Dispatch. err is the
	// router's error.
	OnDispatch func(info DispatchInfo, err error)

	// OnReply is called when a reply resolved a pending request.
	OnReply func(info DispatchInfo)

	// OnTimeout is called when a request expired without reply.
	OnTimeout func(info DispatchInfo)

	// OnRedirect is called when a reply without pending request is routed
	// onward.
	OnRedirect func(info DispatchInfo)
}

// Merge combines two DispatchHooks. The hooks from 'other' are called after
// the hooks from 'h'.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDispatch: chainErrorHooks(h.OnDispatch, other.OnDispatch),
		OnReply:    chainHooks(h.OnReply, other.OnReply),
		OnTimeout:  chainHooks(h.OnTimeout, other.OnTimeout),
		OnRedirect: chainHooks(h.OnRedirect, other.OnRedirect),
	}
}

func chainHooks(a, b func(DispatchInfo)) func(DispatchInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(DispatchInfo, error)) func(DispatchInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info DispatchInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

func (h DispatchHooks) dispatched(info DispatchInfo, err error) {
	if h.OnDispatch != nil {
		h.OnDispatch(info, err)
	}
}

func (h DispatchHooks) replied(info DispatchInfo) {
	if h.OnReply != nil {
		h.OnReply(info)
	}
}

func (h DispatchHooks) timedOut(info DispatchInfo) {
	if h.OnTimeout != nil {
		h.OnTimeout(info)
	}
}

func (h DispatchHooks) redirected(info DispatchInfo) {
	if h.OnRedirect != nil {
		h.OnRedirect(info)
	}
}

// LoggingHooks returns pre-built hooks that log broker events.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnDispatch: func(info DispatchInfo, err error) {
			fields := infoFields(info)
			if err != nil {
				logger.Error("Dispatch failed", err, fields)
				return
			}
			logger.Debug("Dispatched", fields)
		},
		OnReply: func(info DispatchInfo) {
			logger.Debug("Reply received", infoFields(info))
		},
		OnTimeout: func(info DispatchInfo) {
			logger.Info("Request timed out", infoFields(info))
		},
		OnRedirect: func(info DispatchInfo) {
			logger.Info("Reply redirected", infoFields(info))
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on failed
// dispatches and timeouts.
func AlertingHooks(alertFunc func(info DispatchInfo, err error)) DispatchHooks {
	return DispatchHooks{
		OnDispatch: func(info DispatchInfo, err error) {
			if err != nil {
				alertFunc(info, err)
			}
		},
		OnTimeout: func(info DispatchInfo) {
			timeout := info.Duration
			if info.Envelope != nil {
				timeout = info.Envelope.Timeout
			}
			alertFunc(info, &TimeoutError{Timeout: timeout, Envelope: info.Envelope})
		},
	}
}

func infoFields(info DispatchInfo) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"router":      info.Router,
		"duration_ms": info.Duration.Milliseconds(),
	}
	if info.Envelope != nil {
		fields["message_id"] = info.Envelope.ID
		if info.Envelope.ReplyToMessageID != "" {
			fields["reply_to"] = info.Envelope.ReplyToMessageID
		}
	}
	return fields
}
