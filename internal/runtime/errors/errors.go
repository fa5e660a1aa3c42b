package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrContentRequired     = sterrors.New("relay: message content is required unless replying")
	ErrRecipientsRequired  = sterrors.New("relay: at least one recipient is required for a request")
	ErrAmbiguousRecipients = sterrors.New("relay: a request expecting a reply must have exactly one recipient")
	ErrNoFallbackRouter    = sterrors.New("relay: no fallback router is registered")
	ErrUnhandledRecipients = sterrors.New("relay: no router handles the recipients")
	ErrNotInitialized      = sterrors.New("relay: broker is not initialized")
	ErrAlreadyInitialized  = sterrors.New("relay: broker is already initialized")
	ErrFinalizing          = sterrors.New("relay: broker finalization in progress")
	ErrTimeout             = sterrors.New("relay: timed out waiting for reply")
	ErrRemote              = sterrors.New("relay: remote failure")
	ErrConfigRequired      = sterrors.New("relay: configuration is required")
	ErrLoggerRequired      = sterrors.New("relay: logger is required")
	ErrRouterRequired      = sterrors.New("relay: router or router factory is required")
	ErrRouterNameRequired  = sterrors.New("relay: router name is required")
	ErrPublisherRequired   = sterrors.New("relay: publisher is required")
	ErrSubscriberRequired  = sterrors.New("relay: subscriber is required")
	ErrDuplicateMessageID  = sterrors.New("relay: a request with this message id is already pending")
	ErrContextDisposed     = sterrors.New("relay: dispatch context is disposed")
)

// UnhandledRecipientsError lists every recipient no router accepted.
type UnhandledRecipientsError struct {
	Recipients []string
}

func (e *UnhandledRecipientsError) Error() string {
	return fmt.Sprintf("relay: no router handles recipients [%s]", strings.Join(e.Recipients, ", "))
}

// Is implements errors.Is for UnhandledRecipientsError.
func (e *UnhandledRecipientsError) Is(target error) bool {
	return target == ErrUnhandledRecipients
}

// RemoteError carries a failure reported by the peer that processed a request.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("relay: remote failure: %s", e.Message)
	}
	return fmt.Sprintf("relay: remote failure (%s): %s", e.Kind, e.Message)
}

// Is implements errors.Is for RemoteError.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// RouterInitError reports a router that failed to initialize.
type RouterInitError struct {
	Router string
	Cause  error
}

func (e *RouterInitError) Error() string {
	return fmt.Sprintf("relay: router %q failed to initialize: %v", e.Router, e.Cause)
}

func (e *RouterInitError) Unwrap() error {
	return e.Cause
}
