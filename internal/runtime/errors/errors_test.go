package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrorsArePrefixed(t *testing.T) {
	for _, err := range []error{
		ErrContentRequired,
		ErrRecipientsRequired,
		ErrAmbiguousRecipients,
		ErrNoFallbackRouter,
		ErrNotInitialized,
		ErrFinalizing,
		ErrTimeout,
	} {
		assert.Contains(t, err.Error(), "relay: ")
	}
}

func TestUnhandledRecipientsError(t *testing.T) {
	err := &UnhandledRecipientsError{Recipients: []string{"app://./a", "app://./b"}}

	assert.Equal(t, "relay: no router handles recipients [app://./a, app://./b]", err.Error())
	assert.True(t, errors.Is(err, ErrUnhandledRecipients))
	assert.False(t, errors.Is(err, ErrNoFallbackRouter))
}

func TestRemoteError(t *testing.T) {
	err := &RemoteError{Kind: "validation", Message: "quantity must be positive"}

	assert.Equal(t, "relay: remote failure (validation): quantity must be positive", err.Error())
	assert.True(t, errors.Is(err, ErrRemote))

	var remote *RemoteError
	assert.True(t, errors.As(errors.Join(errors.New("other"), err), &remote))
	assert.Equal(t, "validation", remote.Kind)

	assert.Equal(t, "relay: remote failure: boom", (&RemoteError{Message: "boom"}).Error())
}

func TestRouterInitError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &RouterInitError{Router: "kafka", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `router "kafka"`)
}
