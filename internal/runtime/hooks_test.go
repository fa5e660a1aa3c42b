package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/envelope"
	"github.com/drblury/relay/internal/runtime/router"
)

func TestDispatchHooks_OnDispatch(t *testing.T) {
	var captured DispatchInfo
	var capturedErr error
	done := make(chan struct{})

	hooks := DispatchHooks{
		OnDispatch: func(info DispatchInfo, err error) {
			captured, capturedErr = info, err
			close(done)
		},
	}
	r := newFakeRouter("bus")
	r.onDispatch = func(context.Context, *fakeRouter, *envelope.Envelope) (router.Instruction, *envelope.Envelope, error) {
		time.Sleep(5 * time.Millisecond)
		return router.InstructionNone, nil, errors.New("handler error")
	}
	b := startTestBroker(t, newTestLogger(), []Registration{{Router: r, Fallback: true}}, withHooks(hooks))

	require.NoError(t, b.Publish(context.Background(), orderPlaced{ID: "1"}))
	<-done

	assert.EqualError(t, capturedErr, "handler error")
	assert.Equal(t, "bus", captured.Router)
	assert.NotNil(t, captured.Envelope)
	assert.False(t, captured.StartedAt.IsZero())
	assert.GreaterOrEqual(t, captured.Duration, 5*time.Millisecond)
}

func TestDispatchHooks_OnReply(t *testing.T) {
	var captured DispatchInfo
	replied := make(chan struct{})
	hooks := DispatchHooks{OnReply: func(info DispatchInfo) {
		captured = info
		close(replied)
	}}
	r := newFakeRouter("bus")
	r.onDispatch = replyWith("pong")
	b := startTestBroker(t, newTestLogger(), []Registration{{Router: r, Fallback: true}}, withHooks(hooks))

	pending, err := b.DispatchAsync(context.Background(), getOrder{}, func(c *DispatchContext) { c.To(inventoryEndpoint) })
	require.NoError(t, err)
	_, err = pending.Wait(context.Background())
	require.NoError(t, err)
	<-replied

	assert.Equal(t, pending.ID(), captured.Envelope.ReplyToMessageID)
	assert.Equal(t, "bus", captured.Router)
}

func TestDispatchHooks_Merge(t *testing.T) {
	var order []string

	hooks1 := DispatchHooks{
		OnReply:   func(DispatchInfo) { order = append(order, "reply1") },
		OnTimeout: func(DispatchInfo) { order = append(order, "timeout1") },
	}
	hooks2 := DispatchHooks{
		OnReply:    func(DispatchInfo) { order = append(order, "reply2") },
		OnRedirect: func(DispatchInfo) { order = append(order, "redirect2") },
		OnDispatch: func(DispatchInfo, error) { order = append(order, "dispatch2") },
	}

	merged := hooks1.Merge(hooks2)
	merged.replied(DispatchInfo{})
	merged.timedOut(DispatchInfo{})
	merged.redirected(DispatchInfo{})
	merged.dispatched(DispatchInfo{}, nil)

	assert.Equal(t, []string{"reply1", "reply2", "timeout1", "redirect2", "dispatch2"}, order)
}

func TestDispatchHooks_MergeWithNil(t *testing.T) {
	var called bool
	hooks := DispatchHooks{OnReply: func(DispatchInfo) { called = true }}

	DispatchHooks{}.Merge(hooks).replied(DispatchInfo{})
	assert.True(t, called)

	empty := DispatchHooks{}.Merge(DispatchHooks{})
	assert.Nil(t, empty.OnReply)
	assert.Nil(t, empty.OnDispatch)
	empty.dispatched(DispatchInfo{}, errors.New("ignored"))
}

func TestLoggingHooks(t *testing.T) {
	log := newTestLogger()
	hooks := LoggingHooks(log)
	env := envelope.New(getOrder{})

	hooks.OnDispatch(DispatchInfo{Envelope: env, Router: "bus"}, nil)
	hooks.OnDispatch(DispatchInfo{Envelope: env, Router: "bus"}, errors.New("boom"))
	hooks.OnReply(DispatchInfo{Envelope: envelope.NewReply(env, "ok")})
	hooks.OnTimeout(DispatchInfo{Envelope: env})
	hooks.OnRedirect(DispatchInfo{Envelope: env})

	assert.Equal(t, 1, log.count("Dispatched"))
	assert.Equal(t, 1, log.count("Dispatch failed"))
	assert.Equal(t, 1, log.count("Reply received"))
	assert.Equal(t, 1, log.count("Request timed out"))
	assert.Equal(t, 1, log.count("Reply redirected"))

	log.recorder.mu.Lock()
	defer log.recorder.mu.Unlock()
	assert.Equal(t, env.ID, log.recorder.logs[0].fields["message_id"])
	assert.Equal(t, env.ID, log.recorder.logs[2].fields["reply_to"])
}

func TestAlertingHooks(t *testing.T) {
	var alerts []error
	hooks := AlertingHooks(func(_ DispatchInfo, err error) { alerts = append(alerts, err) })

	hooks.OnDispatch(DispatchInfo{}, nil)
	hooks.OnDispatch(DispatchInfo{}, errors.New("boom"))
	env := envelope.New(getOrder{})
	env.Timeout = time.Second
	hooks.OnTimeout(DispatchInfo{Envelope: env})

	require.Len(t, alerts, 2)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, alerts[1], &timeoutErr)
	assert.Equal(t, time.Second, timeoutErr.Timeout)
	assert.Nil(t, hooks.OnReply)
}
