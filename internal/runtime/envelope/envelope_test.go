package envelope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/endpoint"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
)

type orderPlaced struct{ ID string }

func (orderPlaced) EventName() string { return "order.placed" }

type getOrder struct{ ID string }

func TestNewDefaults(t *testing.T) {
	env := New(getOrder{ID: "1"})

	assert.Len(t, env.ID, 26)
	assert.Equal(t, DefaultTimeout, env.Timeout)
	assert.False(t, env.OneWay)
	assert.False(t, env.IsEvent())
	assert.Equal(t, PriorityNormal, env.Priority)
}

func TestEventContentForcesOneWay(t *testing.T) {
	env := New(orderPlaced{ID: "1"})
	assert.True(t, env.OneWay)
	assert.True(t, env.IsEvent())

	req := New(getOrder{})
	req.SetContent(orderPlaced{})
	assert.True(t, req.OneWay)
}

func TestSetRecipientsMaterialisesOnce(t *testing.T) {
	a := endpoint.New("a", "", "")
	b := endpoint.New("b", "", "")
	input := []endpoint.Endpoint{a, b, a, {}}

	env := New(getOrder{}).SetRecipients(input...)
	input[0] = endpoint.New("mutated", "", "")

	got := env.Recipients()
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(a))
	assert.True(t, got[1].Equal(b))

	got[0] = endpoint.New("other", "", "")
	assert.True(t, env.Recipients()[0].Equal(a))
}

func TestSetRecipientsEmpty(t *testing.T) {
	env := New(getOrder{}).SetRecipients()
	assert.Nil(t, env.Recipients())
	assert.Zero(t, env.RecipientCount())
}

func TestCloneIsIndependent(t *testing.T) {
	content := &getOrder{ID: "1"}
	env := New(content).SetRecipients(endpoint.New("a", "", ""), endpoint.New("b", "", ""))
	env.SetProperty("tenant", "acme")

	clone := env.CloneWithRecipients([]endpoint.Endpoint{endpoint.New("b", "", "")})
	clone.SetProperty("tenant", "other")

	assert.Equal(t, env.ID, clone.ID)
	assert.Same(t, content, clone.Content())
	assert.Equal(t, 1, clone.RecipientCount())
	assert.Equal(t, 2, env.RecipientCount())

	tenant, _ := env.Property("tenant")
	assert.Equal(t, "acme", tenant)
}

func TestNewReply(t *testing.T) {
	sender := endpoint.New("client", "c-1", "")
	req := New(getOrder{ID: "1"})
	req.Sender = sender
	req.Trace = "trace-1"
	req.Priority = PriorityHigh

	reply := NewReply(req, "done")

	assert.NotEqual(t, req.ID, reply.ID)
	assert.Equal(t, req.ID, reply.ReplyToMessageID)
	assert.True(t, reply.IsReply())
	assert.True(t, reply.OneWay)
	assert.Equal(t, "trace-1", reply.Trace)
	assert.Equal(t, PriorityHigh, reply.Priority)
	require.Len(t, reply.Recipients(), 1)
	assert.True(t, reply.Recipients()[0].Equal(sender))
	assert.Equal(t, "done", reply.Content())
}

func TestNewReplyWrapsErrors(t *testing.T) {
	reply := NewReply(New(getOrder{}), errors.New("not found"))

	content, ok := reply.Content().(ErrorContent)
	require.True(t, ok)
	assert.Equal(t, "not found", content.Message)
	assert.Equal(t, "*errors.errorString", content.Kind)

	err, ok := AsError(reply.Content())
	require.True(t, ok)
	assert.ErrorIs(t, err, errspkg.ErrRemote)
}

func TestNewErrorContentKeepsRemoteKind(t *testing.T) {
	content := NewErrorContent(&errspkg.RemoteError{Kind: "validation", Message: "bad"})
	assert.Equal(t, ErrorContent{Kind: "validation", Message: "bad"}, content)
}

func TestAsError(t *testing.T) {
	_, ok := AsError("plain")
	assert.False(t, ok)

	_, ok = AsError((*ErrorContent)(nil))
	assert.False(t, ok)

	err, ok := AsError(&ErrorContent{Message: "boom"})
	require.True(t, ok)
	assert.EqualError(t, err, "relay: remote failure: boom")
}

func TestPriorityString(t *testing.T) {
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "priority(7)", Priority(7).String())
}
