package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/relay/internal/runtime/endpoint"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/router"
)

func entryNames(table *routerTable) []string {
	names := make([]string, 0, len(table.entries))
	for _, e := range table.entries {
		names = append(names, e.name)
	}
	return names
}

func TestBuildRouterTableKeepsDeclaredOrder(t *testing.T) {
	slow, fast, last := newFakeRouter("slow"), newFakeRouter("fast"), newFakeRouter("last")
	slow.initDelay = 30 * time.Millisecond

	table, err := buildRouterTable(context.Background(), []Registration{
		{Router: last, Priority: 10},
		{Router: slow},
		{Router: fast},
	}, newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"slow", "fast", "last"}, entryNames(table))
}

func TestBuildRouterTableInitializesConcurrently(t *testing.T) {
	regs := make([]Registration, 5)
	for i := range regs {
		r := newFakeRouter("r")
		r.initDelay = 50 * time.Millisecond
		regs[i] = Registration{Router: r, Name: string(rune('a' + i))}
	}

	started := time.Now()
	_, err := buildRouterTable(context.Background(), regs, newTestLogger())
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 200*time.Millisecond)
}

func TestBuildRouterTableDropsOptionalFailures(t *testing.T) {
	broken := newFakeRouter("broken")
	broken.initErr = errors.New("unreachable")
	healthy := newFakeRouter("healthy")
	log := newTestLogger()

	table, err := buildRouterTable(context.Background(), []Registration{
		{Router: broken, Optional: true},
		{Router: healthy, Fallback: true},
	}, log)
	require.NoError(t, err)

	assert.Equal(t, []string{"healthy"}, entryNames(table))
	assert.Equal(t, 1, log.count("Optional router dropped"))
}

func TestBuildRouterTableFailsAndFinalizesInitialized(t *testing.T) {
	broken := newFakeRouter("broken")
	broken.initErr = errors.New("unreachable")
	healthy := newFakeRouter("healthy")

	_, err := buildRouterTable(context.Background(), []Registration{
		{Router: healthy},
		{Router: broken},
	}, newTestLogger())

	var initErr *errspkg.RouterInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "broken", initErr.Router)
	assert.ErrorContains(t, err, "unreachable")
	assert.Equal(t, int32(1), healthy.finalizeCalls.Load())
	assert.Zero(t, broken.finalizeCalls.Load())
}

func TestInitializeFailureMarksBrokerFailed(t *testing.T) {
	broken := newFakeRouter("broken")
	broken.initErr = errors.New("unreachable")
	b := newTestBroker(t, newTestLogger(), []Registration{{Router: broken}})

	require.Error(t, b.Initialize(context.Background()))
	assert.Equal(t, StateFailed, b.State())

	broken.initErr = nil
	require.NoError(t, b.Initialize(context.Background()))
	assert.Equal(t, StateCompleted, b.State())
	require.NoError(t, b.Finalize(context.Background()))
}

func TestFactoryRegistrations(t *testing.T) {
	built := newFakeRouter("built")
	var calls int
	table, err := buildRouterTable(context.Background(), []Registration{
		{Name: "lazy", Factory: func(context.Context) (router.Router, error) {
			calls++
			return built, nil
		}},
		{Name: "absent", Factory: func(context.Context) (router.Router, error) { return nil, nil }},
	}, newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"lazy"}, entryNames(table))
	assert.Equal(t, int32(1), built.initCalls.Load())

	_, err = buildRouterTable(context.Background(), []Registration{{Name: "empty"}}, newTestLogger())
	assert.ErrorIs(t, err, errspkg.ErrRouterRequired)

	_, err = buildRouterTable(context.Background(), []Registration{{Name: "failing", Factory: func(context.Context) (router.Router, error) {
		return nil, errors.New("dial failed")
	}}}, newTestLogger())
	assert.ErrorContains(t, err, "dial failed")
}

func TestSharedRouterInitializedOnce(t *testing.T) {
	shared := newFakeRouter("shared")
	table, err := buildRouterTable(context.Background(), []Registration{
		{Name: "inventory", Router: shared, Pattern: "inventory"},
		{Name: "billing", Router: shared, Pattern: "billing"},
	}, newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, int32(1), shared.initCalls.Load())
	assert.Len(t, table.routers(), 1)

	groups, err := table.selectRouters([]endpoint.Endpoint{inventoryEndpoint, billingEndpoint})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].recipients, 2)

	require.NoError(t, table.finalize(context.Background(), newTestLogger()))
	assert.Equal(t, int32(1), shared.finalizeCalls.Load())
}

func TestInvalidPatternFailsInitialization(t *testing.T) {
	_, err := buildRouterTable(context.Background(), []Registration{{Router: newFakeRouter("bad"), Pattern: "("}}, newTestLogger())
	assert.ErrorContains(t, err, "invalid router pattern")
}

func TestMatchProvider(t *testing.T) {
	var seen Registration
	provider := func(_ context.Context, reg Registration) (Matcher, error) {
		seen = reg
		return MatcherFunc(func(ep endpoint.Endpoint) bool { return ep.AppID() == "billing" }), nil
	}
	table, err := buildRouterTable(context.Background(), []Registration{
		{Name: "billing", Router: newFakeRouter("billing"), MatchProvider: provider},
	}, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "billing", seen.Name)

	groups, err := table.selectRouters([]endpoint.Endpoint{billingEndpoint})
	require.NoError(t, err)
	assert.Equal(t, "billing", groups[0].entry.name)

	_, err = buildRouterTable(context.Background(), []Registration{{
		Router:        newFakeRouter("x"),
		MatchProvider: func(context.Context, Registration) (Matcher, error) { return nil, errors.New("no rules") },
	}}, newTestLogger())
	assert.ErrorContains(t, err, "match provider: no rules")
}

func TestSelectRouters(t *testing.T) {
	inventory, fallback := newFakeRouter("inventory"), newFakeRouter("fallback")
	table, err := buildRouterTable(context.Background(), []Registration{
		{Router: inventory, Pattern: "^app://\\./inventory"},
		{Router: fallback, Fallback: true},
	}, newTestLogger())
	require.NoError(t, err)

	groups, err := table.selectRouters(nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "fallback", groups[0].entry.name)
	assert.Empty(t, groups[0].recipients)

	groups, err = table.selectRouters([]endpoint.Endpoint{billingEndpoint, inventoryEndpoint, ordersEndpoint})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "fallback", groups[0].entry.name)
	assert.Equal(t, []endpoint.Endpoint{billingEndpoint, ordersEndpoint}, groups[0].recipients)
	assert.Equal(t, "inventory", groups[1].entry.name)
	assert.Equal(t, []endpoint.Endpoint{inventoryEndpoint}, groups[1].recipients)
}

func TestSelectRoutersReportsEveryUnhandledRecipient(t *testing.T) {
	table, err := buildRouterTable(context.Background(), []Registration{
		{Router: newFakeRouter("inventory"), Pattern: "inventory"},
	}, newTestLogger())
	require.NoError(t, err)

	_, err = table.selectRouters(nil)
	assert.ErrorIs(t, err, errspkg.ErrNoFallbackRouter)

	_, err = table.selectRouters([]endpoint.Endpoint{billingEndpoint, inventoryEndpoint, ordersEndpoint})
	var unhandled *errspkg.UnhandledRecipientsError
	require.ErrorAs(t, err, &unhandled)
	assert.Equal(t, []string{billingEndpoint.String(), ordersEndpoint.String()}, unhandled.Recipients)
	assert.ErrorIs(t, err, errspkg.ErrUnhandledRecipients)
}

func TestPatternMatcher(t *testing.T) {
	m, err := NewPatternMatcher("/billing$")
	require.NoError(t, err)
	assert.True(t, m.Match(billingEndpoint))
	assert.False(t, m.Match(endpoint.New("billing", "b-1", "")))
	assert.Equal(t, "/billing$", m.String())
}
