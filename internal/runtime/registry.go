package runtime

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/drblury/relay/internal/runtime/endpoint"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/router"
)

// Matcher decides whether a router is responsible for a recipient.
type Matcher interface {
	Match(recipient endpoint.Endpoint) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(recipient endpoint.Endpoint) bool

func (f MatcherFunc) Match(recipient endpoint.Endpoint) bool { return f(recipient) }

// PatternMatcher matches the recipient URL against a regular expression.
type PatternMatcher struct {
	re *regexp.Regexp
}

// NewPatternMatcher compiles pattern.
func NewPatternMatcher(pattern string) (*PatternMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid router pattern %q: %w", pattern, err)
	}
	return &PatternMatcher{re: re}, nil
}

func (m *PatternMatcher) Match(recipient endpoint.Endpoint) bool {
	return m.re.MatchString(recipient.String())
}

func (m *PatternMatcher) String() string { return m.re.String() }

// MatchProvider supplies the matcher of a registration without a Pattern.
// Returning a nil matcher leaves the router reachable only as fallback.
type MatchProvider func(ctx context.Context, reg Registration) (Matcher, error)

// RouterFactory instantiates a router when the broker initializes.
type RouterFactory func(ctx context.Context) (router.Router, error)

// Registration declares a router and the recipients it serves.
type Registration struct {
	// Name labels the router in logs and metrics. Defaults to Router.Name().
	Name string
	// Pattern is a regular expression over the recipient URL.
	Pattern string
	// MatchProvider is consulted when Pattern is empty.
	MatchProvider MatchProvider
	// Fallback routers take envelopes without recipients and match every
	// recipient not claimed by an earlier entry.
	Fallback bool
	// Optional routers are dropped when they fail to initialize.
	Optional bool
	// Priority orders entries for matching, lower first. Ties keep
	// registration order.
	Priority int

	// Router is used as is. Otherwise Factory is called at initialization;
	// a factory returning a nil router excludes the entry.
	Router  router.Router
	Factory RouterFactory
}

type routeEntry struct {
	name     string
	pattern  string
	fallback bool
	optional bool
	priority int
	matcher  Matcher
	router   router.Router
}

func (e *routeEntry) matches(recipient endpoint.Endpoint) bool {
	return e.fallback || (e.matcher != nil && e.matcher.Match(recipient))
}

// routerTable is built once per initialization and read without locks.
type routerTable struct {
	entries  []*routeEntry
	fallback *routeEntry
}

type buildResult struct {
	entry *routeEntry
	err   error
}

// initOnce makes sure a router shared by several registrations is
// initialized a single time.
type initOnce struct {
	mu    sync.Mutex
	calls map[router.Router]*initCall
}

type initCall struct {
	once sync.Once
	err  error
}

func (o *initOnce) initialize(ctx context.Context, r router.Router) error {
	o.mu.Lock()
	call, ok := o.calls[r]
	if !ok {
		call = &initCall{}
		o.calls[r] = call
	}
	o.mu.Unlock()

	call.once.Do(func() { call.err = r.Initialize(ctx) })
	return call.err
}

// buildRouterTable instantiates and initializes every registration
// concurrently. Entries keep their declared order whatever the completion
// order.
func buildRouterTable(ctx context.Context, regs []Registration, logger loggingpkg.ServiceLogger) (*routerTable, error) {
	ordered := append([]Registration(nil), regs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	results := make([]buildResult, len(ordered))
	once := &initOnce{calls: make(map[router.Router]*initCall)}

	var wg sync.WaitGroup
	for i, reg := range ordered {
		wg.Add(1)
		go func(i int, reg Registration) {
			defer wg.Done()
			entry, err := buildEntry(ctx, reg, once)
			results[i] = buildResult{entry: entry, err: err}
		}(i, reg)
	}
	wg.Wait()

	table := &routerTable{}
	var errs []error
	for i, res := range results {
		reg := ordered[i]
		switch {
		case res.err != nil && reg.Optional:
			logger.Error("Optional router dropped", res.err, loggingpkg.LogFields{"router": registrationName(reg, res.entry)})
		case res.err != nil:
			errs = append(errs, &errspkg.RouterInitError{Router: registrationName(reg, res.entry), Cause: res.err})
		case res.entry == nil:
			logger.Info("Router factory returned no router, entry excluded", loggingpkg.LogFields{"router": reg.Name})
		default:
			table.entries = append(table.entries, res.entry)
			if res.entry.fallback && table.fallback == nil {
				table.fallback = res.entry
			}
		}
	}

	if len(errs) > 0 {
		if err := table.finalize(ctx, logger); err != nil {
			errs = append(errs, err)
		}
		return nil, errors.Join(errs...)
	}
	return table, nil
}

func buildEntry(ctx context.Context, reg Registration, once *initOnce) (*routeEntry, error) {
	if reg.Router == nil && reg.Factory == nil {
		return nil, errspkg.ErrRouterRequired
	}

	var matcher Matcher
	switch {
	case reg.Pattern != "":
		m, err := NewPatternMatcher(reg.Pattern)
		if err != nil {
			return nil, err
		}
		matcher = m
	case reg.MatchProvider != nil:
		m, err := reg.MatchProvider(ctx, reg)
		if err != nil {
			return nil, fmt.Errorf("match provider: %w", err)
		}
		matcher = m
	}

	r := reg.Router
	if r == nil {
		built, err := reg.Factory(ctx)
		if err != nil {
			return nil, err
		}
		if built == nil {
			return nil, nil
		}
		r = built
	}

	name := reg.Name
	if name == "" {
		name = r.Name()
	}
	entry := &routeEntry{
		name:     name,
		pattern:  reg.Pattern,
		fallback: reg.Fallback,
		optional: reg.Optional,
		priority: reg.Priority,
		matcher:  matcher,
		router:   r,
	}
	if err := once.initialize(ctx, r); err != nil {
		return entry, err
	}
	return entry, nil
}

func registrationName(reg Registration, entry *routeEntry) string {
	switch {
	case entry != nil:
		return entry.name
	case reg.Name == "" && reg.Router != nil:
		return reg.Router.Name()
	default:
		return reg.Name
	}
}

// routers returns every distinct router in table order.
func (t *routerTable) routers() []router.Router {
	seen := make(map[router.Router]struct{}, len(t.entries))
	out := make([]router.Router, 0, len(t.entries))
	for _, e := range t.entries {
		if _, ok := seen[e.router]; ok {
			continue
		}
		seen[e.router] = struct{}{}
		out = append(out, e.router)
	}
	return out
}

// finalize calls Finalize on every router. One failure does not stop the
// others; all failures are joined.
func (t *routerTable) finalize(ctx context.Context, logger loggingpkg.ServiceLogger) error {
	var errs []error
	for _, r := range t.routers() {
		if err := r.Finalize(ctx); err != nil {
			logger.Error("Router finalize failed", err, loggingpkg.LogFields{"router": r.Name()})
			errs = append(errs, fmt.Errorf("router %s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// dispatchGroup is the share of an envelope's recipients one router
// delivers.
type dispatchGroup struct {
	entry      *routeEntry
	recipients []endpoint.Endpoint
}

// selectRouters picks the router of every recipient. Recipients served by
// the same router end up in one group; groups keep first-seen order.
func (t *routerTable) selectRouters(recipients []endpoint.Endpoint) ([]dispatchGroup, error) {
	if len(recipients) == 0 {
		if t.fallback == nil {
			return nil, errspkg.ErrNoFallbackRouter
		}
		return []dispatchGroup{{entry: t.fallback}}, nil
	}

	var groups []dispatchGroup
	index := make(map[router.Router]int)
	var unhandled []string

	for _, recipient := range recipients {
		entry := t.match(recipient)
		if entry == nil {
			unhandled = append(unhandled, recipient.String())
			continue
		}
		i, ok := index[entry.router]
		if !ok {
			i = len(groups)
			index[entry.router] = i
			groups = append(groups, dispatchGroup{entry: entry})
		}
		groups[i].recipients = append(groups[i].recipients, recipient)
	}

	if len(unhandled) > 0 {
		return nil, &errspkg.UnhandledRecipientsError{Recipients: unhandled}
	}
	return groups, nil
}

func (t *routerTable) match(recipient endpoint.Endpoint) *routeEntry {
	for _, e := range t.entries {
		if e.matches(recipient) {
			return e
		}
	}
	return nil
}
