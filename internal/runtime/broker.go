package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relay/internal/runtime/codec"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	"github.com/drblury/relay/internal/runtime/endpoint"
	"github.com/drblury/relay/internal/runtime/envelope"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/router"
	"github.com/drblury/relay/transport"
)

// RedirectedProperty marks a reply the broker already routed onward once.
// Transport routers carry it across the wire so a peer does not bounce the
// reply back.
const RedirectedProperty = "relay-redirected"

// State is a broker lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateInitializing
	StateCompleted
	StateFailed
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInitializing:
		return "initializing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BrokerDependencies holds the optional collaborators of a Broker.
// Leave fields nil to use the defaults.
type BrokerDependencies struct {
	// Routers are registered ahead of the routers declared in the config.
	Routers []Registration
	// Transports builds the configured transport routers. Defaults to
	// transport.DefaultRegistry.
	Transports *transport.Registry
	// Codec encodes envelopes for transport routers.
	Codec *codec.Codec
	// Handler serves requests arriving on configured transport routers.
	Handler router.Handler
	Hooks   DispatchHooks
	// Registerer receives the broker metrics when metrics are enabled.
	Registerer prometheus.Registerer
	// Gatherer backs the /metrics endpoint. Defaults to the registerer
	// when it is a Gatherer, else the default gatherer.
	Gatherer       prometheus.Gatherer
	TracerProvider trace.TracerProvider
}

// Broker dispatches envelopes to routers and correlates their replies.
type Broker struct {
	conf     configpkg.Config
	logger   loggingpkg.ServiceLogger
	endpoint endpoint.Endpoint

	registrations []Registration
	hooks         DispatchHooks
	metrics       *Metrics
	gatherer      prometheus.Gatherer
	resources     *resourceSampler
	tracer        trace.Tracer
	pending       *correlationTable

	mu    sync.RWMutex
	state State
	run   *brokerRun
}

// brokerRun is the state of one Initialize/Finalize cycle.
type brokerRun struct {
	table       *routerTable
	unsubscribe []func()
	inflight    *sync.WaitGroup
	status      *http.Server
}

// NewBroker validates conf and constructs an uninitialized broker.
func NewBroker(conf *configpkg.Config, logger loggingpkg.ServiceLogger, deps BrokerDependencies) (*Broker, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	resolved := conf.WithDefaults()
	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("relay: invalid config: %w", err)
	}

	ep := endpoint.New(resolved.AppID, resolved.AppInstanceID, "")
	b := &Broker{
		conf:      resolved,
		endpoint:  ep,
		logger:    logger.With(loggingpkg.LogFields{"broker": ep.String()}),
		hooks:     deps.Hooks,
		tracer:    newTracer(deps.TracerProvider),
		resources: newResourceSampler(),
	}
	b.metrics = NewMetrics(resolved.MetricsNamespace, deps.Registerer)
	if resolved.MetricsEnabled {
		if err := b.metrics.Register(); err != nil {
			return nil, fmt.Errorf("relay: register metrics: %w", err)
		}
	}
	b.gatherer = deps.Gatherer
	if b.gatherer == nil {
		if g, ok := deps.Registerer.(prometheus.Gatherer); ok {
			b.gatherer = g
		} else {
			b.gatherer = prometheus.DefaultGatherer
		}
	}
	b.pending = newCorrelationTable(b.onTimeout, b.metrics.SetPending)

	b.registrations = append(b.registrations, deps.Routers...)
	transportOpts := TransportOptions{
		Registry:       deps.Transports,
		Codec:          deps.Codec,
		Handler:        deps.Handler,
		TracerProvider: deps.TracerProvider,
	}
	if resolved.MetricsEnabled {
		transportOpts.Registerer = deps.Registerer
		if transportOpts.Registerer == nil {
			transportOpts.Registerer = prometheus.DefaultRegisterer
		}
	}
	b.registrations = append(b.registrations, RegistrationsFromConfig(&b.conf, b.logger, transportOpts)...)

	b.logger.Info("Creating broker", loggingpkg.LogFields{
		"routers": len(b.registrations),
		"config":  b.conf,
	})
	return b, nil
}

// ID combines the application id and instance id.
func (b *Broker) ID() string { return b.conf.AppID + ":" + b.conf.AppInstanceID }

// Endpoint is the address of this broker instance.
func (b *Broker) Endpoint() endpoint.Endpoint { return b.endpoint }

// Config returns the resolved configuration.
func (b *Broker) Config() configpkg.Config { return b.conf }

// Metrics returns the broker metrics.
func (b *Broker) Metrics() *Metrics { return b.metrics }

// State returns the lifecycle state.
func (b *Broker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Pending returns the number of requests awaiting a reply.
func (b *Broker) Pending() int { return b.pending.Len() }

// Initialize builds the router table and subscribes to every router's
// replies. A failed broker may be initialized again.
func (b *Broker) Initialize(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateInitializing, StateCompleted:
		b.mu.Unlock()
		return errspkg.ErrAlreadyInitialized
	case StateFinalizing:
		b.mu.Unlock()
		return errspkg.ErrFinalizing
	}
	b.state = StateInitializing
	b.mu.Unlock()

	var listener net.Listener
	if b.conf.StatusAddress != "" {
		l, err := net.Listen("tcp", b.conf.StatusAddress)
		if err != nil {
			err = fmt.Errorf("relay: status server on %s: %w", b.conf.StatusAddress, err)
			b.setState(StateFailed)
			b.logger.Error("Broker initialization failed", err, nil)
			return err
		}
		listener = l
	}

	table, err := buildRouterTable(ctx, b.registrations, b.logger)
	if err != nil {
		if listener != nil {
			_ = listener.Close()
		}
		b.setState(StateFailed)
		b.logger.Error("Broker initialization failed", err, nil)
		return err
	}

	run := &brokerRun{table: table, inflight: &sync.WaitGroup{}}
	for _, r := range table.routers() {
		run.unsubscribe = append(run.unsubscribe, r.OnReplyReceived(b.handleReply))
	}
	if listener != nil {
		run.status = b.serveStatus(listener)
	}

	b.mu.Lock()
	b.run = run
	b.state = StateCompleted
	b.mu.Unlock()

	b.logger.Info("Broker initialized", loggingpkg.LogFields{"routers": len(table.entries)})
	return nil
}

// Finalize abandons pending requests, waits for running dispatches until
// ctx ends and finalizes every router. Router failures are joined; one
// failing router does not stop the others.
func (b *Broker) Finalize(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateCompleted {
		state := b.state
		b.mu.Unlock()
		if state == StateFinalizing {
			return errspkg.ErrFinalizing
		}
		return errspkg.ErrNotInitialized
	}
	b.state = StateFinalizing
	run := b.run
	b.mu.Unlock()

	for _, unsubscribe := range run.unsubscribe {
		unsubscribe()
	}
	if n := b.pending.drain(errspkg.ErrFinalizing); n > 0 {
		b.logger.Info("Abandoned pending requests", loggingpkg.LogFields{"pending": n})
	}

	done := make(chan struct{})
	go func() {
		run.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Info("Finalizing with dispatches still running", nil)
	}

	err := run.table.finalize(ctx, b.logger)
	if run.status != nil {
		err = errors.Join(err, run.status.Shutdown(ctx))
	}

	b.mu.Lock()
	b.run = nil
	b.state = StateNotStarted
	b.mu.Unlock()

	b.logger.Info("Broker finalized", nil)
	return err
}

func (b *Broker) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// acquire admits one dispatch into the current run. The caller must call
// the returned release.
func (b *Broker) acquire() (*brokerRun, func(), error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch b.state {
	case StateCompleted:
	case StateFinalizing:
		return nil, nil, errspkg.ErrFinalizing
	default:
		return nil, nil, errspkg.ErrNotInitialized
	}
	run := b.run
	run.inflight.Add(1)
	return run, run.inflight.Done, nil
}

// Dispatch sends content and waits for the reply content.
func (b *Broker) Dispatch(ctx context.Context, content any, configure ...Configure) (any, error) {
	return b.prepare(content, configure).Dispatch(ctx)
}

// DispatchAsync sends content. Requests return a Pending resolving with the
// reply; one-way sends return a nil Pending.
func (b *Broker) DispatchAsync(ctx context.Context, content any, configure ...Configure) (*Pending, error) {
	return b.prepare(content, configure).DispatchAsync(ctx)
}

// Publish sends content one-way.
func (b *Broker) Publish(ctx context.Context, content any, configure ...Configure) error {
	return b.prepare(content, configure).Publish(ctx)
}

// Send dispatches an envelope built by the caller.
func (b *Broker) Send(ctx context.Context, env *envelope.Envelope) (*Pending, error) {
	return b.send(ctx, env)
}

func (b *Broker) prepare(content any, configure []Configure) *DispatchContext {
	c := b.NewContext(content)
	for _, fn := range configure {
		if fn != nil {
			fn(c)
		}
	}
	return c
}

// Validate reports whether env may be dispatched.
func Validate(env *envelope.Envelope) error {
	if env == nil || (env.Content() == nil && !env.IsReply()) {
		return errspkg.ErrContentRequired
	}
	n := env.RecipientCount()
	if n == 0 && !env.IsEvent() && !env.OneWay {
		return errspkg.ErrRecipientsRequired
	}
	if n > 1 && !env.OneWay {
		return errspkg.ErrAmbiguousRecipients
	}
	return nil
}

func (b *Broker) send(ctx context.Context, env *envelope.Envelope) (*Pending, error) {
	if err := Validate(env); err != nil {
		return nil, err
	}
	run, release, err := b.acquire()
	if err != nil {
		return nil, err
	}

	if env.OneWay {
		b.logger.Debug("Sending one-way envelope", loggingpkg.LogFields{
			"message_id": env.ID,
			"recipients": env.RecipientCount(),
		})
		ctx = context.WithoutCancel(ctx)
		go func() {
			defer release()
			if err := b.route(ctx, run.table, env); err != nil {
				b.logger.Error("One-way dispatch failed", err, loggingpkg.LogFields{"message_id": env.ID})
			}
		}()
		return nil, nil
	}

	pending, err := b.pending.register(env)
	if err != nil {
		release()
		return nil, err
	}

	go func() {
		defer release()
		if err := b.route(ctx, run.table, env); err != nil {
			b.logger.Error("Dispatch failed", err, loggingpkg.LogFields{"message_id": env.ID})
			b.pending.resolve(env.ID, nil, err)
		}
	}()
	return pending, nil
}

// route selects the routers for env and dispatches to them. A single
// router receives env itself; several routers each receive a clone holding
// only their recipients, concurrently.
func (b *Broker) route(ctx context.Context, table *routerTable, env *envelope.Envelope) error {
	ctx, span := startSpan(ctx, b.tracer, "relay.dispatch", env)
	groups, err := table.selectRouters(env.Recipients())
	if err != nil {
		endSpan(span, err)
		return err
	}

	if len(groups) == 1 {
		err = b.dispatchTo(ctx, groups[0].entry, env)
		endSpan(span, err)
		return err
	}

	errs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group dispatchGroup) {
			defer wg.Done()
			errs[i] = b.dispatchTo(ctx, group.entry, env.CloneWithRecipients(group.recipients))
		}(i, group)
	}
	wg.Wait()

	err = errors.Join(errs...)
	endSpan(span, err)
	return err
}

func (b *Broker) dispatchTo(ctx context.Context, entry *routeEntry, env *envelope.Envelope) error {
	ctx, span := startSpan(ctx, b.tracer, "relay.router.dispatch", env, attribute.String("messaging.relay.router", entry.name))
	started := time.Now()

	instruction, reply, err := entry.router.Dispatch(ctx, env)
	duration := time.Since(started)

	b.metrics.RecordDispatch(entry.name, duration, err)
	b.hooks.dispatched(DispatchInfo{Context: ctx, Envelope: env, Router: entry.name, StartedAt: started, Duration: duration}, err)
	endSpan(span, err)

	if err != nil {
		return fmt.Errorf("router %s: %w", entry.name, err)
	}
	if instruction == router.InstructionReply && reply != nil {
		b.handleReply(ctx, entry.router, reply)
	}
	return nil
}

// handleReply resolves the request reply answers or, when no request is
// pending here, routes the reply onward once.
func (b *Broker) handleReply(ctx context.Context, source router.Router, reply *envelope.Envelope) {
	if reply == nil {
		return
	}
	sourceName := routerName(source)
	fields := loggingpkg.LogFields{
		"message_id": reply.ID,
		"reply_to":   reply.ReplyToMessageID,
		"router":     sourceName,
	}
	if reply.ReplyToMessageID == "" {
		b.logger.Info("Dropping malformed reply without correlation id", fields)
		b.metrics.RecordReplyDropped()
		return
	}

	ctx, span := b.tracer.Start(ctx, "relay.reply", trace.WithAttributes(envelopeAttributes(reply)...))
	defer span.End()

	content, err := reply.Content(), error(nil)
	if remote, ok := envelope.AsError(content); ok {
		content, err = nil, remote
	}

	if pending := b.pending.resolve(reply.ReplyToMessageID, content, err); pending != nil {
		roundTrip := time.Since(pending.startedAt)
		b.metrics.RecordReplyResolved(roundTrip)
		b.hooks.replied(DispatchInfo{Context: ctx, Envelope: reply, Router: sourceName, StartedAt: pending.startedAt, Duration: roundTrip})
		return
	}

	b.redirect(ctx, source, reply, fields)
}

func (b *Broker) redirect(ctx context.Context, source router.Router, reply *envelope.Envelope, fields loggingpkg.LogFields) {
	if input, ok := router.InputFrom(ctx); ok && input == source {
		b.logger.Info("Reply target not found", fields)
		b.metrics.RecordReplyDropped()
		return
	}
	if redirected, _ := reply.Property(RedirectedProperty); redirected == true {
		b.logger.Info("Reply target not found", fields)
		b.metrics.RecordReplyDropped()
		return
	}

	run, release, err := b.acquire()
	if err != nil {
		b.logger.Info("Reply dropped, broker not running", fields)
		b.metrics.RecordReplyDropped()
		return
	}
	defer release()

	onward := reply.Clone().SetProperty(RedirectedProperty, true)
	if err := Validate(onward); err != nil {
		b.logger.Error("Reply redirect rejected", err, fields)
		b.metrics.RecordReplyDropped()
		return
	}

	b.logger.Debug("Redirecting reply without pending request", fields)
	b.metrics.RecordReplyRedirected()
	b.hooks.redirected(DispatchInfo{Context: ctx, Envelope: onward, Router: routerName(source), StartedAt: time.Now()})

	if err := b.route(router.WithInput(ctx, source), run.table, onward); err != nil {
		b.logger.Error("Reply redirect failed", err, fields)
	}
}

func (b *Broker) onTimeout(p *Pending) {
	b.metrics.RecordTimeout()
	b.hooks.timedOut(DispatchInfo{
		Context:   context.Background(),
		Envelope:  p.env,
		StartedAt: p.startedAt,
		Duration:  time.Since(p.startedAt),
	})
	b.logger.Debug("Request timed out", loggingpkg.LogFields{
		"message_id": p.env.ID,
		"timeout":    p.env.Timeout.String(),
	})
}

func routerName(r router.Router) string {
	if r == nil {
		return ""
	}
	return r.Name()
}
