package runtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/relay/internal/runtime/config"
	"github.com/drblury/relay/internal/runtime/endpoint"
	"github.com/drblury/relay/internal/runtime/envelope"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/router"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type logRecorder struct {
	mu   sync.Mutex
	logs []logEntry
}

// testLogger records every entry so tests can assert on broker decisions.
type testLogger struct {
	recorder *logRecorder
	fields   loggingpkg.LogFields
}

func newTestLogger() *testLogger {
	return &testLogger{recorder: &logRecorder{}}
}

func (l *testLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &testLogger{recorder: l.recorder, fields: merged}
}

func (l *testLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	l.recorder.mu.Lock()
	defer l.recorder.mu.Unlock()
	l.recorder.logs = append(l.recorder.logs, logEntry{level: level, msg: msg, err: err, fields: fields})
}

func (l *testLogger) Debug(msg string, fields loggingpkg.LogFields) { l.record("debug", msg, nil, fields) }
func (l *testLogger) Info(msg string, fields loggingpkg.LogFields)  { l.record("info", msg, nil, fields) }
func (l *testLogger) Trace(msg string, fields loggingpkg.LogFields) { l.record("trace", msg, nil, fields) }
func (l *testLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

// count returns how many entries contain msg.
func (l *testLogger) count(msg string) int {
	l.recorder.mu.Lock()
	defer l.recorder.mu.Unlock()
	n := 0
	for _, entry := range l.recorder.logs {
		if strings.Contains(entry.msg, msg) {
			n++
		}
	}
	return n
}

type dispatchFunc func(ctx context.Context, r *fakeRouter, env *envelope.Envelope) (router.Instruction, *envelope.Envelope, error)

// fakeRouter records dispatches and lets a test script its behaviour.
type fakeRouter struct {
	router.Notifier

	name        string
	initErr     error
	initDelay   time.Duration
	finalizeErr error
	onDispatch  dispatchFunc

	initCalls     atomic.Int32
	finalizeCalls atomic.Int32

	mu    sync.Mutex
	calls []*envelope.Envelope
}

func newFakeRouter(name string) *fakeRouter {
	return &fakeRouter{name: name}
}

func (r *fakeRouter) Name() string { return r.name }

func (r *fakeRouter) Initialize(ctx context.Context) error {
	r.initCalls.Add(1)
	if r.initDelay > 0 {
		time.Sleep(r.initDelay)
	}
	return r.initErr
}

func (r *fakeRouter) Finalize(context.Context) error {
	r.finalizeCalls.Add(1)
	return r.finalizeErr
}

func (r *fakeRouter) Dispatch(ctx context.Context, env *envelope.Envelope) (router.Instruction, *envelope.Envelope, error) {
	r.mu.Lock()
	r.calls = append(r.calls, env)
	fn := r.onDispatch
	r.mu.Unlock()

	if fn == nil {
		return router.InstructionNone, nil, nil
	}
	return fn(ctx, r, env)
}

func (r *fakeRouter) setDispatch(fn dispatchFunc) {
	r.mu.Lock()
	r.onDispatch = fn
	r.mu.Unlock()
}

func (r *fakeRouter) Calls() []*envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*envelope.Envelope(nil), r.calls...)
}

// replyWith answers every request asynchronously, the way a transport
// reports replies from its consumer goroutine.
func replyWith(content any) dispatchFunc {
	return func(ctx context.Context, r *fakeRouter, env *envelope.Envelope) (router.Instruction, *envelope.Envelope, error) {
		if env.IsReply() {
			r.Notify(ctx, r, env)
			return router.InstructionNone, nil, nil
		}
		if !env.OneWay {
			reply := envelope.NewReply(env, content)
			go r.Notify(context.Background(), r, reply)
		}
		return router.InstructionNone, nil, nil
	}
}

// echoReplies raises replies dispatched to the router on its notification,
// like a router whose peer sits in the same process.
func echoReplies(ctx context.Context, r *fakeRouter, env *envelope.Envelope) (router.Instruction, *envelope.Envelope, error) {
	if env.IsReply() {
		r.Notify(ctx, r, env)
	}
	return router.InstructionNone, nil, nil
}

var (
	ordersEndpoint    = endpoint.New("orders", "orders-1", "")
	inventoryEndpoint = endpoint.New("inventory", "", "")
	billingEndpoint   = endpoint.New("billing", "", "")
)

type getOrder struct{ ID string }

type orderPlaced struct{ ID string }

func (orderPlaced) EventName() string { return "order.placed" }

type brokerOption func(conf *configpkg.Config, deps *BrokerDependencies)

func withHooks(h DispatchHooks) brokerOption {
	return func(_ *configpkg.Config, deps *BrokerDependencies) { deps.Hooks = h }
}

func withTracerProvider(tp trace.TracerProvider) brokerOption {
	return func(_ *configpkg.Config, deps *BrokerDependencies) { deps.TracerProvider = tp }
}

func withMetrics(reg *prometheus.Registry) brokerOption {
	return func(conf *configpkg.Config, deps *BrokerDependencies) {
		conf.MetricsEnabled = true
		deps.Registerer = reg
	}
}

func withStatusAddress(addr string) brokerOption {
	return func(conf *configpkg.Config, _ *BrokerDependencies) { conf.StatusAddress = addr }
}

func withTimeout(d time.Duration) brokerOption {
	return func(conf *configpkg.Config, _ *BrokerDependencies) { conf.DefaultTimeout = d }
}

func newTestBroker(t *testing.T, log *testLogger, regs []Registration, opts ...brokerOption) *Broker {
	t.Helper()
	conf := &configpkg.Config{AppID: "orders", AppInstanceID: "orders-1"}
	deps := BrokerDependencies{Routers: regs, Registerer: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(conf, &deps)
	}
	b, err := NewBroker(conf, log, deps)
	if err != nil {
		t.Fatalf("broker construction failed: %v", err)
	}
	return b
}

func startTestBroker(t *testing.T, log *testLogger, regs []Registration, opts ...brokerOption) *Broker {
	t.Helper()
	b := newTestBroker(t, log, regs, opts...)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("broker initialization failed: %v", err)
	}
	t.Cleanup(func() {
		if b.State() == StateCompleted {
			_ = b.Finalize(context.Background())
		}
	})
	return b
}
