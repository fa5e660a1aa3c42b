package runtime

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
)

// Status is a point-in-time view of the broker.
type Status struct {
	ID          string          `json:"id"`
	Endpoint    string          `json:"endpoint"`
	State       string          `json:"state"`
	Routers     []RouterStatus  `json:"routers"`
	Pending     int             `json:"pending"`
	Metrics     MetricsSnapshot `json:"metrics"`
	Resources   ResourceUsage   `json:"resources"`
	CollectedAt time.Time       `json:"collected_at"`
}

// RouterStatus describes one entry of the router table.
type RouterStatus struct {
	Name     string `json:"name"`
	Pattern  string `json:"pattern,omitempty"`
	Fallback bool   `json:"fallback"`
	Optional bool   `json:"optional"`
	Priority int    `json:"priority"`
}

// Status returns the current broker status.
func (b *Broker) Status() Status {
	b.mu.RLock()
	state, run := b.state, b.run
	b.mu.RUnlock()

	status := Status{
		ID:          b.ID(),
		Endpoint:    b.endpoint.String(),
		State:       state.String(),
		Routers:     []RouterStatus{},
		Pending:     b.pending.Len(),
		Metrics:     b.metrics.GetSnapshot(),
		Resources:   b.resources.Sample(),
		CollectedAt: time.Now(),
	}
	if run != nil {
		for _, e := range run.table.entries {
			status.Routers = append(status.Routers, RouterStatus{
				Name:     e.name,
				Pattern:  e.pattern,
				Fallback: e.fallback,
				Optional: e.optional,
				Priority: e.priority,
			})
		}
	}
	return status
}

// StatusHandler serves the broker status as JSON on /status and the
// Prometheus metrics on /metrics.
func (b *Broker) StatusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", b.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (b *Broker) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := sonic.ConfigStd.Marshal(b.Status())
	if err != nil {
		b.logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// serveStatus serves the status handler on listener until the server is
// shut down.
func (b *Broker) serveStatus(listener net.Listener) *http.Server {
	addr := listener.Addr().String()
	server := &http.Server{
		Addr:              addr,
		Handler:           b.StatusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	b.logger.Info("Starting status server", loggingpkg.LogFields{"address": addr})
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("Status server stopped", err, loggingpkg.LogFields{"address": addr})
		}
	}()
	return server
}
