package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/relay/internal/runtime/codec"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	"github.com/drblury/relay/internal/runtime/endpoint"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	"github.com/drblury/relay/internal/runtime/router"
	"github.com/drblury/relay/transport"
)

// TransportOptions are shared by the transport routers built from config.
type TransportOptions struct {
	// Registry resolves transport names. Defaults to transport.DefaultRegistry.
	Registry *transport.Registry
	Codec    *codec.Codec
	// Handler serves inbound requests.
	Handler router.Handler
	// Registerer receives the transport handler metrics. Nil disables them.
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
}

// RegistrationsFromConfig turns the routers declared in conf into
// registrations. The transport behind each router is built by the
// registration's factory, so a finalized broker rebuilds it on the next
// Initialize.
func RegistrationsFromConfig(conf *configpkg.Config, logger loggingpkg.ServiceLogger, opts TransportOptions) []Registration {
	if conf == nil || len(conf.Routers) == 0 {
		return nil
	}
	if opts.Registry == nil {
		opts.Registry = transport.DefaultRegistry
	}
	if opts.Codec == nil {
		opts.Codec = codec.New()
	}

	local := endpoint.New(conf.AppID, conf.AppInstanceID, "")
	regs := make([]Registration, 0, len(conf.Routers))
	for _, rc := range conf.Routers {
		regs = append(regs, Registration{
			Name:     rc.Name,
			Pattern:  rc.Pattern,
			Fallback: rc.Fallback,
			Optional: rc.Optional,
			Priority: rc.Priority,
			Factory:  transportRouterFactory(conf, rc, local, logger, opts),
		})
	}
	return regs
}

func transportRouterFactory(conf *configpkg.Config, rc configpkg.RouterConfig, local endpoint.Endpoint, logger loggingpkg.ServiceLogger, opts TransportOptions) RouterFactory {
	return func(ctx context.Context) (router.Router, error) {
		if !opts.Registry.Has(rc.Transport) {
			return nil, fmt.Errorf("unknown transport %q (registered: %v)", rc.Transport, opts.Registry.Names())
		}
		routerLogger := logger.With(loggingpkg.LogFields{"transport": rc.Transport})
		built, err := opts.Registry.Build(ctx, conf.ForRouter(rc), loggingpkg.NewWatermillAdapter(routerLogger))
		if err != nil {
			return nil, err
		}

		tr, err := router.NewTransport(router.TransportConfig{
			Name:                 rc.Name,
			Publisher:            built.Publisher,
			Subscriber:           built.Subscriber,
			Local:                local,
			TopicPrefix:          rc.TopicPrefix,
			Codec:                opts.Codec,
			Handler:              opts.Handler,
			Logger:               routerLogger,
			RetryMaxRetries:      conf.RetryMaxRetries,
			RetryInitialInterval: conf.RetryInitialInterval,
			RetryMaxInterval:     conf.RetryMaxInterval,
			PoisonTopic:          rc.PoisonTopic,
			MetricsRegisterer:    opts.Registerer,
			MetricsNamespace:     conf.MetricsNamespace,
			TracerProvider:       opts.TracerProvider,
		})
		if err != nil {
			return nil, errors.Join(err, closeTransport(built))
		}
		return tr, nil
	}
}

func closeTransport(t transport.Transport) error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}
