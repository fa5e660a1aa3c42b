package relay

import (
	runtimepkg "github.com/drblury/relay/internal/runtime"
	codecpkg "github.com/drblury/relay/internal/runtime/codec"
	configpkg "github.com/drblury/relay/internal/runtime/config"
	endpointpkg "github.com/drblury/relay/internal/runtime/endpoint"
	envelopepkg "github.com/drblury/relay/internal/runtime/envelope"
	errspkg "github.com/drblury/relay/internal/runtime/errors"
	idspkg "github.com/drblury/relay/internal/runtime/ids"
	loggingpkg "github.com/drblury/relay/internal/runtime/logging"
	metadatapkg "github.com/drblury/relay/internal/runtime/metadata"
	routerpkg "github.com/drblury/relay/internal/runtime/router"
	"github.com/drblury/relay/transport"

	// Built-in transports register themselves with DefaultTransportRegistry.
	_ "github.com/drblury/relay/transport/transports"
)

type (
	Config       = configpkg.Config
	RouterConfig = configpkg.RouterConfig

	Broker             = runtimepkg.Broker
	BrokerDependencies = runtimepkg.BrokerDependencies
	State              = runtimepkg.State
	DispatchContext    = runtimepkg.DispatchContext
	Configure          = runtimepkg.Configure
	Pending            = runtimepkg.Pending
	TransportOptions   = runtimepkg.TransportOptions

	Registration  = runtimepkg.Registration
	RouterFactory = runtimepkg.RouterFactory
	Matcher       = runtimepkg.Matcher
	MatcherFunc   = runtimepkg.MatcherFunc
	MatchProvider = runtimepkg.MatchProvider

	Router            = routerpkg.Router
	Handler           = routerpkg.Handler
	Instruction       = routerpkg.Instruction
	ReplyReceivedFunc = routerpkg.ReplyReceivedFunc
	Notifier          = routerpkg.Notifier
	InProcessRouter   = routerpkg.InProcess
	TransportRouter   = routerpkg.Transport
	TransportConfig   = routerpkg.TransportConfig

	Endpoint     = endpointpkg.Endpoint
	Envelope     = envelopepkg.Envelope
	Event        = envelopepkg.Event
	Priority     = envelopepkg.Priority
	ErrorContent = envelopepkg.ErrorContent
	Codec        = codecpkg.Codec
	Metadata     = metadatapkg.Metadata

	DispatchHooks = runtimepkg.DispatchHooks
	DispatchInfo  = runtimepkg.DispatchInfo

	Metrics         = runtimepkg.Metrics
	MetricsSnapshot = runtimepkg.MetricsSnapshot
	RouterMetrics   = runtimepkg.RouterMetrics
	ReplyMetrics    = runtimepkg.ReplyMetrics
	Status          = runtimepkg.Status
	RouterStatus    = runtimepkg.RouterStatus
	ResourceUsage   = runtimepkg.ResourceUsage

	TimeoutError             = runtimepkg.TimeoutError
	RemoteError              = errspkg.RemoteError
	RouterInitError          = errspkg.RouterInitError
	UnhandledRecipientsError = errspkg.UnhandledRecipientsError

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	TransportBuilder      = transport.Builder
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

const (
	StateNotStarted   = runtimepkg.StateNotStarted
	StateInitializing = runtimepkg.StateInitializing
	StateCompleted    = runtimepkg.StateCompleted
	StateFailed       = runtimepkg.StateFailed
	StateFinalizing   = runtimepkg.StateFinalizing

	PriorityLowest  = envelopepkg.PriorityLowest
	PriorityLow     = envelopepkg.PriorityLow
	PriorityNormal  = envelopepkg.PriorityNormal
	PriorityHigh    = envelopepkg.PriorityHigh
	PriorityHighest = envelopepkg.PriorityHighest

	InstructionNone  = routerpkg.InstructionNone
	InstructionReply = routerpkg.InstructionReply

	RedirectedProperty = runtimepkg.RedirectedProperty
	DefaultTimeout     = configpkg.DefaultTimeout
)

var (
	NewBroker               = runtimepkg.NewBroker
	Validate                = runtimepkg.Validate
	ValidateConfig          = configpkg.ValidateConfig
	RegistrationsFromConfig = runtimepkg.RegistrationsFromConfig
	NewPatternMatcher       = runtimepkg.NewPatternMatcher
	NewMetrics              = runtimepkg.NewMetrics

	NewInProcessRouter = routerpkg.NewInProcess
	NewTransportRouter = routerpkg.NewTransport
	WithInputRouter    = routerpkg.WithInput
	InputRouterFrom    = routerpkg.InputFrom

	NewEndpoint     = endpointpkg.New
	ParseEndpoint   = endpointpkg.Parse
	MustEndpoint    = endpointpkg.MustParse
	NewEnvelope     = envelopepkg.New
	NewReply        = envelopepkg.NewReply
	NewErrorContent = envelopepkg.NewErrorContent
	AsError         = envelopepkg.AsError
	NewCodec        = codecpkg.New
	NewMetadata     = metadatapkg.New
	NewMessageID    = idspkg.NewMessageID
	MessageIssuedAt = idspkg.IssuedAt

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.NopLogger

	DefaultTransportRegistry = transport.DefaultRegistry
	NewTransportRegistry     = transport.NewRegistry
	RegisterTransport        = transport.Register
	GetCapabilities          = transport.GetCapabilities

	ErrContentRequired     = errspkg.ErrContentRequired
	ErrRecipientsRequired  = errspkg.ErrRecipientsRequired
	ErrAmbiguousRecipients = errspkg.ErrAmbiguousRecipients
	ErrNoFallbackRouter    = errspkg.ErrNoFallbackRouter
	ErrUnhandledRecipients = errspkg.ErrUnhandledRecipients
	ErrNotInitialized      = errspkg.ErrNotInitialized
	ErrAlreadyInitialized  = errspkg.ErrAlreadyInitialized
	ErrFinalizing          = errspkg.ErrFinalizing
	ErrTimeout             = errspkg.ErrTimeout
	ErrRemote              = errspkg.ErrRemote
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrRouterRequired      = errspkg.ErrRouterRequired
	ErrDuplicateMessageID  = errspkg.ErrDuplicateMessageID
	ErrContextDisposed     = errspkg.ErrContextDisposed
)
