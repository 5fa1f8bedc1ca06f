package mcpwire

import (
	"github.com/drblury/mcpwire/channel"
	"github.com/drblury/mcpwire/envelope"
	configpkg "github.com/drblury/mcpwire/internal/runtime/config"
	errspkg "github.com/drblury/mcpwire/internal/runtime/errors"
	factorypkg "github.com/drblury/mcpwire/internal/runtime/factory"
	idspkg "github.com/drblury/mcpwire/internal/runtime/ids"
	jsoncodec "github.com/drblury/mcpwire/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/mcpwire/internal/runtime/logging"
	poolpkg "github.com/drblury/mcpwire/internal/runtime/pool"
	reconnectpkg "github.com/drblury/mcpwire/internal/runtime/reconnect"
	routerpkg "github.com/drblury/mcpwire/internal/runtime/router"
	sessionpkg "github.com/drblury/mcpwire/internal/runtime/session"
	trackerpkg "github.com/drblury/mcpwire/internal/runtime/tracker"
	translatepkg "github.com/drblury/mcpwire/internal/runtime/translate"
)

type (
	// Envelope and wire protocol
	Envelope    = envelope.Envelope
	ErrorObject = envelope.ErrorObject
	MessageKind = envelope.Kind

	// Channel contract
	Channel        = channel.Channel
	ChannelMetrics = channel.Metrics
	ChannelBuilder = channel.Builder
	ChannelConfig  = channel.Config
	Registry       = channel.Registry
	VolumeMount    = channel.VolumeMount

	// Configuration
	Config        = configpkg.Config
	PoolConfig    = configpkg.PoolConfig
	SessionConfig = configpkg.SessionConfig
	Duration      = configpkg.Duration

	// Factory and instances
	Factory        = factorypkg.Factory
	FactoryOption  = factorypkg.Option
	Instance       = factorypkg.Instance
	InstanceStatus = factorypkg.Status
	InstanceStats  = factorypkg.InstanceStats
	FactoryStats   = factorypkg.Stats

	// Pooling and sessions
	Pool           = poolpkg.Pool
	PoolStats      = poolpkg.Stats
	SessionManager = sessionpkg.Manager
	Session        = sessionpkg.Session

	// Reconnection
	ReconnectConfig    = reconnectpkg.Config
	ReconnectCallbacks = reconnectpkg.Callbacks
	ReconnectEngine    = reconnectpkg.Engine

	// Routing
	Router          = routerpkg.Router
	Handler         = routerpkg.Handler
	Middleware      = routerpkg.Middleware
	Transformer     = routerpkg.Transformer
	Route           = routerpkg.Route
	RouteOption     = routerpkg.RouteOption
	RateLimitConfig = routerpkg.RateLimitConfig

	// Correlation tracking
	Tracker        = trackerpkg.Tracker
	TrackerConfig  = trackerpkg.Config
	TrackOptions   = trackerpkg.TrackOptions
	TrackerMetrics = trackerpkg.Metrics
	Waiter         = trackerpkg.Waiter
	Result         = trackerpkg.Result

	// Translation
	Translator      = translatepkg.Translator
	TranslateRule   = translatepkg.Rule
	TranslateConfig = translatepkg.Config

	// Logging
	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	// Errors
	ValidationError       = errspkg.ValidationError
	ParseError            = errspkg.ParseError
	ProtocolError         = errspkg.ProtocolError
	ConnectError          = errspkg.ConnectError
	SendError             = errspkg.SendError
	ConfigValidationError = errspkg.ConfigValidationError
)

// Message kinds.
const (
	KindInvalid      = envelope.KindInvalid
	KindRequest      = envelope.KindRequest
	KindNotification = envelope.KindNotification
	KindResponse     = envelope.KindResponse

	ProtocolVersion = envelope.Version
)

// Instance lifecycle states.
const (
	StatusCreated    = factorypkg.StatusCreated
	StatusConnecting = factorypkg.StatusConnecting
	StatusConnected  = factorypkg.StatusConnected
	StatusError      = factorypkg.StatusError
	StatusClosed     = factorypkg.StatusClosed
)

var (
	// Envelope constructors and codec
	NewRequest       = envelope.NewRequest
	NewNotification  = envelope.NewNotification
	NewResult        = envelope.NewResult
	NewErrorMessage  = envelope.NewError
	MarshalMessage   = envelope.Marshal
	UnmarshalMessage = envelope.Unmarshal

	// Channel registry
	DefaultRegistry = channel.DefaultRegistry
	NewRegistry     = channel.NewRegistry
	RegisterChannel = channel.Register
	BuildChannel    = channel.Build

	// Configuration
	LoadConfigFile = configpkg.LoadFile
	LoadConfig     = configpkg.Load

	// Factory
	NewFactory        = factorypkg.New
	WithRegistry      = factorypkg.WithRegistry
	WithRegisterer    = factorypkg.WithRegisterer
	WithSweepInterval = factorypkg.WithSweepInterval

	// Pooling and sessions
	NewPool           = poolpkg.New
	NewSessionManager = sessionpkg.New

	// Reconnection
	NewReconnectEngine = reconnectpkg.New

	// Routing
	NewRouter           = routerpkg.New
	WithTransformers    = routerpkg.WithTransformers
	WithMiddleware      = routerpkg.WithMiddleware
	RateLimitMiddleware = routerpkg.RateLimitMiddleware
	AuthMiddleware      = routerpkg.AuthMiddleware
	MetricsMiddleware   = routerpkg.MetricsMiddleware
	TracerMiddleware    = routerpkg.TracerMiddleware
	LoggingMiddleware   = routerpkg.LoggingMiddleware
	RecovererMiddleware = routerpkg.RecovererMiddleware

	// Correlation tracking
	NewTracker = trackerpkg.New

	// Translation
	NewTranslator = translatepkg.New

	// JSON codec
	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	// Logging
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	// IDs
	CreateULID   = idspkg.CreateULID
	NewRequestID = idspkg.NewRequestID

	// Sentinel errors
	ErrNotConnected         = errspkg.ErrNotConnected
	ErrChannelClosed        = errspkg.ErrChannelClosed
	ErrConnectTimeout       = errspkg.ErrConnectTimeout
	ErrRequestTimeout       = errspkg.ErrRequestTimeout
	ErrRequestCancelled     = errspkg.ErrRequestCancelled
	ErrDuplicateRequestID   = errspkg.ErrDuplicateRequestID
	ErrRequestNotTracked    = errspkg.ErrRequestNotTracked
	ErrMissingRequestID     = errspkg.ErrMissingRequestID
	ErrMaxRetriesExceeded   = errspkg.ErrMaxRetriesExceeded
	ErrMaxReconnectAttempts = errspkg.ErrMaxReconnectAttempts
	ErrNoRoute              = errspkg.ErrNoRoute
	ErrDestinationNotFound  = errspkg.ErrDestinationNotFound
	ErrRateLimitExceeded    = errspkg.ErrRateLimitExceeded
	ErrAuthenticationFailed = errspkg.ErrAuthenticationFailed
	ErrSessionLimitReached  = errspkg.ErrSessionLimitReached
	ErrSessionExists        = errspkg.ErrSessionExists
	ErrSessionNotFound      = errspkg.ErrSessionNotFound
	ErrNoActiveInstances    = errspkg.ErrNoActiveInstances
	ErrInstanceNotFound     = errspkg.ErrInstanceNotFound
)
