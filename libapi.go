package bulkbus

import (
	"context"

	runtimepkg "github.com/drblury/bulkbus/internal/runtime"
	configpkg "github.com/drblury/bulkbus/internal/runtime/config"
	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	eventpkg "github.com/drblury/bulkbus/internal/runtime/event"
	idspkg "github.com/drblury/bulkbus/internal/runtime/ids"
	jsoncodec "github.com/drblury/bulkbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/bulkbus/internal/runtime/logging"
	splicepkg "github.com/drblury/bulkbus/internal/runtime/splice"
	storepkg "github.com/drblury/bulkbus/internal/runtime/store"
)

type (
	Config = configpkg.Config

	Event      = eventpkg.Event
	Attributes = eventpkg.Attributes

	Registry       = runtimepkg.Registry
	Handler        = runtimepkg.Handler
	Subscription   = runtimepkg.Subscription
	Lifecycle      = runtimepkg.Lifecycle
	LifecycleState = runtimepkg.LifecycleState

	Bus             = runtimepkg.Bus
	BusDependencies = runtimepkg.BusDependencies

	Queue             = runtimepkg.Queue
	QueueDependencies = runtimepkg.QueueDependencies
	Hibernator        = runtimepkg.Hibernator

	Metrics      = runtimepkg.Metrics
	BusPublisher = runtimepkg.BusPublisher

	Store     = storepkg.Store
	FileStore = storepkg.FileStore
	StoreFile = storepkg.File
	Codec     = storepkg.Codec

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	CallbackError         = errspkg.CallbackError
	PanicError            = errspkg.PanicError
	StoreError            = errspkg.StoreError
	ConfigValidationError = errspkg.ConfigValidationError
)

var (
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewEvent       = eventpkg.New
	EventFromPair  = eventpkg.FromPair
	NewRegistry    = runtimepkg.NewRegistry
	NewLifecycle   = runtimepkg.NewLifecycle
	NewBus         = runtimepkg.NewBus
	NewQueue       = runtimepkg.NewQueue
	NewHibernator  = runtimepkg.NewHibernator
	NewMetrics     = runtimepkg.NewMetrics
	ForwardToQueue = runtimepkg.ForwardToQueue

	NewMetricsFromConfig = runtimepkg.NewMetricsFromConfig
	NewBusPublisher      = runtimepkg.NewBusPublisher

	NewStore        = storepkg.New
	OpenStore       = storepkg.OpenFile
	CreateTempStore = storepkg.CreateTemp
	CodecByName     = storepkg.CodecByName

	NewSplice           = splicepkg.New
	ConvertLegacySplice = splicepkg.ConvertLegacy
	ConvertSpliceFile   = splicepkg.ConvertFile

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	NewID = idspkg.New

	ErrClosed          = errspkg.ErrClosed
	ErrHandlerRequired = errspkg.ErrHandlerRequired
	ErrOwnerRequired   = errspkg.ErrOwnerRequired
	ErrLivenessMissing = errspkg.ErrLivenessMissing
	ErrStoreRequired   = errspkg.ErrStoreRequired
	ErrHibernating     = errspkg.ErrHibernating
	ErrUnknownCodec    = errspkg.ErrUnknownCodec
	ErrInvalidPayload  = errspkg.ErrInvalidPayload
	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrQueueRequired   = errspkg.ErrQueueRequired
	ErrBusRequired     = errspkg.ErrBusRequired
	ErrCallbackPanic   = errspkg.ErrCallbackPanic
	ErrStore           = errspkg.ErrStore
)

const (
	StateActive   = runtimepkg.StateActive
	StateFinished = runtimepkg.StateFinished

	TopicQueueHibernate = runtimepkg.TopicQueueHibernate
	TopicQueueReload    = runtimepkg.TopicQueueReload

	CodecMsgpack = storepkg.CodecMsgpack
	CodecJSON    = storepkg.CodecJSON
	CodecProto   = storepkg.CodecProto
)

// SubscribeWeak registers fn on r without keeping owner alive.
func SubscribeWeak[T any](r *Registry, topic string, owner *T, fn func(ctx context.Context, owner *T, evt Event) (any, error)) (Subscription, error) {
	return runtimepkg.SubscribeWeak(r, topic, owner, fn)
}

// OnFinishWeak registers a teardown on l without keeping owner alive.
func OnFinishWeak[T any](l *Lifecycle, owner *T, fn func(owner *T) error) error {
	return runtimepkg.OnFinishWeak(l, owner, fn)
}

// GetAttr returns the attribute of evt stored under key as T.
func GetAttr[T any](evt Event, key string) (T, bool) {
	return eventpkg.Get[T](evt, key)
}
