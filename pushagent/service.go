// Package pushagent assembles the push delivery core, its Pub/Sub delivery
// pipeline, the backend token forwarder and the HTTP API into one service.
package pushagent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-delivery/internal/api"
	"github.com/tinywideclouds/go-push-delivery/internal/appstate"
	"github.com/tinywideclouds/go-push-delivery/internal/backend"
	"github.com/tinywideclouds/go-push-delivery/internal/classify"
	"github.com/tinywideclouds/go-push-delivery/internal/entrypoint"
	"github.com/tinywideclouds/go-push-delivery/internal/handlers"
	"github.com/tinywideclouds/go-push-delivery/internal/observability"
	"github.com/tinywideclouds/go-push-delivery/internal/pipeline"
	"github.com/tinywideclouds/go-push-delivery/internal/presentation"
	"github.com/tinywideclouds/go-push-delivery/internal/registry"
	"github.com/tinywideclouds/go-push-delivery/internal/router"
	"github.com/tinywideclouds/go-push-delivery/internal/storage/cache"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
	"github.com/tinywideclouds/go-push-delivery/pushagent/config"
)

// Dependencies are the infrastructure pieces built by the caller. Deduper,
// WakeForwarder and Presenter fall back to in-process defaults when nil.
type Dependencies struct {
	Consumer       messagepipeline.MessageConsumer
	TokenStore     push.TokenStore
	Deduper        cache.Deduper
	WakeForwarder  handlers.Forwarder
	Presenter      handlers.Presenter
	AuthMiddleware func(http.Handler) http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.Envelope]
	forwarder       *backend.Forwarder
	adapter         *entrypoint.Adapter
	registry        *registry.Registry
	router          *router.Router
	metrics         *observability.Metrics
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Consumer == nil || deps.TokenStore == nil {
		return nil, fmt.Errorf("consumer and token store are required")
	}
	if deps.AuthMiddleware == nil {
		return nil, fmt.Errorf("auth middleware is required")
	}
	if deps.Deduper == nil {
		deps.Deduper = cache.NewMemoryDeduper()
	}
	if deps.WakeForwarder == nil {
		deps.WakeForwarder = handlers.NewLogForwarder(logger)
	}
	if deps.Presenter == nil {
		deps.Presenter = handlers.NewLogPresenter(logger)
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Observability
	metrics := observability.NewMetrics()
	observer := observability.NewObserver(logger, metrics)

	// 3. Core: forwarder -> registry, classifier, router, policy, tracker
	forwarder := backend.New(backend.Config{
		Owner:          cfg.Owner,
		Platform:       cfg.Platform,
		Workers:        cfg.Backend.Workers,
		MaxAttempts:    cfg.Backend.MaxAttempts,
		InitialBackoff: cfg.Backend.InitialBackoff,
		MaxBackoff:     cfg.Backend.MaxBackoff,
		RatePerSec:     cfg.Backend.RatePerSec,
		Burst:          cfg.Backend.Burst,
		OpTimeout:      cfg.Backend.OpTimeout,
	}, deps.TokenStore, observer, logger)

	tokens := registry.New(forwarder, observer, logger)
	classifier := classify.New(classify.ForPlatform(cfg.Platform))
	dispatch := router.New(router.Config{Deadlines: map[push.Channel]time.Duration{
		push.ChannelUserNotification: cfg.Deadlines.UserNotification,
		push.ChannelSilentWake:       cfg.Deadlines.SilentWake,
	}}, observer, logger)
	policy := presentation.NewPolicy(cfg.SilentForegroundKey)
	tracker := appstate.NewTracker(logger)

	alerts := handlers.NewAlertHandler(policy, tracker, deps.Presenter, logger)
	wakes := handlers.NewWakeHandler(deps.WakeForwarder, logger)
	dispatch.Handle(push.ChannelUserNotification, push.CategoryAlertable, alerts)
	dispatch.Handle(push.ChannelUserNotification, push.CategorySilentContent, wakes)
	dispatch.Handle(push.ChannelSilentWake, push.CategorySilentContent, wakes)

	adapter := entrypoint.New(entrypoint.Dependencies{
		Registry:      tokens,
		Classifier:    classifier,
		Router:        dispatch,
		Policy:        policy,
		State:         tracker,
		StateObserver: tracker,
		Observer:      observer,
	}, logger)

	// 4. Pipeline
	processor := pipeline.NewProcessor(adapter, pipeline.ProcessorConfig{
		Deduper:    deps.Deduper,
		DedupTTL:   cfg.DedupTTL,
		Duplicates: observer,
	}, logger)

	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		deps.Consumer,
		pipeline.EnvelopeTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 5. API
	owner := cfg.Owner.String()
	tokenAPI := api.NewTokenAPI(adapter, tokens, owner, logger)
	deliveryAPI := api.NewDeliveryAPI(adapter, owner, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(deps.AuthMiddleware(handlerFunc)))
	}

	handle("GET /api/v1/tokens", tokenAPI.ListTokens)
	handle("POST /api/v1/tokens/{channel}", tokenAPI.RegisterToken)
	handle("POST /api/v1/tokens/{channel}/failure", tokenAPI.RegistrationFailed)
	handle("DELETE /api/v1/tokens/{channel}", tokenAPI.InvalidateToken)
	handle("PUT /api/v1/app-state", deliveryAPI.SetAppState)
	handle("POST /api/v1/present", deliveryAPI.Present)
	handle("POST /api/v1/push/{channel}", deliveryAPI.Deliver)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// The base server owns /metrics; the push counters live beside the API.
	mux.Handle("GET /api/v1/metrics", metrics.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		forwarder:       forwarder,
		adapter:         adapter,
		registry:        tokens,
		router:          dispatch,
		metrics:         metrics,
		logger:          logger,
	}, nil
}

// Adapter is the single entry point for OS push callbacks.
func (w *Wrapper) Adapter() *entrypoint.Adapter { return w.adapter }

func (w *Wrapper) Registry() *registry.Registry { return w.registry }

// Router lets embedders register additional handlers.
func (w *Wrapper) Router() *router.Router { return w.router }

func (w *Wrapper) Metrics() *observability.Metrics { return w.metrics }

func (w *Wrapper) Start(ctx context.Context) error {
	w.forwarder.Start(ctx)
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

// Shutdown stops intake first, then drains the token forwarder.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.forwarder.Stop(ctx); err != nil {
		w.logger.Error("Token forwarder did not drain.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
