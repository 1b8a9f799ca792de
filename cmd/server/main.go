package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"socialsphere/internal/auth"
	"socialsphere/internal/config"
	"socialsphere/internal/database"
	"socialsphere/internal/engine"
	"socialsphere/internal/engine/actors"
	"socialsphere/internal/handlers"
	"socialsphere/internal/middleware"
	"socialsphere/internal/utils"
	"socialsphere/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	if debug {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}

	app, err := newApp(cfg, store, logger)
	if err != nil {
		closeStore(store, logger)
		return err
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              serverAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", serverAddr, "db_type", cfg.Database.Type)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		app.shutdown()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	app.shutdown()
	return nil
}

// openStore connects the configured document store and provisions the
// indexes its ordered queries rely on.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (database.DocumentStore, error) {
	switch cfg.Type {
	case config.DBTypeMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		return database.NewMemoryStore(), nil

	case config.DBTypePostgres:
		pg, err := database.NewPostgresDB(cfg.URI, cfg.SnapshotPollInterval, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := pg.InitializeTables(ctx); err != nil {
			pg.Close(ctx)
			return nil, fmt.Errorf("failed to initialize postgres tables: %w", err)
		}
		return pg, nil

	default:
		mongoDB, err := database.NewMongoDB(cfg.URI, cfg.Name, cfg.SnapshotPollInterval, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		if err := mongoDB.EnsureIndexes(ctx); err != nil {
			// Queries still work through the in-memory sort fallback.
			logger.Warn("failed to create indexes", "error", err)
		}
		return mongoDB, nil
	}
}

type app struct {
	system   *actor.ActorSystem
	engine   *engine.Engine
	store    database.DocumentStore
	provider *auth.Provider
	hub      *websocket.Hub
	handler  http.Handler
	shutdown func()
}

// newApp wires the engine, identity provider, websocket hub and routes
// around store, and opens the live feed.
func newApp(cfg *config.Config, store database.DocumentStore, logger *slog.Logger) (*app, error) {
	metrics := utils.NewMetricsCollector()
	tokens := middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	provider, err := auth.NewProvider(store, tokens, logger)
	if err != nil {
		return nil, err
	}

	system := actor.NewActorSystem()
	socialEngine := engine.NewEngine(system, store, provider, metrics, logger, engine.Options{
		FeedLimit:                cfg.Feed.Limit,
		StoreTimeout:             cfg.Server.RequestTimeout,
		CommentReconcileInterval: cfg.Feed.CommentReconcileInterval,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(provider.ValidateClaims, logger)
	go hub.Run(hubCtx)

	cancelSessions := provider.OnSessionChange(func(ev auth.SessionEvent) {
		if !ev.SignedIn && ev.Identity != nil {
			hub.SessionEnded(ev.Identity.UserID)
		}
	})

	feedPID := socialEngine.GetFeedActor()
	if _, err := system.Root.RequestFuture(feedPID, &actors.AddFeedObserverMsg{
		ID: "websocket",
		Fn: hub.PublishFeed,
	}, cfg.Server.RequestTimeout).Result(); err != nil {
		logger.Warn("failed to attach websocket observer", "error", err)
	}
	result, err := system.Root.RequestFuture(feedPID, &actors.SubscribeFeedMsg{Limit: cfg.Feed.Limit}, cfg.Server.RequestTimeout).Result()
	if err == nil {
		if subErr, ok := result.(error); ok {
			err = subErr
		}
	}
	if err != nil {
		// The feed can be reopened with POST /feed/resubscribe.
		logger.Error("initial feed subscription failed", "error", err)
	}

	cors := middleware.DefaultCORSConfig(cfg.AllowedOrigins)
	server := handlers.NewServer(system, socialEngine, provider, hub, metrics, cors, logger)
	server.RequestTimeout = cfg.Server.RequestTimeout
	server.FeedLimit = cfg.Feed.Limit

	mux := http.NewServeMux()
	jwt := middleware.NewJWTMiddleware(provider.ValidateClaims, logger)
	route := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, jwt.Wrap(h, path))
	}

	route("/health", server.HandleHealth())
	route("/user/register", server.HandleUserRegistration())
	route("/user/login", server.HandleUserLogin())
	route("/user/logout", server.HandleUserLogout())
	route("/user/profile", server.HandleUserProfile())
	route("/feed", server.HandleFeed())
	route("/feed/resubscribe", server.HandleResubscribe())
	route("/posts", server.HandlePostsPage())
	route("/posts/author", server.HandleAuthorPosts())
	route("/post", server.HandlePost())
	route("/post/like", server.HandleLike())
	route("/comment", server.HandleComment())
	route("/comment/post", server.HandleGetPostComments())
	// The websocket handler authenticates the token itself.
	mux.HandleFunc("/ws", server.HandleWebSocket())
	if cfg.Server.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	a := &app{
		system:   system,
		engine:   socialEngine,
		store:    store,
		provider: provider,
		hub:      hub,
		handler:  middleware.CORSMiddleware(cors)(mux),
	}
	a.shutdown = func() {
		cancelSessions()
		system.Root.Send(feedPID, &actors.RemoveFeedObserverMsg{ID: "websocket"})
		socialEngine.Stop(system)
		stopHub()
		closeStore(store, logger)
	}
	return a, nil
}

func closeStore(store database.DocumentStore, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close store", "error", err)
	}
}
