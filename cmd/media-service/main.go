package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"

	_ "github.com/princekumarofficial/channel-media-service/docs"
	"github.com/princekumarofficial/channel-media-service/internal/cache"
	"github.com/princekumarofficial/channel-media-service/internal/config"
	"github.com/princekumarofficial/channel-media-service/internal/events"
	channelHandlers "github.com/princekumarofficial/channel-media-service/internal/http/handlers/channels"
	diagnosticsHandlers "github.com/princekumarofficial/channel-media-service/internal/http/handlers/diagnostics"
	"github.com/princekumarofficial/channel-media-service/internal/http/handlers/media"
	"github.com/princekumarofficial/channel-media-service/internal/http/handlers/users"
	wsHandlers "github.com/princekumarofficial/channel-media-service/internal/http/handlers/websocket"
	"github.com/princekumarofficial/channel-media-service/internal/http/middleware"
	"github.com/princekumarofficial/channel-media-service/internal/logger"
	"github.com/princekumarofficial/channel-media-service/internal/metrics"
	"github.com/princekumarofficial/channel-media-service/internal/services/approval"
	"github.com/princekumarofficial/channel-media-service/internal/services/channels"
	"github.com/princekumarofficial/channel-media-service/internal/services/diagnostics"
	"github.com/princekumarofficial/channel-media-service/internal/services/ingest"
	"github.com/princekumarofficial/channel-media-service/internal/services/objectstore"
	"github.com/princekumarofficial/channel-media-service/internal/services/supervisor"
	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/storage/memory"
	"github.com/princekumarofficial/channel-media-service/internal/storage/postgres"
	"github.com/princekumarofficial/channel-media-service/internal/telegram"
	"github.com/princekumarofficial/channel-media-service/internal/telegram/botapi"
	"github.com/princekumarofficial/channel-media-service/internal/telegram/mtproto"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
	wsClient "github.com/princekumarofficial/channel-media-service/internal/websocket"
)

// @title Channel Media Service API
// @version 1.0
// @description Monitors Telegram channels, catalogs audio and PDF posts and publishes approved files to object storage.
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	// load config
	cfg := config.MustLoad()
	logger := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// database setup
	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer closeStore()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, caching and rate limits degrade", slog.String("error", err.Error()))
	}
	catalog := cache.NewCacheService(store, redisClient)

	objects, err := objectstore.NewService(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize object storage:", err)
	}
	slog.Info("Connected to object storage", slog.String("endpoint", cfg.MinIO.Endpoint))

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal("Failed to register metrics:", err)
	}

	hub := wsClient.NewHub()
	publisher := events.NewEventPublisher(hub)

	client, err := newTelegramClient(cfg, logger, redisClient)
	if err != nil {
		log.Fatal("Failed to initialize telegram client:", err)
	}
	session := telegram.NewSession(client, cfg.Ingest.EventBuffer, logger)
	session.OnDrop(func(telegram.Message) { m.EventDropped() })

	engine := ingest.NewEngine(catalog, session, ingest.Options{
		Retry: ingest.RetryPolicy{
			MaxAttempts: cfg.Ingest.BackfillAttempts,
			Delay:       cfg.Ingest.BackfillDelay,
		},
		Events:      publisher,
		Metrics:     m,
		Logger:      logger,
		BaseContext: ctx,
	})
	session.OnFirstStart(func(context.Context) {
		engine.TriggerAll()
	})

	approvals := approval.NewService(catalog, session, objects, approval.Options{
		StagingDir:   cfg.Ingest.StagingDir,
		MaxTransfers: cfg.Ingest.MaxTransfers,
		Events:       publisher,
		Metrics:      m,
		Logger:       logger,
	})
	registry := channels.NewRegistry(catalog, engine, logger)
	diag := diagnostics.NewService(session, catalog, engine, logger)
	sup := supervisor.New(session, cfg.Ingest.ReconnectInterval, m, logger)

	auth := middleware.NewAuthenticator(store, cfg.Auth.JWTSecret, cfg.Auth.AdminAPIKey)
	limits := middleware.NewRateLimitConfig(redisClient)

	// setup router
	router := http.NewServeMux()

	router.HandleFunc("POST /login", users.Login(store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL))
	router.HandleFunc("GET /health", health(store, objects, session))
	router.Handle("GET /metrics", metrics.Handler())
	router.Handle("GET /swagger/", httpSwagger.WrapHandler)
	router.HandleFunc("GET /ws", wsHandlers.WebSocketHandler(hub, auth))

	admin := func(h http.Handler) http.Handler { return auth.RequireAdmin(h) }
	limited := func(action string, h http.HandlerFunc) http.Handler {
		return auth.RequireAdmin(limits.RateLimitedHandler(action, h))
	}

	router.Handle("POST /api/channels", admin(channelHandlers.Create(registry)))
	router.Handle("GET /api/channels", admin(channelHandlers.ListActive(registry)))
	router.Handle("GET /api/channels/all", admin(channelHandlers.ListAll(registry)))
	router.Handle("DELETE /api/channels/{id}", admin(channelHandlers.Deactivate(registry)))
	router.Handle("PATCH /api/channels/{id}", admin(channelHandlers.SetActive(registry)))
	router.Handle("GET /api/channels/{username}/preview", admin(channelHandlers.Preview(session, catalog)))

	mediaHandlers := media.NewMediaHandlers(catalog, approvals)
	router.Handle("GET /api/media", admin(mediaHandlers.List()))
	router.Handle("GET /api/media/pending", admin(mediaHandlers.ListPending()))
	router.Handle("GET /api/media/{id}", admin(mediaHandlers.Get()))
	// by-channel/{username} and {id}/download-url share this shape.
	router.Handle("GET /api/media/{first}/{second}", admin(mediaHandlers.Nested()))
	router.Handle("POST /api/media/{id}/approve", limited(middleware.ActionApprove, mediaHandlers.Approve()))
	router.Handle("POST /api/media/approve-batch", limited(middleware.ActionApprove, mediaHandlers.BatchApprove()))

	router.Handle("GET /api/diagnostics/status", admin(diagnosticsHandlers.Status(diag)))
	router.Handle("POST /api/diagnostics/trigger-pull", limited(middleware.ActionPull, diagnosticsHandlers.TriggerPull(diag)))

	router.Handle("GET /api/cache/stats", admin(cache.GetCacheStats(redisClient)))
	router.Handle("DELETE /api/cache", admin(cache.ClearCache(redisClient)))

	server := &http.Server{
		Addr:              cfg.HTTPServer.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		engine.Run(gctx, session.Events())
		return nil
	})
	g.Go(func() error {
		// A failed first start is retried by the supervisor.
		if err := session.Start(gctx); err != nil {
			logger.Warn("Initial telegram start failed", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("server started", slog.String("address", cfg.HTTPServer.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to gracefully shutdown server", slog.String("error", err.Error()))
		}
		if err := session.Stop(); err != nil {
			slog.Warn("failed to stop telegram client", slog.String("error", err.Error()))
		}
		engine.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, func(), error) {
	if cfg.StorageDriver == "memory" {
		slog.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.NewPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Connected to Postgres database")
	return pg, func() { pg.Close() }, nil
}

func newTelegramClient(cfg *config.Config, slogger *slog.Logger, redisClient *redis.Client) (telegram.Client, error) {
	switch cfg.Telegram.Driver {
	case "botapi":
		if cfg.Telegram.BotToken == "" {
			return nil, errors.New("TG_BOT_TOKEN is required for the botapi driver")
		}
		return botapi.New(cfg.Telegram.BotToken, cache.NewPostIndex(redisClient), slogger), nil
	case "", "mtproto":
		zapLogger, err := logger.NewZap(cfg.IsDev(), cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		return mtproto.New(mtproto.Config{
			AppID:       cfg.Telegram.APIID,
			AppHash:     cfg.Telegram.APIHash,
			SessionPath: cfg.Telegram.Session,
			BotToken:    cfg.Telegram.BotToken,
		}, slogger, zapLogger), nil
	default:
		return nil, errors.New("unknown telegram driver: " + cfg.Telegram.Driver)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// health reports 503 when the catalog or object storage is unreachable. A
// disconnected telegram client is reported but does not fail the check.
func health(store, objects pinger, session *telegram.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{
			"status":         "ok",
			"database":       "ok",
			"object_storage": "ok",
			"telegram":       session.Connected(),
		}
		if err := store.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = err.Error()
		}
		if err := objects.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["object_storage"] = err.Error()
		}
		response.WriteJSON(w, status, body)
	}
}
