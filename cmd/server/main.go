package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wachat/infrastructure/cache"
	"wachat/infrastructure/db"
	"wachat/infrastructure/obs"
	"wachat/infrastructure/storage/s3"
	"wachat/infrastructure/ws"
	"wachat/internal/config"
	httpHandler "wachat/internal/delivery/http"
	"wachat/internal/delivery/websocket"
	"wachat/internal/repository"
	"wachat/internal/usecase"
	"wachat/pkg/identity"
	"wachat/pkg/jwt"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("godotenv: no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	mongoDb, err := db.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return err
	}
	defer mongoDb.Close(context.Background())
	logger.Info("connected to MongoDB", "database", cfg.MongoDatabase)

	if err := mongoDb.EnsureIndexes(ctx); err != nil {
		return err
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(*mongoDb.DB)
	messageRepo := repository.NewMessageRepository(*mongoDb.DB)
	chatRepo := repository.NewChatRepository(*mongoDb.DB)
	invitationRepo := repository.NewInvitationRepository(*mongoDb.DB)

	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "your-secret-key-change-this-in-production"
		logger.Warn("using default JWT secret, set JWT_SECRET for production")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, cfg.AccessTokenTTL)

	mapper, err := identity.NewMapper(cfg.LoginDomain, cfg.DefaultCountry)
	if err != nil {
		return err
	}

	// Redis backs both the OTP store and cross-server fan-out when configured
	var store cache.Store
	var hub ws.IHub
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, "wachat:")
		if err != nil {
			return err
		}
		store = redisStore
		logger.Info("using Redis hub", "addr", cfg.RedisAddr, "serverId", cfg.ServerID)
		hub = ws.NewRedisHub(cfg.RedisAddr, cfg.ServerID, logger)
	} else {
		store = cache.NewMemCache(time.Minute)
		logger.Info("using in-memory hub (single server)")
		hub = ws.NewHub(logger)
	}
	defer store.Close()

	var uploader s3.Uploader = s3.Disabled{}
	if cfg.Features.FileUpload {
		client, err := s3.NewClient(s3.Config{
			Endpoint:      cfg.S3Endpoint,
			PublicBaseURL: cfg.S3PublicURL,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			UseSSL:        cfg.S3UseSSL,
		}, logger)
		if err != nil {
			return err
		}
		uploader = client
	}

	// Initialize use cases
	authUc := usecase.NewAuthUsecase(userRepo, store, usecase.LogCodeSender{Logger: logger}, mapper, jwtManager, usecase.AuthConfig{
		OTPTTL:         cfg.OTPTTL,
		OTPMaxAttempts: cfg.OTPMaxAttempts,
	})
	userUc := usecase.NewUserUseCase(userRepo, mapper, uploader, logger)
	messageUc := usecase.NewMessageUseCase(messageRepo, chatRepo, hub, logger)
	invitationUc := usecase.NewInvitationUsecase(invitationRepo, chatRepo, userRepo, hub, logger)

	hub.SetOnClientRegister(func(client *ws.UserClient) error {
		return userUc.SetOnline(context.Background(), client.UserId)
	})
	hub.SetOnClientUnregister(func(client *ws.UserClient) error {
		return userUc.SetOffline(context.Background(), client.UserId)
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Logger)
	router.Use(httpHandler.CORS(cfg.CORSOrigin))

	authMiddleware := httpHandler.NewAuthMiddleware(authUc)
	handlers := httpHandler.Handlers{
		Http:           httpHandler.NewHttpHandler(messageUc, mongoDb, logger),
		Auth:           httpHandler.NewAuthHandler(authUc, logger),
		User:           httpHandler.NewUserHandler(userUc, logger),
		Invitation:     httpHandler.NewInvitationHandler(invitationUc, logger),
		AuthMiddleware: authMiddleware,
	}
	if cfg.Features.RealTimeMessaging {
		handlers.Websocket = websocket.NewWebsocketHandler(hub, authUc, messageUc, cfg.CORSOrigin, logger)
	}
	httpHandler.MapHttpRoutes(router, handlers, cfg.Features)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP server is running", "addr", cfg.HTTPAddr, "features", cfg.Features)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
