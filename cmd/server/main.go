package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guardian/internal/config"
	"guardian/internal/handlers"
	"guardian/internal/repositories/mongodb"
	"guardian/internal/services"
	"guardian/pkg/cache"
	"guardian/pkg/changefeed"
	"guardian/pkg/database"
	"guardian/pkg/logger"
	"guardian/pkg/maps"
	"guardian/pkg/metrics"
	"guardian/pkg/push"
	"guardian/pkg/sms"
	"guardian/pkg/storage"
	"guardian/pkg/websocket"
	"guardian/routes"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const resyncBackoff = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&logger.Config{
		Level:   logger.LogLevel(cfg.App.LogLevel),
		Format:  cfg.App.LogFormat,
		AppName: cfg.App.Name,
		Version: cfg.App.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server stopped with error")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage backends
	mongo, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.Database.URI,
		Database:       cfg.Database.Database,
		MaxPoolSize:    cfg.Database.MaxPoolSize,
		MinPoolSize:    cfg.Database.MinPoolSize,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		SocketTimeout:  cfg.Database.SocketTimeout,
	})
	if err != nil {
		return err
	}
	defer mongo.Close()

	if err := database.NewMigrator(mongo.Database, log).Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return err
	}
	defer redisCache.Close()

	feed := changefeed.New(redisCache.Client())

	mediaStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// External providers; each one is optional
	geocoder, err := maps.New(cfg.Maps)
	if err != nil {
		return fmt.Errorf("failed to initialize maps provider: %w", err)
	}
	if geocoder == nil {
		log.Warn("Geocoding disabled, location names fall back to the default label")
	}

	smsProvider, err := sms.New(ctx, cfg.SMS)
	if err != nil {
		return fmt.Errorf("failed to initialize sms provider: %w", err)
	}

	pushSender, err := newPushSender(ctx, cfg.Push, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Repositories
	sessionRepo := mongodb.NewTrackingSessionRepository(mongo.Database)
	alertRepo := mongodb.NewAlertRepository(mongo.Database)
	profileRepo := mongodb.NewProfileRepository(mongo.Database, redisCache)
	notificationRepo := mongodb.NewNotificationRepository(mongo.Database, redisCache)

	// Services
	clock := services.NewRealClock()
	tcfg := cfg.Tracking

	positionService := services.NewPositionService(redisCache.Client(), tcfg, clock, log)
	alertService := services.NewAlertService(alertRepo, feed, clock, m, log)
	notificationService := services.NewNotificationService(notificationRepo, feed, log)
	profileService := services.NewProfileService(profileRepo, clock, tcfg.ContactsLimit, log)
	notifier := services.NewWatcherNotifier(profileRepo, notificationService, pushSender, smsProvider, services.WatcherNotifierConfig{
		SMSEnabled:  tcfg.EmergencySMSEnabled,
		SMSFrom:     cfg.SMS.DefaultFrom,
		Concurrency: tcfg.NotifyConcurrency,
	}, m, log)
	panicService := services.NewPanicService(alertService, positionService, profileRepo, redisCache,
		services.NewRedisCaptureStore(redisCache.Client(), tcfg.CaptureTTL), geocoder, mediaStore, clock, tcfg, m, log)
	trackingService := services.NewTrackingService(services.TrackingDeps{
		Sessions:   sessionRepo,
		Positions:  positionService,
		Notifier:   notifier,
		Alerts:     alertService,
		Profiles:   profileRepo,
		Cache:      redisCache,
		Feed:       feed,
		Subscriber: feed,
		Geocoder:   geocoder,
		Storage:    mediaStore,
		Clock:      clock,
		Config:     tcfg,
		Metrics:    m,
		Logger:     log,
	})
	defer trackingService.Shutdown()

	// Realtime
	hub := websocket.NewHub(log)
	hub.Handle(services.MessageTypeLocationUpdate, services.PositionMessageHandler(positionService))
	go hub.Run(ctx)

	relay := services.NewRealtimeRelay(feed, hub, log)
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Realtime relay stopped")
		}
	}()

	if err := trackingService.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume tracking sessions: %w", err)
	}
	go runResync(ctx, trackingService, log)
	go func() {
		if err := trackingService.RunOwnership(ctx); err != nil {
			log.WithError(err).Error("Tracking ownership loop stopped")
		}
	}()

	router := routes.NewRouter(cfg, &routes.Handlers{
		Tracking:     handlers.NewTrackingHandler(trackingService),
		Position:     handlers.NewPositionHandler(positionService),
		Alert:        handlers.NewAlertHandler(alertService),
		Capture:      handlers.NewCaptureHandler(panicService, 0),
		Notification: handlers.NewNotificationHandler(notificationService),
		Profile:      handlers.NewProfileHandler(profileService),
		WebSocket:    websocket.NewHandler(hub, cfg.WebSocket, cfg.Security.JWTSecret, log).HandleWebSocket,
		HealthChecker: func() map[string]string {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return map[string]string{
				"mongodb": healthStatus(mongo.Ping(checkCtx)),
				"redis":   healthStatus(redisCache.Ping(checkCtx)),
			}
		},
	}, log, m, registry)

	if cfg.Storage.Provider == "local" || cfg.Storage.Provider == "" {
		router.Static("/uploads", cfg.Storage.Local.BasePath)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newPushSender registers FCM for android and web, APNs for ios. It returns
// nil when push is disabled or no provider is configured.
func newPushSender(ctx context.Context, cfg *config.PushConfig, log *logger.Logger) (services.PushSender, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	router := push.NewRouter()
	if cfg.FCM != nil && cfg.FCM.ProjectID != "" {
		fcm, err := push.NewFCMProvider(ctx, cfg.FCM.ProjectID, cfg.FCM.Credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize fcm: %w", err)
		}
		router.Register(fcm, push.PlatformAndroid, push.PlatformWeb)
	}
	if cfg.APNS != nil && cfg.APNS.KeyFile != "" {
		apns, err := push.NewAPNSProvider(cfg.APNS.KeyFile, cfg.APNS.KeyID, cfg.APNS.TeamID, cfg.APNS.BundleID, cfg.APNS.Production)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize apns: %w", err)
		}
		router.Register(apns, push.PlatformIOS)
	}

	if !router.Enabled() {
		log.Warn("Push enabled but no provider configured")
		return nil, nil
	}
	return router, nil
}

// runResync follows the session change feed, resubscribing after failures.
func runResync(ctx context.Context, tracking services.TrackingService, log *logger.Logger) {
	for {
		err := tracking.RunResync(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("Tracking resync stopped, resubscribing")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resyncBackoff):
		}
	}
}

func healthStatus(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
