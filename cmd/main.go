package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/suffus/reedi-media-service/internal/audit"
	"github.com/suffus/reedi-media-service/internal/auth"
	"github.com/suffus/reedi-media-service/internal/cache"
	"github.com/suffus/reedi-media-service/internal/config"
	"github.com/suffus/reedi-media-service/internal/discovery"
	"github.com/suffus/reedi-media-service/internal/handlers"
	"github.com/suffus/reedi-media-service/internal/hub"
	"github.com/suffus/reedi-media-service/internal/media"
	"github.com/suffus/reedi-media-service/internal/metrics"
	"github.com/suffus/reedi-media-service/internal/middleware"
	"github.com/suffus/reedi-media-service/internal/permissions"
	"github.com/suffus/reedi-media-service/internal/processing"
	"github.com/suffus/reedi-media-service/internal/queue"
	"github.com/suffus/reedi-media-service/internal/repository"
	"github.com/suffus/reedi-media-service/internal/service"
	"github.com/suffus/reedi-media-service/internal/social"
	"github.com/suffus/reedi-media-service/internal/storage"
	"github.com/suffus/reedi-media-service/internal/uploads"
	"github.com/suffus/reedi-media-service/internal/utils"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}
	dev := cfg.App.Env == "development"

	logger, err := utils.NewLogger(dev)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	// Mongo
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Fatalf("mongo connect: %v", err)
	}
	db := mc.Database(cfg.Mongo.Database)
	mediaRepo := repository.NewMediaRepo(db.Collection(cfg.Mongo.MediaCollection))
	linkRepo := repository.NewLinkRepo(db.Collection(cfg.Mongo.LinksCollection))
	if err := mediaRepo.EnsureIndexes(ctx); err != nil {
		logger.Warnf("media indexes: %v", err)
	}
	if err := linkRepo.EnsureIndexes(ctx); err != nil {
		logger.Warnf("link indexes: %v", err)
	}

	// Blob store
	var blobs storage.BlobStore
	if cfg.AWS.Bucket != "" {
		s3store, err := storage.NewS3Store(context.Background(),
			cfg.AWS.Region, cfg.AWS.Bucket, cfg.AWS.Endpoint, cfg.AWS.AccessKey, cfg.AWS.SecretKey)
		if err != nil {
			logger.Fatalf("s3 init: %v", err)
		}
		blobs = s3store
	} else {
		logger.Warn("no bucket configured, using in-memory blob store")
		blobs = storage.NewMemory()
	}

	// Redis (optional): upload sessions and presign cache
	var rdb *redis.Client
	var sessions uploads.SessionStore
	var urlCache cache.Cache
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sessions = uploads.NewRedisSessionStore(rdb, cfg.Redis.Prefix, cfg.SessionTTL)
		urlCache = cache.NewRedis(rdb, cfg.Redis.Prefix+":url")
	} else {
		sessions = uploads.NewMemorySessionStore(cfg.SessionTTL)
	}

	// Friendship source: shared collection, or the social-graph service
	var friends permissions.FriendshipChecker
	if cfg.Social.BaseURL != "" {
		friends = social.NewClient(cfg.Social.BaseURL, cfg.SocialTimeout, cfg.SocialRetryMax, logger)
	} else {
		friends = repository.NewFriendshipRepo(db.Collection(cfg.Mongo.FriendshipsCollection))
	}

	// Audit sink (optional)
	var auditSink permissions.AuditSink
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.AuditTopic != "" {
		auditSink = audit.NewKafkaSink(queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic), logger)
	}
	perms := permissions.NewFilter(friends, auditSink)

	// Status hub + dispatcher
	statusHub := hub.New(logger)
	progress := processing.ProgressOptions{Enabled: true, IntervalSeconds: 5}
	dispatcher := processing.NewDispatcher(mediaRepo, perms, statusHub, progress, logger)

	if len(cfg.Kafka.Brokers) > 0 {
		register := func(t media.Type, topic string) {
			if topic == "" {
				logger.Warnf("no topic for %s worker, type runs degraded", t)
				return
			}
			dispatcher.Register(t, processing.NewKafkaWorker(queue.NewProducer(cfg.Kafka.Brokers, topic)))
		}
		register(media.TypeImage, cfg.Kafka.ImageTopic)
		register(media.TypeVideo, cfg.Kafka.VideoTopic)
		register(media.TypeZip, cfg.Kafka.ZipTopic)

		if cfg.Kafka.CallbackTopic == "" {
			logger.Warn("no callback topic configured, worker results will not be consumed")
		} else {
			callbackConsumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CallbackTopic, cfg.Kafka.CallbackGroup, logger)
			consumeCtx, stopConsume := context.WithCancel(context.Background())
			defer stopConsume()
			go callbackConsumer.Start(consumeCtx, func(key string, value []byte) error {
				return dispatcher.HandleCallback(consumeCtx, value)
			})
			defer callbackConsumer.Close()
		}
	} else {
		// Dev mode: images are processed in-process, video and zip run
		// degraded until a broker is configured.
		logger.Warn("no kafka brokers configured, registering embedded image worker only")
		dispatcher.Register(media.TypeImage, processing.NewImageWorker(blobs, dispatcher, logger))
	}

	// Upload surface
	coordinator := uploads.NewCoordinator(blobs, sessions, uploads.CoordinatorConfig{
		ChunkSize:      cfg.Uploads.ChunkSize,
		MaxConcurrency: cfg.Uploads.MaxConcurrency,
	}, logger)
	intake := uploads.NewIntake(mediaRepo, linkRepo, blobs, dispatcher, cfg.Uploads.SingleShotMaxBytes, logger)

	mediaSvc := service.NewMediaService(mediaRepo, linkRepo, blobs, perms, urlCache, cfg.PresignTTL, logger)

	// JWT
	verifier, err := auth.NewVerifier(cfg.JWT.PublicKeyPath, cfg.JWT.Secret)
	if err != nil {
		logger.Fatalf("jwt init: %v", err)
	}

	// Fiber app and routes
	app := fiber.New(fiber.Config{
		BodyLimit:    int(cfg.Uploads.SingleShotMaxBytes),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	})

	uploadHandler := handlers.NewUploadHandler(intake, coordinator)
	mediaHandler := handlers.NewMediaHandler(mediaSvc, dispatcher)
	wsHandler := handlers.NewWSHandler(statusHub, verifier, cfg.PingInterval, cfg.WriteDeadline, logger)
	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.UploadsPerMinute, cfg.RateLimit.Burst, logger)

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })

	up := app.Group("/media/upload", limiter.Handler(), auth.Required(verifier))
	up.Post("/", uploadHandler.SingleShot)
	up.Post("/initiate", uploadHandler.Initiate)
	up.Post("/chunk", uploadHandler.Chunk)
	up.Post("/complete", uploadHandler.Complete)
	up.Post("/abort", uploadHandler.Abort)

	app.Get("/media/ws", websocket.New(wsHandler.Serve))
	app.Get("/media/user/:userId", auth.Optional(verifier), mediaHandler.ListByUser)
	app.Put("/media/bulk/update", auth.Required(verifier), mediaHandler.BulkUpdate)
	app.Get("/media/:id", auth.Optional(verifier), mediaHandler.Get)
	app.Put("/media/:id", auth.Required(verifier), mediaHandler.Update)
	app.Delete("/media/:id", auth.Required(verifier), mediaHandler.Delete)
	app.Post("/media/:id/reprocess", auth.Required(verifier), mediaHandler.Reprocess)
	app.Get("/media/:id/url", auth.Optional(verifier), mediaHandler.DownloadURL)

	// Internal metrics listener
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.MetricsPort)
		if err := metrics.Serve(addr); err != nil {
			logger.Errorf("metrics listener: %v", err)
		}
	}()

	// Consul (optional)
	if cfg.Consul.Addr != "" {
		reg, err := discovery.Register(cfg.Consul.Addr, cfg.Consul.ServiceName, cfg.Consul.ServiceAddr, cfg.App.Port, logger)
		if err != nil {
			logger.Warnf("consul register: %v", err)
		} else {
			defer reg.Deregister()
		}
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		logger.Infof("starting media service on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatalf("listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown requested")

	timeoutCtx, cancel2 := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel2()
	_ = app.Shutdown()
	_ = mc.Disconnect(timeoutCtx)
	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("shutdown completed")
}
