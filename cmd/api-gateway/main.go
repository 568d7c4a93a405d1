package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/school-transfer-api/api/swagger"
	"github.com/noah-isme/school-transfer-api/internal/handler"
	internalmiddleware "github.com/noah-isme/school-transfer-api/internal/middleware"
	"github.com/noah-isme/school-transfer-api/internal/models"
	"github.com/noah-isme/school-transfer-api/internal/repository"
	"github.com/noah-isme/school-transfer-api/internal/service"
	"github.com/noah-isme/school-transfer-api/pkg/cache"
	"github.com/noah-isme/school-transfer-api/pkg/config"
	"github.com/noah-isme/school-transfer-api/pkg/database"
	"github.com/noah-isme/school-transfer-api/pkg/export"
	"github.com/noah-isme/school-transfer-api/pkg/jobs"
	"github.com/noah-isme/school-transfer-api/pkg/logger"
	"github.com/noah-isme/school-transfer-api/pkg/messaging"
	corsmiddleware "github.com/noah-isme/school-transfer-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/school-transfer-api/pkg/middleware/requestid"
)

const shutdownTimeout = 15 * time.Second

// @title School Transfer API
// @version 1.0.0
// @description Cross-school student transfer workflow: proposal marketplace, negotiations and transfer offers.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	validate := validator.New()

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var identities service.IdentityLookup = repository.NewIdentityRepository(db)
	if cfg.Transfers.IdentityCacheEnabled {
		var redisClient *redis.Client
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Fatal("identity cache enabled but redis is unreachable", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck

		identityCache := repository.NewIdentityCacheRepository(redisClient, cfg.Redis.KeyPrefix, logr)
		identities = service.NewCachedIdentityLookup(identities, identityCache, cfg.Transfers.IdentityCacheTTL, metrics, logr)
		readiness["redis"] = identityCache.Ping
	}

	var broker service.EventBroker
	if cfg.RabbitMQ.Enabled {
		rabbit, brokerErr := messaging.NewRabbitMQBroker(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logr)
		if brokerErr != nil {
			logr.Warn("rabbitmq unavailable, events stay in-process", zap.Error(brokerErr))
		} else {
			broker = rabbit
			defer rabbit.Close() //nolint:errcheck
			readiness["rabbitmq"] = func(context.Context) error {
				if !rabbit.Ready() {
					return errors.New("rabbitmq connection closed")
				}
				return nil
			}
		}
	}

	hub := service.NewEventHub(cfg.Events.BufferSize, logr)
	dispatcher := service.NewEventDispatcher(hub, broker, metrics, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
		Logger:     logr,
	})
	dispatcher.Start(context.Background())

	auditRepo := repository.NewAuditRepository(db)
	transferSvc := service.NewTransferService(
		repository.NewProposalRepository(db),
		repository.NewNegotiationRepository(db),
		repository.NewAdmissionRepository(db),
		identities,
		auditRepo,
		logr,
		service.WithTransferEvents(dispatcher),
		service.WithTransferMetrics(metrics),
		service.WithTransferValidator(validate),
	)
	exportSvc := service.NewExportService(transferSvc, identities, logr, export.NewCSVExporter(), export.NewPDFExporter())
	authSvc := service.NewAuthService(repository.NewUserRepository(db), auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:      handler.NewAuthHandler(authSvc),
		transfers: handler.NewTransferHandler(transferSvc, exportSvc),
		admission: handler.NewAdmissionHandler(transferSvc),
		offers:    handler.NewOfferHandler(transferSvc),
		events:    handler.NewEventsHandler(hub, cfg.Events.SSEHeartbeat),
		tokens:    authSvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logr.Warn("undelivered transfer events dropped", zap.Error(err))
	}
}

type routeDeps struct {
	auth      *handler.AuthHandler
	transfers *handler.TransferHandler
	admission *handler.AdmissionHandler
	offers    *handler.OfferHandler
	events    *handler.EventsHandler
	tokens    internalmiddleware.TokenValidator
}

func registerRoutes(api *gin.RouterGroup, d routeDeps) {
	api.POST("/auth/login", d.auth.Login)
	api.POST("/auth/refresh", d.auth.Refresh)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(d.tokens), internalmiddleware.Actor())
	secured.GET("/auth/me", d.auth.Me)
	secured.POST("/auth/logout", d.auth.Logout)

	schools := secured.Group("")
	schools.Use(internalmiddleware.RequireRoles(models.RoleSchoolAdmin))

	proposals := schools.Group("/transfers/proposals")
	proposals.POST("", d.transfers.CreateProposal)
	proposals.GET("/market", d.transfers.Market)
	proposals.GET("/market/export", d.transfers.ExportMarket)
	proposals.GET("/mine", d.transfers.Mine)
	proposals.GET("/:id", d.transfers.GetProposal)
	proposals.POST("/:id/close", d.transfers.CloseProposal)
	proposals.POST("/:id/negotiations", d.transfers.StartNegotiation)

	negotiations := schools.Group("/transfers/negotiations")
	negotiations.GET("", d.transfers.ListNegotiations)
	negotiations.GET("/:id", d.transfers.GetNegotiation)
	negotiations.POST("/:id/messages", d.transfers.AddMessage)
	negotiations.GET("/:id/transcript", d.transfers.Transcript)

	admissions := schools.Group("/admissions")
	admissions.GET("", d.admission.List)
	admissions.POST("/:id/review", d.admission.Review)
	admissions.POST("/:id/transfer", d.admission.Transfer)

	offers := secured.Group("/transfers/offers")
	offers.Use(internalmiddleware.RequireRoles(models.RoleStudent))
	offers.GET("/pending", d.offers.Pending)
	offers.POST("/:id/respond", d.offers.Respond)

	secured.GET("/transfers/events", internalmiddleware.RequireRoles(models.RoleSchoolAdmin, models.RoleStudent), d.events.Stream)
}
