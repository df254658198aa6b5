package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messaging-service/internal/config"
	"messaging-service/internal/db"
	"messaging-service/internal/delivery"
	"messaging-service/internal/events"
	"messaging-service/internal/ghostwrite"
	"messaging-service/internal/handlers"
	"messaging-service/internal/hub"
	"messaging-service/internal/identity"
	"messaging-service/internal/middleware"
	"messaging-service/internal/objectstore"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/send"
	"messaging-service/internal/session"
	"messaging-service/internal/tracing"
	"messaging-service/internal/ws"
)

const serviceName = "messaging-service"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tracingEndpoint string
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Setup(ctx, serviceName, tracingEndpoint)
	if err != nil {
		logger.WithError(err).Fatal("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	database, err := db.Connect(cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	logger.WithField("mode", rabbitmq.PublisherMode(publisher)).Info("event publisher ready")

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "production"
	}
	emitter := events.NewEmitter(publisher, serviceName, environment, logger)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	broadcaster := hub.NewHub(logger)
	tracker := delivery.NewTracker(messageRepo, broadcaster, emitter, logger)
	store := objectstore.NewHTTPStore(cfg.ObjectStore.BaseURL, cfg.ObjectStore.APIKey)
	pipeline := send.NewPipeline(
		messageRepo, conversationRepo, store, broadcaster, emitter, logger,
		cfg.Messaging.MaxAttachmentSize, cfg.Messaging.SignedURLTTL,
	)
	drafter := ghostwrite.NewOpenAIDrafter(
		cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temp, logger,
	)

	provider := identity.NewHeaderProvider()

	conversationHandler := handlers.NewConversationHandler(conversationRepo)
	messageHandler := handlers.NewMessageHandler(
		conversationRepo, messageRepo, pipeline, tracker,
		cfg.Messaging.PageSize, cfg.Messaging.SearchLimit,
	)
	draftHandler := handlers.NewDraftHandler(conversationRepo, drafter, cfg.Messaging.DraftTimeout)
	wsHandler := ws.NewConversationWebSocketHandler(
		broadcaster, conversationRepo, messageRepo, pipeline, drafter, provider,
		emitter, logger,
		session.Config{
			PageSize:       cfg.Messaging.PageSize,
			SearchDebounce: cfg.Messaging.SearchDebounce,
			TypingTTL:      cfg.Messaging.TypingTTL,
		},
		cfg.Messaging.DraftTimeout,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", middleware.AuthMiddleware(provider))
	{
		api.POST("/conversations", conversationHandler.CreateConversation)
		api.GET("/conversations", conversationHandler.ListConversations)
		api.DELETE("/conversations/:conversation_id", conversationHandler.ArchiveConversation)

		api.GET("/conversations/:conversation_id/messages", messageHandler.GetMessages)
		api.POST("/conversations/:conversation_id/messages", messageHandler.PostMessage)
		api.GET("/conversations/:conversation_id/messages/search", messageHandler.SearchMessages)
		api.PUT("/conversations/:conversation_id/messages/:message_id/status", messageHandler.UpdateStatus)
		api.POST("/conversations/:conversation_id/messages/:message_id/refresh_url", messageHandler.RefreshAttachment)
		api.POST("/conversations/:conversation_id/read", messageHandler.MarkRead)
		api.POST("/conversations/:conversation_id/draft", draftHandler.CreateDraft)
	}

	router.GET("/ws/conversations/:conversation_id", wsHandler.Handle)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("messaging service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown failed")
	}
}
