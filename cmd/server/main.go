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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"checkout-service/internal/cache"
	"checkout-service/internal/config"
	"checkout-service/internal/controller"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/metrics"
	"checkout-service/internal/middleware"
	"checkout-service/internal/rabbit"
	"checkout-service/internal/repository"
	"checkout-service/internal/service"
	"checkout-service/internal/tracking"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	metrics.Register()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Conexión a MongoDB
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		fatal("no se pudo conectar a MongoDB", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()
	db := client.Database(cfg.MongoDBName)

	orderRepo := repository.NewMongoOrderRepository(db)
	trackingRepo := repository.NewMongoTrackingRepository(db)
	if err := orderRepo.EnsureIndexes(connectCtx); err != nil {
		fatal("error creando índices de órdenes", err)
	}
	if err := trackingRepo.EnsureIndexes(connectCtx); err != nil {
		fatal("error creando índices de tracking", err)
	}

	// Cache de tokens de proveedores (Redis si está configurado)
	var tokens gateway.TokenCache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if err := rc.Ping(connectCtx); err != nil {
			slog.Warn("Redis no disponible, se usa cache en memoria", "addr", cfg.RedisAddr, "error", err)
			_ = rc.Close()
		} else {
			tokens = rc
			defer rc.Close()
		}
	}

	registry, err := gateway.NewRegistry(cfg.Payments,
		gateway.WithHTTPClient(&http.Client{Timeout: cfg.ProviderTimeout}),
		gateway.WithTokenCache(tokens),
	)
	if err != nil {
		fatal("error armando gateways", err)
	}
	slog.Info("gateways habilitados", "gateways", registry.Enabled())

	// Eventos y notificaciones: RabbitMQ si hay broker, si no un bus en proceso
	var (
		publisher events.Publisher
		sink      events.Sink = events.LogSink{}
		bus       *events.Bus
		amqpCh    *amqp091.Channel
	)
	if cfg.RabbitURL != "" {
		conn, err := amqp091.Dial(cfg.RabbitURL)
		if err != nil {
			fatal("error conectando a RabbitMQ", err)
		}
		defer conn.Close()
		if amqpCh, err = conn.Channel(); err != nil {
			fatal("error creando canal en RabbitMQ", err)
		}
		if err := rabbit.DeclareExchanges(amqpCh); err != nil {
			fatal("error declarando exchanges", err)
		}
		p := rabbit.NewPublisher(amqpCh)
		publisher, sink = p, p
	} else {
		bus = events.NewBus()
		publisher = bus
	}

	notifier := events.NewAsyncNotifier(sink, 0)
	go notifier.Run(ctx)

	// Servicios
	orderService := service.NewOrderService(orderRepo, registry.COD(), publisher)
	paymentService := service.NewPaymentService(orderRepo, registry, publisher, notifier, service.PaymentOptions{
		ProviderTimeout: cfg.ProviderTimeout,
		MaxTries:        uint(max(cfg.ProviderRetries, 1)),
	})
	authService := service.NewAuthService(cfg.AuthURL)

	broadcaster := tracking.NewBroadcaster(trackingRepo, orderService, notifier, tracking.Options{
		PingInterval: cfg.PingInterval,
	})
	go broadcaster.Run(ctx)

	if amqpCh != nil {
		err := rabbit.SetupConsumers(ctx, amqpCh,
			rabbit.NewPlaceOrderConsumer(orderService),
			rabbit.NewOrderEventsConsumer(broadcaster.HandleEvent),
		)
		if err != nil {
			fatal("error configurando consumers", err)
		}
	} else {
		bus.Subscribe(broadcaster.HandleEvent)
	}

	sweeper := service.NewSweeper(paymentService, broadcaster, cfg.ExpirySweepInterval, cfg.TrackingRetention)
	go sweeper.Run(ctx)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	// Router
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics())

	controller.RegisterRoutes(r, controller.Routes{
		Orders:   controller.NewOrderController(orderService),
		Payments: controller.NewPaymentController(paymentService, cfg.FrontendURL),
		Tracking: controller.NewTrackingController(broadcaster, orderService),
		Auth:     authService,
		Limiter:  limiter,
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateways": registry.Enabled()})
	})

	// Sin WriteTimeout: los streams de tracking quedan abiertos
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Checkout Service ejecutándose", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("error en el servidor HTTP", err)
		}
	}()

	<-ctx.Done()
	slog.Info("apagando servidor")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error cerrando el servidor", "error", err)
	}
	notifier.Wait()
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
