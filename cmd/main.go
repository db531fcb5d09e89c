package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ChinnuTalawar/carzy-drive-joy/internal/auth"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/booking"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/cars"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/config"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/dashboard"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/identity"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/logs"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/roles"
	"github.com/ChinnuTalawar/carzy-drive-joy/internal/shell"
	"github.com/ChinnuTalawar/carzy-drive-joy/migrations"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/db"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/jwt"
	"github.com/ChinnuTalawar/carzy-drive-joy/pkg/kafka"
	rredis "github.com/ChinnuTalawar/carzy-drive-joy/pkg/redis"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 1. Config and logging ──
	cfg, err := config.Load()
	if err != nil {
		logs.Logger.Fatal(err)
	}
	logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logs.For("main")

	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatal(err)
	}

	// ── 2. PostgreSQL ──
	database, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()

	if err := database.RunMigrations(ctx, migrations.FS); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	// ── 3. Redis ──
	redisClient, err := rredis.NewClient(cfg.Redis.Addr)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	// ── 4. Kafka ──
	kafkaClient := kafka.NewClient(cfg.Kafka.Brokers)
	if err := kafkaClient.EnsureTopics(ctx, kafka.Topics...); err != nil {
		log.Fatal(err)
	}

	// ── 5. Services ──
	idSvc := identity.NewService(database.SQL, tokens, redisClient, kafkaClient, cfg.Server.PublicURL, cfg.Auth.SessionTTL)
	resolver := roles.NewResolver(roles.NewPostgresStore(database.SQL), kafkaClient)
	carSvc := cars.NewService(cars.NewPostgresStore(database.SQL))
	dashSvc := dashboard.NewService(dashboard.NewPostgresStore(database.SQL), resolver)

	shells := shell.NewManager(shell.Deps{
		Identity:    idSvc,
		Roles:       resolver,
		Quota:       redisClient.OtpQuota(cfg.Auth.OtpDailyLimit),
		Tokens:      auth.NewTokens(tokens, cfg.Auth.PendingRoleTTL),
		Device:      auth.NewDeviceStore(redisClient, cfg.Auth.PendingRoleTTL),
		Cars:        carSvc,
		Bookings:    booking.NewPostgresStore(database.SQL),
		Payments:    booking.PaymentLinker{BaseURL: cfg.Payment.BaseURL, Currency: cfg.Payment.Currency},
		Dashboard:   dashSvc,
		Events:      kafkaClient,
		Cooldown:    cfg.Auth.OtpResendCooldown,
		RedirectURL: cfg.Server.PublicURL,
	}, cfg.Shell.IdleTimeout)
	go shells.Run(ctx)

	// ── 6. HTTP router ──
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logs.Requests)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"carzy"}`))
	})

	h := shell.NewHandler(shells)
	r.Mount("/auth/v1", identity.NewHandler(idSvc).Routes())
	r.Mount("/cars", h.CarRoutes())
	r.Mount("/shells", h.Routes())

	// ── 7. Start server ──
	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}

	go func() {
		log.Infof("carzy listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// ── 8. Graceful shutdown ──
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	srv.Shutdown(shutCtx)
	cancel() // unmount shells
	if err := kafkaClient.Close(); err != nil {
		log.WithError(err).Warn("kafka close")
	}
}
