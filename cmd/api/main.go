package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/nlambert/agrimarket/internal/config"
	"github.com/nlambert/agrimarket/internal/httpx"
	kafkax "github.com/nlambert/agrimarket/internal/kafka"
	"github.com/nlambert/agrimarket/internal/market"
	"github.com/nlambert/agrimarket/internal/postgres"
	"github.com/nlambert/agrimarket/internal/redisx"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	bookingEvents := kafkax.NewProducer(cfg.KafkaBrokers, market.TopicBookings, 1024, log)
	bookingEvents.Start(ctx)
	notifications := kafkax.NewProducer(cfg.KafkaBrokers, market.TopicNotifications, 1024, log)
	notifications.Start(ctx)

	// Repos
	repo := &market.Repo{DB: db}
	bookings := &market.BookingRepo{DB: db}
	wallets := &market.WalletRepo{DB: db}
	accounts := &market.AccountRepo{DB: db}

	// Handlers
	bookingsH := &httpx.BookingsHandler{
		Store: bookings, Events: bookingEvents, Notify: notifications,
		Redis: rdb, Log: log, Service: cfg.ServiceName,
	}
	slotsH := &httpx.SlotsHandler{Store: bookings, Redis: rdb, Log: log}
	ordersH := &httpx.OrdersHandler{Store: repo, Notify: notifications, Log: log, Service: cfg.ServiceName}
	productsH := &httpx.ProductsHandler{
		Store: repo, UploadDir: cfg.UploadDir, MaxUploadSize: cfg.MaxUploadSize, Log: log,
	}
	walletH := &httpx.WalletHandler{Store: wallets, Log: log}
	accountsH := &httpx.AccountsHandler{
		Store: accounts, Notify: notifications,
		SessionSecret: []byte(cfg.SessionSecret), Log: log, Service: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	router.Route("/api", func(api chi.Router) {
		accountsH.RegisterPublic(api)
		api.Group(func(priv chi.Router) {
			priv.Use(httpx.Authenticator([]byte(cfg.SessionSecret)))
			bookingsH.Register(priv)
			slotsH.Register(priv)
			ordersH.Register(priv)
			productsH.Register(priv)
			walletH.Register(priv)
			accountsH.Register(priv)
		})
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	bookingEvents.Close()
	notifications.Close()
	cancel()
	bookingEvents.WaitClosed()
	notifications.WaitClosed()
}
