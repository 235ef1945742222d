package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nlambert/agrimarket/internal/config"
	kafkax "github.com/nlambert/agrimarket/internal/kafka"
	"github.com/nlambert/agrimarket/internal/market"
	"github.com/nlambert/agrimarket/internal/notify"
	"github.com/nlambert/agrimarket/internal/postgres"
	"github.com/nlambert/agrimarket/internal/redisx"
	"github.com/nlambert/agrimarket/internal/sweeper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

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

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// expired-booking events go back onto the bookings topic
	bookingEvents := kafkax.NewProducer(cfg.KafkaBrokers, market.TopicBookings, 1024, log)
	bookingEvents.Start(ctx)

	sw := &sweeper.Sweeper{
		Store:    &market.BookingRepo{DB: db},
		Events:   bookingEvents,
		Log:      log,
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
		Service:  cfg.ServiceName + "-sweeper",
	}

	mailSvc := &notify.Service{
		Mailer: &notify.SMTPMailer{
			Host: cfg.SMTPHost, Port: cfg.SMTPPort,
			User: cfg.SMTPUser, Pass: cfg.SMTPPass,
			From: cfg.MailFrom, Log: log,
		},
		Accounts:    &market.AccountRepo{DB: db},
		Redis:       rdb,
		Log:         log,
		ServiceName: cfg.ServiceName + "-notify",
	}

	group := getenv("NOTIFY_GROUP", "notify-svc")
	workers, err := strconv.Atoi(getenv("NOTIFY_WORKERS", "4"))
	if err != nil || workers <= 0 {
		workers = 4
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, market.TopicNotifications, workers, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sw.Run(gctx)
	})
	g.Go(func() error {
		log.Info("notification consumer started",
			zap.String("group", group),
			zap.String("topic", market.TopicNotifications),
			zap.Int("workers", workers))
		return cons.Start(gctx, mailSvc.HandleNotification)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down worker")
	case <-gctx.Done():
	}
	cancel()

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Warn("worker exited", zap.Error(err))
	}
	bookingEvents.Close()
	bookingEvents.WaitClosed()
}
