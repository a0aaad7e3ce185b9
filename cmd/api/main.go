package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-storefront-ledger/internal/config"
	"github.com/ariefcatur/go-storefront-ledger/internal/httpx"
	kafkax "github.com/ariefcatur/go-storefront-ledger/internal/kafka"
	"github.com/ariefcatur/go-storefront-ledger/internal/lifecycle"
	"github.com/ariefcatur/go-storefront-ledger/internal/logging"
	"github.com/ariefcatur/go-storefront-ledger/internal/metrics"
	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/postgres"
	"github.com/ariefcatur/go-storefront-ledger/internal/promo"
	"github.com/ariefcatur/go-storefront-ledger/internal/redisx"
	"github.com/ariefcatur/go-storefront-ledger/internal/sweeper"
	"github.com/ariefcatur/go-storefront-ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	log.Info().Str("config", cfg.String()).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := metrics.New("storefront", prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("metrics")
	}

	// Store: Postgres when configured, else in-memory
	var store orders.Store
	if cfg.PostgresDSN != "" {
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{})
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("db schema")
		}
		store = &orders.Repo{DB: db, MaxRetries: cfg.TxRetries}
	} else {
		log.Warn().Msg("POSTGRES_DSN empty, using in-memory store")
		store = orders.NewMemStore()
	}

	// Redis (optional): status cache + sweeper lease
	var (
		cache *redisx.StatusCache
		lease sweeper.Lease
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer rdb.Close()
		cache = &redisx.StatusCache{RDB: rdb}
		lease = redisx.NewLease(rdb, "expiry-sweeper", cfg.ServiceName+"-"+uuid.NewString(), 2*cfg.SweepInterval)
	}

	// Notifications: Kafka when configured, else log only
	var (
		notifier notify.Notifier = notify.LogNotifier{Log: logging.Component(log, "notify")}
		prod     *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logging.Component(log, "kafka"))
		notifier = &notify.KafkaNotifier{P: prod, Producer: cfg.ServiceName}
	}
	dispatcher := &notify.Dispatcher{N: notifier, Log: logging.Component(log, "notify"), Metrics: m, Timeout: 3 * time.Second}

	orderSvc := &lifecycle.Service{
		Store:           store,
		Notify:          dispatcher,
		Metrics:         m,
		Log:             logging.Component(log, "lifecycle"),
		PaymentTimeout:  cfg.PaymentTimeout,
		OrderIDMinValue: cfg.OrderIDMinValue,
		Currency:        cfg.Currency,
	}
	sw := &sweeper.Sweeper{
		Orders:   orderSvc,
		Lease:    lease,
		Notify:   dispatcher,
		Metrics:  m,
		Log:      logging.Component(log, "sweeper"),
		Interval: cfg.SweepInterval,
	}
	h := &httpx.Handler{
		Orders:  orderSvc,
		Wallet:  &wallet.Ledger{Store: store, Notify: dispatcher, Metrics: m, Log: logging.Component(log, "wallet")},
		Promo:   &promo.Engine{Store: store, Notify: dispatcher, Metrics: m, Log: logging.Component(log, "promo")},
		Sweeper: sw,
		IsAdmin: cfg.IsAdmin,
		Log:     logging.Component(log, "http"),
	}

	if cache != nil {
		h.Cache = cache
		sw.Cache = cache
	}

	router := httpx.NewRouter(logging.Component(log, "http"), prometheus.DefaultGatherer)
	h.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	if prod != nil {
		prod.Start(gctx)
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sw.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if prod != nil {
		prod.Close()      // tutup inbox -> flush & close writer
		prod.WaitClosed() // drain
	}
	if err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
	log.Info().Msg("bye")
}
