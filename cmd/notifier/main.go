package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-ledger/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-ledger/internal/kafka"
	"github.com/ariefcatur/go-storefront-ledger/internal/logging"
	"github.com/ariefcatur/go-storefront-ledger/internal/notify"
	"github.com/ariefcatur/go-storefront-ledger/internal/orders"
	"github.com/ariefcatur/go-storefront-ledger/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.ServiceName+"-notifier", cfg.LogLevel, cfg.LogFormat)
	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := &notify.Relay{
		Sink: notify.LogSink{Log: logging.Component(log, "sink")},
		Log:  logging.Component(log, "relay"),
	}

	// Redis dedup (optional): tanpa Redis, redelivery bisa kirim pesan dobel
	if cfg.RedisAddr != "" {
		rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connect")
		}
		defer rdb.Close()
		relay.Dedup = redisx.Dedup{RDB: rdb, Service: "notifier"}
	} else {
		log.Warn().Msg("REDIS_ADDR empty, duplicate deliveries are possible")
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifyGroup, orders.AllTopics, cfg.NotifyWorkers, logging.Component(log, "kafka"))
	log.Info().Str("group", cfg.NotifyGroup).Strs("topics", orders.AllTopics).Int("workers", cfg.NotifyWorkers).
		Msg("notifier consumer started")

	err := cons.Start(ctx, relay.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("consumer exit")
		os.Exit(1)
	}
	log.Info().Msg("bye")
}
