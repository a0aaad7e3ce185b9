package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr     string
	PostgresDSN  string // empty = in-memory store
	TxRetries    int    // re-runs after serialization failure or deadlock
	RedisAddr    string // empty disables lease, cache and dedup
	KafkaBrokers []string
	ServiceName  string

	PaymentTimeout  time.Duration
	OrderIDMinValue int64
	SweepInterval   time.Duration
	Currency        string
	AdminIDs        []int64

	LogLevel  string
	LogFormat string

	NotifyGroup   string
	NotifyWorkers int
}

func Load() Config {
	return Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8081"),
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		TxRetries:    getint("TX_RETRIES", 3),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		ServiceName:  getenv("SERVICE_NAME", "storefront-api"),

		PaymentTimeout:  time.Duration(getint("PAYMENT_TIMEOUT_MIN", 15)) * time.Minute,
		OrderIDMinValue: int64(getint("ORDER_ID_MIN_VALUE", 0)),
		SweepInterval:   getduration("SWEEP_INTERVAL", 30*time.Second),
		Currency:        getenv("CURRENCY", "IRR"),
		AdminIDs:        parseIDs(os.Getenv("ADMIN_IDS")),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		NotifyGroup:   getenv("NOTIFY_GROUP", "storefront-notifier"),
		NotifyWorkers: getint("NOTIFY_WORKERS", 4),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.PaymentTimeout <= 0 {
		errs = append(errs, errors.New("PAYMENT_TIMEOUT_MIN must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.OrderIDMinValue < 0 {
		errs = append(errs, errors.New("ORDER_ID_MIN_VALUE must not be negative"))
	}
	if c.TxRetries < 0 {
		errs = append(errs, errors.New("TX_RETRIES must not be negative"))
	}
	if c.NotifyWorkers <= 0 {
		errs = append(errs, errors.New("NOTIFY_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

// IsAdmin reports whether id is listed in ADMIN_IDS.
func (c Config) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getint falls back to def on a missing or malformed value.
func getint(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getduration accepts Go durations ("45s") or bare seconds ("45").
func getduration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseIDs(s string) []int64 {
	var out []int64
	for _, p := range splitCSV(s) {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (c Config) String() string {
	return fmt.Sprintf("http=%s postgres=%t redis=%t kafka=%d timeout=%s sweep=%s",
		c.HTTPAddr, c.PostgresDSN != "", c.RedisAddr != "", len(c.KafkaBrokers), c.PaymentTimeout, c.SweepInterval)
}
