// Package config reads process settings from the environment, optionally seeded from a
// .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrMissing = errors.New("required environment variable not set")

// LoadDotEnv loads .env when present. Variables already set in the environment win.
func LoadDotEnv(filenames ...string) error {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load dotenv: %w", err)
	}
	return nil
}

func Required(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissing, name)
	}
	return v, nil
}

func String(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func Duration(name string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", name, v)
	}
	return d, nil
}

// List splits a comma separated variable, dropping empty entries.
func List(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type Shop struct {
	Port           string
	PostgresURL    string
	RedisURL       string
	KafkaBrokers   []string
	DBTimeout      time.Duration
	LockTimeout    time.Duration
	SessionTTL     time.Duration
	NotifyBuffer   int
	ServiceVersion string
}

// LoadShop reads the shop service settings. Kafka is optional; without brokers order
// events are not published.
func LoadShop() (Shop, error) {
	var (
		cfg Shop
		err error
	)

	cfg.Port = String("PORT", "8081")
	cfg.ServiceVersion = String("SERVICE_VERSION", "0.1.0")
	cfg.KafkaBrokers = List("KAFKA_BROKERS")
	cfg.NotifyBuffer = 256

	if cfg.PostgresURL, err = Required("POSTGRES_URL"); err != nil {
		return Shop{}, err
	}
	if cfg.RedisURL, err = Required("REDIS_URL"); err != nil {
		return Shop{}, err
	}
	if cfg.DBTimeout, err = Duration("CHECKOUT_DB_TIMEOUT", 5*time.Second); err != nil {
		return Shop{}, err
	}
	if cfg.LockTimeout, err = Duration("CHECKOUT_LOCK_TIMEOUT", 10*time.Second); err != nil {
		return Shop{}, err
	}
	if cfg.SessionTTL, err = Duration("SESSION_TTL", 30*time.Minute); err != nil {
		return Shop{}, err
	}

	return cfg, nil
}
