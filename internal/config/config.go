// config.go
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	MongoDBName string
	AuthURL     string
	RabbitURL   string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	Port        string
	Env         string

	FrontendURL string
	BackendURL  string

	// Timeout total para llamadas salientes a proveedores (incluye reintentos)
	ProviderTimeout time.Duration
	ProviderRetries int

	// Límite por cliente en las rutas de pago que dispara el comprador
	RateLimitPerSecond float64
	RateLimitBurst     int

	ExpirySweepInterval time.Duration
	TrackingRetention   time.Duration
	PingInterval        time.Duration

	Payments Payments
}

// Load lee .env (si existe) y luego el entorno. Se resuelve una sola vez al arrancar.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("no se pudo leer .env", "error", err)
	}

	env := getEnv("APP_ENV", "development")
	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://host.docker.internal:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "checkout_db"),
		AuthURL:     getEnv("AUTH_URL", "http://host.docker.internal:3000"),
		RabbitURL:   getEnv("RABBIT_URL", "amqp://host.docker.internal"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		RedisPass:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		Port:        getEnv("PORT", "8080"),
		Env:         env,

		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		BackendURL:  getEnv("BACKEND_URL", "http://localhost:8080"),

		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 20*time.Second),
		ProviderRetries: getEnvInt("PROVIDER_RETRIES", 3),

		// 100 pedidos cada 15 minutos por IP, con ráfagas de 20
		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_RPS", 100.0/900.0),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),

		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		TrackingRetention:   getEnvDuration("TRACKING_RETENTION", 30*24*time.Hour),
		PingInterval:        getEnvDuration("TRACKING_PING_INTERVAL", 30*time.Second),
	}
	cfg.Payments = loadPayments(env, cfg.FrontendURL, cfg.BackendURL)
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}
