// Package config loads application configuration from the environment. A .env
// file in the working directory is applied first when present so local runs
// don't need exported variables.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings consumed by cmd/api.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	JWTSecret   string
	TokenTTLMin int

	// RideFee is the posting fee in credits debited from a driver when a
	// ride is published. Zero disables the fee.
	RideFee int

	AMQPURL   string
	RedisAddr string

	CheckoutURL    string
	CheckoutAPIKey string
	MailerURL      string
	MailerAPIKey   string
	BaseURL        string
}

// Load reads configuration from the environment. Required variables cause a
// fatal log when missing; collaborator endpoints are optional so the service
// can run with those features disabled.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:         getenv("APP_ENV", "dev"),
		Port:        getenv("APP_PORT", "8080"),
		DatabaseURL: must("DATABASE_URL"),
		JWTSecret:   must("JWT_SECRET"),
		TokenTTLMin: getenvInt("TOKEN_TTL_MIN", 24*60),
		RideFee:     getenvInt("RIDE_POSTING_FEE", 0),

		AMQPURL:   os.Getenv("AMQP_URL"),
		RedisAddr: os.Getenv("REDIS_ADDR"),

		CheckoutURL:    os.Getenv("CHECKOUT_URL"),
		CheckoutAPIKey: os.Getenv("CHECKOUT_API_KEY"),
		MailerURL:      os.Getenv("MAILER_URL"),
		MailerAPIKey:   os.Getenv("MAILER_API_KEY"),
		BaseURL:        getenv("BASE_URL", "http://localhost:8080"),
	}
}

func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("env var %s must be an integer: %v", key, err)
	}
	return n
}
