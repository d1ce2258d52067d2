package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"ecoride/admin"
	"ecoride/auth"
	"ecoride/checkout"
	"ecoride/config"
	"ecoride/db"
	"ecoride/httpapi"
	"ecoride/notify"
	"ecoride/outbox"
	"ecoride/profile"
	"ecoride/report"
	"ecoride/review"
	"ecoride/ride"
	"ecoride/vehicle"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret,
		time.Duration(cfg.TokenTTLMin)*time.Minute)

	pay := checkout.New(cfg.CheckoutURL, cfg.CheckoutAPIKey,
		cfg.BaseURL+"/booking/success", cfg.BaseURL+"/booking/cancelled")

	rideRepo := ride.NewPGRepository(pool)
	rideSvc := ride.NewService(pool, rideRepo, outbox.Writer{}, pay, cfg.RideFee)
	reviewSvc := review.NewService(review.NewPGRepository(pool))
	profileRepo := profile.NewRepository(pool)
	vehicleRepo := vehicle.NewRepository(pool)
	adminSvc := admin.NewService(pool)
	reportSvc := report.NewService(pool, cfg.RideFee)

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer cache.Close()
	}

	// notifications stay off without a broker; bookings keep working
	if cfg.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("connect broker: %v", err)
		}
		defer publisher.Close()

		relay := outbox.NewRelay(pool, publisher, 5*time.Second)
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("outbox relay stopped: %v", err)
			}
		}()

		if cfg.MailerURL != "" {
			mailer := notify.NewMailer(cfg.MailerURL, cfg.MailerAPIKey, "no-reply@ecoride.example")
			consumer := notify.NewConsumer(cfg.AMQPURL, pool, mailer)
			go func() {
				if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
					log.Printf("email consumer stopped: %v", err)
				}
			}()
		}
	}

	server := httpapi.NewServer(authSvc, rideSvc, rideRepo, reviewSvc,
		profileRepo, vehicleRepo, adminSvc, reportSvc, cache)

	e := server.Routes()
	log.Printf("listening on :%s (env=%s)", cfg.Port, cfg.Env)
	if err := e.Start(":" + cfg.Port); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
