// Command composer runs the platform composition engine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/platformkit/composer/internal/app"
	"github.com/platformkit/composer/internal/logging"
)

type envConfig struct {
	ListenAddr  string `env:"COMPOSER_LISTEN_ADDR,default=:8080"`
	PostgresDSN string `env:"COMPOSER_POSTGRES_DSN"`

	RedisAddr     string `env:"COMPOSER_REDIS_ADDR"`
	RedisPassword string `env:"COMPOSER_REDIS_PASSWORD"`
	RedisDB       int    `env:"COMPOSER_REDIS_DB,default=0"`

	JWTSecret string `env:"COMPOSER_JWT_SECRET,required"`
	JWTIssuer string `env:"COMPOSER_JWT_ISSUER,default=composer"`

	CatalogPath   string `env:"COMPOSER_CATALOG_PATH"`
	SweepSchedule string `env:"COMPOSER_SWEEP_SCHEDULE,default=@every 1m"`

	AllowedOrigin  string  `env:"COMPOSER_ALLOWED_ORIGIN,default=*"`
	RateLimitRPS   float64 `env:"COMPOSER_RATE_LIMIT_RPS,default=50"`
	RateLimitBurst int     `env:"COMPOSER_RATE_LIMIT_BURST,default=100"`
}

func main() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	log := logging.New("composer")

	var env envConfig
	if err := envdecode.StrictDecode(&env); err != nil {
		log.WithError(err).Fatal("invalid environment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, app.Config{
		ListenAddr:     env.ListenAddr,
		PostgresDSN:    env.PostgresDSN,
		RedisAddr:      env.RedisAddr,
		RedisPassword:  env.RedisPassword,
		RedisDB:        env.RedisDB,
		JWTSecret:      env.JWTSecret,
		JWTIssuer:      env.JWTIssuer,
		CatalogPath:    env.CatalogPath,
		SweepSchedule:  env.SweepSchedule,
		AllowedOrigin:  env.AllowedOrigin,
		RateLimitRPS:   env.RateLimitRPS,
		RateLimitBurst: env.RateLimitBurst,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}

	errs := make(chan error, 1)
	go func() { errs <- application.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errs:
		if err != nil {
			log.WithError(err).Error("server stopped")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
	}
}
