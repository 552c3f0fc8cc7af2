package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/cloud"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/config"
	httpHandlers "github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/http"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/notify"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifiers := notify.Multi{notify.Log{}}
	opts := []service.Option{}

	if cfg.UseMQTT {
		m, err := notify.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTAlertTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connect")
		}
		defer m.Close()
		notifiers = append(notifiers, m)
	}

	if cfg.UseCloudServices {
		if cfg.SNSTopicArn != "" {
			sns, err := cloud.NewSNSClient(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
			if err != nil {
				log.Fatal().Err(err).Msg("sns client")
			}
			notifiers = append(notifiers, notify.MinPriority(sns, false))
			opts = append(opts, service.WithMaintenanceAlerter(sns))
		}
		s3, err := cloud.NewS3Client(ctx, cfg.AWSRegion, cfg.S3Bucket)
		if err != nil {
			log.Fatal().Err(err).Msg("s3 client")
		}
		opts = append(opts, service.WithExportStore(s3))
		log.Info().Str("region", cfg.AWSRegion).Str("bucket", cfg.S3Bucket).Msg("cloud services enabled")
	}

	svcs, err := service.New(cfg, append(opts, service.WithNotifier(notifiers))...)
	if err != nil {
		log.Fatal().Err(err).Msg("service init failed")
	}
	defer svcs.Close()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Debug().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("took", time.Since(start)).
			Msg("request")
		return err
	})
	httpHandlers.Register(app, svcs)

	go svcs.Run(ctx)

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.APIBaseURL).Msg("api listening")
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("server exit")
	}
}
