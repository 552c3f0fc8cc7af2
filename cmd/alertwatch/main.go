package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/alertstream"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/cloud"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/config"
	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/notify"
	"github.com/rs/zerolog/log"
)

const statusEvery = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	cfg.SetupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifiers := notify.Multi{notify.Log{}}
	if cfg.UseMQTT {
		m, err := notify.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-watch", cfg.MQTTAlertTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connect")
		}
		defer m.Close()
		notifiers = append(notifiers, m)
	}
	if cfg.UseCloudServices && cfg.SNSTopicArn != "" {
		sns, err := cloud.NewSNSClient(ctx, cfg.AWSRegion, cfg.SNSTopicArn)
		if err != nil {
			log.Fatal().Err(err).Msg("sns client")
		}
		notifiers = append(notifiers, notify.MinPriority(sns, false))
	}

	stream, err := alertstream.New(cfg.WSURL,
		alertstream.WithNotifier(notifiers),
		alertstream.WithReconnectDelay(cfg.AlertReconnectDelay),
		alertstream.WithPingInterval(cfg.AlertPingInterval),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("alert stream")
	}
	stream.Start()
	defer stream.Close()

	log.Info().Str("url", cfg.WSURL).Msg("alertwatch running; Ctrl+C to stop")

	ticker := time.NewTicker(statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("alertwatch stopped")
			return
		case <-ticker.C:
			log.Info().
				Str("state", stream.State().String()).
				Int("buffered", len(stream.Alerts())).
				Int("unread", stream.Unread()).
				Msg("alert stream status")
		}
	}
}
