package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ErrMissingAPIBaseURL = errors.New("API_BASE_URL is not set")
	ErrMissingWSURL      = errors.New("WS_URL is not set")
)

// Config is built once at process start and handed to every component.
type Config struct {
	APIBaseURL   string
	WSURL        string
	ListenAddr   string
	APITimeout   time.Duration
	APIRateLimit float64
	APIRateBurst int

	DeviceRefreshInterval time.Duration
	PredictionInterval    time.Duration
	AlertsPageInterval    time.Duration
	PredictionLimit       int
	AlertReconnectDelay   time.Duration
	AlertPingInterval     time.Duration
	QueryGCTime           time.Duration
	BackgroundRefreshOnly bool

	MQTTBroker     string
	MQTTClientID   string
	MQTTAlertTopic string
	UseMQTT        bool

	AWSRegion        string
	S3Bucket         string
	SNSTopicArn      string
	UseCloudServices bool

	LogLevel  string
	LogPretty bool
}

func setDefaults(v *viper.Viper) {
	// API Configuration
	v.SetDefault("API_ADDR", ":8080")
	v.SetDefault("API_TIMEOUT", "0s")
	v.SetDefault("API_RATE_LIMIT", 0)
	v.SetDefault("API_RATE_BURST", 10)

	// Polling cadence
	v.SetDefault("DEVICE_REFRESH_INTERVAL", "5m")
	v.SetDefault("PREDICTION_INTERVAL", "60s")
	v.SetDefault("ALERTS_PAGE_PREDICTION_INTERVAL", "15m")
	v.SetDefault("PREDICTION_LIMIT", 50)
	v.SetDefault("ALERT_RECONNECT_DELAY", "5s")
	v.SetDefault("ALERT_PING_INTERVAL", "30s")
	v.SetDefault("QUERY_GC_TIME", "5m")
	v.SetDefault("BACKGROUND_REFRESH_ONLY", false)

	// Notification fan-out
	v.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	v.SetDefault("MQTT_CLIENT_ID", "ups-monitor")
	v.SetDefault("MQTT_ALERT_TOPIC", "ups/alerts")
	v.SetDefault("USE_MQTT", false)

	// AWS Configuration
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_S3_BUCKET", "ups-fleet-exports")
	v.SetDefault("AWS_SNS_TOPIC_ARN", "")
	v.SetDefault("USE_CLOUD_SERVICES", false) // Toggle for local vs cloud

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
}

// Load reads .env files (when present) and the environment. A missing API or
// WebSocket URL is fatal for the caller.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env.local", ".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			log.Debug().Str("file", f).Msg("loaded env file")
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		APIBaseURL:   strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		WSURL:        v.GetString("WS_URL"),
		ListenAddr:   v.GetString("API_ADDR"),
		APITimeout:   v.GetDuration("API_TIMEOUT"),
		APIRateLimit: v.GetFloat64("API_RATE_LIMIT"),
		APIRateBurst: v.GetInt("API_RATE_BURST"),

		DeviceRefreshInterval: v.GetDuration("DEVICE_REFRESH_INTERVAL"),
		PredictionInterval:    v.GetDuration("PREDICTION_INTERVAL"),
		AlertsPageInterval:    v.GetDuration("ALERTS_PAGE_PREDICTION_INTERVAL"),
		PredictionLimit:       v.GetInt("PREDICTION_LIMIT"),
		AlertReconnectDelay:   v.GetDuration("ALERT_RECONNECT_DELAY"),
		AlertPingInterval:     v.GetDuration("ALERT_PING_INTERVAL"),
		QueryGCTime:           v.GetDuration("QUERY_GC_TIME"),
		BackgroundRefreshOnly: v.GetBool("BACKGROUND_REFRESH_ONLY"),

		MQTTBroker:     v.GetString("MQTT_BROKER"),
		MQTTClientID:   v.GetString("MQTT_CLIENT_ID"),
		MQTTAlertTopic: v.GetString("MQTT_ALERT_TOPIC"),
		UseMQTT:        v.GetBool("USE_MQTT"),

		AWSRegion:        v.GetString("AWS_REGION"),
		S3Bucket:         v.GetString("AWS_S3_BUCKET"),
		SNSTopicArn:      v.GetString("AWS_SNS_TOPIC_ARN"),
		UseCloudServices: v.GetBool("USE_CLOUD_SERVICES"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogPretty: v.GetBool("LOG_PRETTY"),
	}

	if cfg.APIBaseURL == "" {
		return nil, ErrMissingAPIBaseURL
	}
	if cfg.WSURL == "" {
		return nil, ErrMissingWSURL
	}
	if cfg.DeviceRefreshInterval <= 0 {
		return nil, fmt.Errorf("DEVICE_REFRESH_INTERVAL must be positive, got %s", cfg.DeviceRefreshInterval)
	}
	if cfg.PredictionLimit <= 0 {
		return nil, fmt.Errorf("PREDICTION_LIMIT must be positive, got %d", cfg.PredictionLimit)
	}
	return cfg, nil
}

// SetupLogging configures the global zerolog logger.
func (c *Config) SetupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if c.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
