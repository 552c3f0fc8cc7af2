package cloud

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/notify"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog/log"
)

// SNSClient publishes alert notifications to a topic.
type SNSClient struct {
	svc      *sns.Client
	topicArn string
}

// NewSNSClient creates a new SNS client instance
func NewSNSClient(ctx context.Context, region, topicArn string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &SNSClient{
		svc:      sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

// SendAlert publishes a single message.
func (c *SNSClient) SendAlert(ctx context.Context, subject, message string) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	}

	result, err := c.svc.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	log.Debug().Str("message_id", aws.ToString(result.MessageId)).Msg("sns alert published")
	return nil
}

// Notify implements notify.Notifier.
func (c *SNSClient) Notify(ctx context.Context, n notify.Notification) error {
	return c.SendAlert(ctx, FormatSubject(n), FormatMessage(n))
}

// SNS subjects are limited to 100 characters.
const maxSubject = 100

func FormatSubject(n notify.Notification) string {
	s := "UPS Alert: " + n.Title
	if len(s) <= maxSubject {
		return s
	}
	cut := maxSubject
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func FormatMessage(n notify.Notification) string {
	a := n.Alert.Alert
	return fmt.Sprintf(
		"UPS Alert\n\n"+
			"UPS: %s\n"+
			"Priority: %s\n"+
			"Metric: %s\n"+
			"Value: %.2f (threshold %.2f)\n"+
			"Message: %s\n"+
			"Time: %s\n\n"+
			"Please investigate immediately.",
		n.UPSID,
		strings.ToUpper(string(n.Priority)),
		a.Metric,
		a.Value,
		a.Threshold,
		a.Message,
		n.At.Format(time.RFC3339),
	)
}

// SendMaintenanceAlert notifies about a device that is due for service.
func (c *SNSClient) SendMaintenanceAlert(ctx context.Context, upsID string, failureRisk float64, nextService time.Time) error {
	subject := "Predictive Maintenance Alert"
	message := fmt.Sprintf(
		"UPS Maintenance Required\n\n"+
			"UPS ID: %s\n"+
			"Failure Risk (30 days): %.2f%%\n"+
			"Next Service Date: %s\n\n"+
			"Please schedule maintenance to prevent failures.",
		upsID,
		failureRisk*100,
		nextService.Format("2006-01-02"),
	)
	return c.SendAlert(ctx, subject, message)
}
