// Package notify fans live alert notifications out to the log, MQTT and
// any other configured sink.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/rs/zerolog/log"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityWarning  Priority = "warning"
)

// Display durations by priority.
const (
	CriticalDuration = 10 * time.Second
	WarningDuration  = 8 * time.Second
)

type Notification struct {
	Priority Priority         `json:"priority"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	UPSID    string           `json:"upsId"`
	Duration time.Duration    `json:"duration"`
	Alert    domain.LiveAlert `json:"alert"`
	At       time.Time        `json:"at"`
}

// FromAlert builds the notification for a pushed alert. ok is false for
// alert types that do not raise one.
func FromAlert(a domain.LiveAlert, now time.Time) (n Notification, ok bool) {
	n = Notification{
		UPSID:   a.UPSID,
		Message: a.UPSID + " - " + a.Alert.Message,
		Alert:   a,
		At:      now,
	}
	switch a.Alert.Type {
	case domain.LiveAlertCritical:
		n.Priority = PriorityCritical
		n.Title = "Critical Alert: " + a.Alert.Title
		n.Duration = CriticalDuration
	case domain.LiveAlertWarning:
		n.Priority = PriorityWarning
		n.Title = "Warning: " + a.Alert.Title
		n.Duration = WarningDuration
	default:
		return Notification{}, false
	}
	return n, true
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Log writes notifications through zerolog.
type Log struct{}

func (Log) Notify(_ context.Context, n Notification) error {
	ev := log.Warn()
	if n.Priority == PriorityCritical {
		ev = log.Error()
	}
	ev.Str("ups_id", n.UPSID).
		Str("priority", string(n.Priority)).
		Str("metric", n.Alert.Alert.Metric).
		Float64("value", n.Alert.Alert.Value).
		Float64("threshold", n.Alert.Alert.Threshold).
		Dur("display", n.Duration).
		Msg(n.Title + ": " + n.Message)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinPriority drops notifications below critical unless warnings are allowed.
func MinPriority(next Notifier, includeWarnings bool) Notifier {
	return Func(func(ctx context.Context, n Notification) error {
		if n.Priority != PriorityCritical && !includeWarnings {
			return nil
		}
		return next.Notify(ctx, n)
	})
}
