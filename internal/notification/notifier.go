// Package notification provides alert delivery to external channels
// (Telegram, webhooks) for structural trend events.
package notification

import (
	"context"
	"fmt"
	"log"

	"swing-systemv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// AlertForEvent converts a trend event into an alert. Reversals are
// warnings since they flip the working trend; breakouts are informational.
func AlertForEvent(ev model.TrendEvent) Alert {
	level := AlertInfo
	if ev.Kind == model.EventReversal {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s → %s", ev.Symbol, ev.Kind, ev.Trend),
		Message: fmt.Sprintf("close %.2f broke level %.2f, new CoCh level %.2f (%s)",
			ev.Close, ev.BrokenLevel, ev.NewLevel, ev.TS.Format("2006-01-02 15:04")),
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// MultiNotifier fans an alert out to several backends. Delivery failures
// are logged per backend; the first error is returned.
type MultiNotifier struct {
	backends []Notifier
}

// NewMultiNotifier creates a fan-out notifier.
func NewMultiNotifier(backends ...Notifier) *MultiNotifier {
	return &MultiNotifier{backends: backends}
}

func (m *MultiNotifier) Send(ctx context.Context, alert Alert) error {
	var first error
	for _, n := range m.backends {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] backend error: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
