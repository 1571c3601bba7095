package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"swing-systemv1/internal/model"
)

func TestAlertForEvent_Breakout(t *testing.T) {
	ev := model.TrendEvent{
		Kind:        model.EventBreakout,
		Symbol:      "SBIN",
		TS:          time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC),
		Trend:       "UP",
		Close:       512.40,
		BrokenLevel: 510.00,
		NewLevel:    505.25,
	}

	alert := AlertForEvent(ev)
	if alert.Level != AlertInfo {
		t.Errorf("breakout should be INFO, got %s", alert.Level)
	}
	if !strings.Contains(alert.Title, "SBIN") || !strings.Contains(alert.Title, "BREAKOUT") {
		t.Errorf("title missing symbol or kind: %q", alert.Title)
	}
	if !strings.Contains(alert.Message, "510.00") || !strings.Contains(alert.Message, "505.25") {
		t.Errorf("message missing levels: %q", alert.Message)
	}
}

func TestAlertForEvent_ReversalIsWarning(t *testing.T) {
	ev := model.TrendEvent{Kind: model.EventReversal, Symbol: "INFY", Trend: "DOWN"}
	if alert := AlertForEvent(ev); alert.Level != AlertWarning {
		t.Errorf("reversal should be WARNING, got %s", alert.Level)
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Send(context.Background(), Alert{Level: AlertInfo, Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["title"] != "t" || got["level"] != "INFO" {
		t.Errorf("unexpected payload: %v", got)
	}
	if got["source"] != "swing-trendengine" {
		t.Errorf("payload missing source: %v", got)
	}
}

func TestWebhookNotifier_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{}); err == nil {
		t.Error("expected error for non-2xx status")
	}
}

type failingNotifier struct{ err error }

func (f *failingNotifier) Send(ctx context.Context, alert Alert) error { return f.err }

type countingNotifier struct{ sent int }

func (c *countingNotifier) Send(ctx context.Context, alert Alert) error {
	c.sent++
	return nil
}

func TestMultiNotifier_ContinuesPastFailures(t *testing.T) {
	errBoom := errors.New("boom")
	counter := &countingNotifier{}
	m := NewMultiNotifier(&failingNotifier{err: errBoom}, counter)

	err := m.Send(context.Background(), Alert{Title: "x"})
	if err != errBoom {
		t.Errorf("expected first backend error, got %v", err)
	}
	if counter.sent != 1 {
		t.Errorf("second backend must still receive the alert, sent=%d", counter.sent)
	}
}
