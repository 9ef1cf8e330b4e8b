package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"

	coremon "github.com/kilianp07/flexneg/core/monitoring"
)

func TestNewSentryMonitorEmptyDSN(t *testing.T) {
	m, err := NewSentryMonitor(SentryConfig{})
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	if _, ok := m.(coremon.NopMonitor); !ok {
		t.Fatalf("expected NopMonitor, got %T", m)
	}
}

func TestSentryMonitorTags(t *testing.T) {
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://key@example.com/1",
		BeforeSend: func(ev *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			events = append(events, ev)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	m := &sentryMonitor{hub: sentry.NewHub(client, sentry.NewScope())}
	m.CaptureException(errors.New("shutdown failed"), map[string]string{"module": "step"})
	m.CaptureMessage("infeasible allocation", map[string]string{"participant_id": "c1"})
	m.CaptureException(nil, nil)
	m.Flush(time.Millisecond)

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Tags["module"] != "step" || events[1].Tags["participant_id"] != "c1" {
		t.Fatalf("tags missing: %v %v", events[0].Tags, events[1].Tags)
	}
}
