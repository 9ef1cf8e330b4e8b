package mqtt

import (
	"context"
	"fmt"
	"testing"
	"time"

	coremon "github.com/kilianp07/flexneg/core/monitoring"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/infra/logger"
)

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CaptureMessage(string, map[string]string) {}
func (r *recordMonitor) CapturePanic(any)                         {}
func (r *recordMonitor) Flush(time.Duration)                      {}

func TestPublishErrorCaptured(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), fmt.Errorf("net fail")}}
	useClient(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})

	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1}
	n, err := NewNetwork(cfg, network.Settings{}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("network: %v", err)
	}
	if err := n.RefreshTopology(context.Background(), "{}"); err == nil {
		t.Fatalf("expected error")
	}
	if mon.err == nil {
		t.Fatalf("error not captured")
	}
	if mon.tags["topic"] != "flexneg/topology" || mon.tags["module"] != "mqtt" {
		t.Fatalf("tags not set: %v", mon.tags)
	}
}
