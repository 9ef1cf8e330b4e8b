package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/flexneg/core/metrics"
	"github.com/kilianp07/flexneg/infra/logger"
)

const writeTimeout = 5 * time.Second

// InfluxConfig locates the InfluxDB bucket receiving the points.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes step summaries and events to InfluxDB.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given endpoint. A trailing
// /api/v2/write on the URL is tolerated.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: writeTimeout}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback returns a NopSink when the InfluxDB health check
// fails, so an unreachable database never blocks the control loop.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordStep writes a step_summary point.
func (s *InfluxSink) RecordStep(res coremetrics.StepResult) error {
	p := write.NewPointWithMeasurement("step_summary").
		AddTag("component", "controller").
		AddField("step", res.Step).
		AddField("clock", res.Clock).
		AddField("flexibility_w", round3(res.Flexibility)).
		AddField("requested_w", round3(res.Requested)).
		AddField("negotiated_w", round3(res.Negotiated)).
		AddField("messages_sent", res.MessagesSent).
		AddField("runtime_ms", round3(res.Runtime.Seconds()*1000)).
		SetTime(res.Time)
	return s.write(p)
}

// RecordNegotiation writes a negotiation_outcome point.
func (s *InfluxSink) RecordNegotiation(ev coremetrics.NegotiationEvent) error {
	p := write.NewPointWithMeasurement("negotiation_outcome").
		AddTag("participant_id", ev.ParticipantID).
		AddTag("outcome", ev.Outcome).
		AddField("step", ev.Step).
		AddField("target_w", round3(ev.Target)).
		AddField("allocated_w", round3(ev.Allocated)).
		AddField("score", ev.Score).
		AddField("attempts", ev.Attempts).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordTiers writes one reputation_tier point per tier.
func (s *InfluxSink) RecordTiers(ev coremetrics.TierEvent) error {
	for _, t := range ev.Tiers {
		p := write.NewPointWithMeasurement("reputation_tier").
			AddTag("tier", strconv.Itoa(t.Tier)).
			AddField("step", ev.Step).
			AddField("mean", t.Mean).
			AddField("failures", t.Failures).
			AddField("samples", t.Samples).
			SetTime(ev.Time)
		if err := s.write(p); err != nil {
			return err
		}
	}
	return nil
}

// RecordSetpoint writes an actuator_setpoint point.
func (s *InfluxSink) RecordSetpoint(ev coremetrics.SetpointEvent) error {
	p := write.NewPointWithMeasurement("actuator_setpoint").
		AddTag("actuator_id", ev.ActuatorID).
		AddTag("participant_id", ev.ParticipantID).
		AddTag("clamped", strconv.FormatBool(ev.Clamped)).
		AddField("step", ev.Step).
		AddField("setpoint", round3(ev.Setpoint)).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
