// Package step drives the per-step lifecycle: it bootstraps the negotiation
// network from the first topology payload, runs one negotiation round per
// step and turns the negotiated allocations into actuator setpoints.
package step

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/flexneg/core/events"
	"github.com/kilianp07/flexneg/core/ident"
	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/mapping"
	"github.com/kilianp07/flexneg/core/metrics"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/monitoring"
	"github.com/kilianp07/flexneg/core/negotiation"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/core/reputation"
	"github.com/kilianp07/flexneg/core/solution"
	"github.com/kilianp07/flexneg/core/steplog"
	"github.com/kilianp07/flexneg/internal/eventbus"
)

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateShutDown:
		return "shut_down"
	default:
		return "unknown"
	}
}

// Report describes what a step did. Skipped steps carry nothing else.
type Report struct {
	Step         int64
	Clock        int64
	Skipped      bool
	Flexibility  float64
	Requested    float64
	Negotiated   float64
	MessagesSent int
	Runtime      time.Duration
	Round        negotiation.Round
	Targets      map[string]float64
	Capacities   map[string]float64
	Final        map[string]float64
	Projections  []solution.Projection
	Tiers        []reputation.TierStats
}

// Output is returned to the host for every step.
type Output struct {
	Actuators []model.Actuator
	// Weights holds one confidence per actuator, always 1.
	Weights []float64
	Aux     map[string]any
	Report  *Report
}

// Controller runs the steps of one episode. At most one step runs at a time.
type Controller struct {
	cfg  Config
	net  network.Network
	log  logger.Logger
	sink metrics.MetricsSink
	bus  eventbus.EventBus
	rep  *reputation.Engine
	orch *negotiation.Orchestrator

	mu       sync.Mutex
	store    steplog.LogStore
	state    State
	steps    int64
	clock    int64
	topology string
	mapping  *mapping.Mapping
}

// New returns an uninitialized controller. sink and bus may be nil.
func New(cfg Config, net network.Network, sink metrics.MetricsSink, bus eventbus.EventBus, log logger.Logger) (*Controller, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if net == nil {
		return nil, fmt.Errorf("network is required")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	params, err := reputation.NewParams(float64(cfg.EpisodeLength), float64(cfg.StepSize))
	if err != nil {
		return nil, err
	}
	rep := reputation.NewEngine(params, cfg.Reputation, log)
	if pub, ok := net.(network.ReputationPublisher); ok {
		rep.SetPublisher(pub)
	}
	orch, err := negotiation.NewOrchestrator(net, rep, cfg.Negotiation, log, bus)
	if err != nil {
		return nil, err
	}
	controllerState.Set(float64(StateUninitialized))
	return &Controller{
		cfg:   cfg,
		net:   net,
		log:   log,
		sink:  sink,
		bus:   bus,
		rep:   rep,
		orch:  orch,
		store: steplog.NopStore{},
	}, nil
}

// SetLogStore configures the store used to persist step logs.
func (c *Controller) SetLogStore(store steplog.LogStore) {
	if store == nil {
		store = steplog.NopStore{}
	}
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
}

// Config returns the settings the controller runs with.
func (c *Controller) Config() Config { return c.cfg }

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Participants lists the participants known to the network.
func (c *Controller) Participants() []model.Participant {
	return c.net.Participants()
}

// Scores returns the current reputation of every scored participant.
func (c *Controller) Scores() map[string]float64 {
	return c.rep.Scores()
}

// Step handles one host step. Only malformed identifiers at bootstrap and
// network failures at bootstrap or shutdown are returned; every other
// condition is logged and the step completes.
func (c *Controller) Step(ctx context.Context, readings []model.Reading, actuators []model.Actuator, terminal bool) (Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer monitoring.Recover()

	if c.state == StateShutDown {
		return Output{}, ErrShutDown
	}
	out := Output{Actuators: actuators, Weights: ones(len(actuators)), Aux: map[string]any{}}
	payload := c.topologyPayload(readings)

	if c.state == StateUninitialized {
		if payload == "" {
			c.log.Errorf("%v: add %s to the sensor list", ErrMissingTopology, c.cfg.TopologySensorID)
			stepsTotal.WithLabelValues("skipped").Inc()
			out.Report = &Report{Skipped: true}
			if terminal {
				c.setState(StateShutDown)
			}
			return out, nil
		}
		if err := c.bootstrap(ctx, payload, readings, actuators); err != nil {
			stepsTotal.WithLabelValues("failed").Inc()
			return out, err
		}
	} else if payload != "" {
		if err := c.net.RefreshTopology(ctx, payload); err != nil {
			c.log.Warnf("refresh topology: %v", err)
		}
	}

	out.Report = c.run(ctx, readings, actuators)
	stepsTotal.WithLabelValues("completed").Inc()

	if terminal {
		if err := c.net.Shutdown(ctx); err != nil {
			monitoring.CaptureException(err, map[string]string{"module": "network"})
			c.setState(StateShutDown)
			return out, fmt.Errorf("shutdown network: %w", err)
		}
		c.log.Infof("network shut down after step %d", c.steps)
		c.setState(StateShutDown)
	}
	return out, nil
}

// topologyPayload returns the payload to use for this step. An empty
// reading reuses the cached payload.
func (c *Controller) topologyPayload(readings []model.Reading) string {
	for _, r := range readings {
		if r.ID != c.cfg.TopologySensorID {
			continue
		}
		if r.Text == "" {
			return c.topology
		}
		return r.Text
	}
	return ""
}

func (c *Controller) bootstrap(ctx context.Context, payload string, readings []model.Reading, actuators []model.Actuator) error {
	c.log.Infof("bootstrapping network")
	if err := c.net.Bootstrap(ctx, payload); err != nil {
		monitoring.CaptureException(err, map[string]string{"module": "network"})
		return fmt.Errorf("bootstrap network: %w", err)
	}
	sensorIDs := make([]string, len(readings))
	for i, r := range readings {
		sensorIDs[i] = r.ID
	}
	actuatorIDs := make([]string, len(actuators))
	for i, a := range actuators {
		actuatorIDs[i] = a.ActuatorID()
	}
	m, err := mapping.Build(sensorIDs, actuatorIDs, c.net)
	if err != nil {
		if serr := c.net.Shutdown(ctx); serr != nil {
			c.log.Errorf("shutdown after failed mapping: %v", serr)
		}
		monitoring.CaptureException(err, map[string]string{"module": "mapping"})
		return fmt.Errorf("build mapping: %w", err)
	}
	c.mapping = m
	c.topology = payload
	c.setState(StateActive)
	c.log.Infof("network initialized: %d/%d sensors and %d/%d actuators mapped",
		mapping.Bound(m.Sensors), len(m.Sensors), mapping.Bound(m.Actuators), len(m.Actuators))
	return nil
}

func (c *Controller) run(ctx context.Context, readings []model.Reading, actuators []model.Actuator) *Report {
	start := time.Now()
	c.steps++
	c.clock += c.cfg.StepSize
	rep := &Report{
		Step:       c.steps,
		Clock:      c.clock,
		Targets:    make(map[string]float64),
		Capacities: make(map[string]float64),
	}

	requests := c.updateFlexibilities(readings, rep)
	window := model.Window{Start: c.clock, End: c.clock + c.cfg.StepSize}
	rep.Round = c.orch.Run(ctx, c.steps, window, requests)

	rep.Tiers = c.rep.Flush()
	c.publish(tierEvent(c.steps, rep.Tiers))

	rep.Final = solution.Aggregate(c.net, consumersOf(c.net.Participants()))
	rep.Negotiated = solution.Total(rep.Final)
	for _, p := range c.net.Participants() {
		rep.MessagesSent += c.net.MessagesSent(p)
		c.net.ResetMessages(p)
	}
	rep.Projections = solution.Project(actuators, c.mapping.Actuators, rep.Final, rep.Capacities, c.log)
	for _, p := range rep.Projections {
		c.publish(events.SetpointApplied{
			Step:          c.steps,
			ActuatorID:    p.ActuatorID,
			ParticipantID: p.ParticipantID,
			Setpoint:      p.Setpoint,
			Clamped:       p.Clamped,
		})
	}
	rep.Runtime = time.Since(start)
	c.report(ctx, rep)
	return rep
}

// updateFlexibilities pushes the producers' capacities and the consumers'
// demands, and returns one request per consumer with demand.
func (c *Controller) updateFlexibilities(readings []model.Reading, rep *Report) []negotiation.Request {
	var requests []negotiation.Request
	var consumers []model.Participant
	seen := make(map[string]bool)
	n := len(readings)
	if len(c.mapping.Sensors) < n {
		n = len(c.mapping.Sensors)
	}
	for i := 0; i < n; i++ {
		e := c.mapping.Sensors[i]
		if !e.Present() {
			continue
		}
		p, v := e.Participant, readings[i].Value
		switch {
		case p.Role() == model.RoleProducer && e.Attribute == ident.AttrFlex:
			capacity := v * c.cfg.FactorMW
			rep.Capacities[p.ID()] = capacity
			rep.Flexibility += capacity
			if err := c.net.PushFlexibility(p, c.clock, 0, math.Floor(capacity)); err != nil {
				c.log.Warnf("push flexibility of %s: %v", p.ID(), err)
			}
		case p.Role() == model.RoleConsumer && e.Attribute == ident.AttrPower:
			target := math.Ceil(v * c.cfg.FactorMW)
			rep.Targets[p.ID()] = target
			rep.Requested += v * c.cfg.FactorMW
			if err := c.net.PushFlexibility(p, c.clock, 0, 0); err != nil {
				c.log.Warnf("push flexibility of %s: %v", p.ID(), err)
			}
			if !seen[p.ID()] {
				seen[p.ID()] = true
				consumers = append(consumers, p)
			}
		}
	}
	for _, p := range consumers {
		requests = append(requests, negotiation.Request{Participant: p, Target: rep.Targets[p.ID()]})
	}
	return requests
}

// consumersOf keeps the consuming participants of ps.
func consumersOf(ps []model.Participant) []model.Participant {
	var out []model.Participant
	for _, p := range ps {
		if p.Role() == model.RoleConsumer {
			out = append(out, p)
		}
	}
	return out
}

func (c *Controller) report(ctx context.Context, rep *Report) {
	now := time.Now()
	c.log.Infof("step %d (t=%d): flexibility %.3f MW, requested %.3f MW, negotiated %.3f MW, %d messages, %s",
		rep.Step, rep.Clock,
		rep.Flexibility/c.cfg.FactorMW, rep.Requested/c.cfg.FactorMW, rep.Negotiated/c.cfg.FactorMW,
		rep.MessagesSent, rep.Runtime)
	if err := c.sink.RecordStep(metrics.StepResult{
		Step:         rep.Step,
		Clock:        rep.Clock,
		Flexibility:  rep.Flexibility,
		Requested:    rep.Requested,
		Negotiated:   rep.Negotiated,
		MessagesSent: rep.MessagesSent,
		Runtime:      rep.Runtime,
		Time:         now,
	}); err != nil {
		c.log.Warnf("record step: %v", err)
	}
	if err := c.store.Append(ctx, logRecord(rep, now)); err != nil {
		c.log.Warnf("append step log: %v", err)
	}
	c.publish(events.StepCompleted{
		Step:         rep.Step,
		Clock:        rep.Clock,
		Flexibility:  rep.Flexibility,
		Requested:    rep.Requested,
		Negotiated:   rep.Negotiated,
		MessagesSent: rep.MessagesSent,
		Duration:     rep.Runtime,
	})
}

func (c *Controller) setState(s State) {
	c.state = s
	controllerState.Set(float64(s))
}

func (c *Controller) publish(e eventbus.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func tierEvent(step int64, stats []reputation.TierStats) events.TierStatsFlushed {
	tiers := make([]events.TierStat, len(stats))
	for i, s := range stats {
		tiers[i] = events.TierStat{Tier: s.Tier, ScoreSum: s.ScoreSum, Failures: s.Failures, Samples: s.Samples}
	}
	return events.TierStatsFlushed{Step: step, Tiers: tiers}
}

func logRecord(rep *Report, now time.Time) steplog.LogRecord {
	rec := steplog.LogRecord{
		Timestamp:    now,
		Step:         rep.Step,
		Clock:        rep.Clock,
		Flexibility:  rep.Flexibility,
		Requested:    rep.Requested,
		Negotiated:   rep.Negotiated,
		MessagesSent: rep.MessagesSent,
		RuntimeMS:    rep.Runtime.Milliseconds(),
		Restarts:     rep.Round.Restarts,
		Targets:      rep.Targets,
		Capacities:   rep.Capacities,
		Final:        rep.Final,
		Setpoints:    make(map[string]float64, len(rep.Projections)),
	}
	for _, o := range rep.Round.Outcomes {
		lo := steplog.Outcome{
			ParticipantID: o.Participant.ID(),
			Outcome:       o.Kind.String(),
			Target:        o.Target,
			Allocated:     o.Allocated,
			Score:         o.Score,
			Attempts:      o.Attempts,
		}
		if o.Err != nil {
			lo.Error = o.Err.Error()
		}
		rec.Outcomes = append(rec.Outcomes, lo)
	}
	for _, p := range rep.Projections {
		rec.Setpoints[p.ParticipantID] = p.Setpoint
	}
	for _, t := range rep.Tiers {
		rec.Tiers = append(rec.Tiers, steplog.TierStat{Tier: t.Tier, Mean: t.Mean(), Failures: t.Failures, Samples: t.Samples})
	}
	return rec
}

func ones(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}
