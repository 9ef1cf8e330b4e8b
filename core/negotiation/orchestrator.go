// Package negotiation drives one negotiation round per step: it issues a
// request to every consumer with demand, waits for completions in queue
// order, restarts short allocations within a shared budget and scores every
// terminal outcome.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/flexneg/core/events"
	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/monitoring"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/internal/eventbus"
)

// OutcomeKind classifies how a request chain ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeTimeout
	OutcomeInfeasible
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeInfeasible:
		return "infeasible"
	default:
		return "unknown"
	}
}

// Request is the demand of one consumer for the round.
type Request struct {
	Participant model.Participant
	Target      float64
}

// Outcome is the terminal state of one consumer's request chain.
type Outcome struct {
	Participant model.Participant
	Kind        OutcomeKind
	Target      float64
	Allocated   float64
	// Score is the reputation after the update, zero when Scored is false.
	Score    float64
	Scored   bool
	Attempts int
	Err      error
}

// Round summarizes a drained queue.
type Round struct {
	Outcomes   []Outcome
	Requests   int
	Restarts   int
	BudgetLeft int
}

// Scorer records negotiation outcomes and returns the updated score.
type Scorer interface {
	Record(p model.Participant, success bool) float64
}

// Orchestrator runs negotiation rounds against a network.
type Orchestrator struct {
	net    network.Network
	scorer Scorer
	cfg    Config
	log    logger.Logger
	bus    eventbus.EventBus
}

// NewOrchestrator returns an orchestrator. bus may be nil.
func NewOrchestrator(net network.Network, scorer Scorer, cfg Config, log logger.Logger, bus eventbus.EventBus) (*Orchestrator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("negotiation config: %w", err)
	}
	if net == nil || scorer == nil {
		return nil, fmt.Errorf("network and scorer are required")
	}
	return &Orchestrator{net: net, scorer: scorer, cfg: cfg, log: log, bus: bus}, nil
}

type item struct {
	seq       int
	req       Request
	amount    float64
	requestID string
	attempt   int
	started   time.Time
}

type waitResult struct {
	seq    int
	err    error
	waited time.Duration
}

type round struct {
	o      *Orchestrator
	step   int64
	window model.Window
	budget int
	queue  []*item
	out    Round
}

// Run issues the requests with a positive target and drains the queue until
// every chain reached a terminal outcome. Outcomes are applied in queue order
// even when several waits are in flight.
func (o *Orchestrator) Run(ctx context.Context, step int64, window model.Window, requests []Request) Round {
	r := &round{o: o, step: step, window: window, budget: o.cfg.Budget()}
	for _, req := range requests {
		if req.Participant == nil || req.Target <= 0 {
			continue
		}
		r.issue(ctx, &item{req: req, amount: req.Target, attempt: 1, started: time.Now()})
	}

	results := make(chan waitResult, o.cfg.Workers)
	pending := make(map[int]waitResult)
	next, inflight := 0, 0
	for head := 0; head < len(r.queue); head++ {
		for next < len(r.queue) && inflight < o.cfg.Workers {
			go o.wait(ctx, r.queue[next], results)
			next++
			inflight++
		}
		cur := r.queue[head]
		res, ok := pending[cur.seq]
		for !ok {
			got := <-results
			inflight--
			pending[got.seq] = got
			res, ok = pending[cur.seq]
		}
		delete(pending, cur.seq)
		r.resolve(ctx, cur, res)
	}

	r.out.BudgetLeft = r.budget
	budgetRemaining.Set(float64(r.budget))
	return r.out
}

func (o *Orchestrator) wait(ctx context.Context, it *item, results chan<- waitResult) {
	start := time.Now()
	err := o.net.WaitForCompletion(ctx, it.requestID, o.timeout(it.req.Participant))
	results <- waitResult{seq: it.seq, err: err, waited: time.Since(start)}
}

func (o *Orchestrator) timeout(p model.Participant) time.Duration {
	patience := p.Patience()
	if patience <= 0 {
		patience = o.cfg.defaultPatience()
	}
	return time.Duration(o.cfg.PatienceFactor * float64(patience))
}

// issue starts a request and enqueues it. A request that cannot be started
// ends its chain as a scored failure.
func (r *round) issue(ctx context.Context, it *item) {
	p := it.req.Participant
	id, err := r.o.net.StartNegotiation(ctx, p, r.window, it.amount)
	kind := "initial"
	if it.attempt > 1 {
		kind = "restart"
	}
	requestsTotal.WithLabelValues(kind).Inc()
	r.out.Requests++
	if err != nil {
		r.o.log.Errorf("start negotiation for %s: %v", p.ID(), err)
		monitoring.CaptureException(err, map[string]string{"participant": p.ID()})
		r.finish(it, OutcomeFailure, 0, true, fmt.Errorf("start negotiation: %w", err))
		return
	}
	it.requestID = id
	it.seq = len(r.queue)
	r.queue = append(r.queue, it)
	r.publish(events.NegotiationStarted{
		Step:          r.step,
		ParticipantID: p.ID(),
		RequestID:     id,
		Amount:        it.amount,
		Attempt:       it.attempt,
	})
}

func (r *round) resolve(ctx context.Context, it *item, res waitResult) {
	p := it.req.Participant
	if res.err != nil {
		waitSeconds.WithLabelValues(OutcomeTimeout.String()).Observe(res.waited.Seconds())
		if !errors.Is(res.err, network.ErrNegotiationTimeout) {
			r.o.log.Warnf("wait for %s ended: %v", p.ID(), res.err)
		}
		r.o.log.Infof("negotiation of %s timed out after %s", p.ID(), res.waited)
		r.finish(it, OutcomeTimeout, allocated(r.o.net.Result(p)), true, res.err)
		return
	}

	sum := allocated(r.o.net.Result(p))
	target := it.req.Target
	switch {
	case sum < target && r.budget > 0:
		waitSeconds.WithLabelValues("restart").Observe(res.waited.Seconds())
		r.budget--
		r.out.Restarts++
		r.o.log.Debugw("restarting negotiation", map[string]any{
			"participant": p.ID(),
			"shortfall":   target - sum,
			"budget":      r.budget,
		})
		r.issue(ctx, &item{req: it.req, amount: target - sum, attempt: it.attempt + 1, started: it.started})
	case sum > target && r.budget == 0:
		waitSeconds.WithLabelValues(OutcomeInfeasible.String()).Observe(res.waited.Seconds())
		err := fmt.Errorf("%w: %s allocated %.3f for target %.3f", ErrInfeasibleAllocation, p.ID(), sum, target)
		r.o.log.Errorf("%v", err)
		monitoring.CaptureMessage(err.Error(), map[string]string{"participant": p.ID()})
		r.finish(it, OutcomeInfeasible, sum, false, err)
	default:
		kind := OutcomeFailure
		if sum >= target {
			kind = OutcomeSuccess
		}
		waitSeconds.WithLabelValues(kind.String()).Observe(res.waited.Seconds())
		r.finish(it, kind, sum, true, nil)
	}
}

func (r *round) finish(it *item, kind OutcomeKind, sum float64, score bool, err error) {
	p := it.req.Participant
	out := Outcome{
		Participant: p,
		Kind:        kind,
		Target:      it.req.Target,
		Allocated:   sum,
		Scored:      score,
		Attempts:    it.attempt,
		Err:         err,
	}
	if score {
		out.Score = r.o.scorer.Record(p, kind == OutcomeSuccess)
	}
	outcomesTotal.WithLabelValues(kind.String()).Inc()
	r.out.Outcomes = append(r.out.Outcomes, out)
	r.publish(events.NegotiationResolved{
		Step:          r.step,
		ParticipantID: p.ID(),
		Outcome:       kind.String(),
		Target:        out.Target,
		Allocated:     sum,
		Score:         out.Score,
		Attempts:      it.attempt,
		Latency:       time.Since(it.started),
		Err:           err,
	})
}

func (r *round) publish(e eventbus.Event) {
	if r.o.bus != nil {
		r.o.bus.Publish(e)
	}
}

func allocated(result map[string]float64) float64 {
	var sum float64
	for _, v := range result {
		sum += v
	}
	return sum
}
