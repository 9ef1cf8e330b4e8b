package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/flexneg/core/events"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/infra/logger"
	"github.com/kilianp07/flexneg/internal/eventbus"
)

// reply decides what a consumer receives for an attempt. hang simulates a
// completion that never arrives.
type reply struct {
	alloc map[string]float64
	hang  bool
	delay time.Duration
}

type scriptNet struct {
	network.Network

	mu       sync.Mutex
	script   map[string]func(attempt int, amount float64) reply
	attempts map[string]int
	starts   []string
	amounts  map[string][]float64
	reqs     map[string]reply
	owners   map[string]string
	results  map[string]map[string]float64
	startErr error
}

func newScriptNet() *scriptNet {
	return &scriptNet{
		script:   make(map[string]func(int, float64) reply),
		attempts: make(map[string]int),
		amounts:  make(map[string][]float64),
		reqs:     make(map[string]reply),
		owners:   make(map[string]string),
		results:  make(map[string]map[string]float64),
	}
}

func (n *scriptNet) StartNegotiation(_ context.Context, p model.Participant, _ model.Window, amount float64) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.startErr != nil {
		return "", n.startErr
	}
	n.attempts[p.ID()]++
	a := n.attempts[p.ID()]
	n.starts = append(n.starts, p.ID())
	n.amounts[p.ID()] = append(n.amounts[p.ID()], amount)
	id := fmt.Sprintf("%s-%d", p.ID(), a)
	rep := reply{}
	if f, ok := n.script[p.ID()]; ok {
		rep = f(a, amount)
	}
	if rep.alloc != nil {
		rep.alloc = copyAlloc(rep.alloc)
	}
	n.reqs[id] = rep
	n.owners[id] = p.ID()
	return id, nil
}

func (n *scriptNet) WaitForCompletion(_ context.Context, id string, _ time.Duration) error {
	n.mu.Lock()
	rep := n.reqs[id]
	owner := n.owners[id]
	n.mu.Unlock()
	if rep.delay > 0 {
		time.Sleep(rep.delay)
	}
	if rep.hang {
		return network.ErrNegotiationTimeout
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	res := n.results[owner]
	if res == nil {
		res = make(map[string]float64)
		n.results[owner] = res
	}
	for k, v := range rep.alloc {
		res[k] += v
	}
	return nil
}

func (n *scriptNet) Result(p model.Participant) map[string]float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return copyAlloc(n.results[p.ID()])
}

func copyAlloc(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type record struct {
	id      string
	success bool
}

type fakeScorer struct {
	mu      sync.Mutex
	records []record
}

func (s *fakeScorer) Record(p model.Participant, success bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record{p.ID(), success})
	if success {
		return 0
	}
	return 0.1
}

func consumer(id string) model.Agent {
	return model.Agent{AgentID: id, Element: model.KindLoad, PatienceMS: 10}
}

func setup(t *testing.T, cfg Config) (*Orchestrator, *scriptNet, *fakeScorer) {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	net := newScriptNet()
	sc := &fakeScorer{}
	o, err := NewOrchestrator(net, sc, cfg, logger.NopLogger{}, nil)
	require.NoError(t, err)
	return o, net, sc
}

var window = model.Window{Start: 900, End: 1800}

func budget(n int) *int { return &n }

func TestRun_RetryBudgetExhaustion(t *testing.T) {
	o, net, sc := setup(t, Config{RestartBudget: budget(3)})
	net.script["c1"] = func(int, float64) reply { return reply{alloc: map[string]float64{"g1": 1}} }

	r := o.Run(context.Background(), 1, window, []Request{{Participant: consumer("c1"), Target: 10}})

	assert.Len(t, net.starts, 4)
	assert.Equal(t, []float64{10, 9, 8, 7}, net.amounts["c1"])
	require.Len(t, r.Outcomes, 1)
	assert.Equal(t, OutcomeFailure, r.Outcomes[0].Kind)
	assert.Equal(t, 4, r.Outcomes[0].Attempts)
	assert.InDelta(t, 4, r.Outcomes[0].Allocated, 1e-9)
	assert.Equal(t, []record{{"c1", false}}, sc.records)
	assert.Equal(t, 0, r.BudgetLeft)
	assert.Equal(t, 3, r.Restarts)
	assert.Equal(t, 0.0, testutil.ToFloat64(budgetRemaining))
	assert.Equal(t, 1.0, testutil.ToFloat64(requestsTotal.WithLabelValues("initial")))
	assert.Equal(t, 3.0, testutil.ToFloat64(requestsTotal.WithLabelValues("restart")))
}

func TestRun_TimeoutIsTerminal(t *testing.T) {
	o, net, sc := setup(t, Config{RestartBudget: budget(5)})
	net.script["c1"] = func(int, float64) reply { return reply{hang: true} }

	r := o.Run(context.Background(), 1, window, []Request{{Participant: consumer("c1"), Target: 10}})

	assert.Len(t, net.starts, 1)
	require.Len(t, r.Outcomes, 1)
	assert.Equal(t, OutcomeTimeout, r.Outcomes[0].Kind)
	assert.ErrorIs(t, r.Outcomes[0].Err, network.ErrNegotiationTimeout)
	assert.Equal(t, []record{{"c1", false}}, sc.records)
	assert.Equal(t, 5, r.BudgetLeft)
	assert.Equal(t, 1.0, testutil.ToFloat64(outcomesTotal.WithLabelValues("timeout")))
}

func TestRun_RestartThenSuccess(t *testing.T) {
	o, net, sc := setup(t, Config{RestartBudget: budget(2)})
	net.script["c1"] = func(a int, _ float64) reply {
		if a == 1 {
			return reply{alloc: map[string]float64{"g1": 6}}
		}
		return reply{alloc: map[string]float64{"g2": 4}}
	}

	r := o.Run(context.Background(), 1, window, []Request{{Participant: consumer("c1"), Target: 10}})

	assert.Equal(t, []float64{10, 4}, net.amounts["c1"])
	require.Len(t, r.Outcomes, 1)
	assert.Equal(t, OutcomeSuccess, r.Outcomes[0].Kind)
	assert.Equal(t, 2, r.Outcomes[0].Attempts)
	assert.Equal(t, []record{{"c1", true}}, sc.records)
	assert.Equal(t, 1, r.BudgetLeft)
}

func TestRun_InfeasibleAllocationIsNotScored(t *testing.T) {
	o, net, sc := setup(t, Config{RestartBudget: budget(0)})
	net.script["c1"] = func(int, float64) reply { return reply{alloc: map[string]float64{"g1": 12}} }

	r := o.Run(context.Background(), 1, window, []Request{{Participant: consumer("c1"), Target: 10}})

	require.Len(t, r.Outcomes, 1)
	assert.Equal(t, OutcomeInfeasible, r.Outcomes[0].Kind)
	assert.False(t, r.Outcomes[0].Scored)
	assert.ErrorIs(t, r.Outcomes[0].Err, ErrInfeasibleAllocation)
	assert.Empty(t, sc.records)
	assert.Len(t, net.starts, 1)
}

func TestRun_OverAllocationWithBudgetSucceeds(t *testing.T) {
	o, net, sc := setup(t, Config{RestartBudget: budget(1)})
	net.script["c1"] = func(int, float64) reply { return reply{alloc: map[string]float64{"g1": 12}} }

	r := o.Run(context.Background(), 1, window, []Request{{Participant: consumer("c1"), Target: 10}})

	assert.Equal(t, OutcomeSuccess, r.Outcomes[0].Kind)
	assert.Equal(t, []record{{"c1", true}}, sc.records)
}

func TestRun_ScoresInDequeueOrder(t *testing.T) {
	o, net, sc := setup(t, Config{RestartBudget: budget(4)})
	net.script["a"] = func(a int, _ float64) reply {
		if a == 1 {
			return reply{alloc: map[string]float64{"g": 1}}
		}
		return reply{alloc: map[string]float64{"g": 9}}
	}
	net.script["b"] = func(int, float64) reply { return reply{alloc: map[string]float64{"g": 5}} }
	net.script["c"] = func(int, float64) reply { return reply{hang: true} }

	r := o.Run(context.Background(), 1, window, []Request{
		{Participant: consumer("a"), Target: 10},
		{Participant: consumer("b"), Target: 5},
		{Participant: consumer("c"), Target: 5},
	})

	assert.Equal(t, []record{{"b", true}, {"c", false}, {"a", true}}, sc.records)
	assert.Equal(t, []string{"a", "b", "c", "a"}, net.starts)
	assert.Equal(t, 3, r.BudgetLeft)
}

func TestRun_SharedBudget(t *testing.T) {
	o, net, _ := setup(t, Config{RestartBudget: budget(3)})
	short := func(int, float64) reply { return reply{alloc: map[string]float64{"g": 1}} }
	net.script["a"] = short
	net.script["b"] = short

	r := o.Run(context.Background(), 1, window, []Request{
		{Participant: consumer("a"), Target: 10},
		{Participant: consumer("b"), Target: 10},
	})

	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, net.starts)
	assert.Equal(t, 5, r.Requests)
	require.Len(t, r.Outcomes, 2)
}

func TestRun_SkipsZeroTargets(t *testing.T) {
	o, net, sc := setup(t, Config{})
	r := o.Run(context.Background(), 1, window, []Request{
		{Participant: consumer("a"), Target: 0},
		{Participant: consumer("b"), Target: -1},
	})
	assert.Empty(t, net.starts)
	assert.Empty(t, r.Outcomes)
	assert.Empty(t, sc.records)
}

func TestRun_StartErrorScoresFailure(t *testing.T) {
	o, net, sc := setup(t, Config{})
	net.startErr = errors.New("broker down")

	r := o.Run(context.Background(), 1, window, []Request{{Participant: consumer("a"), Target: 3}})

	require.Len(t, r.Outcomes, 1)
	assert.Equal(t, OutcomeFailure, r.Outcomes[0].Kind)
	assert.Error(t, r.Outcomes[0].Err)
	assert.Equal(t, []record{{"a", false}}, sc.records)
}

func TestRun_WorkersKeepQueueOrder(t *testing.T) {
	script := func(n *scriptNet) {
		n.script["a"] = func(a int, _ float64) reply {
			if a == 1 {
				return reply{alloc: map[string]float64{"g": 2}, delay: 30 * time.Millisecond}
			}
			return reply{alloc: map[string]float64{"g": 8}}
		}
		n.script["b"] = func(int, float64) reply {
			return reply{alloc: map[string]float64{"g": 5}, delay: 20 * time.Millisecond}
		}
		n.script["c"] = func(int, float64) reply { return reply{hang: true} }
		n.script["d"] = func(int, float64) reply { return reply{alloc: map[string]float64{"g": 1}} }
	}
	reqs := []Request{
		{Participant: consumer("a"), Target: 10},
		{Participant: consumer("b"), Target: 5},
		{Participant: consumer("c"), Target: 5},
		{Participant: consumer("d"), Target: 1},
	}

	seq, seqNet, seqScore := setup(t, Config{RestartBudget: budget(2), Workers: 1})
	script(seqNet)
	want := seq.Run(context.Background(), 1, window, reqs)

	par, parNet, parScore := setup(t, Config{RestartBudget: budget(2), Workers: 4})
	script(parNet)
	got := par.Run(context.Background(), 1, window, reqs)

	assert.Equal(t, seqScore.records, parScore.records)
	assert.Equal(t, seqNet.starts, parNet.starts)
	require.Len(t, got.Outcomes, len(want.Outcomes))
	for i := range want.Outcomes {
		assert.Equal(t, want.Outcomes[i].Kind, got.Outcomes[i].Kind)
		assert.Equal(t, want.Outcomes[i].Participant.ID(), got.Outcomes[i].Participant.ID())
	}
	assert.Equal(t, want.BudgetLeft, got.BudgetLeft)
}

func TestRun_PublishesEvents(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	net := newScriptNet()
	net.script["a"] = func(int, float64) reply { return reply{alloc: map[string]float64{"g": 4}} }
	bus := eventbus.New()
	ch := bus.Subscribe()
	o, err := NewOrchestrator(net, &fakeScorer{}, Config{}, logger.NopLogger{}, bus)
	require.NoError(t, err)

	o.Run(context.Background(), 7, window, []Request{{Participant: consumer("a"), Target: 4}})

	started := (<-ch).(events.NegotiationStarted)
	assert.Equal(t, int64(7), started.Step)
	assert.Equal(t, "a-1", started.RequestID)
	resolved := (<-ch).(events.NegotiationResolved)
	assert.Equal(t, "success", resolved.Outcome)
	assert.InDelta(t, 4, resolved.Allocated, 1e-9)
}

func TestTimeoutUsesPatience(t *testing.T) {
	o, _, _ := setup(t, Config{PatienceFactor: 3, DefaultPatienceSeconds: 2})
	assert.Equal(t, 30*time.Millisecond, o.timeout(consumer("a")))
	assert.Equal(t, 6*time.Second, o.timeout(model.Agent{AgentID: "b"}))
}

func TestConfigValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultRestartBudget, c.Budget())
	c.Workers = 0
	assert.Error(t, c.Validate())
}
