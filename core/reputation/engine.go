// Package reputation keeps the per-participant reputation ("ethics score")
// that orders negotiation priority, together with per-tier aggregates
// reported once per step.
package reputation

import (
	"math"
	"sync"

	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
)

// TierStats aggregates the scores recorded in one tier during a step.
type TierStats struct {
	Tier     int
	ScoreSum float64
	Failures int
	Samples  int
}

// Mean returns the average recorded score, or 0 without samples.
func (t TierStats) Mean() float64 {
	if t.Samples == 0 {
		return 0
	}
	return t.ScoreSum / float64(t.Samples)
}

// Engine owns participant scores. Scores live in a side table keyed by
// participant id so that participants stay plain values.
type Engine struct {
	params Params
	tiers  []int
	log    logger.Logger
	pub    network.ReputationPublisher

	mu     sync.Mutex
	scores map[string]float64
	stats  map[int]*TierStats
}

// NewEngine returns an engine with no recorded scores.
func NewEngine(params Params, cfg Config, log logger.Logger) *Engine {
	cfg.SetDefaults()
	e := &Engine{
		params: params,
		tiers:  cfg.sortedTiers(),
		log:    log,
		scores: make(map[string]float64),
	}
	e.resetStats()
	return e
}

// Params returns the scoring constants.
func (e *Engine) Params() Params { return e.params }

// SetPublisher forwards every updated score to pub.
func (e *Engine) SetPublisher(pub network.ReputationPublisher) {
	e.mu.Lock()
	e.pub = pub
	e.mu.Unlock()
}

// Score returns the current score of p, seeding it from the participant's
// initial reputation on first use.
func (e *Engine) Score(p model.Participant) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scoreLocked(p)
}

func (e *Engine) scoreLocked(p model.Participant) float64 {
	if v, ok := e.scores[p.ID()]; ok {
		return v
	}
	v := 0.0
	if ir, ok := p.(model.InitialReputation); ok {
		v = math.Max(ir.InitialReputation(), 0)
	}
	e.scores[p.ID()] = v
	return v
}

// Scores returns a copy of the score table.
func (e *Engine) Scores() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.scores))
	for k, v := range e.scores {
		out[k] = v
	}
	return out
}

// Record applies a negotiation outcome of p and returns its new score.
func (e *Engine) Record(p model.Participant, success bool) float64 {
	e.mu.Lock()
	old := e.scoreLocked(p)
	score := e.params.Next(old, success)
	e.scores[p.ID()] = score
	e.aggregate(score, success)
	pub := e.pub
	e.mu.Unlock()

	if !success && len(e.tiers) > 0 && score >= float64(e.tiers[0]) {
		e.log.Infof("high priority target of %s not supplied (score %.6f -> %.6f)", p.ID(), old, score)
	}
	if pub != nil {
		pub.PublishReputation(p, score)
	}
	return score
}

func (e *Engine) aggregate(score float64, success bool) {
	tier := int(math.Floor(score))
	st, ok := e.stats[tier]
	if !ok {
		return
	}
	st.ScoreSum += score
	st.Samples++
	if !success {
		st.Failures++
	}
}

// Flush returns the aggregates of the configured tiers in ascending order and
// resets them for the next step.
func (e *Engine) Flush() []TierStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TierStats, 0, len(e.tiers))
	for _, t := range e.tiers {
		out = append(out, *e.stats[t])
	}
	e.resetStats()
	return out
}

func (e *Engine) resetStats() {
	e.stats = make(map[int]*TierStats, len(e.tiers))
	for _, t := range e.tiers {
		e.stats[t] = &TierStats{Tier: t}
	}
}
