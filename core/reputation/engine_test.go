package reputation

import (
	"testing"

	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/infra/logger"
)

type recordPublisher struct{ scores map[string]float64 }

func (r *recordPublisher) PublishReputation(p model.Participant, score float64) {
	r.scores[p.ID()] = score
}

func TestEngineRecordAndFlush(t *testing.T) {
	p := mustParams(t, 10, 1)
	e := NewEngine(p, Config{Tiers: []int{1, 0}}, logger.NopLogger{})
	pub := &recordPublisher{scores: map[string]float64{}}
	e.SetPublisher(pub)

	a := model.Agent{AgentID: "a", Element: model.KindLoad}
	b := model.Agent{AgentID: "b", Element: model.KindLoad, Reputation: 1.5}

	if s := e.Score(b); s != 1.5 {
		t.Fatalf("initial reputation not seeded: %v", s)
	}
	if s := e.Record(a, false); s != 0.09 {
		t.Fatalf("unexpected score %v", s)
	}
	if s := e.Record(b, true); s != 1.5 {
		t.Fatalf("unexpected score %v", s)
	}
	if pub.scores["a"] != 0.09 || pub.scores["b"] != 1.5 {
		t.Fatalf("scores not published: %v", pub.scores)
	}

	stats := e.Flush()
	if len(stats) != 2 || stats[0].Tier != 0 || stats[1].Tier != 1 {
		t.Fatalf("unexpected tiers %+v", stats)
	}
	if stats[0].Samples != 1 || stats[0].Failures != 1 || stats[0].ScoreSum != 0.09 {
		t.Fatalf("tier 0 stats %+v", stats[0])
	}
	if stats[1].Samples != 1 || stats[1].Failures != 0 || stats[1].Mean() != 1.5 {
		t.Fatalf("tier 1 stats %+v", stats[1])
	}
	for _, st := range e.Flush() {
		if st.Samples != 0 || st.ScoreSum != 0 || st.Failures != 0 {
			t.Fatalf("aggregates not reset: %+v", st)
		}
	}
	if e.Scores()["a"] != 0.09 {
		t.Fatal("scores must survive a flush")
	}
}

func TestEngineUntrackedTier(t *testing.T) {
	e := NewEngine(mustParams(t, 10, 1), Config{Tiers: []int{0}}, logger.NopLogger{})
	e.Record(model.Agent{AgentID: "x", Element: model.KindLoad, Reputation: 5}, false)
	if st := e.Flush(); st[0].Samples != 0 {
		t.Fatalf("score in untracked tier aggregated: %+v", st)
	}
}

func TestConfigValidate(t *testing.T) {
	var c Config
	c.SetDefaults()
	if err := c.Validate(); err != nil || len(c.Tiers) != 4 {
		t.Fatalf("defaults invalid: %v %v", c.Tiers, err)
	}
	if err := (Config{Tiers: []int{1, 1}}).Validate(); err == nil {
		t.Fatal("expected duplicate tier error")
	}
	if err := (Config{Tiers: []int{-1}}).Validate(); err == nil {
		t.Fatal("expected negative tier error")
	}
}
