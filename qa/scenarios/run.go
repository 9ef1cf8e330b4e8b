package scenarios

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/flexneg/core/logger"
	"github.com/kilianp07/flexneg/core/metrics"
	"github.com/kilianp07/flexneg/core/model"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/core/step"
	"github.com/kilianp07/flexneg/core/steplog"
	infralogger "github.com/kilianp07/flexneg/infra/logger"
	"github.com/kilianp07/flexneg/infra/simnet"
	"github.com/kilianp07/flexneg/internal/eventbus"
)

const tolerance = 1e-6

// Options wires a replay into the surrounding service. Zero values are fine.
type Options struct {
	Log   logger.Logger
	Sink  metrics.MetricsSink
	Bus   eventbus.EventBus
	Store steplog.LogStore
	// Network replaces the simulated network built from the scenario.
	Network network.Network
	// Controller drives the replay instead of one built from the scenario's
	// controller section. It must run on Network.
	Controller *step.Controller
	// OnStep is called after every step.
	OnStep func(i int, rep *step.Report)
}

// Result summarizes a replay.
type Result struct {
	Name       string
	Reports    []*step.Report
	Setpoints  []map[string]float64
	Scores     map[string]float64
	Mismatches []string
}

// OK reports whether every expectation held.
func (r *Result) OK() bool { return len(r.Mismatches) == 0 }

func (r *Result) mismatch(i int, format string, args ...any) {
	r.Mismatches = append(r.Mismatches, fmt.Sprintf("step %d: ", i+1)+fmt.Sprintf(format, args...))
}

// Run replays sc. The last step is terminal and shuts the network down.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	if opts.Log == nil {
		opts.Log = infralogger.NopLogger{}
	}
	cfg, err := sc.ControllerConfig()
	if err != nil {
		return nil, err
	}
	if opts.Controller != nil && opts.Network == nil {
		return nil, fmt.Errorf("scenario %s: a controller replay needs its network", sc.Name)
	}
	net := opts.Network
	if net == nil {
		s, err := sc.NetworkSettings()
		if err != nil {
			return nil, err
		}
		net = simnet.New(s, opts.Log)
	}
	if len(sc.Drop) > 0 {
		sim, ok := net.(*simnet.Network)
		if !ok {
			return nil, fmt.Errorf("scenario %s drops participants but the network is %T", sc.Name, net)
		}
		for _, id := range sc.Drop {
			sim.Drop(id)
		}
	}
	ctrl := opts.Controller
	if ctrl == nil {
		if ctrl, err = step.New(cfg, net, opts.Sink, opts.Bus, opts.Log); err != nil {
			return nil, err
		}
		if opts.Store != nil {
			ctrl.SetLogStore(opts.Store)
		}
	} else {
		cfg = ctrl.Config()
	}

	res := &Result{Name: sc.Name}
	payload := sc.TopologyPayload()
	for i, sd := range sc.Steps {
		readings := make([]model.Reading, 0, len(sd.Sensors)+1)
		if !sd.OmitTopology {
			readings = append(readings, model.Reading{ID: cfg.TopologySensorID, Text: payload})
		}
		ids := make([]string, 0, len(sd.Sensors))
		for id := range sd.Sensors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			readings = append(readings, model.Reading{ID: id, Value: sd.Sensors[id]})
		}
		slots := make([]*model.Slot, len(sc.Actuators))
		actuators := make([]model.Actuator, len(sc.Actuators))
		for j, id := range sc.Actuators {
			slots[j] = &model.Slot{ID: id}
			actuators[j] = slots[j]
		}

		out, err := ctrl.Step(ctx, readings, actuators, i == len(sc.Steps)-1)
		if err != nil {
			return res, fmt.Errorf("scenario %s step %d: %w", sc.Name, i+1, err)
		}
		setpoints := make(map[string]float64, len(slots))
		for _, s := range slots {
			if s.Applied {
				setpoints[s.ID] = s.Setpoint
			}
		}
		res.Reports = append(res.Reports, out.Report)
		res.Setpoints = append(res.Setpoints, setpoints)
		check(res, i, sd.Expect, out.Report, setpoints)
		if opts.OnStep != nil {
			opts.OnStep(i, out.Report)
		}
	}
	res.Scores = ctrl.Scores()
	return res, nil
}

func check(res *Result, i int, exp Expect, rep *step.Report, setpoints map[string]float64) {
	if rep.Skipped != exp.Skipped {
		res.mismatch(i, "skipped %v, expected %v", rep.Skipped, exp.Skipped)
		return
	}
	if exp.Negotiated != nil && math.Abs(rep.Negotiated-*exp.Negotiated) > tolerance {
		res.mismatch(i, "negotiated %.6f, expected %.6f", rep.Negotiated, *exp.Negotiated)
	}
	for id, want := range exp.Setpoints {
		got, ok := setpoints[id]
		if !ok {
			res.mismatch(i, "actuator %s not set", id)
			continue
		}
		if math.Abs(got-want) > tolerance {
			res.mismatch(i, "actuator %s at %.6f, expected %.6f", id, got, want)
		}
	}
	if len(exp.Outcomes) == 0 {
		return
	}
	got := make(map[string]string, len(rep.Round.Outcomes))
	for _, o := range rep.Round.Outcomes {
		got[o.Participant.ID()] = o.Kind.String()
	}
	for id, want := range exp.Outcomes {
		if got[id] != want {
			res.mismatch(i, "participant %s ended with %q, expected %q", id, got[id], want)
		}
	}
}
