// Package app wires the step controller, its network and the ambient stack
// into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	kpiapi "github.com/kilianp07/flexneg/api/kpi"
	"github.com/kilianp07/flexneg/api/participants"
	"github.com/kilianp07/flexneg/api/steps"
	"github.com/kilianp07/flexneg/config"
	"github.com/kilianp07/flexneg/core/kpi"
	coremetrics "github.com/kilianp07/flexneg/core/metrics"
	coremon "github.com/kilianp07/flexneg/core/monitoring"
	"github.com/kilianp07/flexneg/core/network"
	"github.com/kilianp07/flexneg/core/step"
	"github.com/kilianp07/flexneg/core/steplog"
	infrakpi "github.com/kilianp07/flexneg/infra/kpi"
	"github.com/kilianp07/flexneg/infra/logger"
	"github.com/kilianp07/flexneg/infra/metrics"
	"github.com/kilianp07/flexneg/infra/monitoring"
	_ "github.com/kilianp07/flexneg/infra/mqtt"
	_ "github.com/kilianp07/flexneg/infra/simnet"
	"github.com/kilianp07/flexneg/internal/eventbus"
	"github.com/kilianp07/flexneg/jobs/energykpi"
	"github.com/kilianp07/flexneg/qa/scenarios"
)

// Service owns the controller of one episode and everything around it.
type Service struct {
	Controller *step.Controller
	Network    network.Network
	Store      steplog.LogStore
	// KPIs is nil unless kpi.path is configured.
	KPIs kpi.Store

	cfg  *config.Config
	sink coremetrics.MetricsSink
	bus  *eventbus.Bus
	log  logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, err
	}
	coremon.Init(mon)

	mod, err := cfg.NetworkModule()
	if err != nil {
		return nil, err
	}
	net, err := network.New(mod)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	store, err := steplog.Open(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("step log: %w", err)
	}
	var kpis kpi.Store
	if cfg.KPI.Path != "" {
		sq, err := infrakpi.NewSQLiteStore(cfg.KPI.Path)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("kpi store: %w", err)
		}
		kpis = sq
		store = energykpi.NewRecorder(store, sq, cfg.Controller.StepDuration(), logger.New("kpi"))
	}

	bus := eventbus.New()
	ctrl, err := step.New(cfg.Controller, net, sink, bus, logger.New("controller"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("controller: %w", err)
	}
	ctrl.SetLogStore(store)

	return &Service{
		Controller: ctrl,
		Network:    net,
		Store:      store,
		KPIs:       kpis,
		cfg:        cfg,
		sink:       sink,
		bus:        bus,
		log:        logg,
	}, nil
}

// Run starts the metrics collector, the HTTP server and the configured
// scenario replay. It blocks until ctx is cancelled or a component fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	collected := metrics.StartEventCollector(ctx, s.bus, s.sink)
	g.Go(func() error {
		<-collected
		return nil
	})

	if s.cfg.HTTP.Addr != "" {
		mux := metrics.NewServeMux()
		mux.Handle("/api/steps/logs", steps.NewLogHandler(s.Store, s.cfg.HTTP.Token))
		mux.Handle("/api/participants", participants.NewStatusHandler(s.Controller))
		if s.KPIs != nil {
			mux.Handle("/api/kpis", kpiapi.NewHandler(s.KPIs))
		}
		s.log.Infof("serving metrics and APIs on %s", s.cfg.HTTP.Addr)
		g.Go(func() error { return metrics.StartPromServer(ctx, s.cfg.HTTP.Addr, mux) })
	}

	if path := s.cfg.Scenario.Path; path != "" {
		g.Go(func() error { return s.replay(ctx, path) })
	} else {
		s.log.Infof("controller ready, waiting for steps")
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) replay(ctx context.Context, path string) error {
	sc, err := scenarios.Load(path)
	if err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	res, err := scenarios.Run(ctx, sc, scenarios.Options{
		Log:        s.log,
		Network:    s.Network,
		Controller: s.Controller,
	})
	if err != nil {
		return err
	}
	for _, m := range res.Mismatches {
		s.log.Warnf("scenario %s: %s", sc.Name, m)
	}
	s.log.Infof("scenario %s replayed: %d steps, %d mismatches", sc.Name, len(res.Reports), len(res.Mismatches))
	return nil
}

// Close shuts the network down if the episode did not, then releases the
// step log, the bus and the sinks.
func (s *Service) Close() error {
	var errs []error
	if s.Controller.State() != step.StateShutDown {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.Network.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, s.Store.Close())
	s.bus.Close()
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
