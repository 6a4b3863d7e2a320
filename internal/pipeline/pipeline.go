// Package pipeline moves packets from ingest sources through the plugin
// registry and into the notification router.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/origami/internal/ingest"
	"github.com/good-yellow-bee/origami/internal/logging"
	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/internal/models"
)

// Dispatcher turns a packet into alerts.
type Dispatcher interface {
	Dispatch(ctx context.Context, packet models.DataPacket) ([]models.Alert, error)
}

// AlertRouter escalates an alert through its contacts.
type AlertRouter interface {
	Route(ctx context.Context, alert models.Alert) (models.Chain, error)
}

// Config controls worker concurrency and ingest throttling.
type Config struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// RatePerSecond caps packets processed per second. Zero disables the limit.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("pipeline workers must not be negative")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("pipeline queue size must not be negative")
	}
	if c.RatePerSecond < 0 {
		return fmt.Errorf("pipeline rate must not be negative")
	}
	return nil
}

// Stats counts what the pipeline has processed.
type Stats struct {
	Packets        int64 `json:"packets"`
	Alerts         int64 `json:"alerts"`
	Resolved       int64 `json:"resolved"`
	Exhausted      int64 `json:"exhausted"`
	Cancelled      int64 `json:"cancelled"`
	DispatchErrors int64 `json:"dispatch_errors"`
	RouteErrors    int64 `json:"route_errors"`
}

type counters struct {
	packets, alerts                atomic.Int64
	resolved, exhausted, cancelled atomic.Int64
	dispatchErrors, routeErrors    atomic.Int64
}

// Pipeline runs a pool of workers over a shared packet channel.
type Pipeline struct {
	cfg        Config
	dispatcher Dispatcher
	router     AlertRouter
	limiter    *rate.Limiter
	logger     *slog.Logger
	stats      counters

	mu        sync.Mutex
	exhausted []string
}

// New creates a pipeline. Workers defaults to runtime.NumCPU and QueueSize
// to twice the worker count.
func New(cfg Config, dispatcher Dispatcher, router AlertRouter, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 2
	}
	p := &Pipeline{
		cfg:        cfg,
		dispatcher: dispatcher,
		router:     router,
		logger:     logging.OrDiscard(logger),
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return p
}

// Run feeds every source into the workers and returns when all sources are
// exhausted and their packets processed, or when ctx is done. A failing
// source does not stop the others; source errors are joined into the result.
func (p *Pipeline) Run(ctx context.Context, sources ...ingest.Source) error {
	packets := make(chan models.DataPacket, p.cfg.QueueSize)

	var (
		srcMu   sync.Mutex
		srcErrs []error
		feeders errgroup.Group
	)
	for _, src := range sources {
		feeders.Go(func() error {
			if err := src.Run(ctx, packets); err != nil {
				p.logger.Error("ingest source failed", "source", src.Name(), "err", err)
				srcMu.Lock()
				srcErrs = append(srcErrs, fmt.Errorf("%s: %w", src.Name(), err))
				srcMu.Unlock()
			}
			return nil
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = feeders.Wait()
		close(packets)
		return nil
	})
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error { return p.work(gctx, packets) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	srcMu.Lock()
	defer srcMu.Unlock()
	return errors.Join(append([]error{err}, srcErrs...)...)
}

func (p *Pipeline) work(ctx context.Context, packets <-chan models.DataPacket) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			metrics.PipelinePending.Set(float64(len(packets)))
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			_ = p.Process(ctx, pkt)
		}
	}
}

// Process dispatches one packet and routes its alerts concurrently. Routing
// errors are logged and counted; only the dispatch error is returned.
func (p *Pipeline) Process(ctx context.Context, pkt models.DataPacket) error {
	p.stats.packets.Add(1)

	alerts, err := p.dispatcher.Dispatch(ctx, pkt)
	if err != nil {
		p.stats.dispatchErrors.Add(1)
		metrics.PipelineErrors.WithLabelValues("dispatch").Inc()
		p.logger.Warn("dispatch failed",
			"packet_id", pkt.ID, "domain_id", pkt.DomainID, "data_type", pkt.DataType, "err", err)
		return err
	}
	p.stats.alerts.Add(int64(len(alerts)))

	var wg sync.WaitGroup
	for _, alert := range alerts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.route(ctx, alert)
		}()
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) route(ctx context.Context, alert models.Alert) {
	chain, err := p.router.Route(ctx, alert)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.stats.routeErrors.Add(1)
		metrics.PipelineErrors.WithLabelValues("route").Inc()
		p.logger.Warn("route failed", "alert_id", alert.ID, "domain_id", alert.DomainID, "err", err)
		return
	}

	switch chain.State {
	case models.StateResolved:
		p.stats.resolved.Add(1)
	case models.StateExhausted:
		p.stats.exhausted.Add(1)
		p.mu.Lock()
		p.exhausted = append(p.exhausted, alert.ID)
		p.mu.Unlock()
	case models.StateCancelled:
		p.stats.cancelled.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Packets:        p.stats.packets.Load(),
		Alerts:         p.stats.alerts.Load(),
		Resolved:       p.stats.resolved.Load(),
		Exhausted:      p.stats.exhausted.Load(),
		Cancelled:      p.stats.cancelled.Load(),
		DispatchErrors: p.stats.dispatchErrors.Load(),
		RouteErrors:    p.stats.routeErrors.Load(),
	}
}

// Exhausted returns the ids of alerts whose chains ran out of contacts, in
// the order they finished.
func (p *Pipeline) Exhausted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.exhausted...)
}
