package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/offsync/pkg/domain/incident"
)

// DefaultInterval is the pause between reconciliation cycles.
const DefaultInterval = 20 * time.Second

// Reconciler runs one reconciliation cycle.
type Reconciler interface {
	Reconcile(ctx context.Context, snapshot incident.Snapshot) (*CycleReport, error)
}

// PollService fetches the incident snapshot on a fixed interval and reconciles it.
// Cycles never overlap.
type PollService struct {
	incidents incident.Provider
	engine    Reconciler
	logger    *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	kick     chan struct{}
	reset    chan struct{}
	onReport func(*CycleReport)
}

// NewPollService creates the scheduler. A non-positive interval uses DefaultInterval.
func NewPollService(provider incident.Provider, engine Reconciler, interval time.Duration, logger *slog.Logger) *PollService {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollService{
		incidents: provider,
		engine:    engine,
		logger:    logger,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		reset:     make(chan struct{}, 1),
	}
}

// OnReport registers a callback invoked after every cycle.
func (p *PollService) OnReport(fn func(*CycleReport)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReport = fn
}

// Interval returns the current polling interval.
func (p *PollService) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// SetInterval changes the polling interval; a running loop picks it up immediately.
func (p *PollService) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	changed := p.interval != d
	p.interval = d
	p.mu.Unlock()
	if changed {
		signal(p.reset)
	}
}

// Kick requests an extra cycle as soon as the current one finishes.
func (p *PollService) Kick() {
	signal(p.kick)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// RunOnce fetches one snapshot and reconciles it. A failed fetch is reported, not returned;
// only store failures are returned as errors.
func (p *PollService) RunOnce(ctx context.Context) (*CycleReport, error) {
	snapshot, err := p.incidents.ListOffenses(ctx)
	if err != nil {
		p.logger.Warn("failed to fetch offenses, retrying next cycle", "error", err)
		report := &CycleReport{StartedAt: time.Now(), Finished: time.Now(), SnapshotErr: err}
		p.emit(report)
		return report, nil
	}

	report, err := p.engine.Reconcile(ctx, snapshot)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}
	p.emit(report)
	return report, nil
}

func (p *PollService) emit(report *CycleReport) {
	p.mu.Lock()
	fn := p.onReport
	p.mu.Unlock()
	if fn != nil {
		fn(report)
	}
}

// Run reconciles immediately and then on every tick until ctx is cancelled.
// It returns nil on cancellation and the error of a failed cycle otherwise.
func (p *PollService) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.logger.Info("polling started", "interval", p.Interval())
	for {
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			p.logger.Info("polling stopped")
			return nil
		case <-ticker.C:
		case <-p.kick:
		case <-p.reset:
			ticker.Reset(p.Interval())
			p.logger.Info("polling interval changed", "interval", p.Interval())
		}
	}
}
