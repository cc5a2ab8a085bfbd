package netstate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/cenkalti/backoff/v5"

	"github.com/aretw0/docsync/pkg/core"
)

// Probe reports whether the remote is reachable. A nil error means online.
type Probe func(ctx context.Context) error

// PollerConfig configures a Poller.
type PollerConfig struct {
	Probe Probe
	// Interval between probes while online.
	Interval time.Duration
	// InitialBackoff and MaxBackoff bound the retry interval while offline.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Online is the state assumed before the first probe completes.
	Online bool
	Logger *slog.Logger
}

// Poller is a worker that keeps a Switch in sync with a Probe.
type Poller struct {
	*worker.BaseWorker
	*Switch

	config  PollerConfig
	backoff *backoff.ExponentialBackOff
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// NewPoller creates a poller. Start it to begin probing.
func NewPoller(config PollerConfig) *Poller {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialBackoff
	b.MaxInterval = config.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.3

	return &Poller{
		BaseWorker: worker.NewBaseWorker("netstate-poller"),
		Switch:     NewSwitch(config.Online),
		config:     config,
		backoff:    b,
		logger:     logger,
	}
}

func (p *Poller) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.config.Probe == nil {
		return fmt.Errorf("poller requires a probe")
	}
	status := p.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("poller already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.SetStatus(worker.StatusRunning)
	return p.StartFunc(runCtx, p.run)
}

func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.StopRequested = true
		p.cancel()
	}
	return p.BaseWorker.Stop(ctx)
}

func (p *Poller) State() worker.State {
	return p.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"online":            fmt.Sprint(p.Online()),
		}
	})
}

// ComponentType implements introspection.Component.
func (p *Poller) ComponentType() string {
	return "netstate-poller"
}

func (p *Poller) run(ctx context.Context) error {
	for {
		wait := p.probe(ctx)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// probe runs one check, updates the switch and returns how long to wait
// before the next one.
func (p *Poller) probe(ctx context.Context) time.Duration {
	err := p.config.Probe(ctx)
	if ctx.Err() != nil {
		return 0
	}

	if err == nil {
		if !p.Online() {
			p.logger.Debug("connectivity restored")
		}
		p.backoff.Reset()
		p.Set(true)
		return p.config.Interval
	}

	if p.Online() {
		p.logger.Debug("connectivity lost", "error", err)
	}
	p.Set(false)
	next := p.backoff.NextBackOff()
	if next == backoff.Stop {
		next = p.config.MaxBackoff
	}
	return next
}

var _ core.Connectivity = (*Poller)(nil)
