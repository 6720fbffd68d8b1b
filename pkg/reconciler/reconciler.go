package reconciler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synnefo-io/core/pkg/coordinator"
	"github.com/synnefo-io/core/pkg/log"
	"github.com/synnefo-io/core/pkg/metrics"
)

// Reconciler periodically drives a Commission Coordinator's reconciliation
// sweep (spec §4.8), resolving dangling local commissions and rejecting
// ones the Quotaholder still thinks are pending with no local record.
// Grounded on the teacher's ticker-loop Start/Stop/run skeleton
// (pkg/reconciler/reconciler.go), narrowed from node/container health
// reconciliation to commission reconciliation.
type Reconciler struct {
	coord    *coordinator.Coordinator
	interval time.Duration
	logger   zerolog.Logger
	mu       sync.Mutex
	stopCh   chan struct{}
}

// New creates a Reconciler that sweeps coord every interval (10s if zero).
func New(coord *coordinator.Coordinator, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		coord:    coord,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("commission reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("commission reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	resolved, dangling, err := r.coord.ReconcileSweep()
	if err != nil {
		return err
	}
	if resolved > 0 {
		metrics.ReconciledCommissionsTotal.WithLabelValues("resolved_locally").Add(float64(resolved))
		r.logger.Info().Int("count", resolved).Msg("resolved dangling local commissions")
	}
	if dangling > 0 {
		metrics.ReconciledCommissionsTotal.WithLabelValues("dangling_remote").Add(float64(dangling))
	}
	return nil
}
