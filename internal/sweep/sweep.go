// Package sweep runs the periodic SLO re-validation invariant
// (performance non-regression): on a cron-style
// cadence it re-evaluates the current snapshot against an empty overlay
// so the performance and SLO-simulation checks run even when no new
// workflow spec has been registered recently.
package sweep

import (
	"log/slog"
	"time"

	"github.com/robfig/cron"

	"github.com/antigravity-dev/ontoflow/internal/invariant"
	"github.com/antigravity-dev/ontoflow/internal/ontology"
)

// Sweeper periodically re-validates the store's current snapshot.
type Sweeper struct {
	store  ontology.Store
	engine *invariant.Engine
	logger *slog.Logger
	cron   *cron.Cron
}

// New builds a Sweeper. period is the cadence between sweeps; callers
// typically pass cfg.General.SweepPeriod.Duration.
func New(store ontology.Store, engine *invariant.Engine, logger *slog.Logger, period time.Duration) *Sweeper {
	s := &Sweeper{store: store, engine: engine, logger: logger, cron: cron.New()}
	s.cron.Schedule(cron.Every(period), cron.FuncJob(s.runOnce))
	return s
}

// Start begins the cron scheduler. Stop should be called on shutdown.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the cron scheduler, letting any in-flight sweep finish.
func (s *Sweeper) Stop() { s.cron.Stop() }

func (s *Sweeper) runOnce() {
	current := s.store.Current()
	base, err := s.store.Load(current)
	if err != nil {
		s.logger.Error("sweep: failed to load current snapshot", "snapshot_id", current.String(), "error", err)
		return
	}

	report, err := s.engine.Evaluate(base, ontology.Overlay{Base: current, At: nowFunc()})
	if err != nil {
		s.logger.Error("sweep: evaluate failed", "snapshot_id", current.String(), "error", err)
		return
	}
	if !report.Passed {
		s.logger.Warn("sweep: SLO re-validation found violations",
			"snapshot_id", current.String(), "violations", report.Violations)
		return
	}
	s.logger.Debug("sweep: SLO re-validation passed", "snapshot_id", current.String())
}

// nowFunc is a seam so tests can avoid depending on wall-clock time
// indirectly through Overlay.At, which is descriptive metadata only.
var nowFunc = time.Now
