package pipeline

import (
	"context"
	"log/slog"

	"github.com/adhocore/gronx"
)

// RunMaintenance runs the maintenance loop on cfg.MaintenanceCron's cadence
// (falling back to a fixed cfg.MaintenanceInterval if the expression is
// empty or invalid) until ctx is cancelled (spec.md §4.5.3): authority
// decay, dedup/event retention cleanup, and a WAL checkpoint if the backend
// supports one.
func (p *Pipeline) RunMaintenance(ctx context.Context) error {
	gron := gronx.New()
	cronValid := p.cfg.MaintenanceCron != "" && gron.IsValid(p.cfg.MaintenanceCron)

	for {
		wait := p.cfg.MaintenanceInterval
		if cronValid {
			next, err := gronx.NextTickAfter(p.cfg.MaintenanceCron, p.clock.Now(), false)
			if err != nil {
				slog.Error("pipeline: cron parse failed, falling back to fixed interval", "error", err)
				cronValid = false
			} else {
				wait = next.Sub(p.clock.Now())
			}
		}
		if err := p.clock.Sleep(ctx, wait); err != nil {
			return nil
		}
		p.maintenanceTick(ctx)
	}
}

func (p *Pipeline) maintenanceTick(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "pipeline.maintenance_tick")
	defer span.End()

	if err := p.tracker.ApplyDecay(ctx); err != nil {
		slog.Error("pipeline: apply decay failed", "error", err)
	}
	if err := p.store.Cleanup(ctx, p.cfg.RetentionWindow); err != nil {
		slog.Error("pipeline: cleanup failed", "error", err)
	}
	if err := p.store.Checkpoint(ctx); err != nil {
		slog.Error("pipeline: checkpoint failed", "error", err)
	}
	p.logCounters()
}
