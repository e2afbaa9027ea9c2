package history

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultMaintenanceSchedule prunes and compacts once a day.
const DefaultMaintenanceSchedule = "0 4 * * *"

// Maintainer prunes the store on a cron schedule so retention holds even
// when no poll cycles run.
type Maintainer struct {
	store *Store
	log   *zap.Logger
	cron  *cron.Cron
}

func NewMaintainer(store *Store, log *zap.Logger) *Maintainer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Maintainer{store: store, log: log}
}

// Start schedules maintenance and returns immediately.
func (m *Maintainer) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultMaintenanceSchedule
	}
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(schedule, func() { m.RunOnce(ctx) }); err != nil {
		return err
	}
	m.cron = c
	c.Start()
	go func() {
		<-ctx.Done()
		m.Stop()
	}()
	return nil
}

func (m *Maintainer) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// RunOnce prunes expired points and vacuums the file.
func (m *Maintainer) RunOnce(ctx context.Context) {
	removed, err := m.store.Prune(ctx, m.store.now())
	if err != nil {
		m.log.Warn("history_store_error", zap.String("op", "prune"), zap.Error(err))
		return
	}
	if err := m.store.Vacuum(ctx); err != nil {
		m.log.Warn("history_store_error", zap.String("op", "vacuum"), zap.Error(err))
		return
	}
	m.log.Info("history_maintenance", zap.Int64("removed", removed))
}
