// Package scheduler triggers upgrade runs on a cron schedule, typically a
// weekly maintenance window.
package scheduler

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/tcmartin/upgraderunner/pkg/config"
	"github.com/tcmartin/upgraderunner/pkg/logging"
)

// WorkflowStarter is the subset of the workflow service the scheduler needs.
type WorkflowStarter interface {
	StartDefault() error
	StartPlan(planYAML string) error
}

// Scheduler starts an upgrade run whenever its cron expression fires. A fire
// while a run is already active is logged and dropped; the engine never runs
// two workflows at once.
type Scheduler struct {
	cfg       config.SchedulerConfig
	workflows WorkflowStarter
	logger    logging.Logger
	cron      *cron.Cron
	entryID   cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, workflows WorkflowStarter, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		cfg:       cfg,
		workflows: workflows,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start registers the cron entry and begins ticking. It is a no-op when the
// scheduler is disabled in the configuration.
func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	entryID, err := s.cron.AddFunc(s.cfg.CronSpec, s.fire)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s.cfg.CronSpec, err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.logger.Info("scheduler started",
		logging.Field{Key: "cron", Value: s.cfg.CronSpec},
		logging.Field{Key: "plan_file", Value: s.cfg.PlanFile})
	return nil
}

// Stop halts the cron loop. Entries that already fired keep running.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// NextRun reports when the schedule fires next. The zero time means the
// scheduler is not running.
func (s *Scheduler) NextRun() (next cron.Entry) {
	return s.cron.Entry(s.entryID)
}

func (s *Scheduler) fire() {
	s.logger.Info("scheduled upgrade window reached")

	var err error
	if s.cfg.PlanFile != "" {
		var plan []byte
		plan, err = os.ReadFile(s.cfg.PlanFile)
		if err != nil {
			s.logger.Error("failed to read plan file",
				logging.Field{Key: "path", Value: s.cfg.PlanFile},
				logging.Field{Key: "error", Value: err.Error()})
			return
		}
		err = s.workflows.StartPlan(string(plan))
	} else {
		err = s.workflows.StartDefault()
	}

	if err != nil {
		// Most commonly a run is still active or paused from the last window.
		s.logger.Warn("scheduled run not started",
			logging.Field{Key: "error", Value: err.Error()})
	}
}
