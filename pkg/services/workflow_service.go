package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tcmartin/upgraderunner/pkg/loader"
	"github.com/tcmartin/upgraderunner/pkg/logging"
	"github.com/tcmartin/upgraderunner/pkg/models"
	"github.com/tcmartin/upgraderunner/pkg/storage"
	"github.com/tcmartin/upgraderunner/pkg/workflow"
)

// WorkflowService owns the single upgrade workflow engine, persists run
// state to the run store and fans engine events out to live subscribers.
type WorkflowService struct {
	engine *workflow.Engine
	store  storage.RunStore
	logger logging.Logger
	loader *loader.DefaultPlanLoader

	mu        sync.RWMutex
	listeners []func(workflow.Event)
}

// NewWorkflowService creates a workflow service bound to a manager API and a
// run store.
func NewWorkflowService(api workflow.ManagerAPI, store storage.RunStore, logger logging.Logger) *WorkflowService {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &WorkflowService{
		store:  store,
		logger: logger,
		loader: loader.NewPlanLoader(nil),
	}
	s.engine = workflow.NewEngine(api, logger)
	s.engine.SetEventHandler(s.onEvent)
	return s
}

// AddEventListener registers a live event subscriber. Listeners must not
// block; slow consumers should buffer on their side.
func (s *WorkflowService) AddEventListener(fn func(workflow.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// onEvent persists the current run state and notifies subscribers.
func (s *WorkflowService) onEvent(event workflow.Event) {
	s.persistRun()

	if s.store != nil {
		err := s.store.SaveRunLog(event.RunID, models.RunLog{
			Timestamp: event.Timestamp,
			ItemID:    event.ItemID,
			Level:     "info",
			Message:   event.Type,
			Data:      event.Data,
		})
		if err != nil {
			s.logger.Warn("failed to persist run log", logging.Field{Key: "error", Value: err.Error()})
		}
	}

	s.mu.RLock()
	listeners := make([]func(workflow.Event), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// persistRun writes the engine snapshot to the run store.
func (s *WorkflowService) persistRun() {
	if s.store == nil {
		return
	}

	snap := s.engine.Snapshot()
	if snap.RunID == "" {
		return
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		s.logger.Warn("failed to marshal run snapshot", logging.Field{Key: "error", Value: err.Error()})
		return
	}

	err = s.store.SaveRun(models.RunRecord{
		ID:        snap.RunID,
		Status:    runStatus(snap),
		StartTime: snap.StartTime,
		EndTime:   snap.EndTime,
		Error:     snap.Error,
		Snapshot:  raw,
	})
	if err != nil {
		s.logger.Warn("failed to persist run", logging.Field{Key: "error", Value: err.Error()})
	}
}

// runStatus maps an engine snapshot to a stored run status.
func runStatus(snap workflow.Snapshot) string {
	switch {
	case snap.IsComplete:
		return models.RunStatusCompleted
	case snap.Error != "":
		return models.RunStatusFailed
	case snap.IsPaused:
		return models.RunStatusPaused
	case snap.IsRunning:
		return models.RunStatusRunning
	case !snap.EndTime.IsZero():
		return models.RunStatusCancelled
	default:
		return models.RunStatusRunning
	}
}

// StartDefault initializes the engine with the default upgrade plan and
// starts it.
func (s *WorkflowService) StartDefault() error {
	items, err := loader.DefaultPlan()
	if err != nil {
		return err
	}
	return s.start(items, "")
}

// StartPlan initializes the engine with a YAML plan and starts it.
func (s *WorkflowService) StartPlan(planYAML string) error {
	items, err := s.loader.Parse(planYAML)
	if err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	return s.start(items, "")
}

// StartFromStep initializes the default plan and starts at the step with the
// given item type, skipping everything before it.
func (s *WorkflowService) StartFromStep(itemType string) error {
	items, err := loader.DefaultPlan()
	if err != nil {
		return err
	}
	return s.start(items, itemType)
}

func (s *WorkflowService) start(items []workflow.TimelineItem, fromType string) error {
	if err := s.engine.Initialize(items); err != nil {
		return err
	}
	if fromType == "" {
		return s.engine.Start()
	}

	for _, item := range items {
		if item.Type() == fromType {
			return s.engine.StartFromStep(item.ID())
		}
	}
	return fmt.Errorf("no step of type %q in the plan", fromType)
}

// Pause suspends the running workflow.
func (s *WorkflowService) Pause() error { return s.engine.Pause() }

// Resume restarts a paused workflow.
func (s *WorkflowService) Resume() error { return s.engine.Resume() }

// Retry re-runs the current failed item.
func (s *WorkflowService) Retry() error { return s.engine.Retry() }

// SkipCurrent skips the current halted item.
func (s *WorkflowService) SkipCurrent() error { return s.engine.SkipCurrent() }

// Cancel aborts the workflow.
func (s *WorkflowService) Cancel() error {
	err := s.engine.Cancel()
	if err == nil {
		s.persistRun()
	}
	return err
}

// SubmitUserAction resolves a pending user action.
func (s *WorkflowService) SubmitUserAction(actionID string) error {
	return s.engine.SubmitUserAction(actionID)
}

// Snapshot returns the current engine state.
func (s *WorkflowService) Snapshot() workflow.Snapshot {
	return s.engine.Snapshot()
}

// History returns the current run's execution history.
func (s *WorkflowService) History() []workflow.HistoryEntry {
	return s.engine.History()
}

// ListRuns returns persisted runs, newest first.
func (s *WorkflowService) ListRuns(limit int) ([]models.RunRecord, error) {
	if s.store == nil {
		return nil, fmt.Errorf("run storage is not configured")
	}
	return s.store.ListRuns(limit)
}

// GetRun returns one persisted run.
func (s *WorkflowService) GetRun(runID string) (models.RunRecord, error) {
	if s.store == nil {
		return models.RunRecord{}, fmt.Errorf("run storage is not configured")
	}
	return s.store.GetRun(runID)
}

// GetRunLogs returns the persisted log entries of a run.
func (s *WorkflowService) GetRunLogs(runID string) ([]models.RunLog, error) {
	if s.store == nil {
		return nil, fmt.Errorf("run storage is not configured")
	}
	return s.store.GetRunLogs(runID)
}
