package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcmartin/upgraderunner/pkg/logging"
)

// Event types emitted by the engine for live display.
const (
	EventRunStarted     = "run.started"
	EventRunPaused      = "run.paused"
	EventRunResumed     = "run.resumed"
	EventRunCompleted   = "run.completed"
	EventRunFailed      = "run.failed"
	EventRunCancelled   = "run.cancelled"
	EventItemStarted    = "item.started"
	EventItemProgress   = "item.progress"
	EventItemFinished   = "item.finished"
	EventItemUserAction = "item.user_action"
)

// Event is a live notification of engine or item state, consumed by the
// WebSocket hub and SSE stream. Events carry no control-flow meaning.
type Event struct {
	Type      string                 `json:"type"`
	RunID     string                 `json:"run_id"`
	ItemID    string                 `json:"item_id,omitempty"`
	ItemType  string                 `json:"item_type,omitempty"`
	ItemTitle string                 `json:"item_title,omitempty"`
	Status    ItemStatus             `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// HistoryEntry is one record of the append-only execution log: an item
// snapshot plus the result its invocation produced.
type HistoryEntry struct {
	ItemID     string     `json:"item_id"`
	ItemType   string     `json:"item_type"`
	Title      string     `json:"title"`
	Status     ItemStatus `json:"status"`
	Result     Result     `json:"result"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// ItemSnapshot is the read-only view of one timeline item.
type ItemSnapshot struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Status      ItemStatus             `json:"status"`
	StartedAt   time.Time              `json:"started_at,omitempty"`
	FinishedAt  time.Time              `json:"finished_at,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	CanSkip     bool                   `json:"can_skip"`
	CanRetry    bool                   `json:"can_retry"`
}

// ActionSnapshot is the read-only view of one pending user action.
type ActionSnapshot struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Intent      string `json:"intent,omitempty"`
}

// Snapshot is the read-only state of the engine handed to callers.
type Snapshot struct {
	RunID          string           `json:"run_id"`
	Timeline       []ItemSnapshot   `json:"timeline"`
	CurrentIndex   int              `json:"current_index"`
	IsRunning      bool             `json:"is_running"`
	IsPaused       bool             `json:"is_paused"`
	IsComplete     bool             `json:"is_complete"`
	Error          string           `json:"error,omitempty"`
	StartTime      time.Time        `json:"start_time,omitempty"`
	EndTime        time.Time        `json:"end_time,omitempty"`
	PendingActions []ActionSnapshot `json:"pending_actions,omitempty"`
	History        []HistoryEntry   `json:"history,omitempty"`
}

// Engine owns the ordered timeline and drives it strictly one item at a
// time: at most one item is ever active, and item N+1 never begins before
// item N has reached a terminal or suspended state. That serial execution is
// what keeps the manager's single task slot consistent.
type Engine struct {
	mu      sync.Mutex
	api     ManagerAPI
	logger  logging.Logger
	onEvent func(Event)

	runID          string
	timeline       []TimelineItem
	currentIndex   int
	isRunning      bool
	isPaused       bool
	isComplete     bool
	runErr         string
	startTime      time.Time
	endTime        time.Time
	history        []HistoryEntry
	wfctx          *Context
	pendingActions []UserAction

	// generation invalidates the run loop goroutine on pause/cancel so a
	// stray completion can never mutate state after the caller believes the
	// run is stopped.
	generation int
	runCancel  context.CancelFunc
}

// NewEngine creates a workflow engine bound to a manager API.
func NewEngine(api ManagerAPI, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{
		api:    api,
		logger: logger,
	}
}

// SetEventHandler registers the live event hook. Must be called before the
// first Start.
func (e *Engine) SetEventHandler(fn func(Event)) {
	e.onEvent = fn
}

// Initialize resets all engine state and installs a new timeline.
func (e *Engine) Initialize(items []TimelineItem) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isRunning {
		return fmt.Errorf("cannot initialize while a workflow is running")
	}
	if len(items) == 0 {
		return fmt.Errorf("timeline must contain at least one item")
	}

	e.runID = uuid.New().String()
	e.timeline = items
	e.currentIndex = 0
	e.isRunning = false
	e.isPaused = false
	e.isComplete = false
	e.runErr = ""
	e.startTime = time.Time{}
	e.endTime = time.Time{}
	e.history = nil
	e.pendingActions = nil
	e.wfctx = NewContext(e.api, e.emitItemProgress)
	e.generation++

	return nil
}

// Start begins executing the timeline from the current index.
func (e *Engine) Start() error {
	e.mu.Lock()
	if err := e.startableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.beginRunLocked()
	runID := e.runID
	e.mu.Unlock()

	e.logger.LogRunEvent(runID, "started", nil)
	e.emitEvent(Event{Type: EventRunStarted, RunID: runID})
	return nil
}

// StartFromStep marks every item before the target item skipped, jumps the
// current index there and starts. Used to resume from a known checkpoint
// without re-running earlier side effects.
func (e *Engine) StartFromStep(itemID string) error {
	e.mu.Lock()
	if err := e.startableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}

	target := -1
	for i, item := range e.timeline {
		if item.ID() == itemID {
			target = i
			break
		}
	}
	if target < 0 {
		e.mu.Unlock()
		return fmt.Errorf("no timeline item with id %q", itemID)
	}

	for i := 0; i < target; i++ {
		e.timeline[i].Skip()
	}
	e.currentIndex = target

	e.beginRunLocked()
	runID := e.runID
	e.mu.Unlock()

	e.logger.LogRunEvent(runID, "started", map[string]interface{}{"from_step": itemID})
	e.emitEvent(Event{Type: EventRunStarted, RunID: runID, ItemID: itemID})
	return nil
}

// startableLocked validates preconditions shared by Start and StartFromStep.
func (e *Engine) startableLocked() error {
	if len(e.timeline) == 0 {
		return fmt.Errorf("workflow is not initialized")
	}
	if e.isRunning {
		return fmt.Errorf("workflow is already running")
	}
	if e.isComplete {
		return fmt.Errorf("workflow has already completed")
	}
	return nil
}

// beginRunLocked flips the engine to running and launches a fresh run loop.
func (e *Engine) beginRunLocked() int {
	e.isRunning = true
	e.isPaused = false
	if e.startTime.IsZero() {
		e.startTime = time.Now()
	}

	e.generation++
	gen := e.generation

	ctx, cancel := context.WithCancel(context.Background())
	e.runCancel = cancel

	go e.runLoop(ctx, gen)
	return gen
}

// runLoop executes items serially until the timeline is exhausted, an item
// fails or suspends, or the generation is invalidated by pause/cancel.
func (e *Engine) runLoop(ctx context.Context, gen int) {
	for {
		e.mu.Lock()
		if e.generation != gen || !e.isRunning {
			e.mu.Unlock()
			return
		}

		if e.currentIndex >= len(e.timeline) {
			e.isRunning = false
			e.isComplete = true
			e.endTime = time.Now()
			runID := e.runID
			e.mu.Unlock()

			e.logger.LogRunEvent(runID, "completed", nil)
			e.emitEvent(Event{Type: EventRunCompleted, RunID: runID})
			return
		}

		item := e.timeline[e.currentIndex]
		wfctx := e.wfctx
		runID := e.runID
		item.Begin()
		e.mu.Unlock()

		e.logger.LogItemEvent(runID, item.ID(), "started", map[string]interface{}{"type": item.Type()})
		e.emitEvent(Event{
			Type:      EventItemStarted,
			RunID:     runID,
			ItemID:    item.ID(),
			ItemType:  item.Type(),
			ItemTitle: item.Title(),
			Status:    StatusActive,
		})

		result := e.safeExecute(ctx, item, wfctx)

		e.mu.Lock()
		if e.generation != gen {
			// The run was paused or cancelled while the item executed; its
			// state has already been handled. Drop the stale result.
			e.mu.Unlock()
			return
		}

		switch result.Status {
		case ResultSuccess:
			e.spliceLocked(result.NextItems)
			item.Finish(StatusComplete, result.Data)
			e.recordLocked(item, result)
			e.currentIndex++
			e.mu.Unlock()

			e.logger.LogItemEvent(runID, item.ID(), "completed", result.Data)
			e.emitEvent(Event{
				Type:      EventItemFinished,
				RunID:     runID,
				ItemID:    item.ID(),
				ItemType:  item.Type(),
				ItemTitle: item.Title(),
				Status:    StatusComplete,
				Data:      result.Data,
			})

		case ResultUserAction:
			item.Suspend(result.Data)
			e.pendingActions = result.UserActions
			e.isRunning = false
			e.isPaused = true
			e.recordLocked(item, result)
			actions := actionSnapshots(result.UserActions)
			e.mu.Unlock()

			e.logger.LogItemEvent(runID, item.ID(), "user_action_required", result.Data)
			e.emitEvent(Event{
				Type:      EventItemUserAction,
				RunID:     runID,
				ItemID:    item.ID(),
				ItemType:  item.Type(),
				ItemTitle: item.Title(),
				Status:    StatusUserAction,
				Data:      map[string]interface{}{"actions": actions, "result": result.Data},
			})
			return

		case ResultError:
			item.Finish(StatusError, result.Data)
			e.runErr = result.Error
			e.isRunning = false
			e.recordLocked(item, result)
			e.mu.Unlock()

			e.logger.LogItemEvent(runID, item.ID(), "failed", map[string]interface{}{"error": result.Error})
			e.emitEvent(Event{
				Type:      EventRunFailed,
				RunID:     runID,
				ItemID:    item.ID(),
				ItemType:  item.Type(),
				ItemTitle: item.Title(),
				Status:    StatusError,
				Message:   result.Error,
			})
			return
		}
	}
}

// safeExecute converts item panics into error results at the engine
// boundary.
func (e *Engine) safeExecute(ctx context.Context, item TimelineItem, wfctx *Context) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("timeline item panicked",
				logging.Field{Key: "item_id", Value: item.ID()},
				logging.Field{Key: "panic", Value: fmt.Sprintf("%v", r)})
			result = ErrorResult(fmt.Sprintf("item %q panicked: %v", item.Type(), r))
		}
	}()
	return item.Execute(ctx, wfctx)
}

// spliceLocked inserts new items immediately after the current index. The
// timeline is append-only at runtime; terminal items are never removed.
func (e *Engine) spliceLocked(items []TimelineItem) {
	if len(items) == 0 {
		return
	}
	idx := e.currentIndex + 1
	rest := make([]TimelineItem, len(e.timeline[idx:]))
	copy(rest, e.timeline[idx:])
	e.timeline = append(append(e.timeline[:idx], items...), rest...)
}

// recordLocked appends to the execution history.
func (e *Engine) recordLocked(item TimelineItem, result Result) {
	e.history = append(e.history, HistoryEntry{
		ItemID:     item.ID(),
		ItemType:   item.Type(),
		Title:      item.Title(),
		Status:     item.Status(),
		Result:     result,
		StartedAt:  item.StartedAt(),
		FinishedAt: item.FinishedAt(),
		RecordedAt: time.Now(),
	})
}

// SubmitUserAction runs the chosen action's decision for the suspended
// current item.
func (e *Engine) SubmitUserAction(actionID string) error {
	e.mu.Lock()
	if !e.isPaused || e.currentIndex >= len(e.timeline) {
		e.mu.Unlock()
		return fmt.Errorf("no user action is pending")
	}
	item := e.timeline[e.currentIndex]
	if item.Status() != StatusUserAction {
		e.mu.Unlock()
		return fmt.Errorf("current item is not awaiting a user action")
	}

	var action *UserAction
	for i := range e.pendingActions {
		if e.pendingActions[i].ID == actionID {
			action = &e.pendingActions[i]
			break
		}
	}
	if action == nil {
		e.mu.Unlock()
		return fmt.Errorf("unknown user action %q", actionID)
	}
	wfctx := e.wfctx
	runID := e.runID
	gen := e.generation
	e.mu.Unlock()

	decision, err := action.Decide(wfctx)

	// The lock was released while Decide ran, so a concurrent Cancel or
	// Pause may have torn the run down. Its generation bump makes this
	// decision stale; the item must not leave its cancelled state.
	staleDecision := func() bool {
		return e.generation != gen || item.Status() != StatusUserAction
	}

	if err != nil {
		e.mu.Lock()
		if staleDecision() {
			e.mu.Unlock()
			return fmt.Errorf("workflow changed while action %q was being decided", actionID)
		}
		item.Finish(StatusError, nil)
		e.runErr = err.Error()
		e.isPaused = false
		e.pendingActions = nil
		e.recordLocked(item, ErrorResult(err.Error()))
		e.mu.Unlock()

		e.logger.LogItemEvent(runID, item.ID(), "failed", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("user action %q failed: %w", actionID, err)
	}

	e.logger.LogItemEvent(runID, item.ID(), "user_action_submitted", map[string]interface{}{
		"action":   actionID,
		"decision": string(decision.Action),
	})

	switch decision.Action {
	case DecisionContinue:
		e.mu.Lock()
		if staleDecision() {
			e.mu.Unlock()
			return fmt.Errorf("workflow changed while action %q was being decided", actionID)
		}
		e.spliceLocked(decision.AdditionalItems)
		item.Finish(StatusComplete, decision.Data)
		e.recordLocked(item, Result{Status: ResultSuccess, Data: decision.Data})
		e.currentIndex++
		e.pendingActions = nil
		e.beginRunLocked()
		e.mu.Unlock()

		e.emitEvent(Event{
			Type:      EventItemFinished,
			RunID:     runID,
			ItemID:    item.ID(),
			ItemType:  item.Type(),
			ItemTitle: item.Title(),
			Status:    StatusComplete,
			Data:      decision.Data,
		})
		return nil

	case DecisionSkip:
		e.mu.Lock()
		if staleDecision() {
			e.mu.Unlock()
			return fmt.Errorf("workflow changed while action %q was being decided", actionID)
		}
		item.Skip()
		e.recordLocked(item, Result{Status: ResultSuccess, Data: map[string]interface{}{"skipped": true}})
		e.currentIndex++
		e.pendingActions = nil
		e.beginRunLocked()
		e.mu.Unlock()

		e.emitEvent(Event{
			Type:      EventItemFinished,
			RunID:     runID,
			ItemID:    item.ID(),
			ItemType:  item.Type(),
			ItemTitle: item.Title(),
			Status:    StatusSkipped,
		})
		return nil

	case DecisionStop:
		return e.Cancel()

	default:
		return fmt.Errorf("user action %q produced unknown decision %q", actionID, decision.Action)
	}
}

// Pause suspends the run. The active item's cancellation path is invoked so
// both its remote side effect and its local poll are stopped before Pause
// returns; the item is then reset to pending, so Resume restarts its
// execution from the beginning.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("workflow is not running")
	}

	var active TimelineItem
	if e.currentIndex < len(e.timeline) && e.timeline[e.currentIndex].Status() == StatusActive {
		active = e.timeline[e.currentIndex]
	}
	wfctx := e.wfctx
	runID := e.runID

	e.generation++
	if e.runCancel != nil {
		e.runCancel()
		e.runCancel = nil
	}
	e.isRunning = false
	e.isPaused = true
	e.mu.Unlock()

	if active != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		active.Cancel(ctx, wfctx)
		cancel()
		active.ResetForRetry()
	}

	e.logger.LogRunEvent(runID, "paused", nil)
	e.emitEvent(Event{Type: EventRunPaused, RunID: runID})
	return nil
}

// Stop is an alias for Pause.
func (e *Engine) Stop() error {
	return e.Pause()
}

// Resume restarts execution at the current index. No partial-poll checkpoint
// is preserved, so the current item's execution restarts from the beginning.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if !e.isPaused {
		e.mu.Unlock()
		return fmt.Errorf("workflow is not paused")
	}
	if e.currentIndex < len(e.timeline) && e.timeline[e.currentIndex].Status() == StatusUserAction {
		e.mu.Unlock()
		return fmt.Errorf("workflow is awaiting a user action; submit an action instead")
	}
	e.beginRunLocked()
	runID := e.runID
	e.mu.Unlock()

	e.logger.LogRunEvent(runID, "resumed", nil)
	e.emitEvent(Event{Type: EventRunResumed, RunID: runID})
	return nil
}

// Retry re-runs the current item after an error. The item is reset to
// pending with cleared timestamps; nothing is retried automatically.
func (e *Engine) Retry() error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("workflow is running")
	}
	if e.currentIndex >= len(e.timeline) {
		e.mu.Unlock()
		return fmt.Errorf("no current item to retry")
	}
	item := e.timeline[e.currentIndex]
	if item.Status() != StatusError {
		e.mu.Unlock()
		return fmt.Errorf("current item is not in an error state")
	}
	if !item.CanRetry() {
		e.mu.Unlock()
		return fmt.Errorf("item %q cannot be retried", item.Type())
	}

	item.ResetForRetry()
	e.runErr = ""
	e.beginRunLocked()
	runID := e.runID
	e.mu.Unlock()

	e.logger.LogItemEvent(runID, item.ID(), "retrying", nil)
	e.emitEvent(Event{Type: EventRunResumed, RunID: runID, ItemID: item.ID(), Message: "retry"})
	return nil
}

// SkipCurrent skips the current item while the engine is halted on an error
// or awaiting a user action, then resumes the run.
func (e *Engine) SkipCurrent() error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return fmt.Errorf("workflow is running")
	}
	if e.currentIndex >= len(e.timeline) {
		e.mu.Unlock()
		return fmt.Errorf("no current item to skip")
	}
	item := e.timeline[e.currentIndex]
	status := item.Status()
	if status != StatusError && status != StatusUserAction && status != StatusPending {
		e.mu.Unlock()
		return fmt.Errorf("current item cannot be skipped in status %q", status)
	}
	if !item.CanSkip() {
		e.mu.Unlock()
		return fmt.Errorf("item %q cannot be skipped", item.Type())
	}

	item.Skip()
	e.recordLocked(item, Result{Status: ResultSuccess, Data: map[string]interface{}{"skipped": true}})
	e.currentIndex++
	e.runErr = ""
	e.pendingActions = nil
	e.beginRunLocked()
	runID := e.runID
	e.mu.Unlock()

	e.logger.LogItemEvent(runID, item.ID(), "skipped", nil)
	e.emitEvent(Event{
		Type:      EventItemFinished,
		RunID:     runID,
		ItemID:    item.ID(),
		ItemType:  item.Type(),
		ItemTitle: item.Title(),
		Status:    StatusSkipped,
	})
	return nil
}

// Cancel halts the engine, marks every non-terminal item cancelled and
// invokes the active item's cancellation path for best-effort remote
// cleanup. Cleanup failures are logged, never fatal.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	if len(e.timeline) == 0 {
		e.mu.Unlock()
		return fmt.Errorf("workflow is not initialized")
	}
	if e.isComplete {
		e.mu.Unlock()
		return fmt.Errorf("workflow has already completed")
	}

	var active TimelineItem
	for _, item := range e.timeline {
		switch item.Status() {
		case StatusActive:
			active = item
		default:
			if !item.Status().IsTerminal() {
				item.SetStatus(StatusCancelled)
			}
		}
	}
	wfctx := e.wfctx
	runID := e.runID

	e.generation++
	if e.runCancel != nil {
		e.runCancel()
		e.runCancel = nil
	}
	e.isRunning = false
	e.isPaused = false
	e.pendingActions = nil
	e.endTime = time.Now()
	e.mu.Unlock()

	if active != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		active.Cancel(ctx, wfctx)
		cancel()
	}

	e.logger.LogRunEvent(runID, "cancelled", nil)
	e.emitEvent(Event{Type: EventRunCancelled, RunID: runID})
	return nil
}

// Snapshot returns the read-only state of the engine.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	timeline := make([]ItemSnapshot, len(e.timeline))
	for i, item := range e.timeline {
		timeline[i] = ItemSnapshot{
			ID:          item.ID(),
			Type:        item.Type(),
			Title:       item.Title(),
			Description: item.Description(),
			Status:      item.Status(),
			StartedAt:   item.StartedAt(),
			FinishedAt:  item.FinishedAt(),
			Data:        item.Data(),
			CanSkip:     item.CanSkip(),
			CanRetry:    item.CanRetry(),
		}
	}

	history := make([]HistoryEntry, len(e.history))
	copy(history, e.history)

	return Snapshot{
		RunID:          e.runID,
		Timeline:       timeline,
		CurrentIndex:   e.currentIndex,
		IsRunning:      e.isRunning,
		IsPaused:       e.isPaused,
		IsComplete:     e.isComplete,
		Error:          e.runErr,
		StartTime:      e.startTime,
		EndTime:        e.endTime,
		PendingActions: actionSnapshots(e.pendingActions),
		History:        history,
	}
}

// History returns a copy of the execution history.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	history := make([]HistoryEntry, len(e.history))
	copy(history, e.history)
	return history
}

// emitItemProgress is the progress hook handed to the workflow context.
func (e *Engine) emitItemProgress(item TimelineItem, data map[string]interface{}) {
	e.mu.Lock()
	runID := e.runID
	e.mu.Unlock()

	e.emitEvent(Event{
		Type:      EventItemProgress,
		RunID:     runID,
		ItemID:    item.ID(),
		ItemType:  item.Type(),
		ItemTitle: item.Title(),
		Status:    item.Status(),
		Data:      data,
	})
}

func (e *Engine) emitEvent(event Event) {
	if e.onEvent == nil {
		return
	}
	event.Timestamp = time.Now()
	e.onEvent(event)
}

func actionSnapshots(actions []UserAction) []ActionSnapshot {
	if len(actions) == 0 {
		return nil
	}
	snapshots := make([]ActionSnapshot, len(actions))
	for i, a := range actions {
		snapshots[i] = ActionSnapshot{
			ID:          a.ID,
			Label:       a.Label,
			Description: a.Description,
			Intent:      a.Intent,
		}
	}
	return snapshots
}
