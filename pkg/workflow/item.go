// Package workflow provides the upgrade workflow engine: an ordered timeline
// of heterogeneous, asynchronous items driven strictly one at a time.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tcmartin/upgraderunner/pkg/manager"
	"github.com/tcmartin/upgraderunner/pkg/poller"
)

// ItemStatus is the lifecycle state of a timeline item.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusActive     ItemStatus = "active"
	StatusComplete   ItemStatus = "complete"
	StatusError      ItemStatus = "error"
	StatusUserAction ItemStatus = "user_action_required"
	StatusSkipped    ItemStatus = "skipped"
	StatusCancelled  ItemStatus = "cancelled"
)

// IsTerminal reports whether a status is final. user_action_required is not
// terminal: it suspends the item until an external decision arrives.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// ResultStatus is the outcome class of one item invocation.
type ResultStatus string

const (
	ResultSuccess    ResultStatus = "success"
	ResultError      ResultStatus = "error"
	ResultUserAction ResultStatus = "user_action_required"
)

// Result is the outcome of one item invocation.
type Result struct {
	// Status of the invocation
	Status ResultStatus `json:"status"`

	// Data carries the item's opaque result payload
	Data map[string]interface{} `json:"data,omitempty"`

	// Error message when Status is ResultError
	Error string `json:"error,omitempty"`

	// UserActions are offered when Status is ResultUserAction
	UserActions []UserAction `json:"-"`

	// NextItems are spliced into the timeline immediately after the current
	// index on success
	NextItems []TimelineItem `json:"-"`
}

// SuccessResult builds a success result with the given payload.
func SuccessResult(data map[string]interface{}) Result {
	return Result{Status: ResultSuccess, Data: data}
}

// ErrorResult builds an error result from a message.
func ErrorResult(message string) Result {
	return Result{Status: ResultError, Error: message}
}

// UserActionResult builds a suspension result offering the given actions.
func UserActionResult(data map[string]interface{}, actions ...UserAction) Result {
	return Result{Status: ResultUserAction, Data: data, UserActions: actions}
}

// DecisionAction is the user's choice for a suspended item.
type DecisionAction string

const (
	DecisionContinue DecisionAction = "continue"
	DecisionSkip     DecisionAction = "skip"
	DecisionStop     DecisionAction = "stop"
)

// Decision is the deferred outcome of a user action.
type Decision struct {
	// Action selects how the engine proceeds
	Action DecisionAction

	// AdditionalItems are spliced after the current index on continue
	AdditionalItems []TimelineItem

	// Data is merged into the item's result payload
	Data map[string]interface{}
}

// UserAction is one choice offered to the user while an item is suspended.
type UserAction struct {
	// ID identifies the action for SubmitUserAction
	ID string `json:"id"`

	// Label is the short button text
	Label string `json:"label"`

	// Description explains the consequence of the action
	Description string `json:"description,omitempty"`

	// Intent is a visual hint: "primary", "secondary" or "danger"
	Intent string `json:"intent,omitempty"`

	// Decide produces the decision when the action is chosen
	Decide func(wf *Context) (Decision, error) `json:"-"`
}

// ManagerAPI is the remote management API surface consumed by timeline items.
type ManagerAPI interface {
	SubmitTask(ctx context.Context, task manager.TaskDescriptor) error
	GetTaskStatus(ctx context.Context) (*manager.TaskStatus, error)
	DeleteTask(ctx context.Context) error
	PatchTaskStatus(ctx context.Context, status string) error
	SubmitMigration(ctx context.Context, migration manager.MigrationDescriptor) error
	GetMigrationStatus(ctx context.Context) (*manager.MigrationStatus, error)
	DeleteMigrationTask(ctx context.Context) error
	GetSelfUpdateStatus(ctx context.Context) (*manager.SelfUpdateStatus, error)
	UpdateVersionInfo(ctx context.Context) (*manager.VersionInfo, error)
}

// TimelineItem is one discrete, possibly asynchronous step of the upgrade
// procedure. Implementations embed BaseItem for the shared lifecycle state.
type TimelineItem interface {
	ID() string
	Type() string
	Title() string
	Description() string

	Status() ItemStatus
	SetStatus(status ItemStatus)
	StartedAt() time.Time
	FinishedAt() time.Time
	Data() map[string]interface{}

	// Begin marks the item active and stamps its start time.
	Begin()

	// Finish stamps the end time, stores the payload and sets a final status.
	Finish(status ItemStatus, data map[string]interface{})

	// Suspend marks the item user_action_required without stamping an end
	// time; the item finishes once the decision arrives.
	Suspend(data map[string]interface{})

	// Execute runs the item to a Result. It blocks for the duration of any
	// remote submission and polling.
	Execute(ctx context.Context, wf *Context) Result

	// Skip stops any outstanding poll and marks the item skipped.
	Skip()

	// ResetForRetry returns the item to pending and clears both timestamps.
	ResetForRetry()

	// Cancel stops any outstanding poll, performs a best-effort remote abort
	// and marks the item cancelled.
	Cancel(ctx context.Context, wf *Context)

	CanSkip() bool
	CanRetry() bool
}

// BaseItem carries the lifecycle state shared by every timeline item.
type BaseItem struct {
	id          string
	itemType    string
	title       string
	description string

	mu         sync.RWMutex
	status     ItemStatus
	startedAt  time.Time
	finishedAt time.Time
	data       map[string]interface{}
	poll       *poller.Handle
}

// NewBaseItem creates the shared state for a timeline item.
func NewBaseItem(itemType, title, description string) BaseItem {
	return BaseItem{
		id:          uuid.New().String(),
		itemType:    itemType,
		title:       title,
		description: description,
		status:      StatusPending,
	}
}

func (b *BaseItem) ID() string          { return b.id }
func (b *BaseItem) Type() string        { return b.itemType }
func (b *BaseItem) Title() string       { return b.title }
func (b *BaseItem) Description() string { return b.description }

func (b *BaseItem) Status() ItemStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *BaseItem) SetStatus(status ItemStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

func (b *BaseItem) StartedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.startedAt
}

func (b *BaseItem) FinishedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.finishedAt
}

func (b *BaseItem) Data() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

// Begin marks the item active and stamps its start time.
func (b *BaseItem) Begin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = StatusActive
	b.startedAt = time.Now()
	b.finishedAt = time.Time{}
}

// Finish stamps the end time and stores the payload.
func (b *BaseItem) Finish(status ItemStatus, data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.finishedAt = time.Now()
	if data != nil {
		b.data = data
	}
}

// Suspend marks the item user_action_required without stamping an end time.
func (b *BaseItem) Suspend(data map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = StatusUserAction
	if data != nil {
		b.data = data
	}
}

// trackPoll records the item's single outstanding poll so Skip, Cancel and
// engine pause can tear it down.
func (b *BaseItem) trackPoll(h *poller.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.poll = h
}

// StopPoll cancels the outstanding poll, if any. Idempotent.
func (b *BaseItem) StopPoll() {
	b.mu.Lock()
	h := b.poll
	b.poll = nil
	b.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// Skip stops any outstanding poll and marks the item skipped.
func (b *BaseItem) Skip() {
	b.StopPoll()
	b.Finish(StatusSkipped, nil)
}

// ResetForRetry returns the item to pending and clears both timestamps.
func (b *BaseItem) ResetForRetry() {
	b.StopPoll()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = StatusPending
	b.startedAt = time.Time{}
	b.finishedAt = time.Time{}
}

// Cancel stops any outstanding poll and marks the item cancelled. Items with
// a remote side effect override this with a best-effort remote abort.
func (b *BaseItem) Cancel(ctx context.Context, wf *Context) {
	b.StopPoll()
	b.Finish(StatusCancelled, nil)
}

// CanSkip reports whether the item may be skipped. Most items are skippable.
func (b *BaseItem) CanSkip() bool { return true }

// CanRetry reports whether a failed item may be retried.
func (b *BaseItem) CanRetry() bool { return true }
