package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tcmartin/upgraderunner/pkg/manager"
	"github.com/tcmartin/upgraderunner/pkg/poller"
)

// Poll and timeout bounds for network-backed items. Composer updates and
// migration execution are long-running operations and get the wider bound.
const (
	defaultPollInterval     = 5 * time.Second
	updateManagerTimeout    = 10 * time.Minute
	composerDryRunTimeout   = 10 * time.Minute
	composerUpdateTimeout   = 30 * time.Minute
	executeMigrationTimeout = 30 * time.Minute
)

// taskItem submits a task descriptor to the manager's single task slot and
// polls its status until it leaves "active". It backs the update-manager,
// composer-dry-run and composer-update variants.
type taskItem struct {
	BaseItem
	task     manager.TaskDescriptor
	interval time.Duration
	timeout  time.Duration

	// confirmAfter suspends for user confirmation once the task has
	// completed, used by the composer dry run.
	confirmAfter bool

	abortOnce sync.Once
}

// NewUpdateManagerItem creates the item that updates the remote manager to
// its latest version.
func NewUpdateManagerItem(params map[string]interface{}) (TimelineItem, error) {
	interval, timeout, err := pollSettings(params, updateManagerTimeout)
	if err != nil {
		return nil, err
	}
	return &taskItem{
		BaseItem: NewBaseItem("update-manager", "Update manager",
			"Updates the manager to the latest released version"),
		task:     manager.TaskDescriptor{Name: "manager/self-update"},
		interval: interval,
		timeout:  timeout,
	}, nil
}

// NewComposerDryRunItem creates the item that simulates the dependency update
// and pauses for confirmation of the resulting operations.
func NewComposerDryRunItem(params map[string]interface{}) (TimelineItem, error) {
	interval, timeout, err := pollSettings(params, composerDryRunTimeout)
	if err != nil {
		return nil, err
	}
	return &taskItem{
		BaseItem: NewBaseItem("composer-dry-run", "Simulate dependency update",
			"Runs the dependency update in dry-run mode to preview its operations"),
		task: manager.TaskDescriptor{
			Name:   "composer/update",
			Config: map[string]interface{}{"dry_run": true},
		},
		interval:     interval,
		timeout:      timeout,
		confirmAfter: true,
	}, nil
}

// NewComposerUpdateItem creates the item that performs the dependency update.
func NewComposerUpdateItem(params map[string]interface{}) (TimelineItem, error) {
	interval, timeout, err := pollSettings(params, composerUpdateTimeout)
	if err != nil {
		return nil, err
	}
	return &taskItem{
		BaseItem: NewBaseItem("composer-update", "Update dependencies",
			"Updates the installation's dependencies"),
		task:     manager.TaskDescriptor{Name: "composer/update"},
		interval: interval,
		timeout:  timeout,
	}, nil
}

func (t *taskItem) Execute(ctx context.Context, wf *Context) Result {
	api := wf.Manager()

	if err := api.SubmitTask(ctx, t.task); err != nil {
		return ErrorResult(fmt.Sprintf("failed to submit task %q: %v", t.task.Name, err))
	}

	h := poller.Poll(poller.Options{
		Check: func() (interface{}, error) {
			return api.GetTaskStatus(ctx)
		},
		IsPending: func(result interface{}) bool {
			status, ok := result.(*manager.TaskStatus)
			return ok && status != nil && status.Status == manager.TaskStatusActive
		},
		OnTick: func(result interface{}) {
			if status, ok := result.(*manager.TaskStatus); ok && status != nil {
				wf.EmitProgress(t, taskProgressData(status))
			}
		},
		Interval: t.interval,
		Timeout:  t.timeout,
	})
	t.trackPoll(h)
	outcome := h.Wait()
	t.trackPoll(nil)

	switch {
	case outcome.Cancelled:
		return ErrorResult(fmt.Sprintf("task %q was cancelled", t.task.Name))
	case outcome.TimedOut:
		return ErrorResult(fmt.Sprintf("task %q did not finish within %s", t.task.Name, t.timeout))
	case outcome.Err != nil:
		return ErrorResult(outcome.Err.Error())
	}

	status, _ := outcome.Value.(*manager.TaskStatus)

	// Absence of task state ("no content") is an implicit success.
	if status == nil {
		return t.finishTask(ctx, wf, nil)
	}

	switch status.Status {
	case manager.TaskStatusComplete:
		return t.finishTask(ctx, wf, status)
	case manager.TaskStatusError:
		msg := fmt.Sprintf("task %q failed", t.task.Name)
		if status.Console != "" {
			msg = fmt.Sprintf("%s: %s", msg, consoleTail(status.Console))
		}
		return ErrorResult(msg)
	default:
		return ErrorResult(fmt.Sprintf("task %q resolved with unexpected status %q", t.task.Name, status.Status))
	}
}

// finishTask deletes the remote task state to free the task slot, then
// resolves complete, optionally via a confirmation pause.
func (t *taskItem) finishTask(ctx context.Context, wf *Context, status *manager.TaskStatus) Result {
	// Cleanup failures are never escalated to engine failure.
	if err := wf.Manager().DeleteTask(ctx); err != nil {
		wf.EmitProgress(t, map[string]interface{}{
			"warning": fmt.Sprintf("failed to delete task state: %v", err),
		})
	}

	var data map[string]interface{}
	if status != nil {
		data = taskProgressData(status)
	}

	if !t.confirmAfter {
		return SuccessResult(data)
	}

	return UserActionResult(data,
		UserAction{
			ID:          "confirm-update",
			Label:       "Continue update",
			Description: "Apply the previewed dependency update",
			Intent:      "primary",
			Decide: func(wf *Context) (Decision, error) {
				return Decision{Action: DecisionContinue, Data: data}, nil
			},
		},
		UserAction{
			ID:          "skip-update",
			Label:       "Skip",
			Description: "Continue the workflow without applying the update",
			Intent:      "secondary",
			Decide: func(wf *Context) (Decision, error) {
				return Decision{Action: DecisionSkip}, nil
			},
		},
		UserAction{
			ID:          "cancel-run",
			Label:       "Cancel",
			Description: "Stop the upgrade workflow",
			Intent:      "danger",
			Decide: func(wf *Context) (Decision, error) {
				return Decision{Action: DecisionStop}, nil
			},
		},
	)
}

// Cancel tears down the poll and asks the manager to abort the running task.
// The abort is patched at most once per invocation cycle.
func (t *taskItem) Cancel(ctx context.Context, wf *Context) {
	t.StopPoll()
	t.abortOnce.Do(func() {
		if err := wf.Manager().PatchTaskStatus(ctx, manager.TaskStatusAborting); err != nil {
			wf.EmitProgress(t, map[string]interface{}{
				"warning": fmt.Sprintf("failed to abort task: %v", err),
			})
		}
	})
	t.Finish(StatusCancelled, nil)
}

// ResetForRetry re-arms the abort guard alongside the base reset.
func (t *taskItem) ResetForRetry() {
	t.BaseItem.ResetForRetry()
	t.abortOnce = sync.Once{}
}

func taskProgressData(status *manager.TaskStatus) map[string]interface{} {
	data := map[string]interface{}{
		"status": status.Status,
	}
	if status.Console != "" {
		data["console"] = status.Console
	}
	if len(status.Operations) > 0 {
		ops := make([]map[string]interface{}, 0, len(status.Operations))
		for _, op := range status.Operations {
			ops = append(ops, map[string]interface{}{
				"summary": op.Summary,
				"status":  op.Status,
			})
		}
		data["operations"] = ops
	}
	return data
}

// consoleTail returns the last non-empty line of console output for error
// messages.
func consoleTail(console string) string {
	lines := strings.Split(strings.TrimRight(console, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return console
}
