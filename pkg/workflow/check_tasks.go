package workflow

import (
	"context"
	"fmt"

	"github.com/tcmartin/upgraderunner/pkg/manager"
)

// checkTasksItem verifies that the manager's task slot and migration-task
// slot are both free before the upgrade starts. A busy slot is a hard stop:
// the user must clear it explicitly, so this resolves with an error rather
// than suspending for a decision.
type checkTasksItem struct {
	BaseItem
}

// NewCheckTasksItem creates the item that checks for outstanding remote tasks.
func NewCheckTasksItem(params map[string]interface{}) (TimelineItem, error) {
	return &checkTasksItem{
		BaseItem: NewBaseItem("check-tasks", "Check running tasks",
			"Verifies that no task or database migration is currently running"),
	}, nil
}

func (c *checkTasksItem) Execute(ctx context.Context, wf *Context) Result {
	api := wf.Manager()

	task, err := api.GetTaskStatus(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to check task status: %v", err))
	}
	if task != nil && (task.Status == manager.TaskStatusActive || task.Status == manager.TaskStatusAborting) {
		return ErrorResult(fmt.Sprintf("a task is still running (status %q); resolve it in the manager before starting the upgrade", task.Status))
	}

	migration, err := api.GetMigrationStatus(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to check migration status: %v", err))
	}
	if migration != nil && (migration.Status == manager.MigrationStatusActive || migration.Status == manager.MigrationStatusPending) {
		return ErrorResult(fmt.Sprintf("a database migration task is still outstanding (status %q); resolve it in the manager before starting the upgrade", migration.Status))
	}

	return SuccessResult(nil)
}
