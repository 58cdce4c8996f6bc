package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/tcmartin/upgraderunner/pkg/manager"
	"github.com/tcmartin/upgraderunner/pkg/poller"
)

// executeMigrationsItem runs the migrations confirmed by the check item of
// the same cycle, reading the hash and delete flag from the workflow context.
type executeMigrationsItem struct {
	BaseItem
	cycle    int
	interval time.Duration
	timeout  time.Duration
}

// NewExecuteMigrationsItem creates the item that executes confirmed database
// migrations. The cycle parameter defaults to 1.
func NewExecuteMigrationsItem(params map[string]interface{}) (TimelineItem, error) {
	cycle, err := intParam(params, "cycle", 1)
	if err != nil {
		return nil, err
	}
	interval, timeout, err := pollSettings(params, executeMigrationTimeout)
	if err != nil {
		return nil, err
	}
	return newExecuteMigrationsItem(cycle, interval, timeout), nil
}

func newExecuteMigrationsItem(cycle int, interval, timeout time.Duration) *executeMigrationsItem {
	return &executeMigrationsItem{
		BaseItem: NewBaseItem("execute-migrations",
			fmt.Sprintf("Execute database migrations (cycle %d)", cycle),
			"Executes the confirmed pending database migrations"),
		cycle:    cycle,
		interval: interval,
		timeout:  timeout,
	}
}

func (e *executeMigrationsItem) Execute(ctx context.Context, wf *Context) Result {
	hash, ok := wf.GetString(migrationHashKey(e.cycle))
	if !ok || hash == "" {
		return ErrorResult(fmt.Sprintf("no confirmed migration hash for cycle %d", e.cycle))
	}
	withDeletes, _ := wf.GetBool(migrationDeletesKey(e.cycle))

	api := wf.Manager()

	descriptor := manager.MigrationDescriptor{Hash: hash, WithDeletes: withDeletes}
	if err := api.SubmitMigration(ctx, descriptor); err != nil {
		return ErrorResult(fmt.Sprintf("failed to submit migration execution: %v", err))
	}

	h := poller.Poll(poller.Options{
		Check: func() (interface{}, error) {
			return api.GetMigrationStatus(ctx)
		},
		IsPending: func(result interface{}) bool {
			status, ok := result.(*manager.MigrationStatus)
			if !ok || status == nil {
				return false
			}
			return status.Status == manager.MigrationStatusActive ||
				status.Status == manager.MigrationStatusPending
		},
		OnTick: func(result interface{}) {
			if status, ok := result.(*manager.MigrationStatus); ok && status != nil {
				wf.EmitProgress(e, map[string]interface{}{
					"status":     status.Status,
					"operations": len(status.Operations),
				})
			}
		},
		Interval: e.interval,
		Timeout:  e.timeout,
	})
	e.trackPoll(h)
	outcome := h.Wait()
	e.trackPoll(nil)

	switch {
	case outcome.Cancelled:
		return ErrorResult("migration execution was cancelled")
	case outcome.TimedOut:
		return ErrorResult(fmt.Sprintf("migration execution did not finish within %s", e.timeout))
	case outcome.Err != nil:
		return ErrorResult(outcome.Err.Error())
	}

	status, _ := outcome.Value.(*manager.MigrationStatus)

	// Absence of migration state ("no content") is an implicit success.
	if status == nil {
		return SuccessResult(map[string]interface{}{
			"cycle":        e.cycle,
			"with_deletes": withDeletes,
		})
	}

	switch status.Status {
	case manager.MigrationStatusComplete:
		if err := api.DeleteMigrationTask(ctx); err != nil {
			wf.EmitProgress(e, map[string]interface{}{
				"warning": fmt.Sprintf("failed to delete migration state: %v", err),
			})
		}
		return SuccessResult(map[string]interface{}{
			"cycle":        e.cycle,
			"with_deletes": withDeletes,
			"operations":   len(status.Operations),
		})
	case manager.MigrationStatusError:
		return ErrorResult(migrationErrorMessage(status))
	default:
		return ErrorResult(fmt.Sprintf("migration execution resolved with unexpected status %q", status.Status))
	}
}

// Cancel tears down the poll and frees the migration-task slot.
func (e *executeMigrationsItem) Cancel(ctx context.Context, wf *Context) {
	e.StopPoll()
	if err := wf.Manager().DeleteMigrationTask(ctx); err != nil {
		wf.EmitProgress(e, map[string]interface{}{
			"warning": fmt.Sprintf("failed to delete migration state: %v", err),
		})
	}
	e.Finish(StatusCancelled, nil)
}
