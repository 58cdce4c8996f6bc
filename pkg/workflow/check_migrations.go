package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/tcmartin/upgraderunner/pkg/manager"
	"github.com/tcmartin/upgraderunner/pkg/poller"
)

// Context keys passing the confirmed hash and delete flag from a migration
// check to its matching execution. Keyed by cycle so a later cycle never
// reads a stale confirmation.
func migrationHashKey(cycle int) string {
	return fmt.Sprintf("migrations.cycle.%d.hash", cycle)
}

func migrationDeletesKey(cycle int) string {
	return fmt.Sprintf("migrations.cycle.%d.with_deletes", cycle)
}

// checkMigrationsItem submits a dry-run migration check and polls its result.
// A pending check with a non-empty hash suspends for a user decision; running
// it splices in an execution item for this cycle plus a fresh check for the
// next cycle, so the loop only terminates once a check reports nothing
// pending. No cycle cap is imposed.
type checkMigrationsItem struct {
	BaseItem
	cycle    int
	interval time.Duration
	timeout  time.Duration
}

// NewCheckMigrationsItem creates the item that checks for pending database
// migrations. The cycle parameter defaults to 1.
func NewCheckMigrationsItem(params map[string]interface{}) (TimelineItem, error) {
	cycle, err := intParam(params, "cycle", 1)
	if err != nil {
		return nil, err
	}
	interval, timeout, err := pollSettings(params, composerDryRunTimeout)
	if err != nil {
		return nil, err
	}
	return newCheckMigrationsItem(cycle, interval, timeout), nil
}

func newCheckMigrationsItem(cycle int, interval, timeout time.Duration) *checkMigrationsItem {
	return &checkMigrationsItem{
		BaseItem: NewBaseItem("check-migrations",
			fmt.Sprintf("Check database migrations (cycle %d)", cycle),
			"Checks whether database migrations are pending"),
		cycle:    cycle,
		interval: interval,
		timeout:  timeout,
	}
}

func (c *checkMigrationsItem) Execute(ctx context.Context, wf *Context) Result {
	api := wf.Manager()

	if err := api.SubmitMigration(ctx, manager.MigrationDescriptor{}); err != nil {
		return ErrorResult(fmt.Sprintf("failed to submit migration check: %v", err))
	}

	h := poller.Poll(poller.Options{
		Check: func() (interface{}, error) {
			return api.GetMigrationStatus(ctx)
		},
		IsPending: func(result interface{}) bool {
			status, ok := result.(*manager.MigrationStatus)
			return ok && status != nil && status.Status == manager.MigrationStatusActive
		},
		OnTick: func(result interface{}) {
			if status, ok := result.(*manager.MigrationStatus); ok && status != nil {
				wf.EmitProgress(c, map[string]interface{}{"status": status.Status})
			}
		},
		Interval: c.interval,
		Timeout:  c.timeout,
	})
	c.trackPoll(h)
	outcome := h.Wait()
	c.trackPoll(nil)

	switch {
	case outcome.Cancelled:
		return ErrorResult("migration check was cancelled")
	case outcome.TimedOut:
		return ErrorResult(fmt.Sprintf("migration check did not finish within %s", c.timeout))
	case outcome.Err != nil:
		return ErrorResult(outcome.Err.Error())
	}

	status, _ := outcome.Value.(*manager.MigrationStatus)

	// No migration state at all means nothing is pending.
	if status == nil {
		return SuccessResult(map[string]interface{}{"pending": false})
	}

	switch status.Status {
	case manager.MigrationStatusError:
		return ErrorResult(migrationErrorMessage(status))

	case manager.MigrationStatusComplete:
		c.deleteRemoteState(ctx, wf)
		return SuccessResult(map[string]interface{}{"pending": false})

	case manager.MigrationStatusPending:
		if status.Hash == "" {
			c.deleteRemoteState(ctx, wf)
			return SuccessResult(map[string]interface{}{"pending": false})
		}
		return c.confirmPending(status)

	default:
		return ErrorResult(fmt.Sprintf("migration check resolved with unexpected status %q", status.Status))
	}
}

// confirmPending suspends for the user's decision on a non-empty set of
// pending migrations.
func (c *checkMigrationsItem) confirmPending(status *manager.MigrationStatus) Result {
	data := map[string]interface{}{
		"pending": true,
		"hash":    status.Hash,
		"cycle":   c.cycle,
	}
	if len(status.Operations) > 0 {
		names := make([]string, 0, len(status.Operations))
		for _, op := range status.Operations {
			names = append(names, op.Name)
		}
		data["operations"] = names
	}

	run := func(withDeletes bool) func(wf *Context) (Decision, error) {
		return func(wf *Context) (Decision, error) {
			wf.Set(migrationHashKey(c.cycle), status.Hash)
			wf.Set(migrationDeletesKey(c.cycle), withDeletes)

			execute := newExecuteMigrationsItem(c.cycle, c.interval, executeMigrationTimeout)
			next := newCheckMigrationsItem(c.cycle+1, c.interval, c.timeout)

			return Decision{
				Action:          DecisionContinue,
				AdditionalItems: []TimelineItem{execute, next},
				Data:            data,
			}, nil
		}
	}

	return UserActionResult(data,
		UserAction{
			ID:          "run-migrations",
			Label:       "Run migrations",
			Description: fmt.Sprintf("Execute %d pending operations", len(status.Operations)),
			Intent:      "primary",
			Decide:      run(false),
		},
		UserAction{
			ID:          "run-migrations-with-deletes",
			Label:       "Run with deletes",
			Description: "Execute the pending operations including DROP statements",
			Intent:      "danger",
			Decide:      run(true),
		},
		UserAction{
			ID:          "skip-migrations",
			Label:       "Skip",
			Description: "Leave the pending migrations unapplied",
			Intent:      "secondary",
			Decide: func(wf *Context) (Decision, error) {
				// Free the migration-task slot so a later run can check again.
				if err := wf.Manager().DeleteMigrationTask(context.Background()); err != nil {
					wf.EmitProgress(c, map[string]interface{}{
						"warning": fmt.Sprintf("failed to delete migration state: %v", err),
					})
				}
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

// deleteRemoteState frees the migration-task slot. Failures are reported as
// progress warnings, never escalated.
func (c *checkMigrationsItem) deleteRemoteState(ctx context.Context, wf *Context) {
	if err := wf.Manager().DeleteMigrationTask(ctx); err != nil {
		wf.EmitProgress(c, map[string]interface{}{
			"warning": fmt.Sprintf("failed to delete migration state: %v", err),
		})
	}
}

// Cancel tears down the poll and frees the migration-task slot.
func (c *checkMigrationsItem) Cancel(ctx context.Context, wf *Context) {
	c.StopPoll()
	c.deleteRemoteState(ctx, wf)
	c.Finish(StatusCancelled, nil)
}

func migrationErrorMessage(status *manager.MigrationStatus) string {
	for _, op := range status.Operations {
		if op.Status == manager.MigrationStatusError && op.Message != "" {
			return fmt.Sprintf("migration failed at %q: %s", op.Name, op.Message)
		}
	}
	return "migration task reported an error"
}
