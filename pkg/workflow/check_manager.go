package workflow

import (
	"context"
	"fmt"
)

// checkManagerItem compares the installed manager version against the latest
// release. Equal versions complete immediately; a newer release suspends for
// explicit user confirmation before the self-update is spliced in.
type checkManagerItem struct {
	BaseItem
}

// NewCheckManagerItem creates the item that checks for a manager self-update.
func NewCheckManagerItem(params map[string]interface{}) (TimelineItem, error) {
	return &checkManagerItem{
		BaseItem: NewBaseItem("check-manager", "Check manager version",
			"Checks whether a newer manager version is available"),
	}, nil
}

func (c *checkManagerItem) Execute(ctx context.Context, wf *Context) Result {
	status, err := wf.Manager().GetSelfUpdateStatus(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to check manager version: %v", err))
	}

	data := map[string]interface{}{
		"current_version": status.CurrentVersion,
		"latest_version":  status.LatestVersion,
	}

	if status.CurrentVersion == status.LatestVersion {
		data["up_to_date"] = true
		return SuccessResult(data)
	}

	return UserActionResult(data,
		UserAction{
			ID:          "update-now",
			Label:       "Update now",
			Description: fmt.Sprintf("Update the manager from %s to %s", status.CurrentVersion, status.LatestVersion),
			Intent:      "primary",
			Decide: func(wf *Context) (Decision, error) {
				update, err := NewUpdateManagerItem(nil)
				if err != nil {
					return Decision{}, err
				}
				return Decision{
					Action:          DecisionContinue,
					AdditionalItems: []TimelineItem{update},
					Data:            data,
				}, nil
			},
		},
		UserAction{
			ID:          "skip-update",
			Label:       "Skip",
			Description: "Continue the workflow on the current manager version",
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
