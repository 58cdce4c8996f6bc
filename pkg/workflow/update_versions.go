package workflow

import (
	"context"
	"fmt"
)

// updateVersionsItem refreshes the installation's version information with a
// single non-pollable remote call. It is the terminal step of the default
// plan and the one item that cannot be skipped.
type updateVersionsItem struct {
	BaseItem
}

// NewUpdateVersionsItem creates the item that refreshes version information.
func NewUpdateVersionsItem(params map[string]interface{}) (TimelineItem, error) {
	return &updateVersionsItem{
		BaseItem: NewBaseItem("update-versions", "Refresh version information",
			"Refreshes the installation's version information"),
	}, nil
}

func (u *updateVersionsItem) Execute(ctx context.Context, wf *Context) Result {
	info, err := wf.Manager().UpdateVersionInfo(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to refresh version information: %v", err))
	}
	if !info.Success {
		return ErrorResult("version information refresh was not successful")
	}

	var data map[string]interface{}
	if len(info.VersionInfo) > 0 {
		data = map[string]interface{}{"version_info": info.VersionInfo}
	}
	return SuccessResult(data)
}

func (u *updateVersionsItem) CanSkip() bool { return false }
