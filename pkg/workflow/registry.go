package workflow

import (
	"fmt"
	"time"
)

// ItemFactory is a function that creates a timeline item from plan parameters.
type ItemFactory func(params map[string]interface{}) (TimelineItem, error)

// CoreItemTypes returns a map of built-in timeline item types.
func CoreItemTypes() map[string]ItemFactory {
	return map[string]ItemFactory{
		"check-tasks":        NewCheckTasksItem,
		"check-manager":      NewCheckManagerItem,
		"update-manager":     NewUpdateManagerItem,
		"composer-dry-run":   NewComposerDryRunItem,
		"composer-update":    NewComposerUpdateItem,
		"check-migrations":   NewCheckMigrationsItem,
		"execute-migrations": NewExecuteMigrationsItem,
		"update-versions":    NewUpdateVersionsItem,
	}
}

// durationParam extracts a duration parameter given as a Go duration string,
// falling back to the provided default.
func durationParam(params map[string]interface{}, key string, fallback time.Duration) (time.Duration, error) {
	if params == nil {
		return fallback, nil
	}
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%s parameter must be a duration string, got %T", key, raw)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %w", key, err)
	}
	return d, nil
}

// intParam extracts an integer parameter, accepting the float64 that JSON and
// YAML decoding produce.
func intParam(params map[string]interface{}, key string, fallback int) (int, error) {
	if params == nil {
		return fallback, nil
	}
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s parameter must be a number, got %T", key, raw)
	}
}

// pollSettings extracts the shared interval/timeout overrides for
// network-backed items.
func pollSettings(params map[string]interface{}, defaultTimeout time.Duration) (interval, timeout time.Duration, err error) {
	interval, err = durationParam(params, "interval", defaultPollInterval)
	if err != nil {
		return 0, 0, err
	}
	timeout, err = durationParam(params, "timeout", defaultTimeout)
	if err != nil {
		return 0, 0, err
	}
	return interval, timeout, nil
}
