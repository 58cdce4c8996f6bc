package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `
metadata:
  name: Nightly upgrade
  description: Full upgrade with a confirmation before the real update
steps:
  - type: check-tasks
  - type: check-manager
  - type: composer-dry-run
    params:
      timeout: 15m
  - type: composer-update
  - type: check-migrations
  - type: update-versions
`

func TestPlanLoaderParse(t *testing.T) {
	loader := NewPlanLoader(nil)

	items, err := loader.Parse(validPlan)
	require.NoError(t, err)
	require.Len(t, items, 6)

	types := make([]string, len(items))
	for i, item := range items {
		types[i] = item.Type()
	}
	assert.Equal(t, []string{
		"check-tasks",
		"check-manager",
		"composer-dry-run",
		"composer-update",
		"check-migrations",
		"update-versions",
	}, types)
}

func TestPlanLoaderValidate(t *testing.T) {
	loader := NewPlanLoader(nil)

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, loader.Validate(validPlan))
	})

	t.Run("NotYAML", func(t *testing.T) {
		err := loader.Validate("steps: [")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid YAML")
	})

	t.Run("MissingName", func(t *testing.T) {
		err := loader.Validate("steps:\n  - type: check-tasks\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "plan name is required")
	})

	t.Run("NoSteps", func(t *testing.T) {
		err := loader.Validate("metadata:\n  name: empty\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one step")
	})

	t.Run("UnknownStepType", func(t *testing.T) {
		err := loader.Validate("metadata:\n  name: bad\nsteps:\n  - type: reboot-server\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown step type 'reboot-server'")
	})

	t.Run("StepWithoutType", func(t *testing.T) {
		err := loader.Validate("metadata:\n  name: bad\nsteps:\n  - params:\n      timeout: 5m\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no type")
	})
}

func TestPlanLoaderBadParams(t *testing.T) {
	loader := NewPlanLoader(nil)

	_, err := loader.Parse(`
metadata:
  name: bad params
steps:
  - type: composer-update
    params:
      timeout: not-a-duration
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "composer-update")
}

func TestDefaultPlan(t *testing.T) {
	items, err := DefaultPlan()
	require.NoError(t, err)
	require.Len(t, items, 6)
	assert.Equal(t, "check-tasks", items[0].Type())
	assert.Equal(t, "update-versions", items[5].Type())
}
