// Package loader parses YAML upgrade plans into workflow timelines.
package loader

import (
	"fmt"

	"github.com/tcmartin/upgraderunner/pkg/workflow"
	"gopkg.in/yaml.v3"
)

// PlanDefinition represents a parsed upgrade plan from YAML
type PlanDefinition struct {
	// Metadata about the plan
	Metadata PlanMetadata `yaml:"metadata"`

	// Steps is the ordered list of timeline items to run
	Steps []StepDefinition `yaml:"steps"`
}

// PlanMetadata contains information about the plan
type PlanMetadata struct {
	// Name of the plan
	Name string `yaml:"name"`

	// Description of the plan
	Description string `yaml:"description,omitempty"`
}

// StepDefinition represents a single step in an upgrade plan
type StepDefinition struct {
	// Type is the timeline item type
	Type string `yaml:"type"`

	// Params are passed to the item factory
	Params map[string]interface{} `yaml:"params,omitempty"`
}

// PlanLoader parses YAML plan definitions into workflow timelines.
type PlanLoader interface {
	// Parse converts a YAML string into an ordered timeline
	Parse(yamlContent string) ([]workflow.TimelineItem, error)

	// Validate checks if a YAML string is a well-formed plan
	Validate(yamlContent string) error
}

// DefaultPlanLoader implements the PlanLoader interface
type DefaultPlanLoader struct {
	factories map[string]workflow.ItemFactory
}

// NewPlanLoader creates a new plan loader. A nil factory map uses the
// built-in item types.
func NewPlanLoader(factories map[string]workflow.ItemFactory) *DefaultPlanLoader {
	if factories == nil {
		factories = workflow.CoreItemTypes()
	}
	return &DefaultPlanLoader{factories: factories}
}

// Parse converts a YAML string into an ordered timeline
func (l *DefaultPlanLoader) Parse(yamlContent string) ([]workflow.TimelineItem, error) {
	if err := l.Validate(yamlContent); err != nil {
		return nil, err
	}

	var plan PlanDefinition
	if err := yaml.Unmarshal([]byte(yamlContent), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	items := make([]workflow.TimelineItem, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		factory := l.factories[step.Type]
		item, err := factory(step.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to create step %d (%s): %w", i+1, step.Type, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Validate checks if a YAML string is a well-formed plan
func (l *DefaultPlanLoader) Validate(yamlContent string) error {
	var plan PlanDefinition
	if err := yaml.Unmarshal([]byte(yamlContent), &plan); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	if plan.Metadata.Name == "" {
		return fmt.Errorf("plan name is required")
	}

	if len(plan.Steps) == 0 {
		return fmt.Errorf("plan must have at least one step")
	}

	for i, step := range plan.Steps {
		if step.Type == "" {
			return fmt.Errorf("step %d has no type", i+1)
		}
		if _, exists := l.factories[step.Type]; !exists {
			return fmt.Errorf("unknown step type '%s' in step %d", step.Type, i+1)
		}
	}

	return nil
}

// DefaultPlan returns the timeline of a full upgrade run: slot checks, a
// manager version check, the dependency update preceded by its dry run, the
// migration loop and the final version refresh.
func DefaultPlan() ([]workflow.TimelineItem, error) {
	factories := workflow.CoreItemTypes()

	items := make([]workflow.TimelineItem, 0, 6)
	for _, itemType := range []string{
		"check-tasks",
		"check-manager",
		"composer-dry-run",
		"composer-update",
		"check-migrations",
		"update-versions",
	} {
		item, err := factories[itemType](nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s item: %w", itemType, err)
		}
		items = append(items, item)
	}
	return items, nil
}
