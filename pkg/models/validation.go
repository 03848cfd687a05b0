package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MaxTreeDepth bounds the nesting of condition trees and multi-step actions.
const MaxTreeDepth = 32

var (
	ErrInvalidWorkflow = errors.New("invalid workflow")
	ErrUnknownKind     = errors.New("unknown kind")
	ErrTreeTooDeep     = errors.New("tree too deep")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateWorkflow checks the workflow fields, its condition tree and every action.
func ValidateWorkflow(workflow *Workflow) error {
	if workflow == nil {
		return fmt.Errorf("%w: workflow is nil", ErrInvalidWorkflow)
	}

	err := validate.Struct(workflow)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
	}

	err = ValidateCondition(workflow.Condition)
	if err != nil {
		return fmt.Errorf("%w: condition: %w", ErrInvalidWorkflow, err)
	}

	for i, action := range workflow.Actions {
		err = ValidateAction(action)
		if err != nil {
			return fmt.Errorf("%w: action %d: %w", ErrInvalidWorkflow, i, err)
		}
	}

	return nil
}

// ValidateCondition checks every node of a condition tree.
func ValidateCondition(condition Condition) error {
	return validateCondition(condition, 1)
}

func validateCondition(condition Condition, depth int) error {
	if depth > MaxTreeDepth {
		return ErrTreeTooDeep
	}

	if condition == nil {
		return errors.New("condition is nil")
	}

	switch c := condition.(type) {
	case *UnknownCondition:
		return fmt.Errorf("%w: condition %q", ErrUnknownKind, c.Type)
	case *CompositeAnd:
		return validateChildren(c, c.Children, depth)
	case *CompositeOr:
		return validateChildren(c, c.Children, depth)
	default:
		return validate.Struct(condition)
	}
}

func validateChildren(parent Condition, children ConditionList, depth int) error {
	err := validate.Struct(parent)
	if err != nil {
		return err
	}

	for i, child := range children {
		err = validateCondition(child, depth+1)
		if err != nil {
			return fmt.Errorf("%s child %d: %w", parent.Kind(), i, err)
		}
	}

	return nil
}

// ValidateAction checks an action and, for multi-step actions, every nested step.
func ValidateAction(action Action) error {
	return validateAction(action, 1)
}

func validateAction(action Action, depth int) error {
	if depth > MaxTreeDepth {
		return ErrTreeTooDeep
	}

	if action == nil {
		return errors.New("action is nil")
	}

	switch a := action.(type) {
	case *UnknownAction:
		return fmt.Errorf("%w: action %q", ErrUnknownKind, a.Type)
	case *MultiStep:
		err := validate.Struct(a)
		if err != nil {
			return err
		}

		for i, step := range a.Steps {
			err = validateAction(step, depth+1)
			if err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}

		return nil
	default:
		return validate.Struct(action)
	}
}
