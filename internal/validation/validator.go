package validation

import "github.com/windlass-dev/windlass/pkg/schema"

// ActionLookup answers whether an action name is registered. Satisfied by
// the actions registry.
type ActionLookup interface {
	Has(name string) bool
}

// Validator checks workflow definitions for correctness before they are
// stored. Validation runs in two stages: structural (JSON Schema Draft
// 2020-12 for the definition shape and each typed config) and semantic
// (position ordering, branch targets, loop bodies, cron expressions, action
// registration). Both stages are exhaustive; all issues are returned in one
// ValidationResult.
type Validator struct {
	structural *structuralValidator
	lookup     ActionLookup
}

// NewValidator creates a Validator. lookup may be nil, in which case action
// registration is not checked.
func NewValidator(lookup ActionLookup) (*Validator, error) {
	structural, err := newStructuralValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{structural: structural, lookup: lookup}, nil
}

// ValidateDefinition runs both stages and returns the aggregated result.
func (v *Validator) ValidateDefinition(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("", schema.ErrCodeValidation, "workflow definition is nil")
		return result
	}

	v.structural.validate(def, result)
	validateSemantic(def, v.lookup, result)
	return result
}
