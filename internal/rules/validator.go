package rules

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/samijaber1/storepulse/internal/domain"
)

// Validator checks escalation rule files against the JSON schema plus
// structural rules the schema cannot express.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator creates a validator from the given schema file.
func NewValidator(schemaPath string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all rule files in a directory.
func (v *Validator) ValidateDirectory(dirPath string) []ValidationError {
	ruleFiles, loadErrors := LoadFromDirectory(dirPath)

	var allErrors []ValidationError
	allErrors = append(allErrors, loadErrors...)

	if len(ruleFiles) == 0 {
		return allErrors
	}

	for _, rf := range ruleFiles {
		allErrors = append(allErrors, v.validateSchema(rf.File, rf.Rule)...)
	}

	allErrors = append(allErrors, v.validateExtraRules(ruleFiles)...)

	return allErrors
}

// validateSchema validates a single rule against the JSON schema.
func (v *Validator) validateSchema(file string, rule *RuleFile) []ValidationError {
	var errors []ValidationError

	// Round-trip through YAML to get plain maps for the schema validator.
	yamlBytes, err := yaml.Marshal(rule)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Message: fmt.Sprintf("failed to marshal rule: %v", err),
		})
		return errors
	}

	var jsonData interface{}
	if err := yaml.Unmarshal(yamlBytes, &jsonData); err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
		return errors
	}

	if err := v.schema.Validate(jsonData); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			errors = append(errors, extractSchemaErrors(file, validationErr)...)
		} else {
			errors = append(errors, ValidationError{
				File:    file,
				Message: err.Error(),
			})
		}
	}

	return errors
}

// extractSchemaErrors converts JSON schema validation errors to ValidationErrors.
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	errors = append(errors, ValidationError{
		File:    file,
		Path:    path,
		Message: err.Error(),
	})

	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}

	return errors
}

// validateExtraRules applies structural checks beyond the JSON schema.
func (v *Validator) validateExtraRules(ruleFiles []RuleWithFile) []ValidationError {
	var errors []ValidationError

	idSeen := make(map[string]string)
	for _, rf := range ruleFiles {
		id := rf.Rule.Metadata.ID
		if prevFile, exists := idSeen[id]; exists {
			errors = append(errors, ValidationError{
				File:    rf.File,
				Path:    "metadata.id",
				Message: fmt.Sprintf("duplicate ID %q (also in %s)", id, filepath.Base(prevFile)),
			})
		} else {
			idSeen[id] = rf.File
		}

		errors = append(errors, validateTransition(rf.File, rf.Rule)...)
	}

	return errors
}

// validateTransition checks that a rule describes a legal level transition
// and a parseable hold duration.
func validateTransition(file string, rule *RuleFile) []ValidationError {
	var errors []ValidationError

	spec := rule.Spec

	if _, err := ParseDuration(spec.HoldFor); err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Path:    "spec.holdFor",
			Message: err.Error(),
		})
	}

	if spec.ToLevel <= spec.FromLevel {
		errors = append(errors, ValidationError{
			File:    file,
			Path:    "spec.toLevel",
			Message: fmt.Sprintf("toLevel (%d) must be greater than fromLevel (%d): levels only escalate upward", spec.ToLevel, spec.FromLevel),
		})
	}

	switch domain.RuleAction(spec.Action) {
	case domain.ActionAICall:
		if domain.EscalationLevel(spec.ToLevel) < domain.LevelAICall {
			errors = append(errors, ValidationError{
				File:    file,
				Path:    "spec.action",
				Message: fmt.Sprintf("ai_call requires toLevel >= %d, got %d", domain.LevelAICall, spec.ToLevel),
			})
		}
	case domain.ActionRegionalEscalation:
		if domain.EscalationLevel(spec.ToLevel) != domain.LevelRegional {
			errors = append(errors, ValidationError{
				File:    file,
				Path:    "spec.action",
				Message: fmt.Sprintf("regional_escalation requires toLevel %d, got %d", domain.LevelRegional, spec.ToLevel),
			})
		}
	}

	return errors
}
