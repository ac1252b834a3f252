package validation

import (
	"fmt"
	"strings"
)

// DefinitionValidator checks JSON-Patch (RFC 6902) operations against a
// pipeline-definition document (registry.Document's "definition" field)
// before registry.Patch ever hands them to evanphx/json-patch, catching
// malformed operations and runaway patches up front instead of failing
// deep inside Apply or, worse, succeeding into a document compiler.Compile
// then rejects.
type DefinitionValidator struct {
	// MaxExecutablesPerPatch caps how many "/definition/executables/..."
	// additions one patch may make. Zero means the default of 5.
	MaxExecutablesPerPatch int
}

// NewDefinitionValidator builds a DefinitionValidator with the default
// executables-per-patch cap.
func NewDefinitionValidator() *DefinitionValidator {
	return &DefinitionValidator{MaxExecutablesPerPatch: 5}
}

// ValidateOperations validates all patch operations.
func (v *DefinitionValidator) ValidateOperations(operations []map[string]interface{}) error {
	added := 0

	for i, op := range operations {
		if err := v.validateOperation(op, i); err != nil {
			return err
		}

		if op["op"] == "add" && isExecutablesPath(op["path"]) {
			added++
		}
	}

	limit := v.MaxExecutablesPerPatch
	if limit <= 0 {
		limit = 5
	}
	if added > limit {
		return fmt.Errorf("patch validation failed: cannot add more than %d executables per patch (attempted: %d)", limit, added)
	}

	return nil
}

func isExecutablesPath(path interface{}) bool {
	p, ok := path.(string)
	return ok && strings.HasPrefix(p, "/definition/executables/")
}

// validateOperation validates a single operation's shape.
func (v *DefinitionValidator) validateOperation(op map[string]interface{}, index int) error {
	opType, ok := op["op"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'op' field", index)
	}

	path, ok := op["path"].(string)
	if !ok {
		return fmt.Errorf("operation %d: missing or invalid 'path' field", index)
	}

	switch opType {
	case "add", "replace":
		if _, ok := op["value"]; !ok {
			return fmt.Errorf("operation %d: 'value' required for %s operation", index, opType)
		}

		if strings.HasPrefix(path, "/definition/executables/") {
			if err := v.validateExecutableValue(op["value"], index); err != nil {
				return err
			}
		}

	case "remove", "move", "copy", "test":
		return nil

	default:
		return fmt.Errorf("operation %d: unsupported operation type: %s", index, opType)
	}

	return nil
}

// validateExecutableValue validates an executable object added or
// replaced at "/definition/executables/<name>" (registry.Document's
// nested custom_pipeline executables map).
func (v *DefinitionValidator) validateExecutableValue(value interface{}, opIndex int) error {
	nested, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("operation %d: executable value must be an object, got %T", opIndex, value)
	}

	if _, ok := nested["type"].(string); !ok {
		return fmt.Errorf("operation %d: executable must have 'type' field (string)", opIndex)
	}

	if def, exists := nested["definition"]; exists {
		switch def.(type) {
		case map[string]interface{}, string:
		default:
			return fmt.Errorf("operation %d: executable 'definition' must be an object or string, got %T", opIndex, def)
		}
	}

	return nil
}
