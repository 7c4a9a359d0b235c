package orchestrator

import (
	"fmt"
	"math"

	"github.com/agentmesh/agentmesh/internal/common/errors"
	"github.com/agentmesh/agentmesh/internal/orchestrator/catalog"
)

// PreChecker validates config intents against the scope catalog before any
// authorization or dispatch work happens.
type PreChecker struct {
	catalog *catalog.Catalog
}

// NewPreChecker creates a pre-checker over the hydrated catalog.
func NewPreChecker(cat *catalog.Catalog) *PreChecker {
	return &PreChecker{catalog: cat}
}

// Check validates every field of configData against the scope definition.
// The first violation is returned as a PreCheckFailed error naming the scope,
// field, offending value, and the declared range or enumeration.
func (p *PreChecker) Check(scope string, configData map[string]interface{}) error {
	def, ok := p.catalog.Scope(scope)
	if !ok {
		return errors.PreCheckFailed(fmt.Sprintf("unknown config scope %q", scope))
	}

	for name, value := range configData {
		field, ok := def.Fields[name]
		if !ok {
			return errors.PreCheckFailed(fmt.Sprintf(
				"scope %s has no field %q", scope, name))
		}
		if err := checkField(scope, name, field, value); err != nil {
			return err
		}
	}
	return nil
}

func checkField(scope, name string, field catalog.Field, value interface{}) error {
	if !typeMatches(field.Type, value) {
		return errors.PreCheckFailed(fmt.Sprintf(
			"scope %s field %s: value %v is not of type %s", scope, name, value, field.Type))
	}

	if num, ok := asNumber(value); ok {
		if field.Min != nil && num < *field.Min {
			return errors.PreCheckFailed(fmt.Sprintf(
				"scope %s field %s: value %v is below minimum %v", scope, name, value, *field.Min))
		}
		if field.Max != nil && num > *field.Max {
			return errors.PreCheckFailed(fmt.Sprintf(
				"scope %s field %s: value %v exceeds maximum %v", scope, name, value, *field.Max))
		}
	}

	if field.Options != nil {
		if list, ok := value.([]interface{}); ok {
			for _, element := range list {
				if !optionMember(field.Options, element) {
					return errors.PreCheckFailed(fmt.Sprintf(
						"scope %s field %s: element %v is not one of %v", scope, name, element, field.Options))
				}
			}
		} else if !optionMember(field.Options, value) {
			return errors.PreCheckFailed(fmt.Sprintf(
				"scope %s field %s: value %v is not one of %v", scope, name, value, field.Options))
		}
	}
	return nil
}

// typeMatches compares a runtime value against a declared type. JSON decoding
// yields float64 for all numbers, so integer checks accept whole floats.
func typeMatches(declared string, value interface{}) bool {
	switch declared {
	case "integer":
		return isInteger(value)
	case "number":
		_, ok := asNumber(value)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return false
	}
}

func isInteger(value interface{}) bool {
	switch n := value.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n)
	case float32:
		return float64(n) == math.Trunc(float64(n))
	default:
		return false
	}
}

func asNumber(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func optionMember(options []interface{}, value interface{}) bool {
	for _, option := range options {
		if equalOption(option, value) {
			return true
		}
	}
	return false
}

// equalOption compares with numeric coercion so an int option matches a
// float64 decoded from JSON.
func equalOption(option, value interface{}) bool {
	if option == value {
		return true
	}
	on, ook := asNumber(option)
	vn, vok := asNumber(value)
	return ook && vok && on == vn
}
