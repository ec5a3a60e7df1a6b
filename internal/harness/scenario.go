package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// DefaultSessionID is the session id used when a scenario names none.
const DefaultSessionID = "scenario-session"

// Scenario defines a notebook test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is an optional fixed session id.
	Session string `yaml:"session,omitempty"`

	// Steps are executed in order against one session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final chain and store.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step edits and runs one cell.
type Step struct {
	// Cell is the node id.
	Cell string `yaml:"cell"`

	// After places the cell; empty means the head. Only used with Code.
	After string `yaml:"after,omitempty"`

	// Code replaces the cell's code before running. Nil runs the cell as is.
	Code *string `yaml:"code,omitempty"`

	// Expect validates the step outcome. Nil accepts any successful run.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Display is the expected repr of the display value. "None" matches a
	// cell without a trailing expression as well.
	Display *string `yaml:"display,omitempty"`

	// Outputs are the expected reprs of the changed bindings. Exact match.
	Outputs map[string]string `yaml:"outputs,omitempty"`

	// Error is the expected error class. Empty means the step succeeds.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "positions": Labels equal the chain positions
	// - "valid": Cell has the validity flag Valid
	// - "refcount": the value of expression Value is referenced Count times
	// - "store_size": the store holds Count values
	Type string `yaml:"type"`

	// Labels are "id:label" entries (used by positions).
	Labels []string `yaml:"labels,omitempty"`

	// Cell is the node id (used by valid).
	Cell string `yaml:"cell,omitempty"`

	// Valid is the expected validity (used by valid).
	Valid *bool `yaml:"valid,omitempty"`

	// Value is a Starlark expression (used by refcount).
	Value string `yaml:"value,omitempty"`

	// Count is the expected count (used by refcount and store_size).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertPositions = "positions"
	AssertValid     = "valid"
	AssertRefcount  = "refcount"
	AssertStoreSize = "store_size"
)

// Error classes reported in traces and matched by Expect.Error.
const (
	ErrClassSyntax        = "syntax"
	ErrClassUndefinedName = "undefined_name"
	ErrClassExecution     = "execution"
	ErrClassSerialization = "serialization"
	ErrClassUnknownNode   = "unknown_node"
	ErrClassOther         = "error"
)

var errorClasses = []string{
	ErrClassSyntax,
	ErrClassUndefinedName,
	ErrClassExecution,
	ErrClassSerialization,
	ErrClassUnknownNode,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Cell == "" {
			return fmt.Errorf("steps[%d]: cell is required", i)
		}
		if step.After != "" && step.Code == nil {
			return fmt.Errorf("steps[%d]: after requires code", i)
		}
		if e := step.Expect; e != nil && e.Error != "" {
			if !slices.Contains(errorClasses, e.Error) {
				return fmt.Errorf("steps[%d].expect: unknown error class %q", i, e.Error)
			}
			if e.Display != nil || e.Outputs != nil {
				return fmt.Errorf("steps[%d].expect: error cannot be combined with display or outputs", i)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPositions:
		if a.Labels == nil {
			return fmt.Errorf("assertions[%d]: labels list is required for positions", index)
		}
	case AssertValid:
		if a.Cell == "" {
			return fmt.Errorf("assertions[%d]: cell is required for valid", index)
		}
		if a.Valid == nil {
			return fmt.Errorf("assertions[%d]: valid is required for valid", index)
		}
	case AssertRefcount:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for refcount", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for refcount", index)
		}
	case AssertStoreSize:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for store_size", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
