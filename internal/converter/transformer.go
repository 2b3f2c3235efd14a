// =============================================================================
// SHP/CSV/KML Converter - Attribute Transformations
// =============================================================================
//
// This module applies the configured per-field action chains to every
// feature before it reaches the writers. Rules are bound to a dataset's
// schema once, so a rule naming a field the dataset does not have is simply
// inactive for that dataset.
//
// ACTION TYPES:
//   - String manipulations (trim, uppercase, lowercase, prepend, append)
//   - Length handling (pad_zeros_to_length, truncate)
//   - Replacements (replace, regex_replace, lookup)
//   - Empty values (default)
//
// =============================================================================

package converter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/config"
	"github.com/DavidDarlingKhepryOrg/PyShp2Csv2Kml/internal/types"
)

// =============================================================================
// TRANSFORMER
// =============================================================================

// Transformer applies transformation rules to the attributes of features
// that share one schema.
type Transformer struct {
	// chains holds the compiled actions for each schema field index.
	chains map[int][]step

	// unbound lists rule fields missing from the schema.
	unbound []string
}

// step is a validated action with its parsed arguments.
type step struct {
	action config.TransformationAction
	re     *regexp.Regexp
	n      int
}

// NewTransformer validates the rules and binds them to a schema.
//
// PARAMETERS:
//   - rules: The configured transformation rules.
//   - schema: The schema of the features that will be transformed.
//
// RETURNS:
//   - A Transformer. With no applicable rules it leaves features untouched.
//   - An error if an action has an unknown type or a malformed argument.
func NewTransformer(rules []config.TransformationRule, schema *types.Schema) (*Transformer, error) {
	t := &Transformer{chains: make(map[int][]step)}

	for _, rule := range rules {
		steps := make([]step, 0, len(rule.Actions))
		for _, action := range rule.Actions {
			s, err := compileAction(action)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", rule.Field, err)
			}
			steps = append(steps, s)
		}

		idx := schema.Index(rule.Field)
		if idx < 0 {
			t.unbound = append(t.unbound, rule.Field)
			continue
		}
		t.chains[idx] = append(t.chains[idx], steps...)
	}

	return t, nil
}

// compileAction checks an action and parses its arguments.
func compileAction(action config.TransformationAction) (step, error) {
	s := step{action: action}

	switch action.Type {
	case "trim", "uppercase", "lowercase", "prepend_string", "append_string",
		"replace", "lookup", "default":
		return s, nil

	case "pad_zeros_to_length", "truncate":
		n, err := strconv.Atoi(strings.TrimSpace(action.Value))
		if err != nil || n < 0 {
			return s, fmt.Errorf("%s needs a non-negative length, got %q", action.Type, action.Value)
		}
		s.n = n
		return s, nil

	case "regex_replace":
		re, err := regexp.Compile(action.Find)
		if err != nil {
			return s, fmt.Errorf("invalid regex pattern %q: %w", action.Find, err)
		}
		s.re = re
		return s, nil

	default:
		return s, fmt.Errorf("unknown transformation type: %s", action.Type)
	}
}

// Active reports whether any rule applies to the bound schema.
func (t *Transformer) Active() bool {
	return len(t.chains) > 0
}

// Unbound returns the rule fields that the bound schema does not contain.
func (t *Transformer) Unbound() []string {
	return t.unbound
}

// Apply rewrites the attributes of f in place.
func (t *Transformer) Apply(f *types.Feature) {
	for idx, steps := range t.chains {
		if idx >= len(f.Attributes) {
			continue
		}
		value := f.Attributes[idx]
		for _, s := range steps {
			value = s.apply(value)
		}
		f.Attributes[idx] = value
	}
}

// =============================================================================
// ACTIONS
// =============================================================================

// apply runs one action against a value.
func (s step) apply(value string) string {
	a := s.action

	switch a.Type {
	case "trim":
		return strings.TrimSpace(value)

	case "uppercase":
		return strings.ToUpper(value)

	case "lowercase":
		return strings.ToLower(value)

	// EXAMPLE: prepend_string with Value "ND-"
	//   "1234" -> "ND-1234"
	case "prepend_string":
		return a.Value + value

	case "append_string":
		return value + a.Value

	// EXAMPLE: pad_zeros_to_length with Value "6"
	//   "1234" -> "001234"
	case "pad_zeros_to_length":
		return PadLeft(value, s.n, '0')

	// Counts characters, not bytes.
	case "truncate":
		if utf8.RuneCountInString(value) <= s.n {
			return value
		}
		return string([]rune(value)[:s.n])

	// An empty Find leaves the value alone.
	case "replace":
		if a.Find == "" {
			return value
		}
		return strings.ReplaceAll(value, a.Find, a.Value)

	// EXAMPLE: regex_replace with Find "\\s+" and Value " "
	//   "Oil   Well" -> "Oil Well"
	case "regex_replace":
		return s.re.ReplaceAllString(value, a.Value)

	// Values missing from the table pass through.
	case "lookup":
		if mapped, ok := a.LookupTable[value]; ok {
			return mapped
		}
		return value

	case "default":
		if strings.TrimSpace(value) == "" {
			return a.Value
		}
		return value
	}

	return value
}

// PadLeft pads s on the left with pad until it is length characters long.
func PadLeft(s string, length int, pad rune) string {
	n := utf8.RuneCountInString(s)
	if n >= length {
		return s
	}
	return strings.Repeat(string(pad), length-n) + s
}
