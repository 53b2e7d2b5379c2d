package pattern

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidationResult reports the outcome of structural validation. A
// result with Valid=false lists every rule the candidate broke.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validator performs rule-based structural validation of a candidate
// pattern: struct-level rules through go-playground tags, feature-map
// rules by hand (the tagged Value variant is outside what struct tags
// can express).
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a Validator with the engine's rule set.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate checks p against every structural rule and returns the
// collected outcome. It never mutates p.
func (v *Validator) Validate(p *Pattern) ValidationResult {
	var errs []string

	if p == nil {
		return ValidationResult{Valid: false, Errors: []string{"pattern is nil"}}
	}

	if err := v.validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, describeFieldError(fe))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if len(p.Features) == 0 {
		errs = append(errs, "features must not be empty")
	}
	for key, val := range p.Features {
		if key == "" {
			errs = append(errs, "feature keys must not be empty")
			continue
		}
		if err := checkValue(key, val, 0); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if p.Timestamp.IsZero() {
		errs = append(errs, "timestamp must be set")
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// maxValueDepth bounds nesting of sequence/mapping values so a
// malformed payload cannot build an effectively unbounded structure.
const maxValueDepth = 8

func checkValue(key string, val Value, depth int) error {
	if depth > maxValueDepth {
		return fmt.Errorf("feature %q exceeds maximum nesting depth %d", key, maxValueDepth)
	}
	switch val.Kind() {
	case KindString, KindNumber:
		return nil
	case KindSequence:
		for _, e := range val.Seq() {
			if err := checkValue(key, e, depth+1); err != nil {
				return err
			}
		}
		return nil
	case KindMapping:
		for nested, e := range val.Obj() {
			if nested == "" {
				return fmt.Errorf("feature %q contains an empty nested property name", key)
			}
			if err := checkValue(key, e, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("feature %q has a null or unsupported value", key)
	}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Namespace() {
	case "Pattern.ID":
		return "id is required"
	case "Pattern.Confidence":
		return fmt.Sprintf("confidence must be between 0 and 1, got %v", fe.Value())
	case "Pattern.Metadata.Source":
		return "metadata.source is required"
	case "Pattern.Metadata.Category":
		return "metadata.category is required"
	default:
		return fmt.Sprintf("%s failed rule %q", fe.Namespace(), fe.Tag())
	}
}
