package diff

import (
	"fmt"
	"sort"

	cerrors "covdiff/internal/errors"
)

// ValidationMode controls how strict validation is
type ValidationMode string

const (
	// ValidationStrict requires all checks to pass
	ValidationStrict ValidationMode = "strict"
	// ValidationPermissive reports overlapping probe ranges as warnings
	ValidationPermissive ValidationMode = "permissive"
)

// ValidationError represents a validation failure
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeMissingField     = "MISSING_FIELD"
	ErrCodeDuplicateMethod  = "DUPLICATE_METHOD"
	ErrCodeInvalidRange     = "INVALID_PROBE_RANGE"
	ErrCodeOverlappingRange = "OVERLAPPING_PROBE_RANGE"
	ErrCodeMissingChecksum  = "MISSING_CHECKSUM"
)

// Validator checks a snapshot before it is stored.
type Validator struct {
	mode ValidationMode
}

// ValidatorOption configures the validator
type ValidatorOption func(*Validator)

// WithValidationMode sets the validation mode
func WithValidationMode(mode ValidationMode) ValidatorOption {
	return func(v *Validator) {
		v.mode = mode
	}
}

// NewValidator creates a new snapshot validator
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{mode: ValidationStrict}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidationResult contains the outcome of validation
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
}

// Validate checks the build key, method identity and probe layout.
func (v *Validator) Validate(s *Snapshot) *ValidationResult {
	result := &ValidationResult{Valid: true}

	fail := func(e ValidationError) {
		result.Valid = false
		result.Errors = append(result.Errors, e)
	}

	if s.Build.IsZero() {
		fail(ValidationError{
			Code:    ErrCodeMissingField,
			Message: fmt.Sprintf("build key %q is incomplete", s.Build.String()),
			Field:   "build",
		})
	}

	seen := make(map[Signature]int, len(s.Methods))
	byOwner := make(map[string][]int)
	for i, m := range s.Methods {
		field := fmt.Sprintf("methods[%d]", i)
		if m.Owner == "" || m.Name == "" {
			fail(ValidationError{Code: ErrCodeMissingField, Message: "owner and name are required", Field: field})
			continue
		}
		if prev, dup := seen[m.Signature]; dup {
			fail(ValidationError{
				Code:    ErrCodeDuplicateMethod,
				Message: fmt.Sprintf("%s also declared at methods[%d]", m.Signature, prev),
				Field:   field,
			})
			continue
		}
		seen[m.Signature] = i

		if m.ProbeStart < 0 || m.ProbeCount < 0 {
			fail(ValidationError{
				Code:    ErrCodeInvalidRange,
				Message: fmt.Sprintf("probe range [%d,+%d) is negative", m.ProbeStart, m.ProbeCount),
				Field:   field,
			})
			continue
		}
		if m.Checksum == "" {
			result.Warnings = append(result.Warnings, ValidationError{
				Code:    ErrCodeMissingChecksum,
				Message: fmt.Sprintf("%s has no checksum; it will never diff as modified", m.Signature),
				Field:   field,
			})
		}
		if m.ProbeCount > 0 {
			byOwner[m.Owner] = append(byOwner[m.Owner], i)
		}
	}

	owners := make([]string, 0, len(byOwner))
	for owner := range byOwner {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		idx := byOwner[owner]
		sort.Slice(idx, func(a, b int) bool {
			return s.Methods[idx[a]].ProbeStart < s.Methods[idx[b]].ProbeStart
		})
		for k := 1; k < len(idx); k++ {
			prev, cur := s.Methods[idx[k-1]], s.Methods[idx[k]]
			if cur.ProbeStart >= prev.ProbeEnd() {
				continue
			}
			e := ValidationError{
				Code:    ErrCodeOverlappingRange,
				Message: fmt.Sprintf("%s overlaps %s", cur.Signature, prev.Signature),
				Field:   fmt.Sprintf("methods[%d]", idx[k]),
			}
			if v.mode == ValidationStrict {
				fail(e)
			} else {
				result.Warnings = append(result.Warnings, e)
			}
		}
	}

	return result
}

// ValidateForIngestion returns an INVALID_ARGUMENT error for the first
// validation failure.
func (v *Validator) ValidateForIngestion(s *Snapshot) error {
	result := v.Validate(s)
	if result.Valid {
		return nil
	}
	first := result.Errors[0]
	return cerrors.New(cerrors.InvalidArgument, "snapshot "+s.Build.String()+" failed validation", &first).
		WithDetails(result.Errors)
}
