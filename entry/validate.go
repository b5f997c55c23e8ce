package entry

import (
	"fmt"

	"github.com/opendict/lexicore/headword"
)

// ValidationError describes a malformed draft or candidate.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ValidationError struct {
	Field  string
	Reason string
	cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// ValidateDraft checks a generated draft against the entry schema before it
// may be committed:
//
//   - headword present and already in normalized form
//   - kind is a known variant and consistent with the headword shape
//   - at least one sense, each with a non-empty definition
//   - surface forms normalized and distinct from the headword
func ValidateDraft(d *Draft) error {
	if d == nil {
		return &ValidationError{Field: "draft", Reason: "nil draft"}
	}
	if d.Headword == "" {
		return &ValidationError{Field: "headword", Reason: "empty"}
	}
	if n := headword.Normalize(d.Headword); n != d.Headword {
		return &ValidationError{Field: "headword", Reason: fmt.Sprintf("not normalized: %q != %q", d.Headword, n)}
	}
	if !d.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", d.Kind)}
	}
	if headword.IsPhrase(d.Headword) && d.Kind != KindPhrase {
		return &ValidationError{Field: "kind", Reason: "multi-word headword must be a phrase"}
	}
	if !headword.IsPhrase(d.Headword) && d.Kind != KindWord {
		return &ValidationError{Field: "kind", Reason: "single-word headword must be a word"}
	}
	if len(d.Senses) == 0 {
		return &ValidationError{Field: "senses", Reason: "at least one sense required"}
	}
	for i, s := range d.Senses {
		if s.Definition == "" {
			return &ValidationError{Field: fmt.Sprintf("senses[%d].definition", i), Reason: "empty"}
		}
	}
	seen := map[string]bool{d.Headword: true}
	for i, sf := range d.SurfaceForms {
		n := headword.Normalize(sf)
		if n == "" {
			return &ValidationError{Field: fmt.Sprintf("surface_forms[%d]", i), Reason: "empty after normalization"}
		}
		if n != sf {
			return &ValidationError{Field: fmt.Sprintf("surface_forms[%d]", i), Reason: "not normalized"}
		}
		if seen[n] {
			return &ValidationError{Field: fmt.Sprintf("surface_forms[%d]", i), Reason: "duplicate"}
		}
		seen[n] = true
	}
	return nil
}
