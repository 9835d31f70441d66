package schema

import (
	"cmp"
	"fmt"
	"slices"
)

// ValidationSeverity separates blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a graph config. Path points into
// the document, e.g. "nodes[2].data.write_mode".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: [%s] %s", i.Path, i.Code, i.Message)
}

// ValidationResult collects the issues of every validation stage.
// A result with warnings only is valid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends other's issues; a nil other is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasCode reports whether any error carries code.
func (r *ValidationResult) HasCode(code string) bool {
	return slices.ContainsFunc(r.Errors, func(i ValidationIssue) bool { return i.Code == code })
}

// Sorted returns errors then warnings, each ordered by path.
func (r *ValidationResult) Sorted() []ValidationIssue {
	byPath := func(a, b ValidationIssue) int { return cmp.Compare(a.Path, b.Path) }
	errs := slices.SortedStableFunc(slices.Values(r.Errors), byPath)
	warns := slices.SortedStableFunc(slices.Values(r.Warnings), byPath)
	return append(errs, warns...)
}

// ToError returns nil for a valid result. Otherwise the error's code is
// the shared code of all errors, or VALIDATION_ERROR when they differ, and
// Details carries every issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	code := r.Errors[0].Code
	for _, issue := range r.Errors[1:] {
		if issue.Code != code {
			code = ErrCodeValidation
			break
		}
	}

	msg := r.Errors[0].Message
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", n)
	}
	return NewError(code, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
