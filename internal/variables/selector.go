package variables

import (
	"slices"
	"strings"

	"github.com/rendis/varflow/pkg/schema"
)

// Reserved scope segments. Any other first segment is a node id.
const (
	ScopeSystem       = "sys"
	ScopeEnvironment  = "env"
	ScopeConversation = "conversation"
	ScopeUserInputs   = "inputs"
)

// MinSelectorLength is the shortest valid selector: scope plus name.
const MinSelectorLength = 2

// Selector is the ordered path addressing a Variable in a pool.
// Selectors compare by full ordered equality.
type Selector []string

// NewSelector builds a selector from segments.
func NewSelector(segments ...string) Selector {
	return Selector(slices.Clone(segments))
}

// ParseSelector splits a dot-joined selector ("conversation.count").
func ParseSelector(s string) (Selector, error) {
	sel := Selector(strings.Split(s, "."))
	if !sel.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidSelector, "invalid selector %q", s)
	}
	return sel, nil
}

// Valid reports whether the selector has at least a scope and a name, none empty.
func (s Selector) Valid() bool {
	if len(s) < MinSelectorLength {
		return false
	}
	for _, seg := range s {
		if seg == "" {
			return false
		}
	}
	return true
}

// Scope returns the first segment, or "" for an empty selector.
func (s Selector) Scope() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Name returns the second segment, or "" when absent.
func (s Selector) Name() string {
	if len(s) < 2 {
		return ""
	}
	return s[1]
}

// IsConversation reports whether the selector addresses conversation scope.
func (s Selector) IsConversation() bool {
	return s.Scope() == ScopeConversation
}

// Equal compares two selectors segment by segment.
func (s Selector) Equal(other Selector) bool {
	return slices.Equal(s, other)
}

func (s Selector) String() string {
	return strings.Join(s, ".")
}
