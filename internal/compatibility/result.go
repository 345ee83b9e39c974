package compatibility

import "fmt"

// Result is the outcome of checking a candidate schema against one or more
// prior versions: a verdict plus the human-readable reasons for any
// incompatibility.
type Result struct {
	IsCompatible bool     `json:"is_compatible"`
	Messages     []string `json:"messages,omitempty"`
}

// NewCompatibleResult builds a passing result with no messages.
func NewCompatibleResult() *Result {
	return &Result{IsCompatible: true}
}

// NewIncompatibleResult builds a failing result carrying the given reasons.
func NewIncompatibleResult(reasons ...string) *Result {
	return &Result{Messages: reasons}
}

// AddMessage appends a formatted incompatibility reason and flips the
// result to failing; a Result only ever moves from compatible to not.
func (r *Result) AddMessage(format string, args ...interface{}) {
	r.IsCompatible = false
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
}

// Merge folds another check's outcome into r: any failure in other makes r
// fail too, carrying over its reasons.
func (r *Result) Merge(other *Result) {
	if other == nil || other.IsCompatible {
		return
	}
	r.IsCompatible = false
	r.Messages = append(r.Messages, other.Messages...)
}
