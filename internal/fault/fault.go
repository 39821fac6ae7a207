// Package fault classifies dictation failures by recovery policy.
package fault

import (
	"errors"
	"fmt"
)

// Category groups failures that share a recovery policy.
type Category string

const (
	Permission    Category = "permission"
	Engine        Category = "engine"
	Delivery      Category = "delivery"
	Correction    Category = "correction"
	Configuration Category = "configuration"
)

// Error tags an underlying error with its category and failing operation.
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with category and op. A nil err stays nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Op: op, Err: err}
}

// CategoryOf returns the outermost category attached to err.
func CategoryOf(err error) (Category, bool) {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Category, true
	}
	return "", false
}

// Recoverable reports whether the session may continue after err with a
// local fallback. Untagged errors are treated as fatal.
func Recoverable(err error) bool {
	category, ok := CategoryOf(err)
	if !ok {
		return false
	}
	switch category {
	case Delivery, Correction, Configuration:
		return true
	default:
		return false
	}
}
