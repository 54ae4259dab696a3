// Package errors provides multi-error accumulation for operations that
// report failures as data rather than raising them.
package errors

import "errors"

// Collection is a thread-unsafe utility for accumulating multiple errors.
// The orchestration core uses it wherever a public operation needs to
// return every failure it encountered instead of stopping at the first.
type Collection struct {
	errors []error
}

// Add appends an error to the collection. Nil errors are ignored.
func (c *Collection) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err)
	}
}

// Clear removes all errors from the collection.
func (c *Collection) Clear() {
	c.errors = nil
}

// HasError returns true if the collection contains at least one error.
func (c *Collection) HasError() bool {
	return len(c.errors) > 0
}

// Len returns the number of collected errors.
func (c *Collection) Len() int {
	return len(c.errors)
}

// GetError returns the collected errors as a single error: nil when empty,
// the sole error when there is one, or errors.Join otherwise.
func (c *Collection) GetError() error {
	switch len(c.errors) {
	case 0:
		return nil
	case 1:
		return c.errors[0]
	default:
		return errors.Join(c.errors...)
	}
}

// Messages returns the collected error messages in insertion order.
// Structured results carry errors as strings, so this is the bridge
// between Go errors and result payloads.
func (c *Collection) Messages() []string {
	if len(c.errors) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(c.errors))
	for _, err := range c.errors {
		msgs = append(msgs, err.Error())
	}

	return msgs
}
