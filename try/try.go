package try

// Try carries either a value or an error across channel boundaries,
// so a single result channel can report both outcomes.
type Try[A any] struct {
	Value A
	Error error
}

// Success wraps a value in a successful Try.
func Success[A any](value A) Try[A] {
	return Try[A]{Value: value}
}

// Failure wraps an error in a failed Try.
func Failure[A any](err error) Try[A] {
	return Try[A]{Error: err}
}

func (t Try[A]) IsSuccess() bool {
	return t.Error == nil
}

func (t Try[A]) IsFailure() bool {
	return t.Error != nil
}

// Get returns the value, or the zero value and the error on failure.
func (t Try[A]) Get() (A, error) { //nolint:ireturn
	if t.IsFailure() {
		var zero A

		return zero, t.Error
	}

	return t.Value, nil
}

// GetOrElse returns the value, or defaultValue on failure.
func (t Try[A]) GetOrElse(defaultValue A) A { //nolint:ireturn
	if t.IsSuccess() {
		return t.Value
	}

	return defaultValue
}

// Map transforms a successful Try with f, passing failures through untouched.
func Map[A, B any](t Try[A], f func(A) (B, error)) Try[B] {
	if t.IsFailure() {
		return Try[B]{Error: t.Error}
	}

	val, err := f(t.Value)

	return Try[B]{Value: val, Error: err}
}
