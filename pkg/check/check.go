package check

import "github.com/pkg/errors"

// check returns nil when condition holds, otherwise an error built from the caller's message
// (msgAndArgs) wrapping the default description.
func check(condition bool, msgAndArgs []any, defaultFormat string, args ...any) error {
	if condition {
		return nil
	}
	err := errors.Errorf(defaultFormat, args...)
	if msg := message(msgAndArgs); msg != "" {
		return errors.Wrap(err, msg)
	}
	return err
}

// True checks whether the condition is true.
func True(condition bool, msgAndArgs ...any) error {
	return check(condition, msgAndArgs, "expected true, got false")
}

// NotEmpty checks that the string has at least one non-space character.
func NotEmpty(actual string, msgAndArgs ...any) error {
	for _, r := range actual {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return nil
		}
	}
	return check(false, msgAndArgs, "%q is empty", actual)
}

// Contains checks whether the actual value is one of the expected values.
func Contains[T comparable](actual T, expected []T, msgAndArgs ...any) error {
	for _, value := range expected {
		if value == actual {
			return nil
		}
	}
	return check(false, msgAndArgs, "%s not in %s", describe(actual), describe(expected))
}

// Between checks that low <= actual <= high.
func Between(actual, low, high int, msgAndArgs ...any) error {
	return check(actual >= low && actual <= high, msgAndArgs,
		"%d is not between %d and %d", actual, low, high)
}

// GreaterThan checks that actual > bound.
func GreaterThan(actual, bound int64, msgAndArgs ...any) error {
	return check(actual > bound, msgAndArgs, "%d is not greater than %d", actual, bound)
}
