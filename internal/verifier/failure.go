// ABOUTME: Assertion failure and skip types produced by scenarios
// ABOUTME: A failure names the violated check so reports can group by invariant
package verifier

import (
	"errors"
	"fmt"
)

// Failure is a violated lifecycle invariant
type Failure struct {
	Check  string
	Detail string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Check, f.Detail)
}

func failf(check, format string, args ...any) error {
	return &Failure{Check: check, Detail: fmt.Sprintf(format, args...)}
}

// SkipError marks a scenario the environment cannot exercise
type SkipError struct {
	Reason string
}

func (s *SkipError) Error() string {
	return "skipped: " + s.Reason
}

// IsFailure reports whether err carries an assertion failure
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// IsSkip reports whether err is a skip
func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}
