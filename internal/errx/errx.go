// Package errx provides small helpers for the sentinel-error idiom used
// across this repository: packages declare errors.New sentinels in an
// errors.go file and attach causes or context at the call site.
package errx

import "fmt"

// Wrap returns sentinel annotated with cause. Both errors remain
// matchable with errors.Is.
func Wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With returns sentinel followed by formatted context. The format string
// is appended verbatim after the sentinel text and may use %w.
func With(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%w"+format, append([]interface{}{sentinel}, args...)...)
}
