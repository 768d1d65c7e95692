// Package must provides runtime assertions for the engine's
// programmer-error family (spec.md §7): conditions that indicate a
// bug in this codebase rather than a user-recoverable or transient
// failure, and so should crash loudly instead of propagating as a
// normal error value. This is pared down to the assertions the
// engine actually makes, not a general assertion toolkit.
package must

import "fmt"

// Bef panics if b is false.
func Bef(b bool, format string, args ...any) {
	if !b {
		panicErrorf(format, args...)
	}
}

// BeEqualf panics if a != b.
func BeEqualf[T comparable](a, b T, format string, args ...any) {
	if a != b {
		panicErrorf("%v\nwant a == b\na = %v\nb = %v",
			fmt.Errorf(format, args...), a, b,
		)
	}
}

// NotBeNilf panics if v is nil.
func NotBeNilf(v any, format string, args ...any) {
	if v == nil {
		panicErrorf(format, args...)
	}
}

func panicErrorf(format string, args ...any) {
	panic(fmt.Errorf(format, args...))
}
