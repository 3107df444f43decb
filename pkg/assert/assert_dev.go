//go:build !release

// Package assert holds invariant checks that panic in development builds and compile away in
// release builds.
package assert

import "fmt"

func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
