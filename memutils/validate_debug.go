//go:build debug_kmem

package memutils

import cerrors "github.com/cockroachdb/errors"

// DebugEnabled reports whether the module was built with the debug_kmem build tag
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_kmem build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_kmem build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}

// DebugAssertf panics with a formatted assertion failure when condition is false. Callers use it for
// misuse that is otherwise silently ignored, such as freeing a frame that is already free.
// This method no-ops unless the debug_kmem build tag is present.
func DebugAssertf(condition bool, format string, args ...any) {
	if !condition {
		panic(cerrors.AssertionFailedf(format, args...))
	}
}
