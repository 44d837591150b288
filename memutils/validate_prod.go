//go:build !debug_kmem

package memutils

// DebugEnabled reports whether the module was built with the debug_kmem build tag
const DebugEnabled = false

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_kmem build tag is present
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_kmem build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
}

// DebugAssertf panics with a formatted assertion failure when condition is false.
// This method no-ops unless the debug_kmem build tag is present.
func DebugAssertf(condition bool, format string, args ...any) {
}
