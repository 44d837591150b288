package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when a structure could not be built because the frame allocator or
// heap was exhausted. Hot-path allocation methods never return it: they report exhaustion with
// a false ok value instead.
var ErrOutOfMemory error = errors.New("out of memory")

// ErrAlreadyInitialized is returned when Init or Initialize is called a second time on a component
// that does not support reinitialization
var ErrAlreadyInitialized error = errors.New("already initialized")

// ErrNotInitialized is returned when a component is used before Init has been called
var ErrNotInitialized error = errors.New("not initialized")
