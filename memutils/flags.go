package memutils

import (
	"math/bits"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// FlagStringMapping renders bitflag types as a pipe-separated list of registered names
type FlagStringMapping[T constraints.Integer] struct {
	names map[T]string
}

func NewFlagStringMapping[T constraints.Integer]() FlagStringMapping[T] {
	return FlagStringMapping[T]{names: make(map[T]string)}
}

func (m FlagStringMapping[T]) Register(flag T, name string) {
	m.names[flag] = name
}

// FlagsToString lists the registered name of each set bit, lowest bit first. Bits with no
// registered name are rendered in hex.
func (m FlagStringMapping[T]) FlagsToString(value T) string {
	if value == 0 {
		return "None"
	}

	var parts []string
	remaining := uint64(value)
	for remaining != 0 {
		bit := uint64(1) << bits.TrailingZeros64(remaining)
		remaining &^= bit

		name, ok := m.names[T(bit)]
		if !ok {
			name = "0x" + strconv.FormatUint(bit, 16)
		}
		parts = append(parts, name)
	}

	return strings.Join(parts, "|")
}
