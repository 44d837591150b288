package utils

import (
	"fmt"
	"sync/atomic"
)

// ReentrancyGuard detects an entry point being called again before the previous call returned,
// which on a single CPU can only happen from an interrupt handler. The memory core holds no locks,
// so re-entry would corrupt the bitmap or the region table. When UseGuard is false, Enter and Exit
// do nothing.
type ReentrancyGuard struct {
	Name     string
	UseGuard bool

	held  atomic.Bool
	entry string
}

// Enter marks the guarded component as busy with the named operation, and panics if it was
// already busy
func (g *ReentrancyGuard) Enter(operation string) {
	if !g.UseGuard {
		return
	}

	if !g.held.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("%s: re-entered by %s while %s was in progress", g.Name, operation, g.entry))
	}
	g.entry = operation
}

func (g *ReentrancyGuard) Exit() {
	if !g.UseGuard {
		return
	}

	g.entry = ""
	g.held.Store(false)
}
