package phys

import "math/bits"

const (
	bitsPerWord = 32
	fullWord    = ^uint32(0)
)

// frameBitmap tracks one bit per frame. A set bit marks a used frame.
type frameBitmap []uint32

func newFrameBitmap(frameCount uint32) frameBitmap {
	words := (frameCount + bitsPerWord - 1) / bitsPerWord
	return make(frameBitmap, words)
}

func (b frameBitmap) set(frame uint32) {
	b[frame/bitsPerWord] |= 1 << (frame % bitsPerWord)
}

func (b frameBitmap) clear(frame uint32) {
	b[frame/bitsPerWord] &^= 1 << (frame % bitsPerWord)
}

func (b frameBitmap) test(frame uint32) bool {
	return b[frame/bitsPerWord]&(1<<(frame%bitsPerWord)) != 0
}

func (b frameBitmap) setAll() {
	for i := range b {
		b[i] = fullWord
	}
}

// firstFree returns the lowest clear bit below limit. Words with every bit set are skipped
// without inspecting individual bits.
func (b frameBitmap) firstFree(limit uint32) (uint32, bool) {
	for i, word := range b {
		if word == fullWord {
			continue
		}

		frame := uint32(i)*bitsPerWord + uint32(bits.TrailingZeros32(^word))
		if frame >= limit {
			return 0, false
		}
		return frame, true
	}

	return 0, false
}

// firstFreeRun returns the start of the lowest run of count clear bits that ends below limit.
// A set bit always restarts the run.
func (b frameBitmap) firstFreeRun(count, limit uint32) (uint32, bool) {
	var runStart, runLength uint32

	for frame := uint32(0); frame < limit; frame++ {
		if runLength == 0 && frame%bitsPerWord == 0 && b[frame/bitsPerWord] == fullWord {
			frame += bitsPerWord - 1
			continue
		}

		if b.test(frame) {
			runLength = 0
			continue
		}

		if runLength == 0 {
			runStart = frame
		}
		runLength++

		if runLength == count {
			return runStart, true
		}
	}

	return 0, false
}
