package phys

import (
	"encoding/binary"

	"github.com/dolthub/swiss"
)

// Memory is raw access to physical memory. Page tables, page directories and zero-filled
// frames are read and written through it.
type Memory interface {
	ReadUint32(addr Address) uint32
	WriteUint32(addr Address, value uint32)
	Fill(addr Address, value byte, size uint32)
	Copy(dst, src Address, size uint32)
}

type frameData [FrameSize]byte

// SparseMemory is a Memory that only stores frames which have been written with non-zero data.
// Reads from frames that were never written return zero, which matches freshly zeroed RAM.
type SparseMemory struct {
	frames *swiss.Map[Frame, *frameData]
}

var _ Memory = &SparseMemory{}

func NewSparseMemory() *SparseMemory {
	return &SparseMemory{
		frames: swiss.NewMap[Frame, *frameData](42),
	}
}

// ResidentFrames is the number of frames currently holding data
func (m *SparseMemory) ResidentFrames() int {
	return m.frames.Count()
}

func (m *SparseMemory) frame(addr Address, create bool) *frameData {
	frame := FrameFromAddress(addr)
	data, ok := m.frames.Get(frame)
	if ok || !create {
		return data
	}

	data = &frameData{}
	m.frames.Put(frame, data)
	return data
}

func (m *SparseMemory) readByte(addr Address) byte {
	data := m.frame(addr, false)
	if data == nil {
		return 0
	}
	return data[addr.Offset()]
}

func (m *SparseMemory) writeByte(addr Address, value byte) {
	data := m.frame(addr, value != 0)
	if data == nil {
		return
	}
	data[addr.Offset()] = value
}

func (m *SparseMemory) ReadUint32(addr Address) uint32 {
	if addr.Offset() <= FrameSize-4 {
		data := m.frame(addr, false)
		if data == nil {
			return 0
		}
		offset := addr.Offset()
		return binary.LittleEndian.Uint32(data[offset : offset+4])
	}

	var buf [4]byte
	for i := range buf {
		buf[i] = m.readByte(addr + Address(i))
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (m *SparseMemory) WriteUint32(addr Address, value uint32) {
	if addr.Offset() <= FrameSize-4 {
		data := m.frame(addr, value != 0)
		if data == nil {
			return
		}
		offset := addr.Offset()
		binary.LittleEndian.PutUint32(data[offset:offset+4], value)
		return
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	for i, b := range buf {
		m.writeByte(addr+Address(i), b)
	}
}

// Fill sets size bytes starting at addr to value. Zero-filling a whole frame releases its storage.
func (m *SparseMemory) Fill(addr Address, value byte, size uint32) {
	for size > 0 {
		offset := addr.Offset()
		chunk := uint32(FrameSize) - offset
		if chunk > size {
			chunk = size
		}

		if value == 0 && offset == 0 && chunk == FrameSize {
			m.frames.Delete(FrameFromAddress(addr))
		} else if data := m.frame(addr, value != 0); data != nil {
			for i := offset; i < offset+chunk; i++ {
				data[i] = value
			}
		}

		addr += Address(chunk)
		size -= chunk
	}
}

func (m *SparseMemory) Copy(dst, src Address, size uint32) {
	if dst == src || size == 0 {
		return
	}

	if dst > src && dst < src+Address(size) {
		for i := size; i > 0; i-- {
			m.writeByte(dst+Address(i-1), m.readByte(src+Address(i-1)))
		}
		return
	}

	for i := uint32(0); i < size; i++ {
		m.writeByte(dst+Address(i), m.readByte(src+Address(i)))
	}
}
