// Package pmm simulates the physical memory of the machine: a fixed pool of
// page-sized frames, a bitmap allocator and per-frame reference counts.
// Memory is not safe for concurrent use; the platform serializes access.
package pmm

import (
	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
)

// Memory is the simulated physical memory.
type Memory struct {
	alloc BitmapAllocator
	refs  []uint32
	data  []byte
}

// New returns a Memory with frameCount zero-filled frames.
func New(frameCount int) *Memory {
	m := &Memory{
		refs: make([]uint32, frameCount),
		data: make([]byte, uintptr(frameCount)*mm.PageSize),
	}
	m.alloc.init(uint32(frameCount))
	return m
}

// AllocFrame reserves a frame and clears its contents. The returned frame
// has a zero reference count; it is released again by the DecRef call that
// drops the last reference installed with IncRef.
func (m *Memory) AllocFrame() (mm.Frame, *kernel.Error) {
	frame, err := m.alloc.AllocFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	clear(m.Bytes(frame))
	return frame, nil
}

// FreeFrame releases a frame that was never referenced.
func (m *Memory) FreeFrame(frame mm.Frame) *kernel.Error {
	if m.refs[frame] != 0 {
		return errFrameNotInUse
	}
	return m.alloc.FreeFrame(frame)
}

// IncRef records a new mapping of frame.
func (m *Memory) IncRef(frame mm.Frame) {
	m.refs[frame]++
}

// DecRef drops a mapping of frame and frees the frame when no mappings are
// left.
func (m *Memory) DecRef(frame mm.Frame) {
	if m.refs[frame] == 0 {
		return
	}

	if m.refs[frame]--; m.refs[frame] == 0 {
		_ = m.alloc.FreeFrame(frame)
	}
}

// RefCount returns the number of mappings of frame.
func (m *Memory) RefCount(frame mm.Frame) int {
	return int(m.refs[frame])
}

// Bytes returns the storage backing frame. Writes through the returned slice
// are visible to every mapping of the frame.
func (m *Memory) Bytes(frame mm.Frame) []byte {
	start := frame.Address()
	return m.data[start : start+mm.PageSize : start+mm.PageSize]
}

// FreeFrames returns the number of unreserved frames.
func (m *Memory) FreeFrames() int {
	return int(m.alloc.pool.freeCount)
}

// TotalFrames returns the size of the frame pool.
func (m *Memory) TotalFrames() int {
	return int(m.alloc.totalPages)
}
