package pmm

import (
	"math/bits"

	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/mm"
)

var (
	// ErrNoMem is returned when all frames are reserved.
	ErrNoMem = &kernel.Error{Module: "pmm", Message: "out of memory", Code: -4}

	errFrameOutOfRange = &kernel.Error{Module: "pmm", Message: "frame does not belong to the frame pool", Code: -3}
	errFrameNotInUse   = &kernel.Error{Module: "pmm", Message: "frame is not reserved", Code: -3}
)

type framePool struct {
	// startFrame is the frame number for the first page in this pool.
	// each free bitmap entry i corresponds to frame (startFrame + i).
	startFrame mm.Frame

	// endFrame tracks the last frame in the pool. The total number of
	// frames is given by: (endFrame - startFrame) + 1
	endFrame mm.Frame

	// freeCount tracks the available pages in this pool. The allocator
	// can use this field to skip fully allocated pools without the need
	// to scan the free bitmap.
	freeCount uint32

	// freeBitmap tracks used/free pages in the pool. A set bit marks a
	// reserved frame.
	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations using a bitmap.
type BitmapAllocator struct {
	// totalPages tracks the total number of pages in the pool.
	totalPages uint32

	// reservedPages tracks the number of reserved pages.
	reservedPages uint32

	pool framePool
}

// init sets up a pool with frameCount frames starting at frame 0. The bitmap
// is rounded up to a multiple of 64 bits; the padding bits are flagged as
// reserved so they are never handed out.
func (alloc *BitmapAllocator) init(frameCount uint32) {
	alloc.totalPages = frameCount
	alloc.reservedPages = 0
	alloc.pool = framePool{
		startFrame: 0,
		endFrame:   mm.Frame(frameCount) - 1,
		freeCount:  frameCount,
		freeBitmap: make([]uint64, (frameCount+63)>>6),
	}

	for pad := frameCount; pad&63 != 0; pad++ {
		alloc.pool.freeBitmap[pad>>6] |= 1 << (pad & 63)
	}
}

// AllocFrame reserves the first free frame in the pool.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if alloc.pool.freeCount == 0 {
		return mm.InvalidFrame, ErrNoMem
	}

	for blockIndex, block := range alloc.pool.freeBitmap {
		if block == ^uint64(0) {
			continue
		}

		bit := uint32(bits.TrailingZeros64(^block))
		alloc.pool.freeBitmap[blockIndex] |= 1 << bit
		alloc.pool.freeCount--
		alloc.reservedPages++
		return alloc.pool.startFrame + mm.Frame(uint32(blockIndex)<<6+bit), nil
	}

	return mm.InvalidFrame, ErrNoMem
}

// FreeFrame releases a frame previously reserved by AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if frame < alloc.pool.startFrame || frame > alloc.pool.endFrame {
		return errFrameOutOfRange
	}

	relFrame := uint32(frame - alloc.pool.startFrame)
	block, mask := relFrame>>6, uint64(1)<<(relFrame&63)
	if alloc.pool.freeBitmap[block]&mask == 0 {
		return errFrameNotInUse
	}

	alloc.pool.freeBitmap[block] &^= mask
	alloc.pool.freeCount++
	alloc.reservedPages--
	return nil
}

// reserved returns true if frame is currently reserved.
func (alloc *BitmapAllocator) reserved(frame mm.Frame) bool {
	if frame < alloc.pool.startFrame || frame > alloc.pool.endFrame {
		return false
	}
	relFrame := uint32(frame - alloc.pool.startFrame)
	return alloc.pool.freeBitmap[relFrame>>6]&(uint64(1)<<(relFrame&63)) != 0
}
