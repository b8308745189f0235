// Package pool implements the server- and client-side pinned memory pool:
// a single contiguous buffer sub-allocated by a first-fit free-list
// allocator that bumps a high-water mark once no free block satisfies a
// request.
package pool

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultAlignment is the default allocation alignment (4096, page size).
const DefaultAlignment = 4096

// ErrExhausted is returned when no free block and no remaining bump space
// can satisfy an allocation request.
var ErrExhausted = errors.New("pool: exhausted")

// ErrOutOfBounds is a programming error: a read or write referenced a byte
// range outside the pool's buffer.
var ErrOutOfBounds = errors.New("pool: access out of bounds")

// Allocation is a currently-reserved window in the pool, exclusively owned
// by whoever obtained it until explicitly released via Deallocate.
type Allocation struct {
	Offset uint64
	Size   uint64
}

// Stats reports the pool's capacity and usage.
type Stats struct {
	Total     uint64
	Used      uint64
	Available uint64
}

// freeBlock is one entry of the allocator's free list.
type freeBlock struct {
	offset uint64
	size   uint64
}

// MemoryPool owns one contiguous buffer of configured size, page-aligned by
// convention, and sub-allocates offsets for callers that then Write/Read
// bytes at those offsets directly.
type MemoryPool struct {
	mu sync.Mutex

	buf       []byte
	alignment uint64

	bumpOffset uint64
	freeList   []freeBlock

	basePtr uint64
}

// Config configures a new MemoryPool.
type Config struct {
	// Size is the total pool capacity in bytes.
	Size uint64
	// Alignment is the allocation alignment; 0 selects DefaultAlignment.
	Alignment uint64
}

// New creates a pool of the configured size. The pool does not know how to
// name itself to a remote peer; minting remote keys is the transport's
// job. Callers register the pool's buffer with their transport once at
// startup and keep the resulting handle/descriptor alongside the pool.
func New(cfg Config) *MemoryPool {
	alignment := cfg.Alignment
	if alignment == 0 {
		alignment = DefaultAlignment
	}

	buf := make([]byte, cfg.Size)

	return &MemoryPool{
		buf:       buf,
		alignment: alignment,
		basePtr:   bufferBasePtr(buf),
	}
}

// BasePtr returns the pool buffer's address, used as the `base_ptr` field
// of the MemoryRegionHandle/Descriptor a transport mints for this pool.
func (p *MemoryPool) BasePtr() uint64 {
	return p.basePtr
}

// Len returns the pool's total capacity in bytes.
func (p *MemoryPool) Len() uint64 {
	return uint64(len(p.buf))
}

// Buffer returns the pool's backing buffer for registration with a
// transport (transport.Transport.RegisterMemory). The returned slice
// aliases the pool's storage; callers must only use it to register the
// region, never to read/write around the pool's own locking.
func (p *MemoryPool) Buffer() []byte {
	return p.buf
}

// Allocate reserves size bytes aligned to the pool's alignment, first-fit
// over the free list, falling back to bumping the high-water mark.
func (p *MemoryPool) Allocate(size uint64) (Allocation, error) {
	if size == 0 {
		return Allocation{}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.findFreeBlock(size); ok {
		block := p.freeList[idx]
		p.freeList = append(p.freeList[:idx], p.freeList[idx+1:]...)

		if block.size > size {
			remainderOffset := alignUp(block.offset+size, p.alignment)
			blockEnd := block.offset + block.size
			if remainderOffset < blockEnd {
				remainderSize := blockEnd - remainderOffset
				if remainderSize >= p.alignment {
					p.freeList = append(p.freeList, freeBlock{offset: remainderOffset, size: remainderSize})
				}
			}
		}
		return Allocation{Offset: block.offset, Size: size}, nil
	}

	alignedOffset := alignUp(p.bumpOffset, p.alignment)
	if alignedOffset+size > uint64(len(p.buf)) {
		return Allocation{}, ErrExhausted
	}
	p.bumpOffset = alignedOffset + size
	return Allocation{Offset: alignedOffset, Size: size}, nil
}

// findFreeBlock returns the index of the first free block able to satisfy
// size, assuming p.mu is held.
func (p *MemoryPool) findFreeBlock(size uint64) (int, bool) {
	for i, b := range p.freeList {
		if b.size >= size {
			return i, true
		}
	}
	return 0, false
}

// Deallocate returns a previously allocated block to the free list, where
// it becomes re-allocatable by future calls of equal or smaller size.
// Coalescing adjacent blocks is not attempted.
func (p *MemoryPool) Deallocate(offset, size uint64) {
	if size == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeList = append(p.freeList, freeBlock{offset: offset, size: size})
}

// Write copies data into the pool buffer at offset. Out-of-bounds writes
// are a programming error, reported as such rather than a request failure.
func (p *MemoryPool) Write(offset uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset+uint64(len(data)) > uint64(len(p.buf)) {
		return fmt.Errorf("%w: write offset=%d len=%d capacity=%d", ErrOutOfBounds, offset, len(data), len(p.buf))
	}
	copy(p.buf[offset:], data)
	return nil
}

// Read returns a copy of len bytes at offset. A copy (rather than a slice
// alias) is returned because the pool may be mutated or reclaimed by a
// concurrent PUT/DELETE once the caller's lock is released.
func (p *MemoryPool) Read(offset, length uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if offset+length > uint64(len(p.buf)) {
		return nil, fmt.Errorf("%w: read offset=%d len=%d capacity=%d", ErrOutOfBounds, offset, length, len(p.buf))
	}
	out := make([]byte, length)
	copy(out, p.buf[offset:offset+length])
	return out, nil
}

// Stats reports total/used/available bytes.
func (p *MemoryPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var free uint64
	for _, b := range p.freeList {
		free += b.size
	}
	return Stats{
		Total:     uint64(len(p.buf)),
		Used:      p.bumpOffset,
		Available: uint64(len(p.buf)) - p.bumpOffset + free,
	}
}

func alignUp(offset, alignment uint64) uint64 {
	return (offset + alignment - 1) &^ (alignment - 1)
}
