// Package blob owns the raw bytes of an image file: one zero-filled OS
// allocation, aligned to the system allocation granularity, populated by a
// single read and released exactly once.
package blob

import (
	"io"
	"sync"
	"unsafe"

	"github.com/carved4/go-pluginmeta/pkg/errors"
)

var granularity = sync.OnceValue(func() int {
	if g := sysGranularity(); g > 0 {
		return g
	}
	return 4096
})

// Granularity returns the system allocation granularity. It is queried once
// per process.
func Granularity() int {
	return granularity()
}

// Allocator hands out Blobs aligned to a fixed granularity.
type Allocator struct {
	granularity int
}

// NewAllocator returns an allocator for the given granularity. Values below 1
// are treated as 1.
func NewAllocator(granularity int) *Allocator {
	if granularity < 1 {
		granularity = 1
	}
	return &Allocator{granularity: granularity}
}

func DefaultAllocator() *Allocator {
	return NewAllocator(Granularity())
}

func (a *Allocator) Granularity() int {
	return a.granularity
}

// Blob is a single owned allocation. The zero value is an empty, already
// released blob.
type Blob struct {
	mem    []byte
	data   []byte
	filled bool
}

// New allocates size zeroed bytes. The backing allocation is rounded up to the
// allocator's granularity and its first byte is aligned to it.
func (a *Allocator) New(size int) (*Blob, error) {
	if size < 0 {
		return nil, errors.Newf(errors.ErrAllocation, "invalid size %d", size)
	}
	g := a.granularity
	n := roundUp(max(size, 1), g)
	if n < size {
		return nil, errors.Newf(errors.ErrAllocation, "size %d overflows", size)
	}

	mem, err := sysAlloc(n)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAllocation, err, "allocate image buffer")
	}
	off := alignOffset(mem, g)
	if off != 0 {
		// the OS only guarantees its own page alignment; retry with slack
		if err := sysFree(mem); err != nil {
			return nil, errors.Wrap(errors.ErrAllocation, err, "release misaligned buffer")
		}
		mem, err = sysAlloc(n + g)
		if err != nil {
			return nil, errors.Wrap(errors.ErrAllocation, err, "allocate image buffer")
		}
		off = alignOffset(mem, g)
	}

	return &Blob{
		mem:  mem,
		data: mem[off : off+size : off+size],
	}, nil
}

// Len is the logical size requested at allocation.
func (b *Blob) Len() int {
	return len(b.data)
}

// Bytes returns the contents. Callers must treat the slice as read-only and
// must not retain it past Free.
func (b *Blob) Bytes() []byte {
	return b.data
}

// Fill populates the blob from r with exactly Len bytes. It may be called
// once; the blob is immutable afterwards.
func (b *Blob) Fill(r io.Reader) error {
	if b.mem == nil {
		return errors.New(errors.ErrIo, "fill of released buffer")
	}
	if b.filled {
		return errors.New(errors.ErrIo, "buffer already populated")
	}
	b.filled = true
	if _, err := io.ReadFull(r, b.data); err != nil {
		return errors.Wrap(errors.ErrIo, err, "read image")
	}
	return nil
}

// Free releases the allocation. Calls after the first are no-ops.
func (b *Blob) Free() error {
	if b.mem == nil {
		return nil
	}
	mem := b.mem
	b.mem, b.data = nil, nil
	if err := sysFree(mem); err != nil {
		return errors.Wrap(errors.ErrAllocation, err, "release image buffer")
	}
	return nil
}

// Released reports whether Free has run.
func (b *Blob) Released() bool {
	return b.mem == nil
}

func roundUp(n, g int) int {
	if r := n % g; r != 0 {
		return n + g - r
	}
	return n
}

func alignOffset(mem []byte, g int) int {
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	return int((uintptr(g) - addr%uintptr(g)) % uintptr(g))
}
