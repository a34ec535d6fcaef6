// Package guestmem maps a scoped range of guest address space into the
// debugger's local address space, modeled on delve's MemoryReadWriter
// (pkg/proc/mem.go) but backed by the hypervisor's foreign-memory mapping
// instead of ptrace PEEKDATA/POKEDATA.
package guestmem

import (
	"sync"

	"github.com/openxen/xendbg/pkg/xdbgerr"
)

// Prot is a bitmask of the permissions a Window was mapped with.
type Prot int

const (
	ProtRead  Prot = 1 << iota
	ProtWrite
)

const pageSize = 4096

// FrameMapper is the hypervisor collaborator a Window uses to translate a
// guest virtual page frame to a machine frame and map/unmap it. It is the
// interface boundary at which the Domain Handle's foreign-memory-mapping
// operation is consumed; the real implementation is supplied by whatever
// wraps the hypervisor control-plane API.
type FrameMapper interface {
	// TranslateFrame returns the machine frame number backing the guest
	// virtual page containing addr, or ok=false if the page-to-machine
	// table has no valid entry.
	TranslateFrame(addr uint64) (frame uint64, ok bool)
	// MapFrames maps count consecutive machine frames starting at
	// mfnStart with the given protection, returning a byte slice backed
	// by the mapping.
	MapFrames(mfnStart uint64, count int, prot Prot) ([]byte, error)
	// UnmapFrames releases a mapping previously returned by MapFrames. It
	// MUST receive the same base address and page count passed to
	// MapFrames.
	UnmapFrames(buf []byte, mfnStart uint64, count int) error
}

// MemoryReadWriter is delve's addressable-memory interface
// (pkg/proc/mem.go), reused here so the Breakpoint Manager and Instruction
// Predictor can operate uniformly over a live Window or a fake in tests.
type MemoryReadWriter interface {
	ReadMemory(buf []byte, addr uint64) (n int, err error)
	WriteMemory(addr uint64, data []byte) (n int, err error)
}

// Window is a guest memory mapping scoped to its caller: it owns the
// underlying foreign mapping exclusively and MUST be released on every
// exit path.
type Window struct {
	mapper   FrameMapper
	base     uint64 // guest virtual address passed to Map (not necessarily page-aligned)
	pageAddr uint64 // guest virtual address of the first mapped page
	mfnStart uint64
	pages    int
	prot     Prot
	buf      []byte
	off      int // offset of base within buf

	closeOnce sync.Once
	closeErr  error
}

// Map maps len bytes of guest memory starting at addr with the requested
// protection. The returned Window's Close MUST be called on
// every exit path; multiple overlapping windows are permitted and are not
// serialized against each other.
func Map(mapper FrameMapper, addr uint64, length int, prot Prot) (*Window, error) {
	if length <= 0 {
		return nil, &xdbgerr.MapError{Addr: addr, Len: length, Reason: "non-positive length"}
	}
	pageAddr := addr &^ (pageSize - 1)
	end := addr + uint64(length)
	pages := int((end-pageAddr+pageSize-1) / pageSize)

	mfnStart, ok := mapper.TranslateFrame(pageAddr)
	if !ok {
		return nil, xdbgerr.InvalidFrame(pageAddr)
	}
	// Every subsequent page must also translate; a hole anywhere in the
	// range is a mapping failure for the whole window.
	for p := 1; p < pages; p++ {
		if _, ok := mapper.TranslateFrame(pageAddr + uint64(p)*pageSize); !ok {
			return nil, xdbgerr.InvalidFrame(pageAddr + uint64(p)*pageSize)
		}
	}

	buf, err := mapper.MapFrames(mfnStart, pages, prot)
	if err != nil {
		return nil, &xdbgerr.MapError{Addr: addr, Len: length, Reason: err.Error()}
	}

	return &Window{
		mapper:   mapper,
		base:     addr,
		pageAddr: pageAddr,
		mfnStart: mfnStart,
		pages:    pages,
		prot:     prot,
		buf:      buf,
		off:      int(addr - pageAddr),
	}, nil
}

// Len returns the number of mapped bytes from the window's base address
// to the end of the last mapped page, the same length Bytes returns. It
// can exceed the length requested from Map.
func (w *Window) Len() int {
	return len(w.buf) - w.off
}

// ReadMemory copies len(buf) bytes starting at guest address addr from the
// window into buf. It is a programmer error to read out of bounds
// of the mapping; ReadMemory reports it rather than panicking.
func (w *Window) ReadMemory(buf []byte, addr uint64) (int, error) {
	rel := int(addr-w.base) + w.off
	if rel < 0 || rel+len(buf) > len(w.buf) {
		return 0, &xdbgerr.MapError{Addr: addr, Len: len(buf), Reason: "out of window bounds"}
	}
	return copy(buf, w.buf[rel:rel+len(buf)]), nil
}

// WriteMemory writes into the window; the window must have been mapped
// with ProtWrite for the write to become visible to the guest.
func (w *Window) WriteMemory(addr uint64, data []byte) (int, error) {
	if w.prot&ProtWrite == 0 {
		return 0, &xdbgerr.MapError{Addr: addr, Len: len(data), Reason: "window not writable"}
	}
	rel := int(addr-w.base) + w.off
	if rel < 0 || rel+len(data) > len(w.buf) {
		return 0, &xdbgerr.MapError{Addr: addr, Len: len(data), Reason: "out of window bounds"}
	}
	return copy(w.buf[rel:rel+len(data)], data), nil
}

// Bytes returns the raw window contents starting at its base address,
// convenience for callers that want a whole-window slice rather than
// ReadMemory into a caller buffer.
func (w *Window) Bytes() []byte {
	return w.buf[w.off:]
}

// Close releases the underlying mapping. Idempotent and safe to call from
// a defer on every exit path, including error returns.
func (w *Window) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.mapper.UnmapFrames(w.buf, w.mfnStart, w.pages)
	})
	return w.closeErr
}
