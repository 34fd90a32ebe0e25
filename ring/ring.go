/*
NAME
  ring.go

DESCRIPTION
  ring.go provides Ring, a fixed-capacity single-producer/single-consumer
  byte ring used as the boundary between a real-time audio thread and a
  best-effort network thread.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package ring provides a lock-free single-producer/single-consumer byte
// ring buffer. It is the sole piece of shared mutable state between the
// real-time audio callback and the non-real-time network loop: the producer
// side must never allocate, lock, or block.
package ring

import "sync/atomic"

// Ring is a fixed-capacity contiguous byte buffer of size N with two
// monotonically-advancing (modulo N) indices, read and write. One slot is
// always kept empty so that a full ring can be distinguished from an empty
// one; usable capacity is therefore N-1 bytes.
//
// A Ring has exactly one producer goroutine, which may call Write, the
// zero-copy BorrowWrite/CommitWrite pair, and AvailableWrite. It has exactly
// one consumer goroutine, which may call Read, Peek, PeekAt, the zero-copy
// BorrowRead/CommitRead pair, and AvailableRead. Calling a producer method
// from the consumer goroutine or vice versa is undefined.
type Ring struct {
	buf   []byte
	size  uint32
	read  atomic.Uint32
	write atomic.Uint32
}

// New returns a Ring backed by a freshly allocated buffer of size bytes.
// Usable capacity is size-1 bytes. size must be at least 2.
func New(size int) *Ring {
	if size < 2 {
		panic("ring: size must be at least 2")
	}
	return &Ring{buf: make([]byte, size), size: uint32(size)}
}

// AvailableRead returns the number of bytes currently readable.
func (r *Ring) AvailableRead() int {
	w := r.write.Load()
	rd := r.read.Load()
	return int(sub(w, rd, r.size))
}

// AvailableWrite returns the number of bytes currently writable.
func (r *Ring) AvailableWrite() int {
	return int(r.size) - 1 - r.AvailableRead()
}

// sub returns (a - b) mod size, where size is the ring's capacity.
func sub(a, b, size uint32) uint32 {
	d := a - b
	if d >= size {
		d += size
	}
	return d
}

// Write copies n bytes from src into the ring and advances the write
// pointer, provided AvailableWrite() >= n; otherwise it is a no-op and
// returns false. If src is nil, the write pointer is advanced by n without
// copying any bytes — used to commit data already placed by a prior
// BorrowWrite. Write never partially succeeds: either all n bytes are
// written, or none are.
func (r *Ring) Write(n int, src []byte) bool {
	if r.AvailableWrite() < n {
		return false
	}
	if src != nil {
		r.copyIn(r.write.Load(), src[:n])
	}
	r.write.Store((r.write.Load() + uint32(n)) % r.size)
	return true
}

// Read copies n bytes from the ring into dst and advances the read pointer,
// provided AvailableRead() >= n; otherwise it is a no-op and returns false.
// If dst is nil, the read pointer is advanced by n without copying — used to
// discard bytes (overflow policy) or to consume bytes already examined via
// BorrowRead/Peek.
func (r *Ring) Read(n int, dst []byte) bool {
	if r.AvailableRead() < n {
		return false
	}
	if dst != nil {
		r.copyOut(r.read.Load(), dst[:n])
	}
	r.read.Store((r.read.Load() + uint32(n)) % r.size)
	return true
}

// Peek copies n bytes starting at the current read pointer into dst without
// advancing it. It requires AvailableRead() >= n.
func (r *Ring) Peek(n int, dst []byte) bool {
	return r.PeekAt(0, n, dst)
}

// PeekAt copies n bytes starting offset bytes past the current read pointer
// into dst without advancing the read pointer. It requires
// AvailableRead() >= n+offset.
func (r *Ring) PeekAt(offset, n int, dst []byte) bool {
	if r.AvailableRead() < n+offset {
		return false
	}
	r.copyOut(r.read.Load()+uint32(offset), dst[:n])
	return true
}

// BorrowRead returns the next contiguous readable span, up to max bytes.
// The returned slice may be shorter than min(AvailableRead(), max) when the
// span wraps past the end of the backing buffer; callers that need the full
// readable range must call BorrowRead again after consuming the first span.
// BorrowRead does not advance the read pointer — pair it with Read(len(p),
// nil) (or CommitRead) once the bytes have been consumed (e.g. written to a
// socket).
func (r *Ring) BorrowRead(max int) []byte {
	n := r.AvailableRead()
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	at := r.read.Load() % r.size
	if at+uint32(n) > r.size {
		n = int(r.size - at)
	}
	return r.buf[at : at+uint32(n)]
}

// CommitRead advances the read pointer by n bytes, marking n bytes
// (previously obtained via BorrowRead) as consumed. It is equivalent to
// Read(n, nil).
func (r *Ring) CommitRead(n int) bool { return r.Read(n, nil) }

// BorrowWrite returns the next contiguous writable span, up to max bytes.
// As with BorrowRead, the returned slice may be shorter than
// min(AvailableWrite(), max) when the span wraps. Callers fill the returned
// slice directly (e.g. from a socket recv) and then call CommitWrite (or
// Write(len(p), nil)) to publish the bytes.
func (r *Ring) BorrowWrite(max int) []byte {
	n := r.AvailableWrite()
	if n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	at := r.write.Load() % r.size
	if at+uint32(n) > r.size {
		n = int(r.size - at)
	}
	return r.buf[at : at+uint32(n)]
}

// CommitWrite advances the write pointer by n bytes, publishing n bytes
// (previously placed via BorrowWrite) to the consumer. It is equivalent to
// Write(n, nil).
func (r *Ring) CommitWrite(n int) bool { return r.Write(n, nil) }

// Reset discards all buffered bytes, making the ring appear empty. It is
// safe only when the producer is known to be quiescent, e.g. the sender
// draining its ring before writing a fresh parameters chunk (see
// package sender).
func (r *Ring) Reset() {
	r.read.Store(r.write.Load())
}

func (r *Ring) copyIn(at uint32, src []byte) {
	at %= r.size
	n := copy(r.buf[at:], src)
	if n < len(src) {
		copy(r.buf, src[n:])
	}
}

func (r *Ring) copyOut(at uint32, dst []byte) {
	at %= r.size
	n := copy(dst, r.buf[at:])
	if n < len(dst) {
		copy(dst[n:], r.buf)
	}
}
