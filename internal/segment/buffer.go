package segment

import (
	apperrors "github.com/good-listener/recorder/internal/errors"
)

// Buffer is an append-only byte region made of whole frames.
type Buffer struct {
	data       []byte
	frameBytes int
	maxBytes   int // 0 means no cap
}

// NewBuffer creates an empty buffer for frames of frameBytes bytes.
func NewBuffer(frameBytes, maxBytes int) *Buffer {
	return &Buffer{frameBytes: frameBytes, maxBytes: maxBytes}
}

// Len returns the buffered size in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Frames returns the number of buffered frames.
func (b *Buffer) Frames() int {
	if b.frameBytes == 0 {
		return 0
	}
	return len(b.data) / b.frameBytes
}

// Cap returns the allocated capacity in bytes.
func (b *Buffer) Cap() int { return cap(b.data) }

// AppendFrame copies one frame onto the end of the buffer, doubling capacity
// when it runs out.
func (b *Buffer) AppendFrame(frame []byte) error {
	if len(frame) != b.frameBytes {
		return apperrors.Newf(apperrors.InvalidArgument,
			"frame is %d bytes, buffer holds %d-byte frames", len(frame), b.frameBytes)
	}
	need := len(b.data) + len(frame)
	if b.maxBytes > 0 && need > b.maxBytes {
		return apperrors.Newf(apperrors.AllocationFailure,
			"segment would grow to %d bytes, limit is %d", need, b.maxBytes)
	}
	if need > cap(b.data) {
		b.grow(need)
	}
	b.data = append(b.data, frame...)
	return nil
}

func (b *Buffer) grow(need int) {
	newCap := 2 * cap(b.data)
	if newCap < 8*b.frameBytes {
		newCap = 8 * b.frameBytes
	}
	for newCap < need {
		newCap *= 2
	}
	if b.maxBytes > 0 && newCap > b.maxBytes {
		newCap = b.maxBytes
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Take hands the buffered bytes to the caller and leaves the buffer empty.
// The buffer never touches the returned slice again.
func (b *Buffer) Take() []byte {
	data := b.data
	b.data = nil
	return data
}

// Reset drops the buffered bytes.
func (b *Buffer) Reset() { b.data = nil }
