package audio

import (
	"encoding/binary"
	"math"
)

// Frame is one block of samples from a single read. Sources may reuse the
// backing array on the next read.
type Frame []float32

// ByteLen returns the size of f in bytes.
func (f Frame) ByteLen() int { return len(f) * Float32ByteSize }

// FrameBytes returns the byte length of a frame with the given shape.
func FrameBytes(framesPerBuffer, channels int) int {
	return framesPerBuffer * channels * Float32ByteSize
}

// Float32ToBytes converts float32 samples to little-endian bytes
func Float32ToBytes(samples []float32) []byte {
	return AppendFloat32Bytes(make([]byte, 0, len(samples)*Float32ByteSize), samples)
}

// AppendFloat32Bytes appends the little-endian encoding of samples to dst.
func AppendFloat32Bytes(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

// BytesToFloat32 decodes little-endian float32 samples. A length that is not
// a multiple of four yields nil.
func BytesToFloat32(b []byte) []float32 {
	if len(b)%Float32ByteSize != 0 {
		return nil
	}
	out := make([]float32, len(b)/Float32ByteSize)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*Float32ByteSize:]))
	}
	return out
}
