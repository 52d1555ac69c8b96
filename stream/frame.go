package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/mpm/mpm"
)

// Frame layout, little-endian:
//
//	uint32  magic "MPM1"
//	uint64  tick
//	uint32  vertex count n
//	n × 6 float32  pos.x pos.y pos.z vel.x vel.y vel.z
const (
	frameMagic      = uint32('M') | uint32('P')<<8 | uint32('M')<<16 | uint32('1')<<24
	frameHeaderSize = 4 + 8 + 4
	vertexSize      = 6 * 4
)

// ErrBadFrame is wrapped by every DecodeFrame failure.
var ErrBadFrame = errors.New("stream: malformed frame")

// EncodeFrame appends the binary encoding of one snapshot to dst.
func EncodeFrame(dst []byte, tick int64, vertices []mpm.Vertex) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, frameMagic)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(tick))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(vertices)))
	for i := range vertices {
		v := &vertices[i]
		for _, f := range v.Pos {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
		}
		for _, f := range v.Vel {
			dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
		}
	}
	return dst
}

// DecodeFrame parses a frame produced by EncodeFrame.
func DecodeFrame(frame []byte) (int64, []mpm.Vertex, error) {
	if len(frame) < frameHeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadFrame, len(frame))
	}
	if magic := binary.LittleEndian.Uint32(frame); magic != frameMagic {
		return 0, nil, fmt.Errorf("%w: magic %#x", ErrBadFrame, magic)
	}
	tick := int64(binary.LittleEndian.Uint64(frame[4:]))
	n := int(binary.LittleEndian.Uint32(frame[12:]))

	body := frame[frameHeaderSize:]
	if len(body) != n*vertexSize {
		return 0, nil, fmt.Errorf("%w: %d vertices need %d bytes, got %d", ErrBadFrame, n, n*vertexSize, len(body))
	}

	vertices := make([]mpm.Vertex, n)
	for i := range vertices {
		rec := body[i*vertexSize:]
		for a := 0; a < 3; a++ {
			vertices[i].Pos[a] = math.Float32frombits(binary.LittleEndian.Uint32(rec[a*4:]))
			vertices[i].Vel[a] = math.Float32frombits(binary.LittleEndian.Uint32(rec[12+a*4:]))
		}
	}
	return tick, vertices, nil
}
