// Package wire implements the fixed 61-byte fragment header that carries
// every encoded video fragment between the host stream context and the
// client stream controller: serialization, parsing, and the CRC32 payload
// check. Byte order is little-endian throughout and every field is read or
// written explicitly, never via a cast over a Go struct's native layout.
package wire

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
)

// Magic is the fixed 4-byte value ("MIRG") that opens every header.
const Magic uint32 = 0x4D495247

// Version is the only wire version this codec accepts.
const Version uint8 = 1

// HeaderSize is the exact encoded size of Header, in bytes.
const HeaderSize = 61

// DefaultMaxPacketSize is the default datagram size, chosen to stay under
// the IPv6 minimum MTU.
const DefaultMaxPacketSize = 1200

// PayloadSize returns the number of fragment payload bytes available for a
// given maximum datagram size.
func PayloadSize(maxPacketSize int) int {
	return maxPacketSize - HeaderSize
}

// Flags holds the per-fragment FrameFlags bitset.
type Flags uint16

const (
	FlagKeyframe Flags = 1 << iota
	FlagEndOfFrame
	FlagParameterSet
	FlagDiscontinuity
	FlagPriority
	FlagLoginDisplay
	FlagDesktopStream
	FlagRepeatedFrame
	FlagFECParity
)

// Has reports whether f includes bit.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Rect is the fixed 4-float content rectangle (x, y, width, height).
type Rect struct {
	X, Y, W, H float32
}

// Header is the fully parsed, in-memory form of the fixed wire header.
type Header struct {
	Version         uint8
	Flags           Flags
	StreamID        uint16
	Sequence        uint32
	TimestampNs     uint64
	FrameNumber     uint32
	FragmentIndex   uint16
	FragmentCount   uint16
	PayloadLength   uint32
	FrameByteCount  uint32
	Checksum        uint32
	ContentRect     Rect
	DimensionToken  uint16
	Epoch           uint16
}

var (
	// ErrBadMagic is returned when the leading 4 bytes do not match Magic.
	ErrBadMagic = errors.New("wire: bad magic")
	// ErrBadVersion is returned when the version byte is not Version.
	ErrBadVersion = errors.New("wire: unsupported version")
	// ErrShortHeader is returned when fewer than HeaderSize bytes are given.
	ErrShortHeader = errors.New("wire: buffer shorter than header size")
)

// Serialize encodes h into exactly HeaderSize bytes in declared field
// order, little-endian.
func Serialize(h *Header) []byte {
	b := make([]byte, HeaderSize)
	putHeader(b, h)
	return b
}

// AppendSerialize appends h's encoded bytes to dst and returns the result.
func AppendSerialize(dst []byte, h *Header) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	putHeader(dst[off:], h)
	return dst
}

func putHeader(b []byte, h *Header) {
	_ = b[HeaderSize-1] // bounds check hint
	binary.LittleEndian.PutUint32(b[0:4], Magic)
	b[4] = h.Version
	binary.LittleEndian.PutUint16(b[5:7], uint16(h.Flags))
	binary.LittleEndian.PutUint16(b[7:9], h.StreamID)
	binary.LittleEndian.PutUint32(b[9:13], h.Sequence)
	binary.LittleEndian.PutUint64(b[13:21], h.TimestampNs)
	binary.LittleEndian.PutUint32(b[21:25], h.FrameNumber)
	binary.LittleEndian.PutUint16(b[25:27], h.FragmentIndex)
	binary.LittleEndian.PutUint16(b[27:29], h.FragmentCount)
	binary.LittleEndian.PutUint32(b[29:33], h.PayloadLength)
	binary.LittleEndian.PutUint32(b[33:37], h.FrameByteCount)
	binary.LittleEndian.PutUint32(b[37:41], h.Checksum)
	binary.LittleEndian.PutUint32(b[41:45], math.Float32bits(h.ContentRect.X))
	binary.LittleEndian.PutUint32(b[45:49], math.Float32bits(h.ContentRect.Y))
	binary.LittleEndian.PutUint32(b[49:53], math.Float32bits(h.ContentRect.W))
	binary.LittleEndian.PutUint32(b[53:57], math.Float32bits(h.ContentRect.H))
	binary.LittleEndian.PutUint16(b[57:59], h.DimensionToken)
	binary.LittleEndian.PutUint16(b[59:61], h.Epoch)
}

// Deserialize parses a Header from b, which must be at least HeaderSize
// bytes. Magic and version mismatches are hard failures; the caller is
// responsible for the CRC check (see Validate), which is a silent-drop
// condition rather than a hard failure.
func Deserialize(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortHeader
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != Magic {
		return nil, ErrBadMagic
	}
	version := b[4]
	if version != Version {
		return nil, ErrBadVersion
	}
	h := &Header{
		Version:       version,
		Flags:         Flags(binary.LittleEndian.Uint16(b[5:7])),
		StreamID:      binary.LittleEndian.Uint16(b[7:9]),
		Sequence:      binary.LittleEndian.Uint32(b[9:13]),
		TimestampNs:   binary.LittleEndian.Uint64(b[13:21]),
		FrameNumber:   binary.LittleEndian.Uint32(b[21:25]),
		FragmentIndex: binary.LittleEndian.Uint16(b[25:27]),
		FragmentCount: binary.LittleEndian.Uint16(b[27:29]),
		PayloadLength: binary.LittleEndian.Uint32(b[29:33]),
		FrameByteCount: binary.LittleEndian.Uint32(b[33:37]),
		Checksum:      binary.LittleEndian.Uint32(b[37:41]),
		ContentRect: Rect{
			X: math.Float32frombits(binary.LittleEndian.Uint32(b[41:45])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(b[45:49])),
			W: math.Float32frombits(binary.LittleEndian.Uint32(b[49:53])),
			H: math.Float32frombits(binary.LittleEndian.Uint32(b[53:57])),
		},
		DimensionToken: binary.LittleEndian.Uint16(b[57:59]),
		Epoch:          binary.LittleEndian.Uint16(b[59:61]),
	}
	return h, nil
}

// Checksum computes the CRC32 (IEEE 802.3 polynomial, init 0xFFFFFFFF,
// final XOR 0xFFFFFFFF) over payload. Go's crc32.ChecksumIEEE already
// implements that exact init/xor convention.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Validate reports whether h.Checksum matches the CRC32 of payload. A
// mismatch is a silent-drop condition, not a hard failure: callers must
// not escalate a validation failure beyond incrementing a diagnostic
// counter.
func Validate(h *Header, payload []byte) bool {
	return h.Checksum == Checksum(payload)
}
