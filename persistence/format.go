package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/imgmatch/codec"
)

const (
	// Magic identifies snapshot files.
	Magic = "IMGM"
	// Version is the current snapshot format version.
	Version uint16 = 1
	// HeaderSize is the fixed size of the snapshot header in bytes.
	HeaderSize = 32

	maxPayloadSize = 1<<32 - 1
)

var (
	// ErrCorrupt is the root of every integrity failure: bad magic, unknown
	// version or flags, truncated payload or checksum mismatch.
	ErrCorrupt = errors.New("corrupt snapshot")

	// ErrInvalidMagic is returned when the header does not start with Magic.
	ErrInvalidMagic = fmt.Errorf("%w: invalid magic", ErrCorrupt)

	// ErrInvalidVersion is returned for snapshots written by an unknown format version.
	ErrInvalidVersion = fmt.Errorf("%w: unsupported version", ErrCorrupt)

	// ErrUnknownCodec is returned when the header names a codec that is not built in.
	ErrUnknownCodec = errors.New("unknown snapshot codec")

	// ErrUnknownCompression is returned for unsupported compression identifiers.
	ErrUnknownCompression = errors.New("unknown snapshot compression")

	// ErrTooLarge is returned when an encoded state exceeds the 4 GiB payload limit.
	ErrTooLarge = errors.New("snapshot too large")
)

// Compression selects the payload compression.
type Compression uint8

const (
	// CompressionNone stores the payload as encoded.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd (better ratio).
	CompressionZstd Compression = 2
)

// String returns the compression name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses the name returned by Compression.String.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// Header is the decoded snapshot header.
type Header struct {
	Version     uint16
	Flags       uint16
	Codec       string
	Compression Compression
	PayloadSize uint32
	RawSize     uint32
	Checksum    uint32
}

func (h Header) marshal() ([HeaderSize]byte, error) {
	var b [HeaderSize]byte
	if len(h.Codec) == 0 || len(h.Codec) > codec.MaxNameLen {
		return b, fmt.Errorf("persistence: codec name %q must be 1..%d bytes", h.Codec, codec.MaxNameLen)
	}
	copy(b[0:4], Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint16(b[6:8], h.Flags)
	copy(b[8:16], h.Codec)
	b[16] = byte(h.Compression)
	binary.LittleEndian.PutUint32(b[20:24], h.PayloadSize)
	binary.LittleEndian.PutUint32(b[24:28], h.RawSize)
	binary.LittleEndian.PutUint32(b[28:32], h.Checksum)
	return b, nil
}

func unmarshalHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if string(b[0:4]) != Magic {
		return Header{}, fmt.Errorf("%w: got %q", ErrInvalidMagic, b[0:4])
	}

	h := Header{
		Version:     binary.LittleEndian.Uint16(b[4:6]),
		Flags:       binary.LittleEndian.Uint16(b[6:8]),
		Codec:       string(bytes.TrimRight(b[8:16], "\x00")),
		Compression: Compression(b[16]),
		PayloadSize: binary.LittleEndian.Uint32(b[20:24]),
		RawSize:     binary.LittleEndian.Uint32(b[24:28]),
		Checksum:    binary.LittleEndian.Uint32(b[28:32]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: got %d", ErrInvalidVersion, h.Version)
	}
	if h.Flags != 0 {
		return Header{}, fmt.Errorf("%w: unknown flags 0x%04x", ErrCorrupt, h.Flags)
	}
	if h.Compression == CompressionNone && h.PayloadSize != h.RawSize {
		return Header{}, fmt.Errorf("%w: size mismatch for uncompressed payload", ErrCorrupt)
	}
	return h, nil
}

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// Unwrap makes checksum failures match ErrCorrupt.
func (e *ChecksumMismatchError) Unwrap() error {
	return ErrCorrupt
}

// IsChecksumMismatch returns true if err is a checksum mismatch error.
func IsChecksumMismatch(err error) bool {
	var target *ChecksumMismatchError
	return errors.As(err, &target)
}
