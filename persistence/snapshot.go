package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/imgmatch/codec"
	"github.com/hupe1980/imgmatch/internal/checksum"
	"github.com/hupe1980/imgmatch/resource"
)

// Options configures snapshot encoding and IO.
type Options struct {
	// Codec encodes the payload. Defaults to codec.Default.
	Codec codec.Codec
	// Compression is the preferred payload compression. It is dropped when
	// it does not save at least 10%.
	Compression Compression
	// IO throttles snapshot reads and writes when set.
	IO *resource.Controller
}

func (o Options) codec() codec.Codec {
	if o.Codec == nil {
		return codec.Default
	}
	return o.Codec
}

// Encode writes s as a snapshot to w and returns the number of bytes written.
func Encode(w io.Writer, s *State, opts Options) (int64, error) {
	c := opts.codec()
	raw, err := c.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("persistence: encode state: %w", err)
	}
	if len(raw) > maxPayloadSize {
		return 0, ErrTooLarge
	}

	payload, applied, err := compress(raw, opts.Compression)
	if err != nil {
		return 0, fmt.Errorf("persistence: compress: %w", err)
	}

	h := Header{
		Version:     Version,
		Codec:       c.Name(),
		Compression: applied,
		PayloadSize: uint32(len(payload)),
		RawSize:     uint32(len(raw)),
	}
	hdr, err := h.marshal()
	if err != nil {
		return 0, err
	}
	crc := checksum.UpdateCRC32C(checksum.CRC32C(hdr[:HeaderSize-4]), payload)
	h.Checksum = crc
	if hdr, err = h.marshal(); err != nil {
		return 0, err
	}

	n, err := w.Write(hdr[:])
	written := int64(n)
	if err != nil {
		return written, err
	}
	n, err = w.Write(payload)
	written += int64(n)
	return written, err
}

// Decode reads one snapshot from r.
func Decode(r io.Reader) (State, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return State{}, fmt.Errorf("%w: short header", ErrCorrupt)
		}
		return State{}, err
	}
	h, err := unmarshalHeader(hdr[:])
	if err != nil {
		return State{}, err
	}

	// Grows with the data actually read, so a damaged size cannot force a
	// huge allocation.
	var payload bytes.Buffer
	if _, err := io.CopyN(&payload, r, int64(h.PayloadSize)); err != nil {
		if errors.Is(err, io.EOF) {
			return State{}, fmt.Errorf("%w: truncated payload", ErrCorrupt)
		}
		return State{}, err
	}
	return decodePayload(h, hdr[:], payload.Bytes())
}

// DecodeBytes decodes a snapshot held in memory, such as a mapped file.
func DecodeBytes(data []byte) (State, error) {
	h, err := unmarshalHeader(data)
	if err != nil {
		return State{}, err
	}
	end := HeaderSize + int64(h.PayloadSize)
	if int64(len(data)) < end {
		return State{}, fmt.Errorf("%w: truncated payload", ErrCorrupt)
	}
	return decodePayload(h, data[:HeaderSize], data[HeaderSize:end])
}

// ReadHeader decodes only the header of a snapshot.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	return unmarshalHeader(hdr[:])
}

func decodePayload(h Header, hdr, payload []byte) (State, error) {
	actual := checksum.UpdateCRC32C(checksum.CRC32C(hdr[:HeaderSize-4]), payload)
	if actual != h.Checksum {
		return State{}, &ChecksumMismatchError{Expected: h.Checksum, Actual: actual}
	}

	c, ok := codec.ByName(h.Codec)
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownCodec, h.Codec)
	}

	raw, err := decompress(payload, h.Compression, int(h.RawSize))
	if err != nil {
		return State{}, err
	}

	var s State
	if err := c.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("%w: decode payload: %v", ErrCorrupt, err)
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}
