// Package frame is the fixed-header envelope around every session message.
//
// Layout, big-endian: magic u32, version u16, header_len u16, message_id u64,
// message_type u32, flags u32, payload_len u64, then payload_len bytes of
// TLV payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic is "PRVR" in ASCII.
	Magic   uint32 = 0x50525652
	Version uint16 = 1

	FixedHeaderLen uint16 = 32
	FlagIsResponse uint32 = 0x02
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrInvalidMagic    = errors.New("frame: invalid magic")
	ErrUnsupportedVer  = errors.New("frame: unsupported version")
	ErrInvalidHeaderLn = errors.New("frame: header_len must equal the fixed header")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

func (h Header) IsResponse() bool {
	return h.Flags&FlagIsResponse != 0
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

type Limits struct {
	MaxPayloadBytes uint64
}

// Final proofs and recursive proof strings run to a few hundred KiB, so the
// payload ceiling sits well above that.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 16 * 1024 * 1024}
}

// ReadFrame reads one frame from r. It returns io.EOF only when the stream
// ends cleanly on a frame boundary; any header error leaves the stream
// unsynchronised and should end the session.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Frame{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return Frame{}, ErrShortHeader
		default:
			return Frame{}, err
		}
	}

	h := ParseHeader(fixed)
	if err := h.check(limits); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Header: h, Payload: payload}, nil
}

func (h Header) check(limits Limits) error {
	switch {
	case h.Magic != Magic:
		return fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, h.Magic)
	case h.Version != Version:
		return fmt.Errorf("%w: %d", ErrUnsupportedVer, h.Version)
	case h.HeaderLen != FixedHeaderLen:
		return fmt.Errorf("%w: %d", ErrInvalidHeaderLn, h.HeaderLen)
	case h.PayloadLen > limits.MaxPayloadBytes:
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadLen, limits.MaxPayloadBytes)
	}
	return nil
}

// WriteFrame writes f as a single buffer.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	b, err := Marshal(f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Marshal stamps magic, version and both lengths onto f's header.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	if uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = uint64(len(f.Payload))

	out := AppendHeader(make([]byte, 0, int(FixedHeaderLen)+len(f.Payload)), h)
	return append(out, f.Payload...), nil
}

// AppendHeader appends h verbatim; callers wanting a valid frame use Marshal.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.BigEndian.AppendUint32(dst, h.Magic)
	dst = binary.BigEndian.AppendUint16(dst, h.Version)
	dst = binary.BigEndian.AppendUint16(dst, h.HeaderLen)
	dst = binary.BigEndian.AppendUint64(dst, h.MessageID)
	dst = binary.BigEndian.AppendUint32(dst, h.MessageType)
	dst = binary.BigEndian.AppendUint32(dst, h.Flags)
	return binary.BigEndian.AppendUint64(dst, h.PayloadLen)
}

func ParseHeader(b [FixedHeaderLen]byte) Header {
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}
}
