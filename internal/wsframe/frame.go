// Package wsframe encodes and decodes the binary frames that carry text messages
// between browsers and the presence server.
package wsframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Opcode identifies the frame type carried in the low nibble of the first byte.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode is a control opcode (close, ping, pong or reserved).
func (o Opcode) IsControl() bool {
	return o >= OpClose
}

const (
	finBit     byte = 0x80
	maskBit    byte = 0x80
	opcodeBits byte = 0x0f
	lengthBits byte = 0x7f

	lengthExtended16 = 126
	lengthExtended64 = 127
	maskKeyLen       = 4

	// MaxPayload is the largest payload expressible without the 64-bit length extension.
	MaxPayload = 0xffff
	// MaxDiscard bounds how many bytes of an unsupported 64-bit frame are skipped to keep
	// the stream aligned.
	MaxDiscard = 1 << 20
)

var (
	// ErrShortFrame indicates the chunk ended before the declared frame did.
	ErrShortFrame = errors.New("wsframe: short frame")
	// ErrUnmaskedFrame indicates a client frame arrived without the mask bit.
	ErrUnmaskedFrame = errors.New("wsframe: client frame is not masked")
	// ErrUnsupportedLength indicates the frame uses the 64-bit length extension.
	ErrUnsupportedLength = errors.New("wsframe: 64-bit payload length not supported")
	// ErrPayloadTooLarge indicates an outbound payload does not fit a 16-bit length.
	ErrPayloadTooLarge = errors.New("wsframe: payload too large")
	// ErrFrameTooLarge indicates an unsupported frame is too large to skip.
	ErrFrameTooLarge = errors.New("wsframe: frame too large to discard")
	// ErrInvalidText indicates a text payload is not valid UTF-8.
	ErrInvalidText = errors.New("wsframe: payload is not valid utf-8")
)

// Frame is one decoded frame. Payload is already unmasked.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// Text returns the payload as a string.
func (f Frame) Text() string {
	return string(f.Payload)
}

// IsRecoverable reports whether err only invalidates the current frame and the
// connection can keep reading.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnmaskedFrame) ||
		errors.Is(err, ErrUnsupportedLength) ||
		errors.Is(err, ErrInvalidText)
}

// Decode parses a single frame held entirely in chunk. Control frames short-circuit
// and are returned without their payload.
func Decode(chunk []byte) (Frame, error) {
	if len(chunk) < 2 {
		return Frame{}, ErrShortFrame
	}
	frame := parseHeader(chunk[0], chunk[1])
	if frame.Opcode.IsControl() {
		return frame, nil
	}
	if !frame.Masked {
		return frame, ErrUnmaskedFrame
	}

	length, offset, err := payloadLength(chunk)
	if err != nil {
		return frame, err
	}
	if len(chunk) < offset+maskKeyLen+length {
		return frame, ErrShortFrame
	}

	var key [maskKeyLen]byte
	copy(key[:], chunk[offset:offset+maskKeyLen])
	payload := make([]byte, length)
	copy(payload, chunk[offset+maskKeyLen:offset+maskKeyLen+length])
	applyMask(payload, key)
	frame.Payload = payload

	if frame.Opcode == OpText && !utf8.Valid(payload) {
		return frame, ErrInvalidText
	}
	return frame, nil
}

// ReadFrame reads exactly one client frame from a byte stream. Recoverable errors
// leave the reader positioned at the start of the next frame.
func ReadFrame(r io.Reader) (Frame, error) {
	return readFrame(r, true)
}

// ReadServerFrame reads one frame sent by a server, where masking is not required.
func ReadServerFrame(r io.Reader) (Frame, error) {
	return readFrame(r, false)
}

func readFrame(r io.Reader, requireMask bool) (Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	frame := parseHeader(header[0], header[1])

	length := uint64(header[1] & lengthBits)
	extended64 := false
	switch length {
	case lengthExtended16:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case lengthExtended64:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame, err
		}
		length = binary.BigEndian.Uint64(ext[:])
		extended64 = true
	}

	var key [maskKeyLen]byte
	if frame.Masked {
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return frame, err
		}
	}

	if extended64 {
		if length > MaxDiscard {
			return frame, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
		}
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return frame, err
		}
		return frame, fmt.Errorf("%w: %d bytes", ErrUnsupportedLength, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame, err
	}

	if frame.Opcode.IsControl() {
		if frame.Masked {
			applyMask(payload, key)
		}
		frame.Payload = payload
		return frame, nil
	}
	if requireMask && !frame.Masked {
		return frame, ErrUnmaskedFrame
	}
	if frame.Masked {
		applyMask(payload, key)
	}
	frame.Payload = payload

	if frame.Opcode == OpText && !utf8.Valid(payload) {
		return frame, ErrInvalidText
	}
	return frame, nil
}

// EncodeText builds an unmasked FIN text frame for server-to-client delivery.
func EncodeText(text string) ([]byte, error) {
	return Encode(OpText, []byte(text))
}

// Encode builds an unmasked FIN frame with the given opcode.
func Encode(opcode Opcode, payload []byte) ([]byte, error) {
	buf := make([]byte, 0, 4+len(payload))
	buf, err := appendHeader(buf, opcode, len(payload), false)
	if err != nil {
		return nil, err
	}
	return append(buf, payload...), nil
}

// EncodeMasked builds a masked FIN frame the way a client must send it.
func EncodeMasked(opcode Opcode, payload []byte, key [4]byte) ([]byte, error) {
	buf := make([]byte, 0, 8+len(payload))
	buf, err := appendHeader(buf, opcode, len(payload), true)
	if err != nil {
		return nil, err
	}
	buf = append(buf, key[:]...)
	start := len(buf)
	buf = append(buf, payload...)
	applyMask(buf[start:], key)
	return buf, nil
}

func parseHeader(first, second byte) Frame {
	return Frame{
		Fin:    first&finBit != 0,
		Opcode: Opcode(first & opcodeBits),
		Masked: second&maskBit != 0,
	}
}

// payloadLength returns the declared payload length and the offset of the byte
// following the length field.
func payloadLength(chunk []byte) (int, int, error) {
	switch declared := int(chunk[1] & lengthBits); declared {
	case lengthExtended64:
		return 0, 0, ErrUnsupportedLength
	case lengthExtended16:
		if len(chunk) < 4 {
			return 0, 0, ErrShortFrame
		}
		return int(binary.BigEndian.Uint16(chunk[2:4])), 4, nil
	default:
		return declared, 2, nil
	}
}

func appendHeader(dst []byte, opcode Opcode, length int, masked bool) ([]byte, error) {
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}
	first := finBit | byte(opcode)
	var maskFlag byte
	if masked {
		maskFlag = maskBit
	}
	if length < lengthExtended16 {
		return append(dst, first, maskFlag|byte(length)), nil
	}
	dst = append(dst, first, maskFlag|lengthExtended16)
	return binary.BigEndian.AppendUint16(dst, uint16(length)), nil
}

func applyMask(payload []byte, key [maskKeyLen]byte) {
	for i := range payload {
		payload[i] ^= key[i%maskKeyLen]
	}
}
