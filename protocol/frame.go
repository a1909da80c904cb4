// Package protocol implements the byte-level WebSocket wire format used by the gateway.
// Only single, final, masked text frames are understood on the way in; the server always
// answers with unmasked final text frames.
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	finBit     = 0x80
	maskBit    = 0x80
	opcodeMask = 0x0F

	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA

	// TextFinal is the first header byte of every frame the server emits.
	TextFinal byte = finBit | OpText

	len16Marker = 126
	len64Marker = 127
	maskSize    = 4
)

var (
	ErrFrameDecode       = errors.New("frame decode error")
	ErrTruncatedFrame    = fmt.Errorf("%w: truncated frame", ErrFrameDecode)
	ErrUnmaskedFrame     = fmt.Errorf("%w: client frame is not masked", ErrFrameDecode)
	ErrFragmentedFrame   = fmt.Errorf("%w: fragmented frames not supported", ErrFrameDecode)
	ErrUnsupportedOpcode = fmt.Errorf("%w: unsupported opcode", ErrFrameDecode)
	ErrCloseFrame        = fmt.Errorf("%w: close frame", ErrFrameDecode)
	ErrInvalidPayload    = fmt.Errorf("%w: payload is not valid UTF-8 JSON", ErrFrameDecode)
	ErrFrameTooLarge     = fmt.Errorf("%w: frame exceeds maximum size", ErrFrameDecode)
)

// DecodeFrame turns one raw client frame into its unmasked JSON text payload.
func DecodeFrame(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return nil, ErrTruncatedFrame
	}

	opcode := raw[0] & opcodeMask
	switch {
	case opcode == OpClose:
		return nil, ErrCloseFrame
	case raw[0]&finBit == 0:
		return nil, ErrFragmentedFrame
	case opcode != OpText:
		return nil, fmt.Errorf("%w: 0x%x", ErrUnsupportedOpcode, opcode)
	}
	if raw[1]&maskBit == 0 {
		return nil, ErrUnmaskedFrame
	}

	length, offset, err := payloadLength(raw)
	if err != nil {
		return nil, err
	}

	if uint64(len(raw)-offset) < maskSize {
		return nil, ErrTruncatedFrame
	}
	mask := raw[offset : offset+maskSize]
	offset += maskSize

	if uint64(len(raw)-offset) < length {
		return nil, ErrTruncatedFrame
	}

	payload := make([]byte, length)
	for i := range payload {
		payload[i] = raw[offset+i] ^ mask[i%maskSize]
	}

	if !utf8.Valid(payload) || !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}
	return payload, nil
}

// payloadLength reads the 7-bit length and its 16 or 64-bit extension.
// The returned offset points at the first byte after the length field.
func payloadLength(raw []byte) (uint64, int, error) {
	length := uint64(raw[1] & 0x7F)
	offset := 2

	switch length {
	case len16Marker:
		if len(raw) < offset+2 {
			return 0, 0, ErrTruncatedFrame
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset : offset+2]))
		offset += 2
	case len64Marker:
		if len(raw) < offset+8 {
			return 0, 0, ErrTruncatedFrame
		}
		length = binary.BigEndian.Uint64(raw[offset : offset+8])
		offset += 8
	}
	return length, offset, nil
}

// DecodeServerFrame extracts the payload of an unmasked server text frame.
// It is the client-side counterpart of EncodeFrame.
func DecodeServerFrame(raw []byte) ([]byte, error) {
	if len(raw) < 2 {
		return nil, ErrTruncatedFrame
	}
	if raw[0]&opcodeMask == OpClose {
		return nil, ErrCloseFrame
	}
	if raw[0] != TextFinal {
		return nil, ErrUnsupportedOpcode
	}
	length, offset, err := payloadLength(raw)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)-offset) < length {
		return nil, ErrTruncatedFrame
	}
	return raw[offset : offset+int(length)], nil
}

// EncodeFrame builds an unmasked final text frame carrying text.
func EncodeFrame(text []byte) []byte {
	header := appendHeader(make([]byte, 0, 10+len(text)), TextFinal, 0, uint64(len(text)))
	return append(header, text...)
}

// EncodeClientFrame builds a masked final text frame, as a browser would send it.
func EncodeClientFrame(text []byte, mask [4]byte) []byte {
	frame := appendHeader(make([]byte, 0, 14+len(text)), TextFinal, maskBit, uint64(len(text)))
	frame = append(frame, mask[:]...)
	for i, b := range text {
		frame = append(frame, b^mask[i%maskSize])
	}
	return frame
}

func appendHeader(dst []byte, first, mask byte, length uint64) []byte {
	dst = append(dst, first)
	switch {
	case length < len16Marker:
		dst = append(dst, mask|byte(length))
	case length < 1<<16:
		dst = append(dst, mask|len16Marker)
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	default:
		dst = append(dst, mask|len64Marker)
		dst = binary.BigEndian.AppendUint64(dst, length)
	}
	return dst
}

// ReadFrame reads exactly one frame off the stream and returns its raw bytes,
// header included, ready for DecodeFrame.
func ReadFrame(r *bufio.Reader, maxPayload int64) ([]byte, error) {
	raw := make([]byte, 2, 14)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}

	var extended int
	switch raw[1] & 0x7F {
	case len16Marker:
		extended = 2
	case len64Marker:
		extended = 8
	}
	if extended > 0 {
		ext := make([]byte, extended)
		if _, err := io.ReadFull(r, ext); err != nil {
			return nil, err
		}
		raw = append(raw, ext...)
	}

	length, _, err := payloadLength(raw)
	if err != nil {
		return nil, err
	}
	if maxPayload > 0 && length > uint64(maxPayload) {
		return nil, ErrFrameTooLarge
	}

	rest := int(length)
	if raw[1]&maskBit != 0 {
		rest += maskSize
	}
	body := make([]byte, rest)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return append(raw, body...), nil
}
