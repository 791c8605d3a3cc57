// Package cobs implements Consistent Overhead Byte Stuffing.
//
// COBS removes every 0x00 from a payload so that 0x00 can mark frame
// boundaries on a byte stream. Encoded frames produced by this package
// always end with a single Delimiter byte.
package cobs

import (
	"errors"
	"fmt"
)

const (
	// Delimiter terminates every encoded frame.
	Delimiter byte = 0x00
	// MaxFrameSize is the largest encoded frame accepted on the wire.
	MaxFrameSize = 4096
	// MaxPayloadSize is the largest payload Encode accepts.
	MaxPayloadSize = MaxFrameSize - 2

	// maxBlock is the longest run of non-zero bytes one code byte can cover.
	maxBlock = 0xFF
)

var (
	ErrFrameTooLarge   = errors.New("frame too large")
	ErrInvalidEncoding = errors.New("invalid COBS encoding")
)

// MaxEncodedLen returns the worst-case encoded size of an n-byte payload,
// including the trailing delimiter.
func MaxEncodedLen(n int) int {
	return n + n/254 + 2
}

// Encode returns the COBS encoding of payload followed by Delimiter.
func Encode(payload []byte) ([]byte, error) {
	return AppendEncode(make([]byte, 0, MaxEncodedLen(len(payload))), payload)
}

// AppendEncode appends the COBS encoding of payload and a trailing Delimiter
// to dst and returns the extended buffer. Passing a reused dst[:0] avoids
// allocating once the buffer has grown to fit.
func AppendEncode(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(payload), MaxPayloadSize)
	}

	codeIdx := len(dst)
	dst = append(dst, 0)
	code := byte(1)

	for _, b := range payload {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == maxBlock {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}

	dst[codeIdx] = code
	return append(dst, Delimiter), nil
}

// Decode decodes a COBS frame. The trailing Delimiter must already be
// stripped.
func Decode(encoded []byte) ([]byte, error) {
	return AppendDecode(make([]byte, 0, len(encoded)), encoded)
}

// AppendDecode appends the decoding of encoded (without its trailing
// Delimiter) to dst. On error dst is returned unchanged in length.
func AppendDecode(dst, encoded []byte) ([]byte, error) {
	start := len(dst)
	i := 0
	for i < len(encoded) {
		code := int(encoded[i])
		if code == 0 {
			return dst[:start], ErrInvalidEncoding
		}
		i++

		n := code - 1
		if i+n > len(encoded) {
			return dst[:start], ErrInvalidEncoding
		}
		for _, b := range encoded[i : i+n] {
			if b == 0 {
				return dst[:start], ErrInvalidEncoding
			}
		}
		dst = append(dst, encoded[i:i+n]...)
		i += n

		if code < maxBlock && i < len(encoded) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
