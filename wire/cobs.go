package wire

import "errors"

// Delimiter terminates every frame on the wire.
const Delimiter = 0x00

var (
	ErrCOBSZero      = errors.New("cobs: zero byte inside frame")
	ErrCOBSTruncated = errors.New("cobs: code runs past end of frame")
	ErrCOBSEmpty     = errors.New("cobs: empty frame")
)

// COBSMaxEncodedLen is the worst-case stuffed length of n bytes, excluding
// the delimiter.
func COBSMaxEncodedLen(n int) int {
	return n + n/254 + 1
}

// AppendCOBS stuffs src and appends it to dst without a delimiter.
func AppendCOBS(dst, src []byte) []byte {
	codeIdx := len(dst)
	dst = append(dst, 0)
	code := byte(1)
	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code
	return dst
}

// DecodeCOBS unstuffs one frame (delimiter already removed) and appends the
// result to dst.
func DecodeCOBS(dst, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return dst, ErrCOBSEmpty
	}
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return dst, ErrCOBSZero
		}
		i++
		end := i + int(code) - 1
		if end > len(src) {
			return dst, ErrCOBSTruncated
		}
		for _, b := range src[i:end] {
			if b == 0 {
				return dst, ErrCOBSZero
			}
		}
		dst = append(dst, src[i:end]...)
		i = end
		if code < 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
