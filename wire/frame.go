package wire

import (
	"bytes"
	"io"

	"magarray-go/errcode"
)

// MaxFrame bounds an encoded frame including its delimiter. Senders stage
// frames in a buffer of this size.
const MaxFrame = 64

// BlockSize is the fixed read size of the legacy single-frame reader.
const BlockSize = 128

// AppendFrame encodes m, COBS-stuffs it and appends the delimited frame to
// dst.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	var scratch [MaxPayload]byte
	payload, err := AppendPayload(scratch[:0], m)
	if err != nil {
		return dst, err
	}
	if COBSMaxEncodedLen(len(payload))+1 > MaxFrame {
		return dst, errcode.Newf(errcode.FrameEncode, "wire.Frame", "frame exceeds buffer")
	}
	dst = AppendCOBS(dst, payload)
	return append(dst, Delimiter), nil
}

// Frame returns the delimited frame for m.
func Frame(m Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, MaxFrame), m)
}

// Write writes the whole frame to sink. A short write or any sink error is
// a errcode.TransportWrite failure.
func Write(sink io.Writer, frame []byte) error {
	n, err := sink.Write(frame)
	if err != nil {
		return errcode.New(errcode.TransportWrite, "wire.Write", err)
	}
	if n != len(frame) {
		return errcode.New(errcode.TransportWrite, "wire.Write", io.ErrShortWrite)
	}
	return nil
}

// WriteMessage frames m and writes it to sink.
func WriteMessage(sink io.Writer, m Message) error {
	var buf [MaxFrame]byte
	frame, err := AppendFrame(buf[:0], m)
	if err != nil {
		return err
	}
	return Write(sink, frame)
}

// DecodeFrame unstuffs one frame body (without delimiter) and decodes the
// payload.
func DecodeFrame(body []byte) (Message, error) {
	var scratch [MaxFrame]byte
	payload, err := DecodeCOBS(scratch[:0], body)
	if err != nil {
		return Message{}, errcode.New(errcode.FrameDecode, "wire.DecodeFrame", err)
	}
	return DecodePayload(payload)
}

// Read performs one fixed-size read of BlockSize bytes from src, skips
// everything up to the first delimiter and decodes the next chunk as a
// frame.
//
// It assumes one frame boundary per block and does not carry bytes over
// to the next call; FrameReader is the streaming alternative. A read that
// returns no bytes and no error (a serial read timeout) ends the fill; if
// nothing arrived at all the error is errcode.TransportRead wrapping
// ErrNoData.
func Read(src io.Reader) (Message, error) {
	var block [BlockSize]byte
	n, err := fill(src, block[:])
	if n == 0 {
		if err == nil {
			err = ErrNoData
		}
		return Message{}, errcode.New(errcode.TransportRead, "wire.Read", err)
	}
	// Unfilled tail stays zero, as with a short read into a zeroed buffer.
	_, rest, found := bytes.Cut(block[:], []byte{Delimiter})
	if !found {
		return Message{}, errcode.Newf(errcode.TransportRead, "wire.Read", "no frame boundary in block")
	}
	chunk, _, _ := bytes.Cut(rest, []byte{Delimiter})
	return DecodeFrame(chunk)
}

// fill reads into buf until it is full, src fails, or a read comes back
// empty.
func fill(src io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := src.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			return n, nil
		}
	}
	return n, nil
}
