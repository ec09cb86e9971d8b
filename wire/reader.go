package wire

import (
	"errors"
	"io"

	"magarray-go/errcode"
)

var (
	ErrFrameTooLong = errors.New("wire: frame exceeds limit")
	// ErrNoData reports a read that returned nothing, e.g. a serial read
	// timeout.
	ErrNoData = errors.New("wire: no data available")
)

// FrameReader extracts delimited frames from a byte stream. Bytes are kept
// across reads, so frames split over or merged within reads are recovered.
// A corrupt frame yields one error and the reader resumes at the next
// delimiter.
type FrameReader struct {
	src io.Reader

	buf  []byte
	r, w int

	frame    []byte
	out      []byte
	maxFrame int
	synced   bool
	overflow bool
}

type ReaderOption func(*FrameReader)

// WithMaxFrame bounds an accepted frame body. Default MaxFrame.
func WithMaxFrame(n int) ReaderOption {
	return func(fr *FrameReader) {
		if n > 0 {
			fr.maxFrame = n
		}
	}
}

// WithLeadingPartial makes the reader decode the bytes before the first
// delimiter instead of discarding them. Use it when the stream is known
// to start on a frame boundary.
func WithLeadingPartial() ReaderOption {
	return func(fr *FrameReader) { fr.synced = true }
}

// WithReadSize sets the size of each read from the source. Default
// BlockSize.
func WithReadSize(n int) ReaderOption {
	return func(fr *FrameReader) {
		if n > 0 {
			fr.buf = make([]byte, n)
		}
	}
}

func NewFrameReader(src io.Reader, opts ...ReaderOption) *FrameReader {
	fr := &FrameReader{
		src:      src,
		buf:      make([]byte, BlockSize),
		maxFrame: MaxFrame,
	}
	for _, o := range opts {
		o(fr)
	}
	fr.frame = make([]byte, 0, fr.maxFrame)
	fr.out = make([]byte, 0, fr.maxFrame)
	return fr
}

// Buffered reports how many bytes are held for the frame in progress.
func (fr *FrameReader) Buffered() int { return len(fr.frame) + (fr.w - fr.r) }

// NextFrame returns the next complete frame body without its delimiter.
// The slice is valid until the next call. Source errors are reported as
// errcode.TransportRead wrapping the cause (io.EOF included).
func (fr *FrameReader) NextFrame() ([]byte, error) {
	for {
		for fr.r < fr.w {
			b := fr.buf[fr.r]
			fr.r++
			if b != Delimiter {
				if !fr.synced || fr.overflow {
					continue
				}
				if len(fr.frame) >= fr.maxFrame {
					fr.overflow = true
					continue
				}
				fr.frame = append(fr.frame, b)
				continue
			}

			if !fr.synced {
				fr.synced = true
				continue
			}
			if fr.overflow {
				fr.overflow = false
				fr.frame = fr.frame[:0]
				return nil, errcode.New(errcode.FrameDecode, "wire.FrameReader", ErrFrameTooLong)
			}
			if len(fr.frame) == 0 {
				// Back-to-back delimiters carry nothing.
				continue
			}
			fr.out = append(fr.out[:0], fr.frame...)
			fr.frame = fr.frame[:0]
			return fr.out, nil
		}

		n, err := fr.src.Read(fr.buf)
		fr.r, fr.w = 0, n
		if n > 0 {
			continue
		}
		if err == nil {
			err = ErrNoData
		}
		return nil, errcode.New(errcode.TransportRead, "wire.FrameReader", err)
	}
}

// Next returns the next decoded message. Frame and payload failures are
// errcode.FrameDecode / errcode.PayloadDecode and leave the reader usable.
func (fr *FrameReader) Next() (Message, error) {
	body, err := fr.NextFrame()
	if err != nil {
		return Message{}, err
	}
	return DecodeFrame(body)
}
