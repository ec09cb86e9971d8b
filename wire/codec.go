package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"magarray-go/errcode"
)

// MaxPayload bounds the compact encoding. A message is at most 36 bytes.
const MaxPayload = 64

const (
	optNone byte = 0x00
	optSome byte = 0x01

	// Variant index of the single unit of each value enum (µT, °C).
	variantUnit uint64 = 0
)

var (
	ErrBufferFull    = errors.New("wire: serialize buffer full")
	ErrUnexpectedEnd = errors.New("wire: unexpected end of payload")
	ErrBadOption     = errors.New("wire: bad option tag")
	ErrBadVariant    = errors.New("wire: bad enum variant")
	ErrBadVarint     = errors.New("wire: bad varint")
)

type encoder struct {
	buf []byte
	max int
}

func (e *encoder) room(n int) error {
	if len(e.buf)+n > e.max {
		return ErrBufferFull
	}
	return nil
}

func (e *encoder) byte1(b byte) error {
	if err := e.room(1); err != nil {
		return err
	}
	e.buf = append(e.buf, b)
	return nil
}

func (e *encoder) varint(v uint64) error {
	if err := e.room(protowire.SizeVarint(v)); err != nil {
		return err
	}
	e.buf = protowire.AppendVarint(e.buf, v)
	return nil
}

func (e *encoder) f32(v float32) error {
	if err := e.room(4); err != nil {
		return err
	}
	e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(v))
	return nil
}

func (e *encoder) unit(valid bool, v float32) error {
	if !valid {
		return e.byte1(optNone)
	}
	if err := e.byte1(optSome); err != nil {
		return err
	}
	if err := e.varint(variantUnit); err != nil {
		return err
	}
	return e.f32(v)
}

// AppendPayload appends the compact encoding of m to dst, failing with
// errcode.ProtocolEncode if the result would exceed MaxPayload bytes of
// appended data.
func AppendPayload(dst []byte, m Message) ([]byte, error) {
	e := encoder{buf: dst, max: len(dst) + MaxPayload}
	f := m.Field
	err := errors.Join(
		e.unit(f.X.Valid, f.X.Value),
		e.unit(f.Y.Valid, f.Y.Value),
		e.unit(f.Z.Valid, f.Z.Value),
		e.unit(f.T.Valid, f.T.Value),
		e.f32(m.Position.X),
		e.f32(m.Position.Y),
		e.f32(m.Position.Z),
	)
	if err != nil {
		return dst, errcode.New(errcode.ProtocolEncode, "wire.Encode", err)
	}
	return e.buf, nil
}

// EncodePayload returns the compact encoding of m.
func EncodePayload(m Message) ([]byte, error) {
	return AppendPayload(make([]byte, 0, MaxPayload), m)
}

type decoder struct {
	b []byte
}

func (d *decoder) byte1() (byte, error) {
	if len(d.b) < 1 {
		return 0, ErrUnexpectedEnd
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v, nil
}

func (d *decoder) varint() (uint64, error) {
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		perr := protowire.ParseError(n)
		if errors.Is(perr, io.ErrUnexpectedEOF) {
			return 0, ErrUnexpectedEnd
		}
		return 0, errors.Join(ErrBadVarint, perr)
	}
	d.b = d.b[n:]
	return v, nil
}

func (d *decoder) f32() (float32, error) {
	if len(d.b) < 4 {
		return 0, ErrUnexpectedEnd
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(d.b))
	d.b = d.b[4:]
	return v, nil
}

func (d *decoder) unit() (float32, bool, error) {
	tag, err := d.byte1()
	if err != nil {
		return 0, false, err
	}
	switch tag {
	case optNone:
		return 0, false, nil
	case optSome:
	default:
		return 0, false, ErrBadOption
	}
	variant, err := d.varint()
	if err != nil {
		return 0, false, err
	}
	if variant != variantUnit {
		return 0, false, ErrBadVariant
	}
	v, err := d.f32()
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// TakePayload decodes one message from the front of b and returns the
// unread remainder.
func TakePayload(b []byte) (Message, []byte, error) {
	d := decoder{b: b}
	var m Message
	var err error
	fail := func(cause error) (Message, []byte, error) {
		return Message{}, b, errcode.New(errcode.PayloadDecode, "wire.Decode", cause)
	}

	if m.Field.X.Value, m.Field.X.Valid, err = d.unit(); err != nil {
		return fail(err)
	}
	if m.Field.Y.Value, m.Field.Y.Valid, err = d.unit(); err != nil {
		return fail(err)
	}
	if m.Field.Z.Value, m.Field.Z.Valid, err = d.unit(); err != nil {
		return fail(err)
	}
	if m.Field.T.Value, m.Field.T.Valid, err = d.unit(); err != nil {
		return fail(err)
	}
	for _, p := range []*float32{&m.Position.X, &m.Position.Y, &m.Position.Z} {
		if *p, err = d.f32(); err != nil {
			return fail(err)
		}
	}
	return m, d.b, nil
}

// DecodePayload decodes a message from b. Trailing bytes are ignored.
func DecodePayload(b []byte) (Message, error) {
	m, _, err := TakePayload(b)
	return m, err
}
