package errcode

import "errors"

// Code is a stable error identifier shared by the driver, the wire protocol
// and the host tools. It is a string newtype, comparable, allocation-free,
// and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Wire protocol, sender side.
	ProtocolEncode Code = "protocol_encode_failed"
	FrameEncode    Code = "frame_encode_failed"
	TransportWrite Code = "transport_write_failed"

	// Wire protocol, receiver side.
	TransportRead Code = "transport_read_failed"
	FrameDecode   Code = "frame_decode_failed"
	PayloadDecode Code = "payload_decode_failed"

	// Sensor driver.
	CalibrationInvalid     Code = "calibration_invalid"
	InvalidStateTransition Code = "invalid_state_transition"
	ChannelMismatch        Code = "channel_mismatch"
	WrongRegister          Code = "wrong_register"
	BusFailure             Code = "bus_failure"
	Timeout                Code = "timeout"

	InvalidParams Code = "invalid_params"

	Error Code = "error" // generic fallback
)

// E wraps a Code with the failing operation and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.FrameDecode) match a wrapped code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New returns an *E for op with code c wrapping cause (which may be nil).
func New(c Code, op string, cause error) *E {
	return &E{C: c, Op: op, Err: cause}
}

// Newf is New with a short message instead of a cause.
func Newf(c Code, op, msg string) *E {
	return &E{C: c, Op: op, Msg: msg}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// MapBusErr tags a transport-level error from the I²C implementation so
// callers can tell bus trouble from protocol trouble.
func MapBusErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if Of(err) != Error {
		return err
	}
	return New(BusFailure, op, err)
}
