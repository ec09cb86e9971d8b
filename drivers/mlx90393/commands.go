package mlx90393

import (
	"math/bits"

	"magarray-go/errcode"
)

// Channel is one measurable signal.
type Channel uint8

const (
	ChanTemp Channel = iota
	ChanX
	ChanY
	ChanZ
)

func (c Channel) String() string {
	switch c {
	case ChanTemp:
		return "T"
	case ChanX:
		return "X"
	case ChanY:
		return "Y"
	case ChanZ:
		return "Z"
	}
	return "?"
}

// ChannelSet is a subset of {T, X, Y, Z} in the zyxt bit order used by the
// low nibble of SB/SW/SM/RM.
type ChannelSet uint8

const (
	Temp ChannelSet = 1 << ChanTemp
	X    ChannelSet = 1 << ChanX
	Y    ChannelSet = 1 << ChanY
	Z    ChannelSet = 1 << ChanZ

	AllChannels = Temp | X | Y | Z
	XYZ         = X | Y | Z
)

// responseOrder is the fixed order channels appear in an RM response.
var responseOrder = [4]Channel{ChanTemp, ChanX, ChanY, ChanZ}

func (s ChannelSet) Has(c Channel) bool { return s&(1<<c) != 0 }
func (s ChannelSet) Count() int         { return bits.OnesCount8(uint8(s & AllChannels)) }
func (s ChannelSet) Valid() bool        { return s&^AllChannels == 0 }

// Channels lists the members of s in response order (T, X, Y, Z).
func (s ChannelSet) Channels() []Channel {
	out := make([]Channel, 0, 4)
	for _, c := range responseOrder {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s ChannelSet) String() string {
	if s&AllChannels == 0 {
		return "none"
	}
	b := make([]byte, 0, 4)
	for _, c := range s.Channels() {
		b = append(b, c.String()...)
	}
	return string(b)
}

// ParseChannelSet is the inverse of String. Letters are case-insensitive and
// may appear in any order; "" and "none" yield the empty set.
func ParseChannelSet(s string) (ChannelSet, error) {
	if s == "none" {
		return 0, nil
	}
	var set ChannelSet
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'T', 't':
			set |= Temp
		case 'X', 'x':
			set |= X
		case 'Y', 'y':
			set |= Y
		case 'Z', 'z':
			set |= Z
		default:
			return 0, errcode.Newf(errcode.InvalidParams, "mlx90393.ParseChannelSet", "unknown channel "+string(s[i]))
		}
	}
	return set, nil
}

// Opcodes (upper nibble).
const (
	opStartBurst        = 0x10
	opStartWakeOnChange = 0x20
	opStartSingle       = 0x30
	opReadMeasurement   = 0x40
	opReadRegister      = 0x50
	opWriteRegister     = 0x60
	opExit              = 0x80
	opMemoryRecall      = 0xD0
	opMemoryStore       = 0xE0
	opReset             = 0xF0
)

// Command is one encoded command frame plus the length of its response.
type Command struct {
	tx    [4]byte
	n     uint8
	rxLen uint8
}

// Bytes returns the bytes to write on the bus.
func (c Command) Bytes() []byte { return c.tx[:c.n] }

// Opcode returns the first command byte with the channel bits masked off.
func (c Command) Opcode() byte { return c.tx[0] & 0xF0 }

// ResponseLen is the number of bytes the device answers with, status
// included.
func (c Command) ResponseLen() int { return int(c.rxLen) }

func single(op byte) Command {
	return Command{tx: [4]byte{op}, n: 1, rxLen: 1}
}

func withChannels(op byte, ch ChannelSet) Command {
	return single(op | byte(ch&AllChannels))
}

func StartBurst(ch ChannelSet) Command        { return withChannels(opStartBurst, ch) }
func StartWakeOnChange(ch ChannelSet) Command { return withChannels(opStartWakeOnChange, ch) }
func StartSingle(ch ChannelSet) Command       { return withChannels(opStartSingle, ch) }

// ReadMeasurement requests the channels in ch; the response carries the
// status byte followed by one big-endian word per channel.
func ReadMeasurement(ch ChannelSet) Command {
	c := withChannels(opReadMeasurement, ch)
	c.rxLen = uint8(MeasurementResponseLen(ch))
	return c
}

func ReadRegister(addr byte) Command {
	return Command{tx: [4]byte{opReadRegister, addr << 2}, n: 2, rxLen: 3}
}

func WriteRegister(addr byte, word uint16) Command {
	return Command{tx: [4]byte{opWriteRegister, byte(word >> 8), byte(word), addr << 2}, n: 4, rxLen: 1}
}

func Exit() Command         { return single(opExit) }
func MemoryRecall() Command { return single(opMemoryRecall) }
func MemoryStore() Command  { return single(opMemoryStore) }
func Reset() Command        { return single(opReset) }

// MeasurementResponseLen is 1 status byte + 2 bytes per enabled channel.
func MeasurementResponseLen(ch ChannelSet) int { return 1 + 2*ch.Count() }

// ---- Status ----

const (
	statusBurst    = 0x80
	statusWOC      = 0x40
	statusSM       = 0x20
	statusError    = 0x10
	statusSED      = 0x08
	statusRS       = 0x04
	statusRespMask = 0x03
)

// Status is the decoded first byte of every response.
type Status struct {
	Burst        bool
	WakeOnChange bool
	Single       bool
	Error        bool
	SED          bool // single error detected (ECC)
	ResetStatus  bool
	Response     uint8 // D1:D0
}

func DecodeStatus(b byte) Status {
	return Status{
		Burst:        b&statusBurst != 0,
		WakeOnChange: b&statusWOC != 0,
		Single:       b&statusSM != 0,
		Error:        b&statusError != 0,
		SED:          b&statusSED != 0,
		ResetStatus:  b&statusRS != 0,
		Response:     b & statusRespMask,
	}
}

// Byte re-encodes s.
func (s Status) Byte() byte {
	var b byte
	if s.Burst {
		b |= statusBurst
	}
	if s.WakeOnChange {
		b |= statusWOC
	}
	if s.Single {
		b |= statusSM
	}
	if s.Error {
		b |= statusError
	}
	if s.SED {
		b |= statusSED
	}
	if s.ResetStatus {
		b |= statusRS
	}
	return b | s.Response&statusRespMask
}

// ---- Measurement response ----

// RawSample is one RM response: status plus the words of the requested
// channels. Words of channels outside Channels are zero and never read.
type RawSample struct {
	Status   Status
	Channels ChannelSet
	words    [4]uint16
}

// NewRawSample builds a sample from explicit words, mostly for tests and
// simulators. Words for channels not in ch are dropped.
func NewRawSample(st Status, ch ChannelSet, t, x, y, z uint16) RawSample {
	s := RawSample{Status: st, Channels: ch & AllChannels}
	for i, w := range [4]uint16{t, x, y, z} {
		if s.Channels.Has(Channel(i)) {
			s.words[i] = w
		}
	}
	return s
}

// Word returns the raw word for c and whether c was measured.
func (s RawSample) Word(c Channel) (uint16, bool) {
	if c > ChanZ || !s.Channels.Has(c) {
		return 0, false
	}
	return s.words[c], true
}

// ParseMeasurement splits an RM response for ch into a RawSample.
func ParseMeasurement(ch ChannelSet, resp []byte) (RawSample, error) {
	if !ch.Valid() {
		return RawSample{}, errcode.Newf(errcode.InvalidParams, "mlx90393.ParseMeasurement", "channel bits out of range")
	}
	if len(resp) != MeasurementResponseLen(ch) {
		return RawSample{}, errcode.Newf(errcode.ChannelMismatch, "mlx90393.ParseMeasurement", "response length does not match channel set")
	}
	s := RawSample{Status: DecodeStatus(resp[0]), Channels: ch}
	i := 1
	for _, c := range responseOrder {
		if !ch.Has(c) {
			continue
		}
		s.words[c] = uint16(resp[i])<<8 | uint16(resp[i+1])
		i += 2
	}
	return s, nil
}

// AppendMeasurement is the inverse of ParseMeasurement.
func AppendMeasurement(dst []byte, s RawSample) []byte {
	dst = append(dst, s.Status.Byte())
	for _, c := range responseOrder {
		if w, ok := s.Word(c); ok {
			dst = append(dst, byte(w>>8), byte(w))
		}
	}
	return dst
}
