package monitor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magarray-go/bus"
	"magarray-go/wire"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sample(i int) wire.Message {
	return wire.NewMessage(wire.MagneticField{
		X: wire.Some(float32(i)),
		Z: wire.Some(-1.5),
		T: wire.SomeCelsius(24.25),
	}, wire.Position{X: float32(i) * 4.5, Y: -2.25})
}

func frames(t *testing.T, msgs ...wire.Message) []byte {
	t.Helper()
	var out []byte
	for _, m := range msgs {
		var err error
		out, err = wire.AppendFrame(out, m)
		require.NoError(t, err)
	}
	return out
}

// fakePort is a serial port stand-in over a fixed byte stream.
type fakePort struct {
	r       io.Reader
	written bytes.Buffer
	resets  int
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) ResetInputBuffer() error     { p.resets++; return nil }

func drain(sub *bus.Subscription[wire.Message]) []wire.Message {
	var out []wire.Message
	for {
		select {
		case m := <-sub.Channel():
			out = append(out, m.Payload)
		default:
			return out
		}
	}
}

func TestStreamPublishesEveryFrame(t *testing.T) {
	want := []wire.Message{sample(0), sample(1), sample(2)}
	stream := append([]byte{0x7F, 0x33, 0x00}, frames(t, want...)...)
	port := &fakePort{r: bytes.NewReader(stream)}

	b := bus.New[wire.Message](16)
	sub := b.Subscribe(bus.T(TopicField, bus.AnyOne))
	m := New(port, b, Options{Preamble: true, Logger: quiet()})

	require.NoError(t, m.Run(context.Background()))
	if diff := cmp.Diff(want, drain(sub)); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
	assert.Equal(t, bytes.Repeat([]byte{0x01}, PreambleLen), port.written.Bytes())
	assert.Equal(t, Stats{Messages: 3}, m.Stats())
	assert.Zero(t, port.resets)
}

func TestStreamSkipsCorruptFrames(t *testing.T) {
	good := frames(t, sample(7))
	stream := append([]byte{}, good...)
	stream = append(stream, 0x05, 0x11, 0x00) // COBS code overruns the frame
	stream = append(stream, good...)

	b := bus.New[wire.Message](16)
	sub := b.Subscribe(bus.T(bus.AnyRest))
	m := New(bytes.NewReader(stream), b, Options{Synced: true, Logger: quiet()})

	require.NoError(t, m.Run(context.Background()))
	assert.Len(t, drain(sub), 2)
	assert.Equal(t, Stats{Messages: 2, DecodeErrors: 1}, m.Stats())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestStreamReturnsTransportError(t *testing.T) {
	m := New(failingReader{}, bus.New[wire.Message](1), Options{Logger: quiet()})
	err := m.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
	assert.Equal(t, uint64(1), m.Stats().ReadErrors)
}

func TestRetainedLatestPerSensor(t *testing.T) {
	a, a2, c := sample(1), sample(1), sample(2)
	a2.Field.X = wire.Some(99)
	b := bus.New[wire.Message](4)
	m := New(bytes.NewReader(frames(t, a, c, a2)), b, Options{Synced: true, Logger: quiet()})
	require.NoError(t, m.Run(context.Background()))

	got := b.Subscribe(FieldTopic(a.Position))
	msg := <-got.Channel()
	assert.True(t, msg.Retained)
	assert.Equal(t, a2, msg.Payload)
}

// block pads one frame into a legacy fixed-size block.
func block(t *testing.T, m wire.Message) []byte {
	b := make([]byte, wire.BlockSize)
	copy(b[1:], frames(t, m))
	return b
}

func TestBlockMode(t *testing.T) {
	var stream []byte
	stream = append(stream, block(t, sample(3))...)
	stream = append(stream, bytes.Repeat([]byte{0xAA}, wire.BlockSize)...) // no boundary
	stream = append(stream, block(t, sample(4))...)
	port := &fakePort{r: bytes.NewReader(stream)}

	b := bus.New[wire.Message](16)
	sub := b.Subscribe(bus.T(TopicField, bus.AnyRest))
	m := New(port, b, Options{Block: true, Poll: time.Millisecond, Logger: quiet()})

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, []wire.Message{sample(3), sample(4)}, drain(sub))
	assert.Equal(t, Stats{Messages: 2, ReadErrors: 1}, m.Stats())
	assert.Equal(t, 3, port.resets)
	assert.Zero(t, port.written.Len())
}

func TestBlockModeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := New(strings.NewReader(""), bus.New[wire.Message](1), Options{Block: true, Logger: quiet()})
	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
}

// idlePort behaves like a serial port whose read timeout expires with no
// input.
type idlePort struct{ reads, resets int }

func (p *idlePort) Read([]byte) (int, error) { p.reads++; return 0, nil }
func (p *idlePort) ResetInputBuffer() error  { p.resets++; return nil }

func TestIdleLineIsPolledNotSpun(t *testing.T) {
	for _, blockMode := range []bool{true, false} {
		port := &idlePort{}
		m := New(port, bus.New[wire.Message](1), Options{Block: blockMode, Poll: 5 * time.Millisecond, Logger: quiet()})

		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		err := m.Run(ctx)
		cancel()

		assert.ErrorIs(t, err, context.DeadlineExceeded, "block=%v", blockMode)
		st := m.Stats()
		assert.Zero(t, st.ReadErrors, "block=%v", blockMode)
		assert.Positive(t, st.IdlePolls, "block=%v", blockMode)
		assert.Equal(t, uint64(port.reads), st.IdlePolls, "block=%v", blockMode)
		if blockMode {
			// One read per poll interval.
			assert.LessOrEqual(t, port.reads, 9)
			assert.Equal(t, port.reads, port.resets)
		}
	}
}

func TestFieldTopic(t *testing.T) {
	assert.Equal(t, "field/6.75,-2.25,0.00", FieldTopic(wire.Position{X: 6.75, Y: -2.25}).String())
}

func TestRender(t *testing.T) {
	var out strings.Builder
	require.NoError(t, Render(&out, sample(1)))
	assert.Equal(t, "x: 4.50\ty: -2.25\tz: 0.00\nBx: 1.000\tBy: 0.000\tBz: -1.500\tTemp: 24.250\n", out.String())
}

func TestPrinter(t *testing.T) {
	b := bus.New[wire.Message](4)
	sub := b.Subscribe(bus.T(TopicField, bus.AnyOne))
	b.Publish(FieldTopic(sample(0).Position), sample(0), false)
	b.Publish(FieldTopic(sample(1).Position), sample(1), false)
	sub.Unsubscribe()

	var out strings.Builder
	require.NoError(t, NewPrinter(&out).Run(context.Background(), sub))
	assert.Equal(t, 4, strings.Count(out.String(), "\n"))
	assert.True(t, strings.HasPrefix(out.String(), "x: 0.00\t"))
}
