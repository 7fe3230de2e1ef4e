// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/ManuGH/scanlink/internal/mailbox"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/goleak"
)

type collected struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collected) Post(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return true
}

func (c *collected) all() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func startTestWorker(t *testing.T, d Decoder) (*worker, *collected, mailbox.Target[WorkerMessage]) {
	t.Helper()
	out := &collected{}
	w := newWorker("s-1", d, hints.New(hints.ModeQRCode), out, *quietLogger(), noop.NewTracerProvider().Tracer("test"))
	w.start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	target, err := w.ready.Wait(ctx)
	require.NoError(t, err)
	return w, out, target
}

func TestWorkerAnswersEveryRequestOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := DecoderFunc(func(_ context.Context, f *frame.Frame, _ hints.Hints) (*Result, error) {
		if f.Seq%2 == 0 {
			return &Result{Text: "even"}, nil
		}
		return nil, errNoSymbol
	})
	w, out, target := startTestWorker(t, d)

	for seq := uint64(1); seq <= 4; seq++ {
		require.True(t, target.Post(DecodeRequest{Kind: KindDecode, Frame: &frame.Frame{
			Data: make([]byte, 1), Width: 1, Height: 1, Format: frame.Gray8, Seq: seq,
		}}))
	}
	require.True(t, target.Post(Quit{}))
	require.True(t, w.join(time.Second))

	msgs := out.all()
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		seq := uint64(i + 1)
		if seq%2 == 0 {
			s, ok := m.(Succeeded)
			require.True(t, ok, "seq %d", seq)
			require.Equal(t, seq, s.Metadata.Seq)
			require.Equal(t, "s-1", s.Metadata.SessionID)
			continue
		}
		f, ok := m.(Failed)
		require.True(t, ok, "seq %d", seq)
		require.Equal(t, seq, f.Seq)
		require.ErrorIs(t, f.Err, errNoSymbol)
	}
}

func TestWorkerIgnoresRequestsAfterQuit(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, out, target := startTestWorker(t, failingDecoder())
	require.True(t, target.Post(Quit{}))
	require.True(t, w.join(time.Second))

	require.False(t, target.Post(DecodeRequest{Frame: &frame.Frame{Width: 1, Height: 1, Data: []byte{0}}}))
	require.Empty(t, out.all())
}

func TestWorkerRejectsRequestWithoutFrame(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	w, out, target := startTestWorker(t, failingDecoder())
	require.True(t, target.Post(DecodeRequest{Kind: KindDecode}))
	require.True(t, target.Post(Quit{}))
	require.True(t, w.join(time.Second))

	msgs := out.all()
	require.Len(t, msgs, 1)
	_, ok := msgs[0].(Failed)
	require.True(t, ok)
}

func TestWorkerNilResultIsFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := DecoderFunc(func(context.Context, *frame.Frame, hints.Hints) (*Result, error) { return nil, nil })
	w, out, target := startTestWorker(t, d)
	require.True(t, target.Post(DecodeRequest{Frame: &frame.Frame{Data: []byte{0}, Width: 1, Height: 1, Seq: 9}}))
	require.True(t, target.Post(Quit{}))
	require.True(t, w.join(time.Second))

	msgs := out.all()
	require.Len(t, msgs, 1)
	f, ok := msgs[0].(Failed)
	require.True(t, ok)
	require.Equal(t, uint64(9), f.Seq)
}

func TestWorkerPanicBecomesFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := DecoderFunc(func(context.Context, *frame.Frame, hints.Hints) (*Result, error) { panic("boom") })
	w, out, target := startTestWorker(t, d)
	require.True(t, target.Post(DecodeRequest{Frame: &frame.Frame{Data: []byte{0}, Width: 1, Height: 1, Seq: 5}}))
	require.True(t, target.Post(Quit{}))
	require.True(t, w.join(time.Second))

	msgs := out.all()
	require.Len(t, msgs, 1)
	f, ok := msgs[0].(Failed)
	require.True(t, ok)
	require.ErrorIs(t, f.Err, errDecoderPanic)
	require.Equal(t, uint64(5), f.Seq)
}

func TestWorkerJoinTimesOut(t *testing.T) {
	release := make(chan struct{})
	d := DecoderFunc(func(context.Context, *frame.Frame, hints.Hints) (*Result, error) {
		<-release
		return nil, errNoSymbol
	})
	w, _, target := startTestWorker(t, d)
	require.True(t, target.Post(DecodeRequest{Frame: &frame.Frame{Data: []byte{0}, Width: 1, Height: 1}}))
	require.True(t, target.Post(Quit{}))

	require.False(t, w.join(20*time.Millisecond))
	close(release)
	require.True(t, w.join(time.Second))
}
