// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/ManuGH/scanlink/internal/mailbox"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errNoSymbol = errors.New("no symbol")

// eventLog records collaborator calls in order across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(e string) int {
	n := 0
	for _, got := range l.snapshot() {
		if got == e {
			n++
		}
	}
	return n
}

// fakeSource counts lifecycle calls. With deliver set it answers every
// frame request with a fresh frame.
type fakeSource struct {
	log     *eventLog
	deliver bool

	mu  sync.Mutex
	seq uint64
}

func (s *fakeSource) StartPreview() { s.log.add("startPreview") }
func (s *fakeSource) StopPreview()  { s.log.add("stopPreview") }

func (s *fakeSource) RequestFrame(target mailbox.Target[WorkerMessage], kind RequestKind) {
	s.log.add("requestFrame")
	if !s.deliver {
		return
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	target.Post(DecodeRequest{Kind: kind, Frame: &frame.Frame{
		Data:   make([]byte, 4),
		Width:  2,
		Height: 2,
		Format: frame.Gray8,
		Seq:    seq,
	}})
}

type successCall struct {
	result *Result
	meta   *Metadata
}

type fakeUI struct {
	log *eventLog

	mu        sync.Mutex
	successes []successCall
	returned  []any
}

func (u *fakeUI) OnDecodeSuccess(r *Result, m *Metadata) {
	u.log.add("onDecodeSuccess")
	u.mu.Lock()
	defer u.mu.Unlock()
	u.successes = append(u.successes, successCall{r, m})
}

func (u *fakeUI) OnReturnResult(payload any) {
	u.log.add("onReturnResult")
	u.mu.Lock()
	defer u.mu.Unlock()
	u.returned = append(u.returned, payload)
}

func (u *fakeUI) successCalls() []successCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]successCall(nil), u.successes...)
}

func (u *fakeUI) returnedPayloads() []any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]any(nil), u.returned...)
}

func failingDecoder() Decoder {
	return DecoderFunc(func(context.Context, *frame.Frame, hints.Hints) (*Result, error) {
		return nil, errNoSymbol
	})
}

type harness struct {
	log    *eventLog
	source *fakeSource
	ui     *fakeUI
	ctrl   *Controller
}

func quietLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func startHarness(t *testing.T, deliver bool, d Decoder, tweak func(*Options)) *harness {
	t.Helper()
	log := &eventLog{}
	h := &harness{
		log:    log,
		source: &fakeSource{log: log, deliver: deliver},
		ui:     &fakeUI{log: log},
	}
	opts := Options{
		Mode:    hints.ModeAll,
		Source:  h.source,
		Decoder: d,
		UI:      h.ui,
		Logger:  quietLogger(),
	}
	if tweak != nil {
		tweak(&opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ctrl, err := Start(ctx, opts)
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(func() {
		qctx, qcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer qcancel()
		_ = ctrl.QuitSynchronously(qctx)
	})
	return h
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := h.ctrl.State(ctx)
	require.NoError(t, err)
	return s
}

func (h *harness) quit(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.QuitSynchronously(ctx))
}
