// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/gate"
	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/ManuGH/scanlink/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestStartRejectsMissingCollaborators(t *testing.T) {
	_, err := Start(context.Background(), Options{})
	require.ErrorIs(t, err, ErrInvalidOptions)

	_, err = Start(context.Background(), Options{Source: &fakeSource{log: &eventLog{}}, Decoder: failingDecoder()})
	require.ErrorIs(t, err, ErrInvalidOptions)
}

func TestStartIssuesExactlyOnePreviewAndRequest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, false, failingDecoder(), nil)

	require.Equal(t, []string{"startPreview", "requestFrame"}, h.log.snapshot())
	require.Equal(t, StatePreviewing, h.state(t))
	require.Equal(t, hints.ModeAll, h.ctrl.Hints().Mode())
	require.NotEmpty(t, h.ctrl.SessionID())

	h.quit(t)
}

func TestFailedOutcomeReissuesRequestWithoutUI(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, false, failingDecoder(), nil)
	require.Equal(t, 1, h.log.count("requestFrame"))

	require.True(t, h.ctrl.Results().Post(Failed{Err: errNoSymbol}))
	require.Eventually(t, func() bool { return h.log.count("requestFrame") == 2 }, time.Second, 5*time.Millisecond)

	require.Equal(t, StatePreviewing, h.state(t))
	require.Equal(t, 2, h.log.count("requestFrame"))
	require.Empty(t, h.ui.successCalls())

	h.quit(t)
}

func TestSucceededOutcomeForwardsSameInstances(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, false, failingDecoder(), nil)

	r := &Result{Text: "hello", Format: hints.FormatQRCode}
	m := &Metadata{Seq: 3}
	require.True(t, h.ctrl.Results().Post(Succeeded{Result: r, Metadata: m}))

	require.Eventually(t, func() bool { return len(h.ui.successCalls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, StateSuccess, h.state(t))

	calls := h.ui.successCalls()
	require.Len(t, calls, 1)
	require.Same(t, r, calls[0].result)
	require.Same(t, m, calls[0].meta)

	// A second outcome in SUCCESS is ignored.
	require.True(t, h.ctrl.Results().Post(Succeeded{Result: r, Metadata: m}))
	require.Equal(t, StateSuccess, h.state(t))
	require.Len(t, h.ui.successCalls(), 1)

	h.quit(t)
}

func TestRestartIsGuardedByState(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, false, failingDecoder(), nil)
	ignoredBefore := getCounterValue(t, metrics.SessionEventsIgnoredTotal.WithLabelValues(string(StatePreviewing), string(EventRestart)))

	// PREVIEWING: restart is a no-op.
	h.ctrl.RestartPreviewAndDecode()
	require.Equal(t, StatePreviewing, h.state(t))
	require.Equal(t, 1, h.log.count("requestFrame"))
	ignoredAfter := getCounterValue(t, metrics.SessionEventsIgnoredTotal.WithLabelValues(string(StatePreviewing), string(EventRestart)))
	require.Equal(t, ignoredBefore+1, ignoredAfter)

	// SUCCESS: restart issues the next request.
	require.True(t, h.ctrl.Results().Post(Succeeded{Result: &Result{Text: "x"}, Metadata: &Metadata{}}))
	require.Equal(t, StateSuccess, h.state(t))
	h.ctrl.RestartPreviewAndDecode()
	require.Equal(t, StatePreviewing, h.state(t))
	require.Equal(t, 2, h.log.count("requestFrame"))

	// DONE: nothing reaches the source any more.
	h.quit(t)
	h.ctrl.RestartPreviewAndDecode()
	require.Equal(t, StateDone, h.state(t))
	require.Equal(t, 2, h.log.count("requestFrame"))
}

func TestEndToEndFailuresThenSuccess(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls atomic.Int32
	var acceptedQR atomic.Bool
	d := DecoderFunc(func(_ context.Context, _ *frame.Frame, h hints.Hints) (*Result, error) {
		if calls.Add(1) < 4 {
			return nil, errNoSymbol
		}
		acceptedQR.Store(h.Accepts(hints.FormatQRCode))
		return &Result{Text: "payload", Format: hints.FormatQRCode}, nil
	})

	h := startHarness(t, true, d, nil)
	require.Eventually(t, func() bool { return len(h.ui.successCalls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, acceptedQR.Load())
	got := h.ui.successCalls()[0]
	require.Equal(t, "payload", got.result.Text)
	require.Equal(t, uint64(4), got.meta.Seq)
	require.Equal(t, h.ctrl.SessionID(), got.meta.SessionID)
	require.Equal(t, 2, got.meta.FrameWidth)
	require.NotNil(t, got.meta.Frame)

	require.Equal(t, StateSuccess, h.state(t))
	require.Equal(t, 4, h.log.count("requestFrame"))

	h.quit(t)
}

func TestDecoderPanicCountsAsFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var calls atomic.Int32
	d := DecoderFunc(func(context.Context, *frame.Frame, hints.Hints) (*Result, error) {
		if calls.Add(1) == 1 {
			panic("corrupt buffer")
		}
		return &Result{Text: "ok"}, nil
	})

	h := startHarness(t, true, d, nil)
	require.Eventually(t, func() bool { return len(h.ui.successCalls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, h.log.count("requestFrame"))

	h.quit(t)
}

func TestReturnResultEndsSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, false, failingDecoder(), nil)

	h.ctrl.ReturnResult("scan-result")
	select {
	case <-h.ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after ReturnResult")
	}

	require.Equal(t, []any{"scan-result"}, h.ui.returnedPayloads())
	require.Equal(t, []string{"startPreview", "requestFrame", "onReturnResult", "stopPreview"}, h.log.snapshot())
	require.Equal(t, StateDone, h.state(t))
}

func TestReturnResultFromSuccess(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, false, failingDecoder(), nil)
	require.True(t, h.ctrl.Results().Post(Succeeded{Result: &Result{Text: "x"}, Metadata: &Metadata{}}))
	require.Equal(t, StateSuccess, h.state(t))

	h.ctrl.ReturnResult(42)
	<-h.ctrl.Done()
	require.Equal(t, []any{42}, h.ui.returnedPayloads())
}

func TestQuitSynchronouslyPurgesLateOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var ctrl atomic.Pointer[Controller]
	h := startHarness(t, false, failingDecoder(), func(o *Options) {
		o.beforeJoin = func() {
			// Outcomes racing the join must never reach the UI.
			c := ctrl.Load()
			c.Results().Post(Succeeded{Result: &Result{Text: "late"}, Metadata: &Metadata{}})
			c.Results().Post(Failed{Err: errNoSymbol})
		}
	})
	ctrl.Store(h.ctrl)

	before := getCounterValue(t, metrics.MailboxPurgedTotal.WithLabelValues(controllerMailbox, metrics.PurgeReasonRemoved))
	h.quit(t)
	after := getCounterValue(t, metrics.MailboxPurgedTotal.WithLabelValues(controllerMailbox, metrics.PurgeReasonRemoved))

	require.Empty(t, h.ui.successCalls())
	require.GreaterOrEqual(t, after-before, float64(2))
	require.Equal(t, 1, h.log.count("requestFrame"))

	// Anything arriving after shutdown is dropped.
	require.False(t, h.ctrl.Results().Post(Succeeded{Result: &Result{}, Metadata: &Metadata{}}))
	require.Empty(t, h.ui.successCalls())
}

func TestQuitSynchronouslyIsBoundedWhenDecodeHangs(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	release := make(chan struct{})
	entered := make(chan struct{})
	var once atomic.Bool
	d := DecoderFunc(func(context.Context, *frame.Frame, hints.Hints) (*Result, error) {
		if once.CompareAndSwap(false, true) {
			close(entered)
		}
		<-release
		return nil, errNoSymbol
	})

	const ceiling = 100 * time.Millisecond
	var joinLog *eventLog
	h := startHarness(t, true, d, func(o *Options) {
		o.JoinTimeout = ceiling
		o.beforeJoin = func() { joinLog.add("join") }
	})
	joinLog = h.log

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("decoder never invoked")
	}

	timeoutsBefore := getCounterValue(t, metrics.WorkerJoinTimeoutsTotal)
	start := time.Now()
	h.quit(t)
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, ceiling)
	require.Less(t, elapsed, ceiling+time.Second)
	require.Equal(t, timeoutsBefore+1, getCounterValue(t, metrics.WorkerJoinTimeoutsTotal))

	events := h.log.snapshot()
	stopIdx, joinIdx := -1, -1
	for i, e := range events {
		switch e {
		case "stopPreview":
			stopIdx = i
		case "join":
			joinIdx = i
		}
	}
	require.NotEqual(t, -1, stopIdx)
	require.NotEqual(t, -1, joinIdx)
	require.Less(t, stopIdx, joinIdx)

	// Letting the abandoned decode finish must not leak anything to the UI.
	close(release)
	require.Eventually(t, func() bool {
		return goleak.Find(ignore) == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, h.ui.successCalls())
}

func TestQuitSynchronouslyTwiceIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, false, failingDecoder(), nil)
	h.quit(t)
	h.quit(t)
	require.Equal(t, 1, h.log.count("stopPreview"))
}

type blockingPreparer struct {
	release chan struct{}
}

func (p *blockingPreparer) Decode(context.Context, *frame.Frame, hints.Hints) (*Result, error) {
	return nil, errNoSymbol
}

func (p *blockingPreparer) Prepare(hints.Hints) (Decoder, error) {
	<-p.release
	return p, nil
}

func TestStartFailsWhenWorkerNeverReady(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := &blockingPreparer{release: make(chan struct{})}
	log := &eventLog{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := Start(ctx, Options{
		Mode:    hints.ModeQRCode,
		Source:  &fakeSource{log: log},
		Decoder: p,
		UI:      &fakeUI{log: log},
		Logger:  quietLogger(),
	})
	require.ErrorIs(t, err, ErrWorkerNotReady)
	require.ErrorIs(t, err, gate.ErrUnavailable)
	require.Empty(t, log.snapshot())

	// The late worker is told to quit once it comes up.
	close(p.release)
}

type failingPreparer struct{}

func (failingPreparer) Decode(context.Context, *frame.Frame, hints.Hints) (*Result, error) {
	return &Result{Text: "unreachable"}, nil
}

func (failingPreparer) Prepare(hints.Hints) (Decoder, error) {
	return nil, errors.New("no reader for mode")
}

func TestPrepareFailureReportsFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := startHarness(t, true, failingPreparer{}, nil)
	require.Eventually(t, func() bool { return h.log.count("requestFrame") >= 3 }, time.Second, 5*time.Millisecond)
	require.Empty(t, h.ui.successCalls())
	h.quit(t)
}
