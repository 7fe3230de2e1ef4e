// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/gate"
	"github.com/ManuGH/scanlink/internal/hints"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/ManuGH/scanlink/internal/mailbox"
	"github.com/ManuGH/scanlink/internal/metrics"
	"github.com/ManuGH/scanlink/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const workerMailbox = "decode_worker"

var errDecoderPanic = errors.New("decoder panicked")

// worker owns the decode goroutine. Its mailbox is created on that goroutine
// and only published through ready.
type worker struct {
	sessionID string
	decoder   Decoder
	hints     hints.Hints
	results   mailbox.Target[Message]
	ready     *gate.Gate[mailbox.Target[WorkerMessage]]
	done      chan struct{}
	logger    zerolog.Logger
	tracer    trace.Tracer
}

func newWorker(sessionID string, d Decoder, h hints.Hints, results mailbox.Target[Message], logger zerolog.Logger, tracer trace.Tracer) *worker {
	return &worker{
		sessionID: sessionID,
		decoder:   d,
		hints:     h,
		results:   results,
		ready:     gate.New[mailbox.Target[WorkerMessage]](),
		done:      make(chan struct{}),
		logger:    logger,
		tracer:    tracer,
	}
}

// start launches the worker goroutine. ctx carries values only; the loop
// ends on Quit, never on cancellation.
func (w *worker) start(ctx context.Context) {
	go w.run(context.WithoutCancel(ctx))
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	decoder := w.decoder
	if p, ok := w.decoder.(Preparer); ok {
		prepared, err := p.Prepare(w.hints)
		if err != nil {
			w.logger.Error().Err(err).Msg("decoder prepare failed, every frame will report failure")
			decoder = DecoderFunc(func(context.Context, *frame.Frame, hints.Hints) (*Result, error) {
				return nil, fmt.Errorf("decoder unavailable: %w", err)
			})
		} else {
			decoder = prepared
		}
	}

	box := mailbox.New[WorkerMessage](workerMailbox)
	defer box.Close()

	// Publish before the first Next so no request can race initialisation.
	if err := w.ready.Fire(box); err != nil {
		w.logger.Error().Err(err).Msg("worker readiness already published")
		return
	}

	for {
		msg, err := box.Next(ctx)
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case Quit:
			w.logger.Debug().Msg("decode worker quit")
			return
		case DecodeRequest:
			w.results.Post(w.decode(ctx, decoder, m))
		}
	}
}

// decode runs one decode call and always yields exactly one outcome.
func (w *worker) decode(ctx context.Context, d Decoder, req DecodeRequest) (out Message) {
	var seq uint64
	if req.Frame != nil {
		seq = req.Frame.Seq
	}

	ctx, span := w.tracer.Start(ctx, "capture.decode", trace.WithAttributes(
		telemetry.SessionAttributes(w.sessionID, string(w.hints.Mode()))...,
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().
				Uint64(xglog.FieldSeq, seq).
				Interface("panic", r).
				Msg("decoder panicked")
			metrics.ObserveDecode("panic", time.Since(start))
			span.SetStatus(codes.Error, "panic")
			out = Failed{Seq: seq, Err: fmt.Errorf("%w: %v", errDecoderPanic, r)}
		}
	}()

	if req.Frame == nil {
		metrics.ObserveDecode("failed", time.Since(start))
		return Failed{Err: errors.New("decode request without frame")}
	}
	span.SetAttributes(telemetry.FrameAttributes(req.Frame.Seq, req.Frame.Width, req.Frame.Height)...)

	result, err := d.Decode(ctx, req.Frame, w.hints)
	elapsed := time.Since(start)
	if err != nil || result == nil {
		if err == nil {
			err = errors.New("decoder returned no result")
		}
		metrics.ObserveDecode("failed", elapsed)
		span.SetAttributes(telemetry.DecodeAttributes("failed", "")...)
		w.logger.Debug().Err(err).Uint64(xglog.FieldSeq, seq).Msg("no symbol in frame")
		return Failed{Seq: seq, Err: err}
	}

	metrics.ObserveDecode("succeeded", elapsed)
	span.SetAttributes(telemetry.DecodeAttributes("succeeded", string(result.Format))...)
	return Succeeded{
		Result: result,
		Metadata: &Metadata{
			SessionID:   w.sessionID,
			Seq:         seq,
			FrameWidth:  req.Frame.Width,
			FrameHeight: req.Frame.Height,
			CapturedAt:  req.Frame.Timestamp,
			DecodedAt:   time.Now(),
			Elapsed:     elapsed,
			Frame:       req.Frame,
		},
	}
}

// join waits for the worker goroutine to exit, at most timeout.
func (w *worker) join(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}
