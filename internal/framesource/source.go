// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package framesource implements capture.FrameSource on top of a single-slot
// frame mailbox. Producers Publish frames; at most one frame is held, a newer
// frame replaces an unconsumed older one. A one-shot RequestFrame is answered
// with the held frame, or with the next frame published.
package framesource

import (
	"sync"
	"time"

	"github.com/ManuGH/scanlink/internal/capture"
	"github.com/ManuGH/scanlink/internal/frame"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/ManuGH/scanlink/internal/mailbox"
	"github.com/ManuGH/scanlink/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type request struct {
	target mailbox.Target[capture.WorkerMessage]
	kind   capture.RequestKind
}

// Stats is a snapshot of source counters.
type Stats struct {
	Previewing bool
	Published  uint64
	Delivered  uint64
	Dropped    uint64
	LastSeq    uint64
	Pending    bool
	Held       bool
}

// Source is safe for concurrent use.
type Source struct {
	logger  zerolog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu         sync.Mutex
	previewing bool
	held       *frame.Frame
	pending    *request
	seq        uint64
	published  uint64
	delivered  uint64
	dropped    uint64
}

var _ capture.FrameSource = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithMaxFPS caps accepted frames per second. Zero or negative disables the cap.
func WithMaxFPS(fps float64) Option {
	return func(s *Source) {
		if fps > 0 {
			burst := int(fps)
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(fps), burst)
		}
	}
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// New returns a stopped Source.
func New(opts ...Option) *Source {
	s := &Source{
		logger: xglog.WithComponent("framesource"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartPreview begins accepting frames. Idempotent.
func (s *Source) StartPreview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.previewing {
		return
	}
	s.previewing = true
	s.logger.Debug().Msg("preview started")
}

// StopPreview stops accepting frames and forgets the held frame and any
// pending request. Idempotent.
func (s *Source) StopPreview() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.previewing {
		return
	}
	s.previewing = false
	if s.held != nil {
		s.dropped++
		metrics.IncFrameDrop("stopped")
	}
	s.held = nil
	s.pending = nil
	s.logger.Debug().Msg("preview stopped")
}

// RequestFrame arranges for one frame to be posted to target. A held frame
// is delivered at once; otherwise the next published frame is. A newer
// request replaces an unanswered one.
func (s *Source) RequestFrame(target mailbox.Target[capture.WorkerMessage], kind capture.RequestKind) {
	s.mu.Lock()
	if !s.previewing {
		s.mu.Unlock()
		s.logger.Debug().Str(xglog.FieldKind, string(kind)).Msg("frame requested while not previewing, ignored")
		return
	}
	if s.held == nil {
		s.pending = &request{target: target, kind: kind}
		s.mu.Unlock()
		return
	}
	f := s.held
	s.held = nil
	s.delivered++
	s.mu.Unlock()

	s.deliver(request{target: target, kind: kind}, f)
}

// Publish offers a frame. The source assigns Seq and, when unset, Timestamp.
// It reports whether the frame was accepted.
func (s *Source) Publish(f *frame.Frame) bool {
	if err := f.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("invalid frame rejected")
		metrics.IncFrameDrop("invalid")
		return false
	}

	s.mu.Lock()
	if !s.previewing {
		s.dropped++
		s.mu.Unlock()
		metrics.IncFrameDrop("not_previewing")
		return false
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.dropped++
		s.mu.Unlock()
		metrics.IncFrameDrop("rate_limited")
		return false
	}

	s.seq++
	fc := *f
	fc.Seq = s.seq
	if fc.Timestamp.IsZero() {
		fc.Timestamp = s.now()
	}
	s.published++
	metrics.FramesPublishedTotal.Inc()

	if req := s.pending; req != nil {
		s.pending = nil
		s.delivered++
		s.mu.Unlock()
		s.deliver(*req, &fc)
		return true
	}
	if s.held != nil {
		s.dropped++
		metrics.IncFrameDrop("overwritten")
	}
	s.held = &fc
	s.mu.Unlock()
	return true
}

func (s *Source) deliver(req request, f *frame.Frame) {
	metrics.IncFrameDelivered(string(req.kind))
	if !req.target.Post(capture.DecodeRequest{Frame: f, Kind: req.kind}) {
		s.logger.Debug().Uint64(xglog.FieldSeq, f.Seq).Msg("frame target closed, frame discarded")
	}
}

// Stats returns a snapshot of the source counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Previewing: s.previewing,
		Published:  s.published,
		Delivered:  s.delivered,
		Dropped:    s.dropped,
		LastSeq:    s.seq,
		Pending:    s.pending != nil,
		Held:       s.held != nil,
	}
}
