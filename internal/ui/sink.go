// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ui is the headless UI collaborator of a capture session. It logs
// results, mirrors the latest scan to a file, records history and decides
// whether to keep scanning or hand the result back.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/scanlink/internal/capture"
	"github.com/ManuGH/scanlink/internal/history"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// Controls is the subset of the session controller the sink drives.
// Both methods only post messages, so they are safe from callbacks.
type Controls interface {
	RestartPreviewAndDecode()
	ReturnResult(payload any)
}

// Recorder persists scans.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (int64, error)
}

// Scan is the serialised form of a decode result.
type Scan struct {
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Format    string            `json:"format"`
	Seq       uint64            `json:"seq"`
	Points    []capture.Point   `json:"points,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	DecodedAt time.Time         `json:"decoded_at"`
	ElapsedMS float64           `json:"elapsed_ms"`
	HistoryID int64             `json:"history_id,omitempty"`
}

// Options configures a Sink.
type Options struct {
	// ResultFile receives the latest scan as JSON, replaced atomically. Empty disables it.
	ResultFile string
	// History records every scan when set.
	History Recorder
	// ReturnOnSuccess ends the session with the first scan instead of
	// scanning continuously.
	ReturnOnSuccess bool
	// RestartDelay keeps a result on screen before the next decode cycle.
	RestartDelay time.Duration
	Logger       *zerolog.Logger
}

// Sink implements capture.UI.
type Sink struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	controls Controls
	unbound  *Scan
	last     *Scan
	scans    int
	returned chan any
	once     sync.Once
}

var _ capture.UI = (*Sink)(nil)

// New returns an unbound Sink. Call Bind once the controller exists.
func New(opts Options) *Sink {
	logger := xglog.WithComponent("ui")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Sink{
		opts:     opts,
		logger:   logger,
		returned: make(chan any, 1),
	}
}

// Bind attaches the controller the sink drives after each result.
func (s *Sink) Bind(c Controls) {
	s.mu.Lock()
	s.controls = c
	pending := s.unbound
	s.unbound = nil
	s.mu.Unlock()

	// A result decoded before Bind still needs its follow-up.
	if pending != nil {
		s.proceed(c, *pending)
	}
}

// OnDecodeSuccess runs on the controller goroutine.
func (s *Sink) OnDecodeSuccess(result *capture.Result, meta *capture.Metadata) {
	scan := toScan(result, meta)
	var elapsed time.Duration
	if meta != nil {
		elapsed = meta.Elapsed
	}

	if s.opts.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		id, err := s.opts.History.Record(ctx, history.Entry{
			SessionID: scan.SessionID,
			Text:      scan.Text,
			Format:    scan.Format,
			Seq:       scan.Seq,
			ScannedAt: scan.DecodedAt,
			Elapsed:   elapsed,
		})
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to record scan history")
		} else {
			scan.HistoryID = id
		}
	}

	if s.opts.ResultFile != "" {
		if err := writeResultFile(s.opts.ResultFile, scan); err != nil {
			s.logger.Warn().Err(err).Str(xglog.FieldPath, s.opts.ResultFile).Msg("failed to write result file")
		}
	}

	s.mu.Lock()
	s.last = &scan
	s.scans++
	controls := s.controls
	if controls == nil {
		s.unbound = &scan
	}
	s.mu.Unlock()

	s.logger.Info().
		Str(xglog.FieldSessionID, scan.SessionID).
		Str(xglog.FieldFormat, scan.Format).
		Uint64(xglog.FieldSeq, scan.Seq).
		Float64(xglog.FieldElapsed, scan.ElapsedMS).
		Str("text", scan.Text).
		Msg("symbol decoded")

	if controls == nil {
		return
	}
	s.proceed(controls, scan)
}

func (s *Sink) proceed(controls Controls, scan Scan) {
	if s.opts.ReturnOnSuccess {
		controls.ReturnResult(scan)
		return
	}
	if s.opts.RestartDelay > 0 {
		time.AfterFunc(s.opts.RestartDelay, controls.RestartPreviewAndDecode)
		return
	}
	controls.RestartPreviewAndDecode()
}

// OnReturnResult runs on the controller goroutine. Only the first payload is kept.
func (s *Sink) OnReturnResult(payload any) {
	s.logger.Info().Interface("payload", payload).Msg("scan result returned")
	s.once.Do(func() {
		s.returned <- payload
		close(s.returned)
	})
}

// Returned delivers the payload handed back when the session ended with a
// result, then closes.
func (s *Sink) Returned() <-chan any { return s.returned }

// Last returns the most recent scan, or nil.
func (s *Sink) Last() *Scan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	c := *s.last
	return &c
}

// Count returns the number of scans seen.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans
}

func toScan(r *capture.Result, m *capture.Metadata) Scan {
	scan := Scan{}
	if r != nil {
		scan.Text = r.Text
		scan.Format = string(r.Format)
		scan.Points = r.Points
		scan.Extra = r.Extra
	}
	if m != nil {
		scan.SessionID = m.SessionID
		scan.Seq = m.Seq
		scan.DecodedAt = m.DecodedAt
		scan.ElapsedMS = float64(m.Elapsed.Microseconds()) / 1000
	}
	if scan.DecodedAt.IsZero() {
		scan.DecodedAt = time.Now()
	}
	return scan
}

func writeResultFile(path string, scan Scan) error {
	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending result file: %w", err)
	}
	defer func() {
		_ = pendingFile.Cleanup()
	}()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(scan); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace result file: %w", err)
	}
	return nil
}
