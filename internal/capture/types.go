// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"time"

	"github.com/ManuGH/scanlink/internal/frame"
	"github.com/ManuGH/scanlink/internal/hints"
	"github.com/ManuGH/scanlink/internal/mailbox"
)

// State is the session lifecycle owned by the controller goroutine.
type State string

const (
	StatePreviewing State = "PREVIEWING"
	StateSuccess    State = "SUCCESS"
	StateDone       State = "DONE"
)

// IsTerminal returns true if no event can leave the state.
func (s State) IsTerminal() bool {
	return s == StateDone
}

// Event drives the session state machine.
type Event string

const (
	EventRestart   Event = "restart_preview"
	EventSucceeded Event = "decode_succeeded"
	EventFailed    Event = "decode_failed"
	EventReturn    Event = "return_scan_result"
	EventQuit      Event = "quit"
)

// RequestKind tags a frame request so the source knows what message to build.
type RequestKind string

const KindDecode RequestKind = "decode"

// Point is a location of a symbol feature in frame coordinates.
type Point struct {
	X, Y float64
}

// Result is the payload of a successful decode.
type Result struct {
	Text     string
	Format   hints.Format
	RawBytes []byte
	Points   []Point
	Extra    map[string]string
}

// Metadata describes the frame and decode call that produced a Result.
type Metadata struct {
	SessionID   string
	Seq         uint64
	FrameWidth  int
	FrameHeight int
	CapturedAt  time.Time
	DecodedAt   time.Time
	Elapsed     time.Duration
	// Frame is the buffer the symbol was found in, for previews.
	Frame *frame.Frame
}

// WorkerMessage is anything the decode worker accepts.
type WorkerMessage interface {
	workerMessage()
}

// DecodeRequest asks the worker to decode one frame.
type DecodeRequest struct {
	Frame *frame.Frame
	Kind  RequestKind
}

// Quit stops the worker loop. Messages queued behind it are never processed.
type Quit struct{}

func (DecodeRequest) workerMessage() {}
func (Quit) workerMessage()          {}

// Message is anything the session controller accepts.
type Message interface {
	controllerMessage()
}

// Succeeded is the outcome of a decode that found a symbol.
type Succeeded struct {
	Result   *Result
	Metadata *Metadata
}

// Failed is the outcome of a decode that found nothing or could not run.
type Failed struct {
	Seq uint64
	Err error
}

type restartRequest struct{}

type returnRequest struct {
	payload any
}

type quitRequest struct{}

type stateQuery struct {
	reply chan State
}

func (Succeeded) controllerMessage()      {}
func (Failed) controllerMessage()         {}
func (restartRequest) controllerMessage() {}
func (returnRequest) controllerMessage()  {}
func (quitRequest) controllerMessage()    {}
func (stateQuery) controllerMessage()     {}

func isOutcome(m Message) bool {
	switch m.(type) {
	case Succeeded, Failed:
		return true
	}
	return false
}

// FrameSource is the camera side of a session.
type FrameSource interface {
	StartPreview()
	StopPreview()
	// RequestFrame arranges for exactly one future frame to be posted to
	// target as a DecodeRequest of the given kind.
	RequestFrame(target mailbox.Target[WorkerMessage], kind RequestKind)
}

// Decoder is the external symbol decoding operation.
type Decoder interface {
	Decode(ctx context.Context, f *frame.Frame, h hints.Hints) (*Result, error)
}

// Preparer is implemented by decoders that build per-worker state (readers,
// scratch buffers) once the worker goroutine starts.
type Preparer interface {
	Prepare(h hints.Hints) (Decoder, error)
}

// DecoderFunc adapts a function to a Decoder.
type DecoderFunc func(ctx context.Context, f *frame.Frame, h hints.Hints) (*Result, error)

func (fn DecoderFunc) Decode(ctx context.Context, f *frame.Frame, h hints.Hints) (*Result, error) {
	return fn(ctx, f, h)
}

// UI receives session results. Both methods run on the controller goroutine
// and must not call Controller.QuitSynchronously; use Controller.Quit instead.
type UI interface {
	OnDecodeSuccess(result *Result, meta *Metadata)
	OnReturnResult(payload any)
}
