// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/scanlink/internal/fsm"
	"github.com/ManuGH/scanlink/internal/hints"
	xglog "github.com/ManuGH/scanlink/internal/log"
	"github.com/ManuGH/scanlink/internal/mailbox"
	"github.com/ManuGH/scanlink/internal/metrics"
	"github.com/ManuGH/scanlink/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DefaultJoinTimeout bounds how long shutdown waits for the decode worker.
const DefaultJoinTimeout = 500 * time.Millisecond

const controllerMailbox = "session_controller"

var (
	ErrInvalidOptions = errors.New("invalid capture options")
	ErrWorkerNotReady = errors.New("decode worker did not become ready")
)

// Options configures a capture session.
type Options struct {
	Mode        hints.Mode
	HintOptions []hints.Option

	Source  FrameSource
	Decoder Decoder
	UI      UI

	// JoinTimeout bounds the wait for the worker during shutdown.
	// Zero means DefaultJoinTimeout.
	JoinTimeout time.Duration

	// SessionID identifies the session in logs and metadata. Generated when empty.
	SessionID string

	Logger *zerolog.Logger
	Tracer trace.Tracer

	beforeJoin func()
}

func (o Options) validate() error {
	switch {
	case o.Source == nil:
		return fmt.Errorf("%w: frame source is required", ErrInvalidOptions)
	case o.Decoder == nil:
		return fmt.Errorf("%w: decoder is required", ErrInvalidOptions)
	case o.UI == nil:
		return fmt.Errorf("%w: ui is required", ErrInvalidOptions)
	case o.JoinTimeout < 0:
		return fmt.Errorf("%w: join timeout must not be negative", ErrInvalidOptions)
	}
	return nil
}

// Controller is the session state machine. Every state change happens on
// its own goroutine in response to a message; public methods only post.
type Controller struct {
	sessionID   string
	hints       hints.Hints
	source      FrameSource
	ui          UI
	joinTimeout time.Duration
	logger      zerolog.Logger

	box     *mailbox.Mailbox[Message]
	machine *fsm.Machine[State, Event]
	worker  *worker
	target  mailbox.Target[WorkerMessage]
	ctx     context.Context

	stopped bool
	done    chan struct{}

	// beforeJoin is a test hook run right before the bounded worker join.
	beforeJoin func()
}

type payloadKey struct{}

func withPayload(ctx context.Context, m Message) context.Context {
	return context.WithValue(ctx, payloadKey{}, m)
}

func payloadFrom(ctx context.Context) Message {
	m, _ := ctx.Value(payloadKey{}).(Message)
	return m
}

// Start builds the hints, starts the decode worker, waits for it to become
// ready, starts the preview and issues the first decode request. ctx bounds
// only the readiness wait.
func Start(ctx context.Context, opts Options) (*Controller, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.JoinTimeout == 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}
	logger := xglog.WithComponent("capture")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str(xglog.FieldSessionID, opts.SessionID).Logger()
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer("github.com/ManuGH/scanlink/internal/capture")
	}

	c := &Controller{
		sessionID:   opts.SessionID,
		hints:       hints.New(opts.Mode, opts.HintOptions...),
		source:      opts.Source,
		ui:          opts.UI,
		joinTimeout: opts.JoinTimeout,
		logger:      logger,
		box:         mailbox.New[Message](controllerMailbox),
		ctx:         xglog.ContextWithSessionID(context.WithoutCancel(ctx), opts.SessionID),
		done:        make(chan struct{}),
		beforeJoin:  opts.beforeJoin,
	}

	machine, err := fsm.New(StateSuccess, c.transitions(),
		fsm.WithTerminal[State, Event](StateDone),
		fsm.WithObserver(c.observe),
	)
	if err != nil {
		return nil, fmt.Errorf("build session state machine: %w", err)
	}
	c.machine = machine

	c.worker = newWorker(c.sessionID, opts.Decoder, c.hints, c.box, logger.With().Str(xglog.FieldMailbox, workerMailbox).Logger(), tracer)
	c.worker.start(c.ctx)

	target, err := c.worker.ready.Wait(ctx)
	if err != nil {
		c.box.Close()
		c.abandonWorker()
		close(c.done)
		return nil, fmt.Errorf("%w: %w", ErrWorkerNotReady, err)
	}
	c.target = target

	logger.Info().
		Str(xglog.FieldMode, string(c.hints.Mode())).
		Int("formats", len(c.hints.Formats())).
		Msg("capture session started")
	metrics.ActiveSessions.Inc()

	c.source.StartPreview()
	c.restartPreviewAndDecode()

	go c.loop()
	return c, nil
}

// abandonWorker tells a worker that outlived a failed Start to quit once it
// reports ready.
func (c *Controller) abandonWorker() {
	go func() {
		target, err := c.worker.ready.Wait(context.Background())
		if err == nil {
			target.Post(Quit{})
		}
	}()
}

func (c *Controller) transitions() []fsm.Transition[State, Event] {
	request := func(reason string) func(context.Context, State, State, Event) error {
		return func(context.Context, State, State, Event) error {
			c.requestFrame(reason)
			return nil
		}
	}
	forward := func(ctx context.Context, _, _ State, _ Event) error {
		if s, ok := payloadFrom(ctx).(Succeeded); ok {
			c.ui.OnDecodeSuccess(s.Result, s.Metadata)
		}
		return nil
	}
	returnResult := func(ctx context.Context, _, _ State, _ Event) error {
		var payload any
		if r, ok := payloadFrom(ctx).(returnRequest); ok {
			payload = r.payload
		}
		c.ui.OnReturnResult(payload)
		c.shutdown("return_result")
		return nil
	}

	return []fsm.Transition[State, Event]{
		{From: StateSuccess, Event: EventRestart, To: StatePreviewing, Action: request("restart")},
		{From: StateSuccess, Event: EventSucceeded, To: StateSuccess},
		{From: StateSuccess, Event: EventFailed, To: StateSuccess},
		{From: StateSuccess, Event: EventReturn, To: StateDone, Action: returnResult},

		{From: StatePreviewing, Event: EventSucceeded, To: StateSuccess, Action: forward},
		{From: StatePreviewing, Event: EventFailed, To: StatePreviewing, Action: request("retry")},
		{From: StatePreviewing, Event: EventReturn, To: StateDone, Action: returnResult},
	}
}

func (c *Controller) observe(from, to State, event Event) {
	metrics.IncSessionTransition(string(from), string(to), string(event))
	if from == to {
		return
	}
	c.logger.Debug().
		Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Str(xglog.FieldEvent, string(event)).
		Msg("session state changed")
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		msg, err := c.box.Next(context.Background())
		if err != nil {
			return
		}
		c.handle(msg)
	}
}

func (c *Controller) handle(msg Message) {
	switch m := msg.(type) {
	case restartRequest:
		c.restartPreviewAndDecode()
	case Succeeded:
		c.fire(EventSucceeded, m)
	case Failed:
		c.fire(EventFailed, m)
	case returnRequest:
		c.fire(EventReturn, m)
	case quitRequest:
		c.shutdown("quit")
	case stateQuery:
		m.reply <- c.machine.State()
	}
}

func (c *Controller) fire(event Event, msg Message) {
	from := c.machine.State()
	_, err := c.machine.Fire(withPayload(c.ctx, msg), event)
	if err == nil {
		return
	}
	if errors.Is(err, fsm.ErrInvalidTransition) || errors.Is(err, fsm.ErrTerminal) {
		metrics.IncSessionEventIgnored(string(from), string(event))
		c.logger.Debug().
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldEvent, string(event)).
			Msg("session event ignored")
		return
	}
	c.logger.Warn().Err(err).Str(xglog.FieldEvent, string(event)).Msg("session transition failed")
}

// restartPreviewAndDecode only issues a request from SUCCESS, so a failure
// retry and a restart can never both be outstanding.
func (c *Controller) restartPreviewAndDecode() {
	c.fire(EventRestart, restartRequest{})
}

func (c *Controller) requestFrame(reason string) {
	metrics.IncFrameRequest(reason)
	c.source.RequestFrame(c.target, KindDecode)
}

// shutdown runs on the controller goroutine. The order of steps matters:
// DONE first, preview stopped before the worker quits, outcomes purged last.
func (c *Controller) shutdown(reason string) {
	if c.stopped {
		return
	}
	c.stopped = true

	if _, err := c.machine.Force(StateDone, EventQuit); err != nil {
		c.logger.Debug().Err(err).Msg("session already terminal")
	}

	c.source.StopPreview()

	target, err := c.worker.ready.Wait(c.ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("decode worker handle unavailable during shutdown")
	} else {
		target.Post(Quit{})
	}

	if c.beforeJoin != nil {
		c.beforeJoin()
	}
	if !c.worker.join(c.joinTimeout) {
		metrics.WorkerJoinTimeoutsTotal.Inc()
		c.logger.Warn().
			Dur("join_timeout", c.joinTimeout).
			Msg("decode worker still busy after join timeout, abandoning it")
	}

	purged := c.box.Remove(isOutcome)
	discarded := c.box.Close()
	metrics.ActiveSessions.Dec()

	c.logger.Info().
		Str("reason", reason).
		Int("purged_outcomes", purged).
		Int("discarded", discarded).
		Msg("capture session stopped")
}

// SessionID returns the session identifier.
func (c *Controller) SessionID() string { return c.sessionID }

// Hints returns the immutable decode parameters of the session.
func (c *Controller) Hints() hints.Hints { return c.hints }

// Done is closed once the controller goroutine has exited.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Results returns the routing handle decode outcomes are posted to.
func (c *Controller) Results() mailbox.Target[Message] { return c.box }

// RestartPreviewAndDecode asks for the next decode cycle. It is a no-op
// unless the session is in SUCCESS.
func (c *Controller) RestartPreviewAndDecode() {
	c.box.Post(restartRequest{})
}

// ReturnResult forwards payload to the UI as the terminal result and ends
// the session.
func (c *Controller) ReturnResult(payload any) {
	c.box.Post(returnRequest{payload: payload})
}

// Quit starts the shutdown protocol without waiting for it.
func (c *Controller) Quit() {
	c.box.PostAtFront(quitRequest{})
}

// QuitSynchronously runs the shutdown protocol and returns once it has
// finished. It must not be called from a UI callback.
func (c *Controller) QuitSynchronously(ctx context.Context) error {
	c.box.PostAtFront(quitRequest{})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State asks the controller goroutine for the current state.
func (c *Controller) State(ctx context.Context) (State, error) {
	q := stateQuery{reply: make(chan State, 1)}
	if !c.box.Post(q) {
		return StateDone, nil
	}
	select {
	case s := <-q.reply:
		return s, nil
	case <-c.done:
		return StateDone, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
