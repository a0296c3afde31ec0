// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/livestate/lib/clock"
	"github.com/bureau-foundation/livestate/lib/crdt"
	"github.com/bureau-foundation/livestate/lib/storage"
)

// Source retrieves a room's snapshot stream: a header record naming the
// actor this session mints ids for, then the room's node records. The
// caller closes the returned stream.
type Source interface {
	FetchSnapshot(ctx context.Context, roomID string) (io.ReadCloser, error)
}

// Deliverer sends a committed batch to the room.
type Deliverer interface {
	Deliver(ctx context.Context, batch Batch) error
}

// DeliverFunc adapts a function to a Deliverer.
type DeliverFunc func(ctx context.Context, batch Batch) error

func (f DeliverFunc) Deliver(ctx context.Context, batch Batch) error { return f(ctx, batch) }

// Batch is the ordered op log of one session.
type Batch struct {
	RoomID string

	// SessionID identifies the session that produced the batch.
	// Deliverers use it to drop a batch they have already applied.
	SessionID uuid.UUID

	// Actor is the actor whose ids the batch's create ops mint.
	Actor uint64

	Ops []crdt.Op
}

// Config configures a Coordinator. Source and Deliverer are required.
type Config struct {
	Source    Source
	Deliverer Deliverer

	// Logger receives one line per finished session, plus debug lines
	// per transition. Nil means slog.Default().
	Logger *slog.Logger

	// Clock drives phase timeouts and durations. Nil means clock.Real().
	Clock clock.Clock

	// FetchTimeout bounds snapshot retrieval, including reading the
	// stream. Zero means no timeout beyond the caller's context.
	FetchTimeout time.Duration

	// DeliverTimeout bounds batch delivery. Zero means no timeout.
	DeliverTimeout time.Duration

	// MaxPositionLength caps list position keys in built documents.
	// Zero means crdt.DefaultMaxPositionLength.
	MaxPositionLength int

	// OnTransition, if set, is called synchronously on every state a
	// session enters.
	OnTransition func(Transition)

	// Metrics, if set, is updated as sessions finish.
	Metrics *Metrics
}

// Coordinator runs mutation sessions. It is safe for concurrent use.
type Coordinator struct {
	source            Source
	deliverer         Deliverer
	logger            *slog.Logger
	clock             clock.Clock
	fetchTimeout      time.Duration
	deliverTimeout    time.Duration
	maxPositionLength int
	onTransition      func(Transition)
	metrics           *Metrics
}

// New creates a Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Source == nil {
		return nil, errors.New("session: Source is required")
	}
	if config.Deliverer == nil {
		return nil, errors.New("session: Deliverer is required")
	}
	if config.FetchTimeout < 0 || config.DeliverTimeout < 0 {
		return nil, errors.New("session: timeouts must not be negative")
	}
	coordinator := newCoordinator(config.Logger, config.Clock)
	coordinator.source = config.Source
	coordinator.deliverer = config.Deliverer
	coordinator.fetchTimeout = config.FetchTimeout
	coordinator.deliverTimeout = config.DeliverTimeout
	coordinator.maxPositionLength = config.MaxPositionLength
	coordinator.onTransition = config.OnTransition
	coordinator.metrics = config.Metrics
	return coordinator, nil
}

func newCoordinator(logger *slog.Logger, sessionClock clock.Clock) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if sessionClock == nil {
		sessionClock = clock.Real()
	}
	return &Coordinator{logger: logger, clock: sessionClock}
}

// Run fetches roomID's snapshot, builds its document, calls mutate with
// the root, and delivers the recorded ops. It returns mutate's result
// once the batch is delivered, or once mutate finishes without writing.
//
// mutate must not keep references to the tree after it returns. A panic
// in mutate propagates to the caller; nothing is delivered.
func Run[T any](ctx context.Context, coordinator *Coordinator, roomID string, mutate func(root *storage.Object) (T, error)) (T, error) {
	s := coordinator.begin(roomID)
	registry, err := coordinator.fetch(ctx, s)
	if err != nil {
		var zero T
		return zero, s.abort(err)
	}
	return execute(ctx, s, registry, registry.Actor(), mutate, coordinator.deliverer)
}

// Mutate is Run for mutations with no result.
func (c *Coordinator) Mutate(ctx context.Context, roomID string, mutate func(root *storage.Object) error) error {
	_, err := Run(ctx, c, roomID, func(root *storage.Object) (struct{}, error) {
		return struct{}{}, mutate(root)
	})
	return err
}

// StreamOption configures a RunStream session.
type StreamOption func(*Coordinator)

// WithLogger sets the session logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) StreamOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// RunStream runs one session over an open snapshot stream. actor is
// the actor new ids are minted for. It always takes precedence over the
// actor in the stream header, zero included; callers that want the
// header's actor read it with storage.Load first. The batch passed to
// deliver has an empty RoomID.
func RunStream[T any](ctx context.Context, stream io.Reader, actor uint64, mutate func(root *storage.Object) (T, error), deliver DeliverFunc, options ...StreamOption) (T, error) {
	var zero T
	if deliver == nil {
		return zero, errors.New("session: deliver is required")
	}
	coordinator := newCoordinator(nil, nil)
	for _, option := range options {
		option(coordinator)
	}
	s := coordinator.begin("")
	registry, err := coordinator.load(ctx, s, stream)
	if err != nil {
		return zero, s.abort(err)
	}
	return execute(ctx, s, registry, actor, mutate, deliver)
}

// run is one session's bookkeeping. It is owned by the goroutine
// running the session.
type run struct {
	coordinator *Coordinator
	roomID      string
	id          uuid.UUID
	logger      *slog.Logger
	state       State
	started     time.Time
	entered     time.Time
	ops         int
}

func (c *Coordinator) begin(roomID string) *run {
	id := uuid.New()
	now := c.clock.Now()
	s := &run{
		coordinator: c,
		roomID:      roomID,
		id:          id,
		logger:      c.logger.With("room_id", roomID, "session_id", id.String()),
		started:     now,
		entered:     now,
	}
	s.notify(Fetching, nil)
	return s
}

func (s *run) transition(next State) {
	now := s.coordinator.clock.Now()
	s.coordinator.metrics.observePhase(s.state, now.Sub(s.entered))
	s.state = next
	s.entered = now
	s.notify(next, nil)
}

func (s *run) notify(state State, err error) {
	s.logger.Debug("session transition", "state", state.String())
	if s.coordinator.onTransition != nil {
		s.coordinator.onTransition(Transition{RoomID: s.roomID, SessionID: s.id, State: state, Err: err})
	}
}

// abort moves the session to Aborted and returns err unchanged.
func (s *run) abort(err error) error {
	now := s.coordinator.clock.Now()
	s.coordinator.metrics.observePhase(s.state, now.Sub(s.entered))
	s.coordinator.metrics.finish("aborted", s.ops)
	from := s.state
	s.state = Aborted
	s.notify(Aborted, err)
	s.logger.Warn("session aborted",
		"state", from.String(),
		"ops", s.ops,
		"duration", now.Sub(s.started),
		"error", err,
	)
	return err
}

func (s *run) commit(outcome string) {
	now := s.coordinator.clock.Now()
	s.coordinator.metrics.observePhase(s.state, now.Sub(s.entered))
	s.coordinator.metrics.finish(outcome, s.ops)
	s.state = Committed
	s.notify(Committed, nil)
	s.logger.Info("session committed",
		"ops", s.ops,
		"duration", now.Sub(s.started),
	)
}

// fetch retrieves and decodes the room's snapshot within FetchTimeout.
func (c *Coordinator) fetch(ctx context.Context, s *run) (*storage.Registry, error) {
	fetchCtx, cancel := c.phaseContext(ctx, Fetching, c.fetchTimeout)
	defer cancel()

	stream, err := c.source.FetchSnapshot(fetchCtx, s.roomID)
	if err != nil {
		return nil, &TransportError{Op: "fetch snapshot", RoomID: s.roomID, Err: causeOr(fetchCtx, err)}
	}
	defer stream.Close()
	return c.load(fetchCtx, s, stream)
}

// load decodes a snapshot stream. A read failure or cancelled context
// is a transport failure; anything else Load reports is a
// reconstruction failure and is returned as is.
func (c *Coordinator) load(ctx context.Context, s *run, stream io.Reader) (*storage.Registry, error) {
	reader := &trackingReader{ctx: ctx, reader: stream}
	registry, err := storage.Load(reader)
	if reader.err != nil {
		return nil, &TransportError{Op: "read snapshot", RoomID: s.roomID, Err: causeOr(ctx, reader.err)}
	}
	if err != nil {
		return nil, err
	}
	s.logger.Debug("snapshot loaded", "nodes", registry.Len(), "actor", registry.Actor())
	return registry, nil
}

// execute runs the Built, Mutating and Flushing phases.
func execute[T any](ctx context.Context, s *run, registry *storage.Registry, actor uint64, mutate func(root *storage.Object) (T, error), deliverer Deliverer) (T, error) {
	var zero T
	c := s.coordinator

	document, err := storage.Build(registry, storage.BuildOptions{
		Actor:             actor,
		MaxPositionLength: c.maxPositionLength,
	})
	if err != nil {
		return zero, s.abort(err)
	}
	defer document.Close()
	s.transition(Built)

	s.transition(Mutating)
	result, err := mutate(document.Root())
	if err != nil {
		s.ops = document.Recorder().Len()
		document.Discard()
		return zero, s.abort(err)
	}
	document.Close()
	ops := document.Ops()
	s.ops = len(ops)

	s.transition(Flushing)
	if len(ops) == 0 {
		s.commit("empty")
		return result, nil
	}

	deliverCtx, cancel := c.phaseContext(ctx, Flushing, c.deliverTimeout)
	defer cancel()
	batch := Batch{RoomID: s.roomID, SessionID: s.id, Actor: actor, Ops: ops}
	if err := deliverer.Deliver(deliverCtx, batch); err != nil {
		return zero, s.abort(&DeliveryError{
			RoomID:    s.roomID,
			SessionID: s.id,
			Ops:       len(ops),
			Err:       causeOr(deliverCtx, err),
		})
	}
	s.commit("committed")
	return result, nil
}

// phaseContext derives a context that is cancelled with a
// *TimeoutError once timeout elapses on the coordinator's clock.
func (c *Coordinator) phaseContext(ctx context.Context, state State, timeout time.Duration) (context.Context, context.CancelFunc) {
	phaseCtx, cancel := context.WithCancelCause(ctx)
	if timeout <= 0 {
		return phaseCtx, func() { cancel(context.Canceled) }
	}
	timer := c.clock.AfterFunc(timeout, func() {
		cancel(&TimeoutError{State: state, Timeout: timeout})
	})
	return phaseCtx, func() {
		timer.Stop()
		cancel(context.Canceled)
	}
}

// causeOr returns the context's cancellation cause when the context is
// done, so a collaborator that reports a bare context.Canceled still
// surfaces the timeout that caused it.
func causeOr(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if errors.Is(err, cause) {
		return err
	}
	return fmt.Errorf("%w: %w", cause, err)
}

// trackingReader records the first read failure of the underlying
// stream and stops reading once ctx is done.
type trackingReader struct {
	ctx    context.Context
	reader io.Reader
	err    error
}

func (r *trackingReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return 0, err
	}
	n, err := r.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = err
	}
	return n, err
}
