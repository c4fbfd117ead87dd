package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/clock"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/frame"
	logs "github.com/danmuck/smplog"
)

var (
	ErrEmptyPayload          = errors.New("session: empty payload")
	ErrWriteSubmissionFailed = errors.New("session: write submission failed")
	ErrWriteRejected         = errors.New("session: write failed on link")
	ErrAckTimeout            = errors.New("session: ack timeout")
	ErrLinkDisconnected      = errors.New("session: link disconnected")
	ErrRetriesExhausted      = errors.New("session: retries exhausted")
	ErrCancelled             = errors.New("session: cancelled")
	ErrSessionBusy           = errors.New("session: transmission already active")
	ErrResumeMismatch        = errors.New("session: resume point does not match payload")

	errEncode = errors.New("session: encode chunk")
)

type State uint8

const (
	StateIdle State = iota
	StateBuilding
	StateSending
	StateAwaitingAck
	StateRetrying
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateRetrying:
		return "retrying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition is reported on every state change. Index and Attempt are
// zero outside the per-chunk states.
type Transition struct {
	State   State
	Index   int
	Total   int
	Attempt int
	At      time.Time
}

// Progress is reported after each acknowledged chunk.
type Progress struct {
	TxID      string
	Digest    [32]byte
	Sent      int
	Total     int
	ChunkSize int
}

// WriteOutcome is reported once per write attempt. Err is nil on success.
type WriteOutcome struct {
	WriteID uint64
	Index   int
	Total   int
	Attempt int
	Bytes   int
	Elapsed time.Duration
	Err     error
}

// Observer receives callbacks on the driver goroutine. Implementations
// must not block.
type Observer interface {
	OnState(Transition)
	OnWrite(WriteOutcome)
	OnProgress(Progress)
}

type NopObserver struct{}

func (NopObserver) OnState(Transition)   {}
func (NopObserver) OnWrite(WriteOutcome) {}
func (NopObserver) OnProgress(Progress)  {}

// Result is the terminal outcome of one transmission. Sent counts chunks
// acknowledged, including those skipped by Resume.
type Result struct {
	State     State
	Sent      int
	Total     int
	ChunkSize int
	Writes    int
	TxID      string
	Digest    [32]byte
	Reason    string
	Err       error
	Started   time.Time
	Finished  time.Time
}

func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// ResumeFrom names the point a previous transmission stopped at.
type ResumeFrom struct {
	ChunkSize int
	Total     int
	Acked     int
}

type Option func(*Sender)

func WithClock(c clock.Clock) Option {
	return func(s *Sender) { s.clock = c }
}

func WithObserver(o Observer) Option {
	return func(s *Sender) { s.observer = o }
}

func WithPipeline(p Pipeline) Option {
	return func(s *Sender) { s.pipeline = p }
}

// Sender owns one Transport and transmits payloads over it one at a time.
type Sender struct {
	cfg      Config
	link     Transport
	clock    clock.Clock
	pipeline Pipeline
	observer Observer
	rng      *rand.Rand

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	state    State
	capacity int
	nextID   uint64

	pending inflight
}

func NewSender(link Transport, cfg Config, opts ...Option) (*Sender, error) {
	if link == nil {
		return nil, errors.New("session: nil transport")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sender{
		cfg:      cfg,
		link:     link,
		clock:    clock.Real(),
		pipeline: Pipeline{Format: FormatText},
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.pipeline.Validate(); err != nil {
		return nil, err
	}
	s.rng = rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	s.nextID = uint64(s.rng.Uint32())
	return s, nil
}

func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InFlight returns the chunk awaiting completion, if any.
func (s *Sender) InFlight() (PendingChunk, bool) {
	return s.pending.Get()
}

// LinkCapacity is the most recent negotiated write size, zero if none.
func (s *Sender) LinkCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Cancel ends the active transmission in StateFailed. It reports whether
// a transmission was active.
func (s *Sender) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Send transmits payload and blocks until it completes or fails. The
// returned error is nil only for StateCompleted.
func (s *Sender) Send(ctx context.Context, payload []byte) (Result, error) {
	return s.transmit(ctx, payload, ResumeFrom{})
}

// Resume transmits payload starting after from.Acked chunks, splitting
// with the chunk size of the interrupted transmission.
func (s *Sender) Resume(ctx context.Context, payload []byte, from ResumeFrom) (Result, error) {
	if from.ChunkSize < 1 || from.Acked < 0 {
		err := fmt.Errorf("%w: chunk_size=%d acked=%d", ErrResumeMismatch, from.ChunkSize, from.Acked)
		return Result{State: StateIdle, Reason: err.Error(), Err: err}, err
	}
	return s.transmit(ctx, payload, from)
}

func (s *Sender) transmit(ctx context.Context, payload []byte, from ResumeFrom) (Result, error) {
	if len(payload) == 0 {
		return Result{State: StateIdle, Reason: ErrEmptyPayload.Error(), Err: ErrEmptyPayload}, ErrEmptyPayload
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.begin(cancel) {
		return Result{State: s.State(), Reason: ErrSessionBusy.Error(), Err: ErrSessionBusy}, ErrSessionBusy
	}
	defer s.end()

	res := Result{
		Started: s.clock.Now(),
		TxID:    chunk.TxID(payload),
		Digest:  chunk.Digest(payload),
	}
	if err := s.drain(); err != nil {
		return s.fail(&res, err)
	}

	s.transition(StateBuilding, 0, 0, 0)
	p, err := s.build(payload, from)
	if err != nil {
		return s.fail(&res, err)
	}
	res.Total = len(p.chunks)
	res.ChunkSize = p.size
	res.Sent = from.Acked
	logs.Infof(
		"session.Sender.transmit tx_id=%s bytes=%d chunks=%d chunk_size=%d start=%d",
		res.TxID,
		len(payload),
		res.Total,
		res.ChunkSize,
		from.Acked+1,
	)

	for i := from.Acked; i < len(p.chunks); i++ {
		if i > from.Acked && s.cfg.InterChunkDelay > 0 {
			if err := s.pause(ctx, s.cfg.InterChunkDelay); err != nil {
				return s.fail(&res, err)
			}
		}
		if err := s.deliver(ctx, p, p.chunks[i], &res); err != nil {
			return s.fail(&res, err)
		}
		res.Sent++
		s.observer.OnProgress(Progress{
			TxID:      res.TxID,
			Digest:    res.Digest,
			Sent:      res.Sent,
			Total:     res.Total,
			ChunkSize: res.ChunkSize,
		})
	}

	res.State = StateCompleted
	res.Finished = s.clock.Now()
	s.transition(StateCompleted, 0, res.Total, 0)
	logs.Infof(
		"session.Sender.transmit completed tx_id=%s chunks=%d writes=%d elapsed=%s",
		res.TxID,
		res.Total,
		res.Writes,
		res.Duration(),
	)
	return res, nil
}

func (s *Sender) begin(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.cancel = cancel
	return true
}

func (s *Sender) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.cancel = nil
	s.state = StateIdle
}

func (s *Sender) fail(res *Result, err error) (Result, error) {
	res.State = StateFailed
	res.Err = err
	res.Reason = err.Error()
	res.Finished = s.clock.Now()
	s.transition(StateFailed, 0, res.Total, 0)
	logs.Warnf(
		"session.Sender.transmit failed tx_id=%s sent=%d/%d writes=%d reason=%q",
		res.TxID,
		res.Sent,
		res.Total,
		res.Writes,
		res.Reason,
	)
	return *res, err
}

func (s *Sender) transition(state State, index, total, attempt int) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	logs.Debugf("session.Sender.transition state=%s chunk=%d/%d attempt=%d", state, index, total, attempt)
	s.observer.OnState(Transition{
		State:   state,
		Index:   index,
		Total:   total,
		Attempt: attempt,
		At:      s.clock.Now(),
	})
}

type plan struct {
	chunks   []chunk.Chunk
	renderer chunk.Renderer
	size     int
}

// build splits payload and shrinks the chunk size until every encoded
// write fits the link. A resumed transmission keeps its chunk size.
func (s *Sender) build(payload []byte, from ResumeFrom) (plan, error) {
	r := s.pipeline.Renderer(payload)
	size := s.cfg.MaxChunkSize
	fixed := from.ChunkSize > 0
	if fixed {
		size = from.ChunkSize
	}
	limit := s.packetLimit()
	for {
		chunks, err := chunk.Split(payload, size)
		if err != nil {
			return plan{}, err
		}
		over, err := s.overflow(r, chunks, limit)
		if err != nil {
			return plan{}, err
		}
		if over == 0 {
			if fixed && ((from.Total > 0 && from.Total != len(chunks)) || from.Acked >= len(chunks)) {
				return plan{}, fmt.Errorf(
					"%w: chunk_size=%d gives %d chunks, checkpoint has total=%d acked=%d",
					ErrResumeMismatch,
					size,
					len(chunks),
					from.Total,
					from.Acked,
				)
			}
			return plan{chunks: chunks, renderer: r, size: size}, nil
		}
		if fixed || size-over < 1 {
			return plan{}, fmt.Errorf(
				"%w: chunk size %d exceeds link capacity %d by %d bytes",
				frame.ErrPayloadTooLarge,
				size,
				limit,
				over,
			)
		}
		logs.Debugf("session.Sender.build shrink chunk_size=%d over=%d limit=%d", size, over, limit)
		size -= over
	}
}

// overflow returns how many bytes the largest encoded chunk exceeds the
// write limit or the frame body limit by.
func (s *Sender) overflow(r chunk.Renderer, chunks []chunk.Chunk, limit int) (int, error) {
	over := 0
	for _, c := range chunks {
		// the widest packet id gives the worst-case wrapped size
		b, body, err := s.pipeline.Encode(r, c, math.MaxUint32)
		switch {
		case errors.Is(err, frame.ErrPayloadTooLarge):
			over = max(over, body-s.pipeline.frameLimits().BodyLimit())
			b = nil
		case err != nil:
			return 0, err
		}
		n := body + s.pipeline.overhead()
		if b != nil {
			n = len(b)
		}
		if limit > 0 && n > limit {
			over = max(over, n-limit)
		}
	}
	return over, nil
}

func (s *Sender) packetLimit() int {
	s.mu.Lock()
	capacity := s.capacity
	s.mu.Unlock()
	switch {
	case capacity > 0 && s.cfg.MaxPacketBytes > 0:
		return min(capacity, s.cfg.MaxPacketBytes)
	case capacity > 0:
		return capacity
	default:
		return s.cfg.MaxPacketBytes
	}
}

// deliver runs Sending/AwaitingAck/Retrying for one chunk.
func (s *Sender) deliver(ctx context.Context, p plan, c chunk.Chunk, res *Result) error {
	s.pending.Upsert(PendingChunk{Index: c.Index, Total: c.Total, QueuedAt: s.clock.Now()})
	defer s.pending.Remove()

	for attempt := 1; ; attempt++ {
		err := s.attempt(ctx, p, c, attempt, res)
		if err == nil {
			return nil
		}
		if fatal(err) {
			return err
		}
		s.pending.MarkError(err.Error())
		s.transition(StateRetrying, c.Index, c.Total, attempt)
		if attempt >= s.cfg.MaxAttempts {
			return fmt.Errorf("%w: chunk %d/%d after %d attempts: %w", ErrRetriesExhausted, c.Index, c.Total, attempt, err)
		}
		logs.Warnf("session.Sender.deliver retry chunk=%d/%d attempt=%d err=%v", c.Index, c.Total, attempt, err)
		if delay := s.cfg.Retry.Delay(attempt, s.rng); delay > 0 {
			if err := s.pause(ctx, delay); err != nil {
				return err
			}
		}
	}
}

func (s *Sender) attempt(ctx context.Context, p plan, c chunk.Chunk, attempt int, res *Result) error {
	id := s.nextWriteID()
	payload, _, err := s.pipeline.Encode(p.renderer, c, uint32(id))
	if err != nil {
		return fmt.Errorf("%w: %w", errEncode, err)
	}

	s.transition(StateSending, c.Index, c.Total, attempt)
	start := s.clock.Now()
	s.pending.MarkAttempt(id, start, start.Add(s.cfg.AckTimeout))
	res.Writes++
	outcome := WriteOutcome{WriteID: id, Index: c.Index, Total: c.Total, Attempt: attempt, Bytes: len(payload)}
	logs.Debugf(
		"session.Sender.attempt chunk=%d/%d attempt=%d write_id=%d bytes=%d",
		c.Index,
		c.Total,
		attempt,
		id,
		len(payload),
	)

	if err := s.link.Submit(Write{ID: id, Index: c.Index, Attempt: attempt, Payload: payload}); err != nil {
		outcome.Err = fmt.Errorf("%w: chunk %d/%d: %w", ErrWriteSubmissionFailed, c.Index, c.Total, err)
		s.observer.OnWrite(outcome)
		return outcome.Err
	}

	s.transition(StateAwaitingAck, c.Index, c.Total, attempt)
	outcome.Err = s.awaitAck(ctx, id)
	outcome.Elapsed = s.clock.Now().Sub(start)
	s.observer.OnWrite(outcome)
	return outcome.Err
}

func (s *Sender) nextWriteID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

// awaitAck blocks until the completion for id, the ack timeout, a
// disconnect, or cancellation.
func (s *Sender) awaitAck(ctx context.Context, id uint64) error {
	t := s.clock.NewTimer(s.cfg.AckTimeout)
	defer t.Stop()
	events := s.link.Events()
	for {
		select {
		case <-ctx.Done():
			return cancelled(ctx)
		case <-t.C:
			return fmt.Errorf("%w: write %d after %s", ErrAckTimeout, id, s.cfg.AckTimeout)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrLinkDisconnected)
			}
			if ev.Kind == EventWriteResult && ev.WriteID == id {
				if ev.OK {
					return nil
				}
				return fmt.Errorf("%w: write %d: %s", ErrWriteRejected, id, reason(ev.Err))
			}
			if err := s.handleEvent(ev); err != nil {
				return err
			}
		}
	}
}

// pause waits d while still honoring disconnects and cancellation.
func (s *Sender) pause(ctx context.Context, d time.Duration) error {
	t := s.clock.NewTimer(d)
	defer t.Stop()
	events := s.link.Events()
	for {
		select {
		case <-ctx.Done():
			return cancelled(ctx)
		case <-t.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrLinkDisconnected)
			}
			if err := s.handleEvent(ev); err != nil {
				return err
			}
		}
	}
}

// drain applies events queued while idle.
func (s *Sender) drain() error {
	events := s.link.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrLinkDisconnected)
			}
			if err := s.handleEvent(ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Sender) handleEvent(ev LinkEvent) error {
	switch ev.Kind {
	case EventDisconnected:
		return fmt.Errorf("%w: %s", ErrLinkDisconnected, reason(ev.Err))
	case EventCapacity:
		s.mu.Lock()
		s.capacity = ev.MaxPacketBytes
		s.mu.Unlock()
		logs.Infof("session.Sender link capacity max_packet_bytes=%d", ev.MaxPacketBytes)
	case EventWriteResult:
		logs.Debugf("session.Sender ignoring stale completion write_id=%d ok=%t", ev.WriteID, ev.OK)
	default:
		logs.Debugf("session.Sender ignoring event kind=%s", ev.Kind)
	}
	return nil
}

func fatal(err error) bool {
	return errors.Is(err, ErrLinkDisconnected) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, errEncode)
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
}

func reason(err error) string {
	if err == nil {
		return "no detail"
	}
	return err.Error()
}
