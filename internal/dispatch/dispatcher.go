package dispatch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"soma-bot/internal/conversation"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

var (
	ErrBacklogFull = errors.New("dispatch backlog is full")
	ErrThrottled   = errors.New("too many messages from user")
	ErrStopped     = errors.New("dispatcher stopped")
)

const GenericErrorMessage = "⚠️ Sorry, an error occurred. Please try again."

type Handler interface {
	Handle(ctx context.Context, sess conversation.Session, ev conversation.Event) (conversation.Session, []conversation.Outbound)
}

type Sender interface {
	Send(ctx context.Context, msg conversation.Outbound) error
}

// Recorder receives dispatch metrics.
type Recorder interface {
	EventHandled(kind conversation.EventKind)
	EventFailed(stage string)
	EventThrottled()
	Backlog(n int)
}

type nopRecorder struct{}

func (nopRecorder) EventHandled(conversation.EventKind) {}
func (nopRecorder) EventFailed(string)                  {}
func (nopRecorder) EventThrottled()                     {}
func (nopRecorder) Backlog(int)                         {}

// Dispatcher serializes events per user. Each user hashes to one partition
// and each partition is drained by a single worker, so events from one user
// are handled in arrival order while different users run in parallel.
type Dispatcher struct {
	handler  Handler
	store    conversation.SessionStore
	sender   Sender
	logger   *zap.Logger
	recorder Recorder
	limiter  *Limiter
	timeout  time.Duration

	// storeTimeout bounds persisting the outcome and sending replies. It
	// starts after the handler returns.
	storeTimeout time.Duration

	workers    int
	queueSize  int
	partitions []chan conversation.Event
	pending    atomic.Int64

	mu     sync.RWMutex
	closed bool
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) { d.workers = n }
}

// WithQueueSize sets the buffer of each partition.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queueSize = n }
}

func WithLimiter(l *Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithEventTimeout bounds the handling of a single event.
func WithEventTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithStoreTimeout bounds the work done after the handler returns.
func WithStoreTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.storeTimeout = t }
}

func New(handler Handler, store conversation.SessionStore, sender Sender, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handler:   handler,
		store:     store,
		sender:    sender,
		logger:    logger,
		recorder:  nopRecorder{},
		timeout:      30 * time.Second,
		storeTimeout: 10 * time.Second,
		workers:      4,
		queueSize:    64,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.queueSize < 1 {
		d.queueSize = 1
	}

	d.partitions = make([]chan conversation.Event, d.workers)
	for i := range d.partitions {
		d.partitions[i] = make(chan conversation.Event, d.queueSize)
	}
	return d
}

// Submit queues an event without blocking.
func (d *Dispatcher) Submit(ev conversation.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrStopped
	}
	if d.limiter != nil && !d.limiter.Allow(ev.UserID) {
		d.recorder.EventThrottled()
		return ErrThrottled
	}

	n := d.pending.Add(1)
	select {
	case d.partitions[d.partition(ev.UserID)] <- ev:
		d.recorder.Backlog(int(n))
		return nil
	default:
		d.pending.Add(-1)
		return fmt.Errorf("%w: user %d", ErrBacklogFull, ev.UserID)
	}
}

// Run starts the workers and blocks until ctx is done. Events already queued
// are still handled before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i, ch := range d.partitions {
		wg.Add(1)
		go func(partition int, events <-chan conversation.Event) {
			defer wg.Done()
			for ev := range events {
				d.recorder.Backlog(int(d.pending.Add(-1)))
				d.process(workCtx, ev)
			}
			d.logger.Debug("Dispatch worker stopped", zap.Int("partition", partition))
		}(i, ch)
	}
	d.logger.Info("Dispatcher started", zap.Int("workers", len(d.partitions)))

	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	for _, ch := range d.partitions {
		close(ch)
	}
	d.mu.Unlock()

	wg.Wait()
	d.logger.Info("Dispatcher stopped")
	return nil
}

func (d *Dispatcher) partition(userID int64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(userID))
	return int(xxhash.Sum64(buf[:]) % uint64(len(d.partitions)))
}

func (d *Dispatcher) process(ctx context.Context, ev conversation.Event) {
	handleCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while handling event",
				zap.Int64("chat_id", ev.UserID),
				zap.Stringer("kind", ev.Kind),
				zap.Any("panic", r),
				zap.Stack("stack"))
			failCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
			defer cancel()
			d.fail(failCtx, ev, "panic")
		}
	}()

	sess, err := d.store.Load(handleCtx, ev.UserID)
	if err != nil {
		d.logger.Error("Failed to load session", zap.Int64("chat_id", ev.UserID), zap.Error(err))
		d.fail(handleCtx, ev, "session_load")
		return
	}

	next, out := d.handler.Handle(handleCtx, sess, ev)

	// The handler may have used up handleCtx on a slow sink.
	postCtx, cancelPost := context.WithTimeout(ctx, d.storeTimeout)
	defer cancelPost()

	if next.State.Active() {
		if err := d.store.Save(postCtx, ev.UserID, next); err != nil {
			d.logger.Error("Failed to save session", zap.Int64("chat_id", ev.UserID), zap.Error(err))
			d.fail(postCtx, ev, "session_save")
			return
		}
	} else if sess.State.Active() {
		if err := d.discard(postCtx, ev.UserID); err != nil {
			d.logger.Error("Failed to discard ended session", zap.Int64("chat_id", ev.UserID), zap.Error(err))
			d.fail(postCtx, ev, "session_delete")
			return
		}
	}

	for _, msg := range out {
		if err := d.sender.Send(postCtx, msg); err != nil {
			d.logger.Warn("Failed to send reply", zap.Int64("chat_id", msg.UserID), zap.Error(err))
			d.recorder.EventFailed("send")
		}
	}
	d.recorder.EventHandled(ev.Kind)
}

// discard removes an ended session. When the delete fails the stored session
// is overwritten with an idle one, so its draft can never be finalized again.
func (d *Dispatcher) discard(ctx context.Context, userID int64) error {
	delErr := d.store.Delete(ctx, userID)
	if delErr == nil {
		return nil
	}
	d.logger.Warn("Failed to delete session, resetting it", zap.Int64("chat_id", userID), zap.Error(delErr))
	if err := d.store.Save(ctx, userID, conversation.Session{}); err != nil {
		return errors.Join(delErr, err)
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, ev conversation.Event, stage string) {
	d.recorder.EventFailed(stage)
	msg := conversation.Outbound{UserID: ev.UserID, Text: GenericErrorMessage}
	if err := d.sender.Send(ctx, msg); err != nil {
		d.logger.Warn("Failed to send error notice", zap.Int64("chat_id", ev.UserID), zap.Error(err))
	}
}
