package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/repairsync/internal/chain"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/metrics"
	"github.com/roach88/repairsync/internal/store"
	"github.com/roach88/repairsync/internal/txerr"
)

// ErrNotStarted is returned by session operations that need a running apply
// loop.
var ErrNotStarted = errors.New("sync session not started")

// Source is the log surface of a ledger node.
type Source interface {
	FilterLogs(ctx context.Context, f chain.Filter) ([]chain.Log, error)
	SubscribeLogs(ctx context.Context, f chain.Filter, ch chan<- chain.Log) (chain.Subscription, error)
}

// Projection is where sessions apply events. Apply must be idempotent per
// event key.
type Projection interface {
	Apply(ctx context.Context, e ledger.Event) (bool, error)
	Checkpoint(ctx context.Context, scope string) (store.Position, bool, error)
	SaveCheckpoint(ctx context.Context, scope string, pos store.Position) error
}

// Observer is told about every event a session applies. submit.Tracker
// implements it to clear pending actions.
type Observer interface {
	Observe(e ledger.Event) bool
}

// Options configures an Engine.
type Options struct {
	// Buffer is the capacity of the channel the live subscription writes to.
	Buffer int

	// ResubscribeAttempts caps the tries to restore a dropped subscription.
	ResubscribeAttempts int

	// BackoffBase is the first delay between resubscribe attempts.
	BackoffBase time.Duration

	Observer Observer
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		Buffer:              256,
		ResubscribeAttempts: 5,
		BackoffBase:         time.Second,
	}
}

// Engine opens synchronization sessions against one ledger node and one
// projection.
//
// Thread-safety: an Engine may open any number of concurrent sessions.
type Engine struct {
	source     Source
	projection Projection
	opts       Options
	logger     *slog.Logger
}

// New creates an Engine. Zero option values take their defaults.
func New(source Source, projection Projection, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Buffer <= 0 {
		opts.Buffer = def.Buffer
	}
	if opts.ResubscribeAttempts <= 0 {
		opts.ResubscribeAttempts = def.ResubscribeAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, projection: projection, opts: opts, logger: logger}
}

// Open creates a session for scope. The session does nothing until Start.
func (e *Engine) Open(scope Scope) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		engine: e,
		scope:  scope,
		logger: e.logger.With("scope", scope.String()),
		queue:  newEventQueue(),
		seen:   make(map[string]ledger.Event),
		done:   make(chan struct{}),
	}, nil
}

// Session observes one scope: a live subscription plus a historical
// backfill, merged as a set keyed by event key and applied to the
// projection by a single writer goroutine.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Session struct {
	engine *Engine
	scope  Scope
	logger *slog.Logger
	queue  *eventQueue

	mu      sync.Mutex
	seen    map[string]ledger.Event
	last    store.Position
	started bool
	stopped bool
	sub     chain.Subscription
	cancel  context.CancelFunc

	done chan struct{}
	err  error
}

// Scope returns the session scope.
func (s *Session) Scope() Scope {
	return s.scope
}

// Start subscribes to live logs and then backfills from genesis while the
// subscription is already delivering. Anything both sources deliver is
// applied once. A backfill failure is returned with the session still
// following the live stream; the caller may retry with Backfill.
//
// The session runs until Stop is called or ctx is cancelled. Either way the
// live subscription is released before Done is closed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.started:
		s.mu.Unlock()
		return errors.New("sync session already started")
	}
	s.started = true
	s.mu.Unlock()

	logs := make(chan chain.Log, s.engine.opts.Buffer)
	sub, err := s.engine.source.SubscribeLogs(ctx, s.scope.Filter(0), logs)
	if err != nil {
		serr := &SyncError{Code: ErrCodeSubscribe, Scope: s.scope.String(), Err: txerr.Classify("subscribe", err)}
		s.finish(serr)
		return serr
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	s.mu.Lock()
	s.sub, s.cancel = sub, cancel
	s.mu.Unlock()

	g.Go(func() error { return s.applyLoop(gctx) })
	g.Go(func() error { return s.follow(gctx, sub, logs) })
	go func() {
		err := g.Wait()
		cancel()
		s.mu.Lock()
		live := s.sub
		s.mu.Unlock()
		live.Unsubscribe()
		s.finish(err)
	}()

	s.logger.Info("sync session started")
	return s.Backfill(ctx)
}

// Backfill queries every log of the scope from genesis and waits until
// they have been applied.
func (s *Session) Backfill(ctx context.Context) error {
	if err := s.running(); err != nil {
		return err
	}
	n, err := s.backfill(ctx, 0)
	if err != nil {
		return err
	}
	s.logger.Info("backfill complete", "logs", n)
	return s.Flush(ctx)
}

// Flush waits until everything delivered to the session so far has been
// applied.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.running(); err != nil {
		return err
	}
	barrier := make(chan struct{})
	if !s.queue.Enqueue(item{barrier: barrier}) {
		return ErrSessionClosed
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unsubscribes, releases the connection and waits for the session's
// goroutines. It returns the error that ended the session early, if any.
// Stop is idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return s.err
	}
	s.stopped = true
	started := s.started
	sub, cancel := s.sub, s.cancel
	s.mu.Unlock()

	if !started {
		s.finish(nil)
		return nil
	}
	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	<-s.done
	s.logger.Info("sync session stopped", "events", s.Len(), "position", s.Position().String())
	return s.err
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, or nil while it runs.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Events returns the deduplicated events seen so far, ordered by ledger
// position.
func (s *Session) Events() []ledger.Event {
	s.mu.Lock()
	out := make([]ledger.Event, 0, len(s.seen))
	for _, e := range s.seen {
		out = append(out, e)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return store.PositionOf(out[i]).Less(store.PositionOf(out[j]))
	})
	return out
}

// Len returns the number of distinct events seen.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Position returns the newest position applied by this session.
func (s *Session) Position() store.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) running() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionClosed
	}
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	if err != nil {
		s.logger.Error("sync session failed", "error", err)
	}
	s.err = err
	s.queue.Close()
	close(s.done)
}

// backfill enqueues every log of the scope at or after from.
func (s *Session) backfill(ctx context.Context, from uint64) (int, error) {
	logs, err := s.engine.source.FilterLogs(ctx, s.scope.Filter(from))
	if err != nil {
		s.engine.opts.Metrics.Backfilled("error")
		return 0, &SyncError{Code: ErrCodeBackfill, Scope: s.scope.String(), Err: txerr.Classify("backfill", err)}
	}
	s.engine.opts.Metrics.Backfilled("ok")
	for _, l := range logs {
		if !s.queue.Enqueue(item{log: l, origin: OriginBackfill}) {
			return 0, ErrSessionClosed
		}
	}
	return len(logs), nil
}

// applyLoop is the single writer. It runs until ctx is cancelled or the
// queue is closed.
func (s *Session) applyLoop(ctx context.Context) error {
	defer s.queue.Close()

	for {
		if it, ok := s.queue.TryDequeue(); ok {
			if it.barrier != nil {
				close(it.barrier)
				continue
			}
			s.apply(ctx, it)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-s.queue.Wait():
			if !ok {
				return nil
			}
		}
	}
}

// apply decodes one log and applies it unless the session has already
// seen its event key. Undecodable logs are skipped; the batch goes on.
func (s *Session) apply(ctx context.Context, it item) {
	l := it.log
	logger := s.logger.With("origin", it.origin, "block", l.Block, "log_index", l.Index, "tx_hash", l.TxHash)

	ev, err := ledger.DecodeEvent(l.Topic, l.Data)
	if err == nil {
		ev.Block, ev.Index, ev.TxHash = l.Block, l.Index, l.TxHash
	}
	var key string
	if err == nil {
		key, err = ev.Key()
	}
	if err != nil {
		s.engine.opts.Metrics.Undecodable()
		logger.Warn("skipping undecodable log", "topic", l.Topic, "kind", txerr.KindOf(txerr.Classify("decode", err)), "error", err)
		return
	}
	logger = logger.With("event_key", key, "type", ev.Type, "request_id", ev.RequestID)

	s.mu.Lock()
	_, dup := s.seen[key]
	if !dup {
		s.seen[key] = ev
	}
	s.mu.Unlock()
	if dup {
		s.engine.opts.Metrics.Duplicate()
		logger.Debug("duplicate event")
		return
	}

	applied, err := s.engine.projection.Apply(ctx, ev)
	if err != nil {
		// Forget the key so a later delivery of the same event is retried.
		s.mu.Lock()
		delete(s.seen, key)
		s.mu.Unlock()
		logger.Error("projection apply failed", "error", err)
		return
	}
	if applied {
		s.engine.opts.Metrics.Applied(string(ev.Type))
		logger.Debug("event applied")
	} else {
		s.engine.opts.Metrics.Duplicate()
		logger.Debug("event already in projection")
	}

	if obs := s.engine.opts.Observer; obs != nil && obs.Observe(ev) {
		logger.Debug("pending action cleared")
	}
	s.advance(ctx, store.PositionOf(ev), logger)
}

// advance moves the session checkpoint forward to pos.
func (s *Session) advance(ctx context.Context, pos store.Position, logger *slog.Logger) {
	s.mu.Lock()
	newer := s.last.Less(pos)
	if newer {
		s.last = pos
	}
	s.mu.Unlock()
	if !newer {
		return
	}
	if err := s.engine.projection.SaveCheckpoint(ctx, s.scope.String(), pos); err != nil {
		logger.Warn("checkpoint not saved", "position", pos.String(), "error", err)
	}
}

// follow moves live logs into the queue and restores the subscription when
// the node drops it.
func (s *Session) follow(ctx context.Context, sub chain.Subscription, logs chan chain.Log) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-logs:
			s.queue.Enqueue(item{log: l, origin: OriginLive})
		case err, ok := <-sub.Err():
			if !ok {
				return nil
			}
			s.logger.Warn("subscription dropped", "error", err)
			next, rerr := s.resubscribe(ctx, logs)
			if rerr != nil {
				return rerr
			}
			if next == nil {
				return nil
			}
			sub = next
		}
	}
}

// resubscribe restores the live stream with backoff, then backfills from
// the persisted checkpoint to recover logs mined while it was down. The
// old subscription has stopped writing to logs, so the channel is reused.
func (s *Session) resubscribe(ctx context.Context, logs chan chain.Log) (chain.Subscription, error) {
	opts := s.engine.opts
	sub, err := backoff.Retry(ctx, func() (chain.Subscription, error) {
		sub, err := s.engine.source.SubscribeLogs(ctx, s.scope.Filter(0), logs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, txerr.Classify("resubscribe", err)
		}
		return sub, nil
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(opts.ResubscribeAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn("resubscribe failed, retrying", "wait", wait, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, &SyncError{Code: ErrCodeResubscribe, Scope: s.scope.String(), Err: err}
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil, nil
	}
	s.sub = sub
	s.mu.Unlock()
	opts.Metrics.Resubscribed()

	from, err := s.gapStart(ctx)
	if err != nil {
		return nil, err
	}
	n, err := backoff.Retry(ctx, func() (int, error) {
		n, err := s.backfill(ctx, from)
		if err != nil && !txerr.IsRetryable(err) {
			return n, backoff.Permanent(err)
		}
		return n, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(opts.ResubscribeAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrSessionClosed) {
			return nil, nil
		}
		return nil, err
	}
	s.logger.Info("subscription restored", "gap_from", from, "logs", n)
	return sub, nil
}

// gapStart returns the timestamp to backfill from after a drop. Logs at
// the checkpoint timestamp itself are fetched again; deduplication drops
// the ones already applied. An unreadable checkpoint falls back to the
// session's own position.
func (s *Session) gapStart(ctx context.Context) (uint64, error) {
	pos, ok, err := s.engine.projection.Checkpoint(ctx, s.scope.String())
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		pos = s.Position()
		s.logger.Warn("checkpoint unreadable, using session position", "position", pos.String(), "error", err)
		return pos.Timestamp, nil
	}
	if !ok {
		return 0, nil
	}
	return pos.Timestamp, nil
}

func (s *Session) newBackOff() *backoff.ExponentialBackOff {
	base := s.engine.opts.BackoffBase
	return &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         base << s.engine.opts.ResubscribeAttempts,
	}
}
