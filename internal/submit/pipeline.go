package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/repairsync/internal/chain"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/metrics"
	"github.com/roach88/repairsync/internal/txerr"
)

// GasMultiplierPct is applied to every gas estimate. Execution cost can
// drift between estimation and inclusion, and a transaction that runs out
// of gas is dropped with nothing to show for it, so the pipeline always
// over-provisions by this fixed factor.
const GasMultiplierPct = 400

// State is a step of a submission.
type State string

const (
	StateIdle                 State = "Idle"
	StateEstimating           State = "Estimating"
	StateSubmitting           State = "Submitting"
	StateAwaitingConfirmation State = "AwaitingConfirmation"
	StateConfirmed            State = "Confirmed"
	StateFailed               State = "Failed"
)

// Ledger is the part of a ledger node the pipeline talks to.
type Ledger interface {
	BlockNumber(ctx context.Context) (uint64, error)
	EstimateGas(ctx context.Context, tx chain.Tx) (uint64, error)
	SendTransaction(ctx context.Context, tx chain.Tx) (string, error)
	TransactionReceipt(ctx context.Context, hash string) (*chain.Receipt, error)
}

// Approver asks the signer to approve a transaction.
type Approver interface {
	Approve(ctx context.Context, tx chain.Tx) error
}

// Call is a mutating contract call to submit.
type Call struct {
	From  ledger.Address
	Value uint64
	Data  ledger.Invocation
}

// Result describes a confirmed submission.
type Result struct {
	TxHash   string         `json:"tx_hash"`
	Estimate uint64         `json:"estimate"`
	GasLimit uint64         `json:"gas_limit"`
	Receipt  *chain.Receipt `json:"-"`

	// Events are the repair events the transaction emitted, decoded from
	// the receipt logs.
	Events []ledger.Event `json:"events"`
}

// Transition is reported to Options.OnState on every state change.
type Transition struct {
	Method ledger.Method
	From   State
	To     State
	TxHash string
}

// Options configures a Pipeline.
type Options struct {
	// PollInterval is the delay between receipt polls.
	PollInterval time.Duration

	// ConfirmTimeout bounds the whole confirmation wait.
	ConfirmTimeout time.Duration

	// BackoffBase is the first retry delay after throttling; each retry
	// doubles it.
	BackoffBase time.Duration

	// MaxAttempts caps the tries of one throttled call.
	MaxAttempts int

	// OnState, if set, observes state changes.
	OnState func(Transition)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
		BackoffBase:    time.Second,
		MaxAttempts:    5,
	}
}

// Pipeline estimates, submits and confirms mutating calls. Every error it
// returns is a *txerr.Error.
//
// Thread-safety: Submit may be called concurrently; submissions share no
// state beyond the ledger and approver.
type Pipeline struct {
	ledger   Ledger
	approver Approver
	opts     Options
	logger   *slog.Logger
}

// New creates a pipeline. Zero option values take their defaults.
func New(l Ledger, a Approver, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = def.ConfirmTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{ledger: l, approver: a, opts: opts, logger: logger}
}

// submission carries the state of one Submit call.
type submission struct {
	p      *Pipeline
	call   Call
	state  State
	txHash string
	logger *slog.Logger
}

func (s *submission) enter(to State) {
	from := s.state
	s.state = to
	s.logger.Debug("submission state", "from", from, "to", to, "tx_hash", s.txHash)
	if s.p.opts.OnState != nil {
		s.p.opts.OnState(Transition{Method: s.call.Data.Method, From: from, To: to, TxHash: s.txHash})
	}
}

// fail classifies err, moves to Failed and returns the classified error.
func (s *submission) fail(op string, err error) error {
	cerr := txerr.Classify(op, err)
	s.enter(StateFailed)
	kind := txerr.KindOf(cerr)
	s.p.opts.Metrics.SubmitFailed(string(kind))
	if kind == txerr.KindUnknown {
		s.logger.Error("submission failed", "op", op, "kind", kind, "raw", err.Error(), "tx_hash", s.txHash)
	} else {
		s.logger.Warn("submission failed", "op", op, "kind", kind, "raw", err.Error(), "tx_hash", s.txHash)
	}
	return cerr
}

// Submit runs call through estimation, approval, submission and
// confirmation. Caller cancellation is honored until the transaction is
// sent; the confirmation wait then runs to completion, bounded by
// ConfirmTimeout.
func (p *Pipeline) Submit(ctx context.Context, call Call) (*Result, error) {
	start := time.Now()
	s := &submission{
		p:      p,
		call:   call,
		state:  StateIdle,
		logger: p.logger.With("method", call.Data.Method, "request_id", call.Data.RequestID, "from", call.From.Short()),
	}
	res, err := p.run(ctx, s)

	outcome := "confirmed"
	if err != nil {
		outcome = "failed"
	}
	p.opts.Metrics.Submitted(string(call.Data.Method), outcome, time.Since(start))
	return res, err
}

func (p *Pipeline) run(ctx context.Context, s *submission) (*Result, error) {
	s.enter(StateEstimating)

	if _, err := p.ledger.BlockNumber(ctx); err != nil {
		return nil, s.fail("probe", err)
	}

	tx := chain.Tx{From: s.call.From, Value: s.call.Value, Data: s.call.Data}
	estimate, err := retryThrottled(ctx, p, "estimate", func() (uint64, error) {
		return p.ledger.EstimateGas(ctx, tx)
	})
	if err != nil {
		return nil, s.fail("estimate", err)
	}
	tx.GasLimit = estimate * GasMultiplierPct / 100

	s.enter(StateSubmitting)
	if p.approver != nil {
		if err := p.approver.Approve(ctx, tx); err != nil {
			return nil, s.fail("approve", err)
		}
	}
	hash, err := p.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return nil, s.fail("submit", err)
	}
	s.txHash = hash
	s.logger = s.logger.With("tx_hash", hash)

	s.enter(StateAwaitingConfirmation)
	receipt, err := p.awaitReceipt(ctx, hash)
	if err != nil {
		return nil, s.fail("confirm", err)
	}
	if !receipt.Succeeded() {
		cerr := txerr.ClassifyReason("confirm", receipt.RevertReason)
		return nil, s.fail("confirm", cerr)
	}

	s.enter(StateConfirmed)
	s.logger.Info("transaction confirmed", "block", receipt.Block, "gas_used", receipt.GasUsed, "gas_limit", tx.GasLimit)
	return &Result{
		TxHash:   hash,
		Estimate: estimate,
		GasLimit: tx.GasLimit,
		Receipt:  receipt,
		Events:   p.decodeEvents(receipt),
	}, nil
}

// awaitReceipt polls until the transaction is included. The wait ignores
// caller cancellation.
func (p *Pipeline) awaitReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := retryThrottled(wctx, p, "confirm", func() (*chain.Receipt, error) {
			r, err := p.ledger.TransactionReceipt(wctx, hash)
			if errors.Is(err, chain.ErrNotFound) {
				return nil, nil
			}
			return r, err
		})
		if err != nil {
			if wctx.Err() != nil {
				p.logger.Warn("confirmation timed out while polling failed", "tx", hash, "error", err)
				return nil, fmt.Errorf("transaction %s not confirmed within %s: %w", hash, p.opts.ConfirmTimeout, wctx.Err())
			}
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ticker.C:
		case <-wctx.Done():
			return nil, fmt.Errorf("transaction %s not confirmed within %s: %w", hash, p.opts.ConfirmTimeout, wctx.Err())
		}
	}
}

// retryThrottled runs op, retrying with exponential backoff only while it
// fails with throttling. Any other failure is returned at once.
func retryThrottled[T any](ctx context.Context, p *Pipeline, step string, op func() (T, error)) (T, error) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.opts.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.opts.BackoffBase << p.opts.MaxAttempts,
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		cerr := txerr.Classify(step, err)
		if !txerr.IsRetryable(cerr) {
			return v, backoff.Permanent(cerr)
		}
		return v, cerr
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(p.opts.ConfirmTimeout),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.opts.Metrics.Retried(step)
			p.logger.Warn("throttled, retrying", "step", step, "wait", wait, "error", err)
		}),
	)
}

func (p *Pipeline) decodeEvents(r *chain.Receipt) []ledger.Event {
	var events []ledger.Event
	for _, l := range r.Logs {
		e, err := ledger.DecodeEvent(l.Topic, l.Data)
		if err != nil {
			p.logger.Warn("undecodable receipt log", "tx_hash", r.TxHash, "topic", l.Topic, "error", err)
			continue
		}
		e.Block, e.Index, e.TxHash = l.Block, l.Index, l.TxHash
		events = append(events, e)
	}
	return events
}
