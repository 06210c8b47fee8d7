package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/repairsync/internal/actions"
	"github.com/roach88/repairsync/internal/chain"
	"github.com/roach88/repairsync/internal/engine"
	"github.com/roach88/repairsync/internal/identity"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/metrics"
	"github.com/roach88/repairsync/internal/store"
	"github.com/roach88/repairsync/internal/submit"
	"github.com/roach88/repairsync/internal/testutil"
	"github.com/roach88/repairsync/internal/txerr"
)

// StepInterval is how far the ledger clock moves after each step.
const StepInterval = time.Second

const defaultFunding = 1_000_000_000

// fastTuning fills the zero timing fields of a run.
var fastTuning = Options{
	PollInterval:        time.Millisecond,
	ConfirmTimeout:      5 * time.Second,
	BackoffBase:         time.Millisecond,
	MaxAttempts:         3,
	ResubscribeAttempts: 5,
}

// withTuning returns opts with zero timing fields taken from fastTuning
// and the scenario's retry budget applied.
func (opts Options) withTuning(scenario *Scenario) Options {
	if opts.PollInterval <= 0 {
		opts.PollInterval = fastTuning.PollInterval
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = fastTuning.ConfirmTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = fastTuning.BackoffBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = fastTuning.MaxAttempts
	}
	if scenario.MaxAttempts > 0 {
		opts.MaxAttempts = scenario.MaxAttempts
	}
	if opts.ResubscribeAttempts <= 0 {
		opts.ResubscribeAttempts = fastTuning.ResubscribeAttempts
	}
	return opts
}

// Options configures a run.
type Options struct {
	// Logger receives component logs. Nil discards them.
	Logger *slog.Logger

	// Admin, if set, deploys the contract in place of the admin account.
	Admin ledger.Address

	// GasPrice and Funding tune the ledger node. Zero keeps the node's
	// price and the default balance.
	GasPrice uint64
	Funding  uint64

	// Buffer is the live subscription capacity. Zero uses the engine
	// default.
	Buffer int

	// Submission tuning. Zero values keep fast timings suited to the
	// manual ledger clock. A scenario's own max_attempts wins over
	// MaxAttempts.
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	BackoffBase    time.Duration
	MaxAttempts    int

	// ResubscribeAttempts bounds reconnects after a dropped feed. Zero
	// uses fastTuning's value.
	ResubscribeAttempts int

	// Metrics, if set, is shared by the pipeline, the tracker and the
	// session.
	Metrics *metrics.Metrics
}

// Harness holds the components of one scenario run.
type Harness struct {
	accounts accounts
	clock    *testutil.ManualClock
	chain    *chain.Chain
	wallet   *chain.Wallet
	store    *store.Store
	tracker  *submit.Tracker
	actions  *actions.Service
	session  *engine.Session
	logger   *slog.Logger
}

// Run executes a scenario and returns the result. The returned error is
// reserved for infrastructure failures; a scenario that does not behave as
// expected yields a failing Result.
func Run(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	h, err := newHarness(scenario, opts)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	if err := h.session.Start(ctx); err != nil {
		h.session.Stop()
		return nil, fmt.Errorf("failed to start sync session: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		trace := h.execute(ctx, i, step)
		result.Steps = append(result.Steps, trace)
		checkStep(result, step, trace)
		h.clock.Advance(StepInterval)
	}

	// A final backfill brings the projection up to date even if live
	// delivery was disrupted.
	if err := h.session.Backfill(ctx); err != nil {
		result.AddError(fmt.Sprintf("converge: %v", err))
	}
	events := h.session.Events()
	if err := h.session.Stop(); err != nil {
		result.AddError(fmt.Sprintf("session: %v", err))
	}
	for _, a := range h.tracker.List() {
		result.AddError(fmt.Sprintf("action %s on request %d never resolved", a.Kind, a.RequestID))
	}

	for _, e := range events {
		result.Events = append(result.Events, traceEvent(e))
	}
	records, err := h.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read projection: %w", err)
	}
	result.Projection = records

	actx := &AssertionContext{Ctx: ctx, Ledger: h.chain, Store: h.store, Scope: h.session.Scope(), accounts: h.accounts}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	hash, err := TraceHash(scenario.Name, result)
	if err != nil {
		return nil, fmt.Errorf("failed to hash trace: %w", err)
	}
	result.TraceHash = hash
	return result, nil
}

func newHarness(scenario *Scenario, opts Options) (*Harness, error) {
	accounts, err := newAccounts(scenario.Accounts)
	if err != nil {
		return nil, err
	}
	if !opts.Admin.IsZero() {
		accounts[AccountAdmin] = opts.Admin
	}
	opts = opts.withTuning(scenario)
	funding := opts.Funding
	if funding == 0 {
		funding = defaultFunding
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	clock := testutil.NewManualClock(time.Time{})
	chainOpts := []chain.Option{chain.WithClock(clock), chain.WithLogger(logger)}
	if opts.GasPrice > 0 {
		chainOpts = append(chainOpts, chain.WithGasPrice(opts.GasPrice))
	}
	c := chain.New(accounts[AccountAdmin], chainOpts...)
	for _, addr := range accounts.sorted() {
		c.Fund(addr, funding)
	}
	wallet := chain.NewWallet()

	pipeline := submit.New(c, wallet, submit.Options{
		PollInterval:   opts.PollInterval,
		ConfirmTimeout: opts.ConfirmTimeout,
		BackoffBase:    opts.BackoffBase,
		MaxAttempts:    opts.MaxAttempts,
		Logger:         logger,
		Metrics:        opts.Metrics,
	})
	tracker := submit.NewTracker(testutil.NewSequentialIDs("action"), opts.Metrics)

	scope, err := scopeOf(scenario.Sync, accounts)
	if err != nil {
		st.Close()
		return nil, err
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = engine.DefaultOptions().Buffer
	}
	eng := engine.New(c, st, engine.Options{
		Buffer:              buffer,
		ResubscribeAttempts: opts.ResubscribeAttempts,
		BackoffBase:         time.Millisecond,
		Observer:            tracker,
		Logger:              logger,
		Metrics:             opts.Metrics,
	})
	session, err := eng.Open(scope)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &Harness{
		accounts: accounts,
		clock:    clock,
		chain:    c,
		wallet:   wallet,
		store:    st,
		tracker:  tracker,
		actions:  actions.New(identity.ContextSource{}, pipeline, tracker, c, logger),
		session:  session,
		logger:   logger,
	}, nil
}

func scopeOf(spec *SyncSpec, accounts accounts) (engine.Scope, error) {
	if spec == nil {
		return engine.InitiatorScope(accounts[AccountTenant]), nil
	}
	if spec.Request != 0 {
		return engine.RequestScope(spec.Request), nil
	}
	addr, err := accounts.resolve(spec.Initiator)
	if err != nil {
		return engine.Scope{}, fmt.Errorf("sync: %w", err)
	}
	return engine.InitiatorScope(addr), nil
}

// execute runs one step and records what happened.
func (h *Harness) execute(ctx context.Context, i int, step Step) StepTrace {
	trace := StepTrace{Step: i, As: step.As, Call: step.Call, RequestID: step.Args.ID}
	h.inject(step.Faults)

	if step.As != "" {
		addr, _ := h.accounts.resolve(step.As)
		ctx = identity.WithPrincipal(ctx, identity.Principal{Subject: step.As, Address: addr, Source: "scenario"})
	}

	var (
		res *submit.Result
		err error
	)
	args := step.Args
	switch ledger.Method(step.Call) {
	case ledger.MethodCreate:
		landlord := ledger.ZeroAddress
		if args.Landlord != "" {
			landlord, _ = h.accounts.resolve(args.Landlord)
		}
		var id uint64
		id, res, err = h.actions.Create(ctx, args.PropertyID, args.DescriptionHash, landlord)
		trace.RequestID = id
	case ledger.MethodUpdateDescription:
		res, err = h.actions.UpdateDescription(ctx, args.ID, args.Hash)
	case ledger.MethodUpdateWorkDetails:
		res, err = h.actions.UpdateWorkDetails(ctx, args.ID, args.Hash)
	case ledger.MethodUpdateStatus:
		to, _ := ledger.ParseStatus(args.Status)
		res, err = h.actions.UpdateStatus(ctx, args.ID, to)
	case ledger.MethodWithdraw:
		res, err = h.actions.Withdraw(ctx, args.ID)
	case ledger.MethodApproveWork:
		res, err = h.actions.ApproveWork(ctx, args.ID, args.Accepted)
	case ledger.MethodPause:
		res, err = h.actions.Pause(ctx)
	case ledger.MethodUnpause:
		res, err = h.actions.Unpause(ctx)
	case ledger.MethodGrantRole, ledger.MethodRevokeRole:
		role := ledger.Role(args.Role)
		if role == "" {
			role = ledger.AdminRole
		}
		account, _ := h.accounts.resolve(args.Account)
		if step.Call == string(ledger.MethodGrantRole) {
			res, err = h.actions.GrantRole(ctx, role, account)
		} else {
			res, err = h.actions.RevokeRole(ctx, role, account)
		}
	case ledger.MethodUpgrade:
		res, err = h.actions.Upgrade(ctx, args.Implementation)
	case CallGet:
		var r ledger.RepairRequest
		r, err = h.actions.Read(ctx, args.ID)
		if err == nil {
			trace.Status = r.Status.String()
		}
	default:
		err = fmt.Errorf("unknown call %q", step.Call)
	}

	logger := h.logger.With("step", i, "call", step.Call, "as", step.As)
	if err != nil {
		trace.Outcome = OutcomeFailed
		trace.Kind = string(txerr.KindOf(err))
		var te *txerr.Error
		if errors.As(err, &te) {
			trace.Reason = te.Reason
		}
		logger.Debug("step failed", "error", err)
		return trace
	}

	trace.Outcome = OutcomeOK
	if res != nil {
		for _, e := range res.Events {
			trace.Events = append(trace.Events, string(e.Type))
		}
	}
	logger.Debug("step succeeded", "events", trace.Events)
	return trace
}

// inject arms the faults of one step. Throttles are applied in method order
// so runs are reproducible.
func (h *Harness) inject(f *Faults) {
	if f == nil {
		return
	}
	for _, method := range slices.Sorted(maps.Keys(f.Throttle)) {
		h.chain.Throttle(method, f.Throttle[method])
	}
	if f.Deny > 0 {
		h.wallet.DenyNext(f.Deny)
	}
	if f.Disconnect {
		h.chain.Disconnect()
	}
}

// checkStep compares a step's outcome with its expectation.
func checkStep(result *Result, step Step, trace StepTrace) {
	where := fmt.Sprintf("steps[%d] %s", trace.Step, step.Call)
	if step.Expect == nil {
		if trace.Outcome != OutcomeOK {
			result.AddError(fmt.Sprintf("%s: expected success, got %s %s", where, trace.Kind, trace.Reason))
		}
		return
	}
	if trace.Outcome == OutcomeOK {
		result.AddError(fmt.Sprintf("%s: expected failure %s, succeeded", where, describe(step.Expect)))
		return
	}
	if step.Expect.Error != "" && step.Expect.Error != trace.Reason {
		result.AddError(fmt.Sprintf("%s: expected revert %s, got %q", where, step.Expect.Error, trace.Reason))
	}
	if step.Expect.Kind != "" && step.Expect.Kind != trace.Kind {
		result.AddError(fmt.Sprintf("%s: expected kind %s, got %s", where, step.Expect.Kind, trace.Kind))
	}
}

func describe(e *Expect) string {
	switch {
	case e.Error != "" && e.Kind != "":
		return e.Kind + "/" + e.Error
	case e.Error != "":
		return e.Error
	}
	return e.Kind
}

func traceEvent(e ledger.Event) EventTrace {
	t := EventTrace{
		Type:      string(e.Type),
		RequestID: e.RequestID,
		Timestamp: e.Timestamp,
		Block:     e.Block,
	}
	switch e.Type {
	case ledger.EventStatusChanged:
		t.OldStatus = e.OldStatus.String()
		t.NewStatus = e.NewStatus.String()
	case ledger.EventDescriptionUpdated, ledger.EventWorkDetailsUpdated:
		t.NewHash = e.NewHash
	case ledger.EventCreated:
		t.NewHash = e.DescriptionHash
		t.NewStatus = ledger.StatusPending.String()
	}
	return t
}
