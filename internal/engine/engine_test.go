package engine

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repairsync/internal/chain"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/metrics"
	"github.com/roach88/repairsync/internal/store"
	"github.com/roach88/repairsync/internal/submit"
	rtestutil "github.com/roach88/repairsync/internal/testutil"
	"github.com/roach88/repairsync/internal/txerr"
)

var (
	admin    = rtestutil.Address(0xad)
	tenant   = rtestutil.Address(1)
	landlord = rtestutil.Address(2)
	other    = rtestutil.Address(3)
)

const waitFor = 2 * time.Second

type fixture struct {
	chain   *chain.Chain
	clock   *rtestutil.ManualClock
	store   *store.Store
	metrics *metrics.Metrics
	tracker *submit.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := rtestutil.NewManualClock(time.Time{})
	c := chain.New(admin, chain.WithClock(clock))
	for _, a := range []ledger.Address{admin, tenant, landlord, other} {
		c.Fund(a, 1_000_000_000)
	}
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{chain: c, clock: clock, store: s, metrics: metrics.New(nil), tracker: submit.NewTracker(nil, nil)}
}

func (f *fixture) engine(src Source) *Engine {
	if src == nil {
		src = f.chain
	}
	return New(src, f.store, Options{
		BackoffBase:         time.Millisecond,
		ResubscribeAttempts: 3,
		Observer:            f.tracker,
		Metrics:             f.metrics,
	})
}

func (f *fixture) start(t *testing.T, src Source, scope Scope) *Session {
	t.Helper()
	s, err := f.engine(src).Open(scope)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s
}

// send mines inv in its own block and moves the clock one second.
func (f *fixture) send(t *testing.T, from ledger.Address, inv ledger.Invocation) {
	t.Helper()
	ctx := context.Background()
	hash, err := f.chain.SendTransaction(ctx, chain.Tx{From: from, GasLimit: 1_000_000, Data: inv})
	require.NoError(t, err)
	r, err := f.chain.TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.RevertReason)
	f.clock.Advance(time.Second)
}

func (f *fixture) create(t *testing.T, from ledger.Address) {
	t.Helper()
	f.send(t, from, ledger.Invocation{Method: ledger.MethodCreate, PropertyID: "P1", DescriptionHash: "H1", Landlord: landlord})
}

func (f *fixture) setStatus(t *testing.T, id uint64, to ledger.Status) {
	t.Helper()
	f.send(t, landlord, ledger.Invocation{Method: ledger.MethodUpdateStatus, RequestID: id, Status: to})
}

func (f *fixture) status(t *testing.T, id uint64) ledger.Status {
	t.Helper()
	r, err := f.store.ReadByID(context.Background(), id)
	require.NoError(t, err)
	return r.Status
}

func (f *fixture) eventuallyStatus(t *testing.T, id uint64, want ledger.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := f.store.ReadByID(context.Background(), id)
		return err == nil && r.Status == want
	}, waitFor, time.Millisecond)
}

func types(events []ledger.Event) []ledger.EventType {
	out := make([]ledger.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestEngine_OpenValidatesScope(t *testing.T) {
	f := newFixture(t)
	e := f.engine(nil)

	_, err := e.Open(Scope{})
	assert.Error(t, err)
	_, err = e.Open(Scope{RequestID: 1, Initiator: tenant})
	assert.Error(t, err)
	_, err = e.Open(InitiatorScope(ledger.ZeroAddress))
	assert.Error(t, err)

	s, err := e.Open(RequestScope(1))
	require.NoError(t, err)
	assert.Equal(t, RequestScope(1), s.Scope())
}

func TestSession_BackfillAppliesHistory(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)
	f.setStatus(t, 1, ledger.StatusInProgress)
	f.setStatus(t, 1, ledger.StatusCompleted)

	s := f.start(t, nil, RequestScope(1))

	assert.Equal(t, ledger.StatusCompleted, f.status(t, 1))
	assert.Equal(t, []ledger.EventType{ledger.EventCreated, ledger.EventStatusChanged, ledger.EventStatusChanged}, types(s.Events()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsApplied.WithLabelValues(string(ledger.EventCreated))))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EventsApplied.WithLabelValues(string(ledger.EventStatusChanged))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Backfills.WithLabelValues("ok")))

	pos, ok, err := f.store.Checkpoint(context.Background(), "request:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.Position(), pos)
}

func TestSession_LiveEvents(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)
	s := f.start(t, nil, RequestScope(1))

	_, err := f.tracker.Begin(1, ledger.MethodUpdateStatus, "InProgress")
	require.NoError(t, err)

	f.setStatus(t, 1, ledger.StatusInProgress)
	f.eventuallyStatus(t, 1, ledger.StatusInProgress)

	require.NoError(t, s.Flush(context.Background()))
	_, pending := f.tracker.Pending(1)
	assert.False(t, pending, "applied event clears the pending action")
	assert.Equal(t, 2, s.Len())
}

// overlapping mines a transaction between subscribing and backfilling, so
// the same log arrives from both producers.
type overlapping struct {
	*chain.Chain
	once   sync.Once
	during func()
}

func (o *overlapping) FilterLogs(ctx context.Context, f chain.Filter) ([]chain.Log, error) {
	o.once.Do(o.during)
	return o.Chain.FilterLogs(ctx, f)
}

func TestSession_OverlapAppliedOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)

	src := &overlapping{Chain: f.chain, during: func() { f.setStatus(t, 1, ledger.StatusInProgress) }}
	s := f.start(t, src, RequestScope(1))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.EventsDuplicate) >= 1
	}, waitFor, time.Millisecond, "live and backfill both delivered the status change")

	assert.Equal(t, 2, s.Len())
	history, err := f.store.History(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, ledger.StatusInProgress, f.status(t, 1))
}

func TestSession_UndecodableLogSkipped(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)
	f.chain.AppendRawLog(chain.Log{
		Topic:     ledger.EventStatusChanged,
		RequestID: 1,
		Initiator: tenant,
		Data:      []byte(`{"id":1,"old_status":`),
	})
	f.setStatus(t, 1, ledger.StatusRejected)

	s := f.start(t, nil, RequestScope(1))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventsUndecodable))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, ledger.StatusRejected, f.status(t, 1))
}

func TestSession_BackfillFailureSurfaced(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)
	f.chain.Throttle(chain.MethodGetLogs, 1)

	s, err := f.engine(nil).Open(RequestScope(1))
	require.NoError(t, err)
	t.Cleanup(func() { s.Stop() })

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsBackfillError(err))
	assert.ErrorIs(t, err, txerr.ErrRateLimit)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Backfills.WithLabelValues("error")))

	// The session keeps following the live stream; the caller retries.
	require.NoError(t, s.Backfill(context.Background()))
	assert.Equal(t, ledger.StatusPending, f.status(t, 1))
	assert.NoError(t, s.Err())
}

func TestSession_SubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.FailNext(chain.MethodSubscribe, errors.New("dial tcp 127.0.0.1:8546: connect: connection refused"))

	s, err := f.engine(nil).Open(RequestScope(1))
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsSubscribeError(err))
	assert.False(t, IsBackfillError(err))
	<-s.Done()
	assert.Equal(t, err, s.Err())
	assert.Equal(t, err, s.Stop())
}

// flaky mines a transaction whenever the session resubscribes, so that log
// is only reachable through the gap backfill. failures > 0 makes that many
// resubscribe attempts fail first.
type flaky struct {
	*chain.Chain
	mu       sync.Mutex
	calls    int
	failures int
	down     func()
}

func (fl *flaky) SubscribeLogs(ctx context.Context, f chain.Filter, ch chan<- chain.Log) (chain.Subscription, error) {
	fl.mu.Lock()
	fl.calls++
	first := fl.calls == 1
	fail := !first && fl.failures != 0
	if fail && fl.failures > 0 {
		fl.failures--
	}
	fl.mu.Unlock()

	if fail {
		return nil, errors.New("websocket: bad handshake")
	}
	if !first && fl.down != nil {
		fl.down()
	}
	return fl.Chain.SubscribeLogs(ctx, f, ch)
}

func TestSession_ResubscribeRecoversGap(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)

	src := &flaky{Chain: f.chain, failures: 1}
	src.down = func() {
		// Runs on the session goroutine.
		_, err := f.chain.SendTransaction(context.Background(), chain.Tx{
			From: landlord, GasLimit: 1_000_000,
			Data: ledger.Invocation{Method: ledger.MethodUpdateStatus, RequestID: 1, Status: ledger.StatusInProgress},
		})
		assert.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	s := f.start(t, src, RequestScope(1))

	f.chain.Disconnect()
	f.eventuallyStatus(t, 1, ledger.StatusInProgress)
	require.Eventually(t, func() bool { return f.chain.Subscribers() == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Resubscribes))

	// The restored stream is live.
	f.setStatus(t, 1, ledger.StatusCompleted)
	f.eventuallyStatus(t, 1, ledger.StatusCompleted)
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 3, s.Len())
	assert.NoError(t, s.Err())
}

// lostCheckpoint is a projection whose checkpoint reads always fail.
type lostCheckpoint struct{ *store.Store }

func (lostCheckpoint) Checkpoint(context.Context, string) (store.Position, bool, error) {
	return store.Position{}, false, errors.New("disk I/O error")
}

func TestSession_GapBackfillFallsBackToSessionPosition(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)

	src := &flaky{Chain: f.chain}
	src.down = func() {
		_, err := f.chain.SendTransaction(context.Background(), chain.Tx{
			From: landlord, GasLimit: 1_000_000,
			Data: ledger.Invocation{Method: ledger.MethodUpdateStatus, RequestID: 1, Status: ledger.StatusInProgress},
		})
		assert.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	eng := New(src, lostCheckpoint{f.store}, Options{
		BackoffBase:         time.Millisecond,
		ResubscribeAttempts: 3,
		Metrics:             f.metrics,
	})
	s, err := eng.Open(RequestScope(1))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	require.NotEqual(t, store.Position{}, s.Position())

	f.chain.Disconnect()
	f.eventuallyStatus(t, 1, ledger.StatusInProgress)
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 2, s.Len())
	assert.NoError(t, s.Err())
}

func TestSession_ResubscribeExhausted(t *testing.T) {
	f := newFixture(t)
	src := &flaky{Chain: f.chain, failures: -1}
	s := f.start(t, src, RequestScope(1))

	f.chain.Disconnect()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end")
	}
	assert.True(t, IsSubscribeError(s.Err()))
	assert.Equal(t, s.Err(), s.Stop())
	assert.ErrorIs(t, s.Backfill(context.Background()), ErrSessionClosed)
}

func TestSession_Stop(t *testing.T) {
	f := newFixture(t)
	s, err := f.engine(nil).Open(RequestScope(1))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Flush(context.Background()), ErrNotStarted)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, f.chain.Subscribers())

	require.NoError(t, s.Stop())
	assert.Equal(t, 0, f.chain.Subscribers(), "connection released")
	require.NoError(t, s.Stop(), "idempotent")

	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
	assert.ErrorIs(t, s.Backfill(context.Background()), ErrSessionClosed)

	// Nothing is applied after Stop.
	f.create(t, tenant)
	_, err = f.store.ReadByID(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSession_ContextCancelReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	s, err := f.engine(nil).Open(RequestScope(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 1, f.chain.Subscribers())

	cancel()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end")
	}
	assert.Equal(t, 0, f.chain.Subscribers(), "connection released")
	assert.NoError(t, s.Stop())

	// Blocks mined afterwards have nowhere to go.
	for range 3 {
		f.create(t, tenant)
	}
	assert.Equal(t, 0, f.chain.Subscribers())
}

func TestSession_StopBeforeStart(t *testing.T) {
	f := newFixture(t)
	s, err := f.engine(nil).Open(RequestScope(1))
	require.NoError(t, err)
	require.NoError(t, s.Stop())
	<-s.Done()
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
}

func TestSession_InitiatorScope(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant) // 1
	f.create(t, other)  // 2
	f.create(t, tenant) // 3

	s := f.start(t, nil, InitiatorScope(tenant))

	f.setStatus(t, 2, ledger.StatusInProgress)
	f.setStatus(t, 3, ledger.StatusInProgress)
	f.eventuallyStatus(t, 3, ledger.StatusInProgress)
	require.NoError(t, s.Flush(context.Background()))

	var ids []uint64
	for _, e := range s.Events() {
		ids = append(ids, e.RequestID)
	}
	assert.Equal(t, []uint64{1, 3, 3}, ids)

	_, err := f.store.ReadByID(context.Background(), 2)
	assert.ErrorIs(t, err, store.ErrNotFound, "other initiators are out of scope")
}

// reversed returns backfilled logs newest first.
type reversed struct{ *chain.Chain }

func (r reversed) FilterLogs(ctx context.Context, f chain.Filter) ([]chain.Log, error) {
	logs, err := r.Chain.FilterLogs(ctx, f)
	slices.Reverse(logs)
	return logs, err
}

func TestSession_OutOfOrderDelivery(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)
	f.send(t, tenant, ledger.Invocation{Method: ledger.MethodUpdateDescription, RequestID: 1, Hash: "H2"})
	f.setStatus(t, 1, ledger.StatusInProgress)
	f.send(t, tenant, ledger.Invocation{Method: ledger.MethodUpdateDescription, RequestID: 1, Hash: "H3"})
	f.setStatus(t, 1, ledger.StatusCompleted)

	s := f.start(t, reversed{f.chain}, RequestScope(1))

	r, err := f.store.ReadByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, r.Status)
	assert.Equal(t, "H3", r.DescriptionHash)
	assert.Equal(t, tenant, r.Initiator)

	events := s.Events()
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.True(t, store.PositionOf(events[i-1]).Less(store.PositionOf(events[i])), "events sorted by position")
	}
}

func TestSession_SecondSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	f.create(t, tenant)
	f.setStatus(t, 1, ledger.StatusInProgress)

	first := f.start(t, nil, RequestScope(1))
	require.NoError(t, first.Stop())
	before, err := f.store.ReadByID(context.Background(), 1)
	require.NoError(t, err)

	second := f.start(t, nil, RequestScope(1))
	assert.Equal(t, 2, second.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EventsDuplicate), "projection already holds both events")

	after, err := f.store.ReadByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
