package chain

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/repairsync/internal/ledger"
)

// Log is an event as recorded by the ledger. RequestID and Initiator are
// indexed so filters can match them without decoding Data.
type Log struct {
	Block     uint64
	Index     uint
	TxHash    string
	Timestamp uint64
	Topic     ledger.EventType
	RequestID uint64
	Initiator ledger.Address
	Data      []byte
}

// Filter selects logs. Zero fields match everything.
type Filter struct {
	RequestID     uint64
	Initiator     ledger.Address
	FromTimestamp uint64
	Topics        []ledger.EventType
}

// Match reports whether l passes f.
func (f Filter) Match(l Log) bool {
	if f.RequestID != 0 && l.RequestID != f.RequestID {
		return false
	}
	if f.Initiator != "" && l.Initiator != f.Initiator {
		return false
	}
	if l.Timestamp < f.FromTimestamp {
		return false
	}
	if len(f.Topics) > 0 && !slices.Contains(f.Topics, l.Topic) {
		return false
	}
	return true
}

// Subscription is a live stream of logs. Err delivers at most one error,
// when the node drops the stream; it is closed on Unsubscribe.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// subscription forwards logs to its consumer through a private queue so a
// slow consumer never blocks block production.
type subscription struct {
	id     string
	filter Filter
	out    chan<- Log
	chain  *Chain

	mu      sync.Mutex
	pending []Log
	signal  chan struct{}
	quit    chan struct{}
	err     chan error
	once    sync.Once
	errOnce sync.Once
}

func newSubscription(c *Chain, f Filter, out chan<- Log) *subscription {
	return &subscription{
		id:     uuid.NewString(),
		filter: f,
		out:    out,
		chain:  c,
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		err:    make(chan error, 1),
	}
}

func (s *subscription) push(l Log) {
	s.mu.Lock()
	s.pending = append(s.pending, l)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) forward() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, l := range batch {
			select {
			case s.out <- l:
			case <-s.quit:
				return
			}
		}

		select {
		case <-s.signal:
		case <-s.quit:
			return
		}
	}
}

// drop ends the stream from the node side. Err stays open until
// Unsubscribe.
func (s *subscription) drop(err error) {
	s.once.Do(func() {
		s.err <- err
		close(s.quit)
	})
}

// Unsubscribe stops delivery and releases the stream. Safe to call more
// than once and after a drop.
func (s *subscription) Unsubscribe() {
	s.chain.removeSubscription(s.id)
	s.once.Do(func() {
		close(s.quit)
	})
	s.errOnce.Do(func() {
		close(s.err)
	})
}

func (s *subscription) Err() <-chan error {
	return s.err
}

// FilterLogs returns every recorded log matching f, in ledger order.
func (c *Chain) FilterLogs(ctx context.Context, f Filter) ([]Log, error) {
	if err := c.enter(ctx, MethodGetLogs); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	var out []Log
	for _, l := range c.logs {
		if f.Match(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

// SubscribeLogs streams logs matching f, as they are mined, to ch. Logs
// recorded before the call are not replayed.
func (c *Chain) SubscribeLogs(ctx context.Context, f Filter, ch chan<- Log) (Subscription, error) {
	if err := c.enter(ctx, MethodSubscribe); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	s := newSubscription(c, f, ch)
	c.subs[s.id] = s
	go s.forward()
	return s, nil
}

// Disconnect drops every live subscription as a lost connection would.
func (c *Chain) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	for _, s := range subs {
		s.drop(ErrConnectionLost)
	}
}

// Subscribers returns the number of live subscriptions.
func (c *Chain) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Chain) removeSubscription(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}
