package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/repairsync/internal/ledger"
)

// RPC method names, used to target fault injection.
const (
	MethodBlockNumber = "eth_blockNumber"
	MethodEstimateGas = "eth_estimateGas"
	MethodSendTx      = "eth_sendRawTransaction"
	MethodReceipt     = "eth_getTransactionReceipt"
	MethodCall        = "eth_call"
	MethodGetLogs     = "eth_getLogs"
	MethodSubscribe   = "eth_subscribe"
)

// Clock supplies block timestamps.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Tx is a transaction as submitted by a client.
type Tx struct {
	From     ledger.Address
	Value    uint64
	GasLimit uint64
	Data     ledger.Invocation
}

// Receipt reports the outcome of an included transaction. Status is 1 for
// success and 0 for failure, in which case RevertReason says why.
type Receipt struct {
	TxHash       string
	Block        uint64
	Timestamp    uint64
	Status       uint64
	GasUsed      uint64
	RevertReason string
	Logs         []Log
}

// Succeeded reports whether the transaction committed.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

type pendingTx struct {
	hash string
	tx   Tx
}

// Chain is an in-process ledger node hosting one repair request contract.
// It serializes every call under one lock, orders transactions into blocks
// and records their logs, and can be told to misbehave the way remote nodes
// do: throttle, drop subscriptions, charge more gas than estimated.
type Chain struct {
	mu sync.Mutex

	contract *ledger.Contract
	clock    Clock
	logger   *slog.Logger
	autoMine bool

	gasPrice     uint64
	blockGasCap  uint64
	surchargePct uint64

	height    uint64
	lastTime  uint64
	nonces    map[ledger.Address]uint64
	balances  map[ledger.Address]uint64
	mempool   []pendingTx
	receipts  map[string]*Receipt
	logs      []Log
	subs      map[string]*subscription
	faults    map[string][]error
	callCount map[string]int
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock sets the source of block timestamps.
func WithClock(clock Clock) Option {
	return func(c *Chain) { c.clock = clock }
}

// WithLogger sets the logger for node-side diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// WithManualMining leaves transactions in the mempool until Mine is called.
func WithManualMining() Option {
	return func(c *Chain) { c.autoMine = false }
}

// WithGasPrice sets the price charged per unit of gas.
func WithGasPrice(price uint64) Option {
	return func(c *Chain) { c.gasPrice = price }
}

// New deploys a fresh contract administered by admin.
func New(admin ledger.Address, opts ...Option) *Chain {
	c := &Chain{
		contract:    ledger.NewContract(admin, "RepairRequestV1"),
		clock:       wallClock{},
		logger:      slog.Default(),
		autoMine:    true,
		gasPrice:    defaultGasCost,
		blockGasCap: defaultGasCap,
		nonces:      make(map[ledger.Address]uint64),
		balances:    make(map[ledger.Address]uint64),
		receipts:    make(map[string]*Receipt),
		subs:        make(map[string]*subscription),
		faults:      make(map[string][]error),
		callCount:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fund credits amount to account.
func (c *Chain) Fund(account ledger.Address, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] += amount
}

// Balance returns the account's balance.
func (c *Chain) Balance(account ledger.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[account]
}

// GasPrice returns the price charged per unit of gas.
func (c *Chain) GasPrice() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gasPrice
}

// SetGasSurcharge makes execution burn pct percent more gas than estimation
// reported, modelling cost drift between estimate and inclusion.
func (c *Chain) SetGasSurcharge(pct uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surchargePct = pct
}

// Throttle makes the next n calls to method fail with a 429.
func (c *Chain) Throttle(method string, n int) {
	for i := 0; i < n; i++ {
		c.FailNext(method, throttled())
	}
}

// FailNext makes the next call to method fail with err. Calls queue up.
func (c *Chain) FailNext(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[method] = append(c.faults[method], err)
}

// Calls returns how many times method was called, failed calls included.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCount[method]
}

// enter takes the lock for an RPC call. On error the lock is released.
func (c *Chain) enter(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.callCount[method]++
	if q := c.faults[method]; len(q) > 0 {
		err := q[0]
		c.faults[method] = q[1:]
		c.mu.Unlock()
		return err
	}
	return nil
}

// BlockNumber returns the height of the latest block.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.enter(ctx, MethodBlockNumber); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()
	return c.height, nil
}

// EstimateGas simulates tx against the current state and returns the gas it
// would use. A call that would revert fails with the revert reason.
func (c *Chain) EstimateGas(ctx context.Context, tx Tx) (uint64, error) {
	if err := c.enter(ctx, MethodEstimateGas); err != nil {
		return 0, err
	}
	defer c.mu.Unlock()

	sim := c.contract.Clone()
	call := ledger.Call{Caller: tx.From, Value: tx.Value, Timestamp: c.nextTimestamp()}
	if _, err := sim.Invoke(call, tx.Data); err != nil {
		return 0, reverted(err)
	}
	return intrinsicGas(tx.Data), nil
}

// SendTransaction admits tx to the mempool and returns its hash. With auto
// mining on, the transaction is included before this returns.
func (c *Chain) SendTransaction(ctx context.Context, tx Tx) (string, error) {
	if err := c.enter(ctx, MethodSendTx); err != nil {
		return "", err
	}
	defer c.mu.Unlock()

	if tx.GasLimit < txBaseGas {
		return "", serverError("intrinsic gas too low: have %d, want %d", tx.GasLimit, txBaseGas)
	}
	if tx.GasLimit > c.blockGasCap {
		return "", serverError("exceeds block gas limit")
	}
	if cost := tx.GasLimit*c.gasPrice + tx.Value; c.balances[tx.From] < cost {
		return "", serverError("insufficient funds for gas * price + value: address %s have %d want %d",
			tx.From, c.balances[tx.From], cost)
	}

	nonce := c.nonces[tx.From]
	c.nonces[tx.From] = nonce + 1
	hash, err := txHash(tx, nonce)
	if err != nil {
		return "", serverError("rlp: %v", err)
	}
	c.mempool = append(c.mempool, pendingTx{hash: hash, tx: tx})

	if c.autoMine {
		c.mine()
	}
	return hash, nil
}

// TransactionReceipt returns the receipt of an included transaction, or
// ErrNotFound while it is still pending.
func (c *Chain) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	if err := c.enter(ctx, MethodReceipt); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	r, ok := c.receipts[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// GetRequest reads a record straight from the contract.
func (c *Chain) GetRequest(ctx context.Context, id uint64) (ledger.RepairRequest, error) {
	if err := c.enter(ctx, MethodCall); err != nil {
		return ledger.RepairRequest{}, err
	}
	defer c.mu.Unlock()

	r, err := c.contract.Get(id)
	if err != nil {
		return ledger.RepairRequest{}, reverted(err)
	}
	return r, nil
}

// Paused reads the contract's emergency stop flag.
func (c *Chain) Paused(ctx context.Context) (bool, error) {
	if err := c.enter(ctx, MethodCall); err != nil {
		return false, err
	}
	defer c.mu.Unlock()
	return c.contract.Paused(), nil
}

// Implementation reads the contract's active implementation label.
func (c *Chain) Implementation(ctx context.Context) (string, error) {
	if err := c.enter(ctx, MethodCall); err != nil {
		return "", err
	}
	defer c.mu.Unlock()
	return c.contract.Implementation(), nil
}

// Mine includes every pending transaction in a new block and returns its
// height. Nothing happens when the mempool is empty.
func (c *Chain) Mine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mine()
	return c.height
}

// Pending returns the number of transactions waiting for inclusion.
func (c *Chain) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mempool)
}

// AppendRawLog records a log with arbitrary data in its own block, as a
// misbehaving or newer contract might emit it.
func (c *Chain) AppendRawLog(l Log) Log {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.height++
	c.lastTime = c.nextTimestamp()
	l.Block = c.height
	l.Index = 0
	l.Timestamp = c.lastTime
	c.record(l)
	return l
}

func (c *Chain) mine() {
	if len(c.mempool) == 0 {
		return
	}
	c.height++
	c.lastTime = c.nextTimestamp()

	var index uint
	for _, p := range c.mempool {
		r := c.execute(p, &index)
		c.receipts[p.hash] = r
		for _, l := range r.Logs {
			c.record(l)
		}
	}
	c.mempool = nil
}

// execute runs one transaction at the current block. Failed transactions
// still pay for the gas they burned.
func (c *Chain) execute(p pendingTx, index *uint) *Receipt {
	r := &Receipt{TxHash: p.hash, Block: c.height, Timestamp: c.lastTime}

	need := executionGas(p.tx.Data, c.surchargePct)
	if p.tx.GasLimit < need {
		r.GasUsed = p.tx.GasLimit
		r.RevertReason = "out of gas"
		c.charge(p.tx.From, r.GasUsed)
		c.logger.Debug("tx ran out of gas", "tx_hash", p.hash, "gas_limit", p.tx.GasLimit, "gas_needed", need)
		return r
	}

	r.GasUsed = need
	c.charge(p.tx.From, r.GasUsed)

	call := ledger.Call{Caller: p.tx.From, Value: p.tx.Value, Timestamp: c.lastTime}
	events, err := c.contract.Invoke(call, p.tx.Data)
	if err != nil {
		r.RevertReason = reverted(err).Error()
		c.logger.Debug("tx reverted", "tx_hash", p.hash, "reason", r.RevertReason)
		return r
	}

	r.Status = 1
	for _, e := range events {
		data, err := ledger.EncodeData(e)
		if err != nil {
			// Events come from the contract itself; this is a programming error.
			panic(fmt.Sprintf("chain: encode %s: %v", e.Type, err))
		}
		r.Logs = append(r.Logs, Log{
			Block:     c.height,
			Index:     *index,
			TxHash:    p.hash,
			Timestamp: c.lastTime,
			Topic:     e.Type,
			RequestID: e.RequestID,
			Initiator: e.Initiator,
			Data:      data,
		})
		*index++
	}
	return r
}

func (c *Chain) charge(account ledger.Address, gas uint64) {
	fee := gas * c.gasPrice
	if fee > c.balances[account] {
		fee = c.balances[account]
	}
	c.balances[account] -= fee
}

func (c *Chain) record(l Log) {
	c.logs = append(c.logs, l)
	for _, s := range c.subs {
		if s.filter.Match(l) {
			s.push(l)
		}
	}
}

// nextTimestamp returns the timestamp for the next block. Block timestamps
// never go backwards, but consecutive blocks may share one.
func (c *Chain) nextTimestamp() uint64 {
	now := uint64(c.clock.Now().Unix())
	if now < c.lastTime {
		return c.lastTime
	}
	return now
}

func txHash(tx Tx, nonce uint64) (string, error) {
	data, err := json.Marshal(struct {
		Tx    Tx
		Nonce uint64
	}{tx, nonce})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:]), nil
}
