package chain

import (
	"context"
	"sync"
)

// Wallet stands in for the human operator's signing prompt. It approves
// every transaction until told to deny.
type Wallet struct {
	mu     sync.Mutex
	deny   int
	always bool
	asked  int
}

// NewWallet returns a wallet that approves everything.
func NewWallet() *Wallet {
	return &Wallet{}
}

// DenyNext makes the next n approval prompts get declined.
func (w *Wallet) DenyNext(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deny += n
}

// DenyAll declines every prompt from now on.
func (w *Wallet) DenyAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.always = true
}

// Prompts returns how many approvals were requested.
func (w *Wallet) Prompts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.asked
}

// Approve asks the operator to sign tx.
func (w *Wallet) Approve(ctx context.Context, _ Tx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.asked++
	if w.always || w.deny > 0 {
		if w.deny > 0 {
			w.deny--
		}
		return &RPCError{Code: CodeUserRejected, Message: "MetaMask Tx Signature: User denied transaction signature."}
	}
	return nil
}
