// Package chain is an in-process ledger node hosting the repair request
// contract.
//
// It exposes the read/write/subscribe primitives a client consumes from a
// remote node (block height, gas estimation, transaction submission,
// receipts, direct reads, historical log queries and live log
// subscriptions) and reports failures the way remote nodes do: as coded
// RPC errors with free-form messages. Fault injection (Throttle, FailNext,
// Disconnect, SetGasSurcharge) lets tests drive every failure path of the
// submission pipeline and the sync engine.
package chain
