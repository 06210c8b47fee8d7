package chain

import "github.com/roach88/repairsync/internal/ledger"

// Gas schedule. Numbers are in the range a real contract would spend; only
// their relative size matters here.
const (
	txBaseGas      = 21000
	calldataGas    = 16
	defaultGasCap  = 30_000_000
	defaultGasCost = 1
)

var methodGas = map[ledger.Method]uint64{
	ledger.MethodCreate:            110_000,
	ledger.MethodUpdateDescription: 32_000,
	ledger.MethodUpdateWorkDetails: 52_000,
	ledger.MethodUpdateStatus:      30_000,
	ledger.MethodWithdraw:          29_000,
	ledger.MethodApproveWork:       29_000,
	ledger.MethodPause:             27_000,
	ledger.MethodUnpause:           27_000,
	ledger.MethodGrantRole:         48_000,
	ledger.MethodRevokeRole:        26_000,
	ledger.MethodUpgrade:           38_000,
}

// intrinsicGas is the gas a call needs when nothing else is competing for
// the block.
func intrinsicGas(inv ledger.Invocation) uint64 {
	n := len(inv.PropertyID) + len(inv.DescriptionHash) + len(inv.Hash) +
		len(inv.Implementation) + len(inv.Role)
	return txBaseGas + methodGas[inv.Method] + uint64(n)*calldataGas
}

// executionGas is what the call actually burns at inclusion time, after the
// configured surcharge for cost drift since estimation.
func executionGas(inv ledger.Invocation, surchargePct uint64) uint64 {
	g := intrinsicGas(inv)
	return g + g*surchargePct/100
}
