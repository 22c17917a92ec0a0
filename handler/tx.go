package handler

import (
	"github.com/eth2030/eth2030/hoststate"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

// Transaction is the external input to Handle: either a CALL (To non-nil) or
// a CREATE (To nil), matching spec.md §4.7 step 3's "form the root frame
// input from tx kind (CALL vs. CREATE)".
type Transaction struct {
	Caller    types.Address
	To        *types.Address
	Value     *uint256.Int
	Data      []byte
	GasLimit  uint64
	ChainID   uint64
	Nonce     uint64

	// EffectiveGasPrice is what the caller actually pays per unit gas
	// (base fee + priority fee for type-2 txs, the flat gas price for
	// legacy txs).
	EffectiveGasPrice *uint256.Int
	AccessList        []hoststate.AccessTuple

	// London is whether this transaction's block is post-London, selecting
	// the refund quotient (spec.md §4.7 step 4). The beneficiary reward is
	// the priority fee above the base fee whether or not London is set. Pre-London support exists only because the spec's refund
	// rule names both; this module otherwise targets the current fork.
	London bool
	// ShanghaiPlus gates warming the beneficiary address (EIP-3651).
	ShanghaiPlus bool
}

// Output is the external transaction result (spec.md §6, "Transaction
// output").
type Output struct {
	Success         bool
	Reverted        bool
	GasUsed         uint64
	ReturnData      []byte
	Logs            []*types.Log
	LogsBloom       types.Bloom
	ContractAddress *types.Address
}
