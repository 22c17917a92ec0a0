// Package hoststate implements the journaled account/storage store and
// block/tx environment consumed by the interpreter and ECALL bridge (C8).
// It is the in-memory realization of the host interface spec.md §6 treats as
// an external collaborator: load_account, sload, sstore, transfer, set_code,
// inc_account_nonce, log, checkpoint/checkpoint_commit/checkpoint_revert,
// finalize, clear, warm_account, warm_account_and_storage, plus read-only
// balance/block_hash/blob_hash/prevrandao/basefee/blob_gasprice/
// effective_gas_price/gas_limit.
package hoststate

import (
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

// BlockEnv is the read-only per-block environment.
type BlockEnv struct {
	Number        uint64
	Timestamp     uint64
	Coinbase      types.Address
	GasLimit      uint64
	BaseFee       *uint256.Int
	BlobBaseFee   *uint256.Int
	PrevRandao    types.Hash
	ChainID       uint64
	BlockHashFunc func(number uint64) types.Hash
}

// TxEnv is the read-only per-transaction environment.
type TxEnv struct {
	Caller            types.Address
	Value             *uint256.Int
	Data              []byte
	EffectiveGasPrice *uint256.Int
	BlobHashes        []types.Hash
	AccessList        []AccessTuple
	GasLimit          uint64
}

// AccessTuple is one entry of a tx's EIP-2930 access list: an address and
// the storage slots under it to pre-warm.
type AccessTuple struct {
	Address types.Address
	Slots   []types.Hash
}

// Env bundles the block and transaction environment seen by one transaction.
type Env struct {
	Block BlockEnv
	Tx    TxEnv
}

// BlockHash returns the block-hash oracle's answer for the given block
// number (the ECALL 0x40 BLOCKHASH service).
func (e *Env) BlockHash(number uint64) types.Hash {
	if e.Block.BlockHashFunc == nil {
		return types.Hash{}
	}
	return e.Block.BlockHashFunc(number)
}

// BlobHash returns the tx's blob hash at the given index, or the zero hash
// if out of range (ECALL 0x49 BLOBHASH never faults on an out-of-range
// index; it returns zero, mirroring the zero-fill-past-end rule used
// elsewhere in the ABI).
func (e *Env) BlobHash(index uint32) types.Hash {
	if int(index) >= len(e.Tx.BlobHashes) {
		return types.Hash{}
	}
	return e.Tx.BlobHashes[index]
}
