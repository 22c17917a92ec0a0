package hoststate

import (
	"errors"

	"github.com/eth2030/eth2030/crypto"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

var logger = log.Default().Module("hoststate")

// ErrNonceOverflow is returned by IncAccountNonce when an account's nonce is
// already at its maximum (EIP-2681): CREATE must fault rather than wrap.
var ErrNonceOverflow = errors.New("hoststate: nonce overflow")

// StateDB is the journaled host interface consumed by the interpreter and
// ECALL bridge, per spec.md §6. Every mutating method is undoable by
// CheckpointRevert back to the most recent Checkpoint call that has not yet
// been committed.
type StateDB interface {
	// LoadAccount returns a snapshot of the account's balance and nonce and
	// whether it exists. It never creates the account: a missing account
	// reads as zero balance, zero nonce, exists=false.
	LoadAccount(addr types.Address) (balance *uint256.Int, nonce uint64, exists bool)
	// LoadAccountCode returns the runtime code stored at addr.
	LoadAccountCode(addr types.Address) []byte
	// LoadAccountCodeHash returns the keccak-256 hash of the code at addr
	// (the empty-code hash for EOAs/non-existent accounts).
	LoadAccountCodeHash(addr types.Address) types.Hash

	// WarmAccount marks addr as accessed for EIP-2929 purposes and reports
	// whether it was cold before this call.
	WarmAccount(addr types.Address) (wasCold bool)
	// WarmAccountAndStorage marks both addr and one of its storage slots
	// warm in a single call (used by SLOAD/SSTORE).
	WarmAccountAndStorage(addr types.Address, slot types.Hash) (addrWasCold, slotWasCold bool)

	// SLoad reads a storage slot, defaulting to zero for never-written
	// slots.
	SLoad(addr types.Address, slot types.Hash) types.Hash
	// SStore writes a storage slot and records the journal entry undoing the
	// write. It has no notion of read-only and reports no error: callers
	// check the context's read-only flag before calling it.
	SStore(addr types.Address, slot, value types.Hash)

	// Transfer moves value from one account's balance to another's. On
	// insufficient balance it returns an error and changes neither balance.
	Transfer(from, to types.Address, value *uint256.Int) error
	// DebitBalance subtracts value from addr's balance, returning an error
	// if the account can't cover it. Used by the transaction handler for
	// the upfront gas-limit*price escrow, which has no paired credit
	// account the way Transfer's two-sided move does.
	DebitBalance(addr types.Address, value *uint256.Int) error
	// CreditBalance adds value to addr's balance unconditionally. Used by
	// the transaction handler for gas reimbursement and beneficiary reward.
	CreditBalance(addr types.Address, value *uint256.Int)
	// SetCode installs runtime code for an account (the result of a CREATE
	// frame's RETURN).
	SetCode(addr types.Address, code []byte)
	// IncAccountNonce increments an account's nonce by one, returning
	// ErrNonceOverflow if the account is already at max uint64.
	IncAccountNonce(addr types.Address) error

	// Log appends one log record to the pending transaction's log buffer.
	Log(l *types.Log)

	// Refund returns the transaction's accumulated gas-refund counter
	// (EIP-3529 storage-clearing refunds), consumed by the handler's
	// post-execution refund-cap step.
	Refund() uint64

	// Checkpoint opens a new journal checkpoint and returns its id.
	Checkpoint() int
	// CheckpointCommit commits all journal entries recorded since id,
	// making them permanent with respect to any *earlier* checkpoint (they
	// remain revertible if an outer checkpoint still reverts).
	CheckpointCommit(id int)
	// CheckpointRevert undoes every journal entry recorded since id.
	CheckpointRevert(id int)

	// Finalize commits the entire transaction's journal to the base state,
	// called once after post-execution succeeds.
	Finalize()
	// Clear discards the entire transaction's journal without committing,
	// called on a handler-level error (spec.md §4.7 step 5, "Catch").
	Clear()

	// Balance, BlockHash, BlobHash, PrevRandao, BaseFee, BlobGasPrice,
	// EffectiveGasPrice, and GasLimit are read-only environment/state
	// queries used directly by several ECALL services.
	Balance(addr types.Address) *uint256.Int
	BlockHash(number uint64) types.Hash
	BlobHash(index uint32) types.Hash
	PrevRandao() types.Hash
	BaseFee() *uint256.Int
	BlobGasPrice() *uint256.Int
	EffectiveGasPrice() *uint256.Int
	GasLimit() uint64

	// Logs returns the accumulated log buffer for the current transaction,
	// used by the transaction handler to build its output.
	Logs() []*types.Log
}

// account is the mutable in-memory representation of one account.
type account struct {
	balance  *uint256.Int
	nonce    uint64
	code     []byte
	codeHash types.Hash
	storage  map[types.Hash]types.Hash
	exists   bool
}

func newAccount() *account {
	return &account{balance: new(uint256.Int), codeHash: emptyCodeHash(), storage: map[types.Hash]types.Hash{}}
}

func emptyCodeHash() types.Hash { return types.EmptyCodeHash }

// keccakCodeHash hashes code the way SetCode and EXTCODEHASH expect: empty
// code hashes to the canonical EmptyCodeHash constant rather than
// keccak256(nil), matching mainnet account semantics for EOAs.
func keccakCodeHash(code []byte) types.Hash {
	if len(code) == 0 {
		return types.EmptyCodeHash
	}
	return crypto.Keccak256Hash(code)
}
