package hoststate

import (
	"fmt"
	"math"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

// codeCacheBytes bounds the fastcache instance backing account code lookups;
// CODECOPY/EXTCODECOPY/CODESIZE can run many times per transaction against
// the same handful of accounts, so caching the raw bytes avoids repeated
// map indirection through account.code.
const codeCacheBytes = 32 * 1024 * 1024

// journalEntry is one undoable mutation recorded between a Checkpoint call
// and its matching commit/revert.
type journalEntry interface {
	revert(s *MemoryState)
}

type createAccountEntry struct{ addr types.Address }

func (e createAccountEntry) revert(s *MemoryState) { delete(s.accounts, e.addr) }

type balanceChangeEntry struct {
	addr types.Address
	prev *uint256.Int
}

func (e balanceChangeEntry) revert(s *MemoryState) { s.accounts[e.addr].balance = e.prev }

type nonceChangeEntry struct {
	addr types.Address
	prev uint64
}

func (e nonceChangeEntry) revert(s *MemoryState) { s.accounts[e.addr].nonce = e.prev }

type storageChangeEntry struct {
	addr types.Address
	slot types.Hash
	prev types.Hash
}

func (e storageChangeEntry) revert(s *MemoryState) { s.accounts[e.addr].storage[e.slot] = e.prev }

type codeChangeEntry struct {
	addr     types.Address
	prevCode []byte
	prevHash types.Hash
}

func (e codeChangeEntry) revert(s *MemoryState) {
	a := s.accounts[e.addr]
	a.code = e.prevCode
	a.codeHash = e.prevHash
	s.codeCache.Del(e.addr[:])
}

type logAppendEntry struct{}

func (e logAppendEntry) revert(s *MemoryState) { s.logs = s.logs[:len(s.logs)-1] }

type warmAccountEntry struct{ addr types.Address }

func (e warmAccountEntry) revert(s *MemoryState) { delete(s.warmAccounts, e.addr) }

type warmSlotEntry struct {
	addr types.Address
	slot types.Hash
}

func (e warmSlotEntry) revert(s *MemoryState) {
	if set, ok := s.warmSlots[e.addr]; ok {
		delete(set, e.slot)
	}
}

// refundChangeEntry undoes one SSTORE's effect on the refund counter.
// SStore only records positive deltas (a nonzero slot cleared to zero); a
// later write that sets a cleared slot nonzero again does not take the
// refund back.
type refundChangeEntry struct{ delta int64 }

func (e refundChangeEntry) revert(s *MemoryState) { s.refund = uint64(int64(s.refund) - e.delta) }

// sstoreClearRefund is EIP-3529's refund for clearing a storage slot to
// zero. Kept as a local constant rather than imported from go-ethereum's
// params package: the constant lives in core/vm's gas table there, not in
// params, and guessing at an unverified import path risks code that will
// not build.
const sstoreClearRefund = 4800

// MemoryState is the in-memory, journaled implementation of StateDB. It is
// the whole of a transaction's lifetime state: created fresh per
// transaction by the handler, fed into the root Context, and shared by
// reference down the call tree (spec.md §9, "Cyclic ownership").
type MemoryState struct {
	env *Env

	accounts     map[types.Address]*account
	warmAccounts map[types.Address]bool
	warmSlots    map[types.Address]map[types.Hash]bool
	logs         []*types.Log

	journal []journalEntry
	refund  uint64

	codeCache *fastcache.Cache
}

// NewMemoryState constructs an empty journaled state over the given
// environment. Accounts are created lazily on first write, per spec.md
// §4.1's "reads of never-written addresses return 0" philosophy extended to
// the account model.
func NewMemoryState(env *Env) *MemoryState {
	return &MemoryState{
		env:          env,
		accounts:     make(map[types.Address]*account),
		warmAccounts: make(map[types.Address]bool),
		warmSlots:    make(map[types.Address]map[types.Hash]bool),
		codeCache:    fastcache.New(codeCacheBytes),
	}
}

func (s *MemoryState) getOrCreate(addr types.Address) *account {
	a, ok := s.accounts[addr]
	if ok {
		return a
	}
	a = newAccount()
	s.accounts[addr] = a
	s.journal = append(s.journal, createAccountEntry{addr: addr})
	return a
}

func (s *MemoryState) LoadAccount(addr types.Address) (*uint256.Int, uint64, bool) {
	a, ok := s.accounts[addr]
	if !ok {
		return new(uint256.Int), 0, false
	}
	return new(uint256.Int).Set(a.balance), a.nonce, a.exists
}

func (s *MemoryState) LoadAccountCode(addr types.Address) []byte {
	if cached := s.codeCache.Get(nil, addr[:]); cached != nil {
		return cached
	}
	a, ok := s.accounts[addr]
	if !ok || len(a.code) == 0 {
		return nil
	}
	s.codeCache.Set(addr[:], a.code)
	return append([]byte(nil), a.code...)
}

func (s *MemoryState) LoadAccountCodeHash(addr types.Address) types.Hash {
	a, ok := s.accounts[addr]
	if !ok {
		return types.EmptyCodeHash
	}
	return a.codeHash
}

func (s *MemoryState) WarmAccount(addr types.Address) bool {
	wasCold := !s.warmAccounts[addr]
	if wasCold {
		s.warmAccounts[addr] = true
		s.journal = append(s.journal, warmAccountEntry{addr: addr})
	}
	return wasCold
}

func (s *MemoryState) WarmAccountAndStorage(addr types.Address, slot types.Hash) (bool, bool) {
	addrCold := s.WarmAccount(addr)
	set, ok := s.warmSlots[addr]
	if !ok {
		set = make(map[types.Hash]bool)
		s.warmSlots[addr] = set
	}
	slotCold := !set[slot]
	if slotCold {
		set[slot] = true
		s.journal = append(s.journal, warmSlotEntry{addr: addr, slot: slot})
	}
	return addrCold, slotCold
}

func (s *MemoryState) SLoad(addr types.Address, slot types.Hash) types.Hash {
	a, ok := s.accounts[addr]
	if !ok {
		return types.Hash{}
	}
	return a.storage[slot]
}

func (s *MemoryState) SStore(addr types.Address, slot, value types.Hash) {
	a := s.getOrCreate(addr)
	a.exists = true
	prev := a.storage[slot]
	if prev == value {
		return
	}
	s.journal = append(s.journal, storageChangeEntry{addr: addr, slot: slot, prev: prev})
	a.storage[slot] = value

	var zero types.Hash
	switch {
	case prev != zero && value == zero:
		s.refund += sstoreClearRefund
		s.journal = append(s.journal, refundChangeEntry{delta: sstoreClearRefund})
	case prev == zero && value != zero:
		// no refund change: setting a previously-zero slot never earned one.
	}
}

func (s *MemoryState) Refund() uint64 { return s.refund }

func (s *MemoryState) Transfer(from, to types.Address, value *uint256.Int) error {
	if value.IsZero() {
		s.getOrCreate(to).exists = true
		return nil
	}
	fromAcc := s.getOrCreate(from)
	if fromAcc.balance.Cmp(value) < 0 {
		return fmt.Errorf("hoststate: insufficient balance for transfer from %s", from.Hex())
	}
	toAcc := s.getOrCreate(to)

	s.journal = append(s.journal, balanceChangeEntry{addr: from, prev: new(uint256.Int).Set(fromAcc.balance)})
	fromAcc.balance = new(uint256.Int).Sub(fromAcc.balance, value)
	fromAcc.exists = true

	s.journal = append(s.journal, balanceChangeEntry{addr: to, prev: new(uint256.Int).Set(toAcc.balance)})
	toAcc.balance = new(uint256.Int).Add(toAcc.balance, value)
	toAcc.exists = true
	return nil
}

func (s *MemoryState) DebitBalance(addr types.Address, value *uint256.Int) error {
	if value.IsZero() {
		return nil
	}
	a := s.getOrCreate(addr)
	if a.balance.Cmp(value) < 0 {
		return fmt.Errorf("hoststate: insufficient balance to debit %s", addr.Hex())
	}
	s.journal = append(s.journal, balanceChangeEntry{addr: addr, prev: new(uint256.Int).Set(a.balance)})
	a.balance = new(uint256.Int).Sub(a.balance, value)
	a.exists = true
	return nil
}

func (s *MemoryState) CreditBalance(addr types.Address, value *uint256.Int) {
	if value.IsZero() {
		return
	}
	a := s.getOrCreate(addr)
	s.journal = append(s.journal, balanceChangeEntry{addr: addr, prev: new(uint256.Int).Set(a.balance)})
	a.balance = new(uint256.Int).Add(a.balance, value)
	a.exists = true
}

func (s *MemoryState) SetCode(addr types.Address, code []byte) {
	a := s.getOrCreate(addr)
	a.exists = true
	s.journal = append(s.journal, codeChangeEntry{addr: addr, prevCode: a.code, prevHash: a.codeHash})
	a.code = append([]byte(nil), code...)
	a.codeHash = keccakCodeHash(code)
	s.codeCache.Del(addr[:])
}

func (s *MemoryState) IncAccountNonce(addr types.Address) error {
	a := s.getOrCreate(addr)
	a.exists = true
	if a.nonce == math.MaxUint64 {
		return ErrNonceOverflow
	}
	s.journal = append(s.journal, nonceChangeEntry{addr: addr, prev: a.nonce})
	a.nonce++
	return nil
}

func (s *MemoryState) Log(l *types.Log) {
	s.logs = append(s.logs, l)
	s.journal = append(s.journal, logAppendEntry{})
}

func (s *MemoryState) Logs() []*types.Log { return s.logs }

func (s *MemoryState) Checkpoint() int { return len(s.journal) }

func (s *MemoryState) CheckpointCommit(id int) {
	// Entries remain in the flat journal; they are only undone if an outer
	// checkpoint reverts past id. Nothing to do here beyond the bookkeeping
	// already performed at mutation time.
	logger.Debug("checkpoint commit", "id", id, "journal_len", len(s.journal))
}

func (s *MemoryState) CheckpointRevert(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i].revert(s)
	}
	s.journal = s.journal[:id]
}

func (s *MemoryState) Finalize() {
	s.journal = nil
}

func (s *MemoryState) Clear() {
	s.CheckpointRevert(0)
	s.journal = nil
}

func (s *MemoryState) Balance(addr types.Address) *uint256.Int {
	bal, _, _ := s.LoadAccount(addr)
	return bal
}

func (s *MemoryState) BlockHash(number uint64) types.Hash { return s.env.BlockHash(number) }
func (s *MemoryState) BlobHash(index uint32) types.Hash   { return s.env.BlobHash(index) }
func (s *MemoryState) PrevRandao() types.Hash             { return s.env.Block.PrevRandao }

func (s *MemoryState) BaseFee() *uint256.Int {
	if s.env.Block.BaseFee == nil {
		return new(uint256.Int)
	}
	return s.env.Block.BaseFee
}

func (s *MemoryState) BlobGasPrice() *uint256.Int {
	if s.env.Block.BlobBaseFee == nil {
		return new(uint256.Int)
	}
	return s.env.Block.BlobBaseFee
}

func (s *MemoryState) EffectiveGasPrice() *uint256.Int {
	if s.env.Tx.EffectiveGasPrice == nil {
		return new(uint256.Int)
	}
	return s.env.Tx.EffectiveGasPrice
}

func (s *MemoryState) GasLimit() uint64 { return s.env.Block.GasLimit }
