// Package handler implements the transaction handler pipeline (C7): the
// linear Validate -> Pre-execute -> Execute -> Post-execute -> Catch stages
// described in spec.md §4.7, wired against the journaled hoststate.StateDB
// and the riscv/ecall interpreter pair.
package handler

import (
	"errors"
	"fmt"

	"github.com/eth2030/eth2030/context"
	"github.com/eth2030/eth2030/ecall"
	"github.com/eth2030/eth2030/hoststate"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/riscv"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

var logger = log.Default().Module("handler")

// ErrInvalidChainID, ErrZeroCaller, and ErrInsufficientFunds are the
// Validate-stage faults named in spec.md §4.7 step 1 ("chain id, caller
// non-zero, fee <= gas limit x gas price").
var (
	ErrInvalidChainID         = errors.New("handler: chain id mismatch")
	ErrZeroCaller             = errors.New("handler: caller address is zero")
	ErrInsufficientFunds      = errors.New("handler: caller balance below gas_limit*gas_price + value")
	ErrGasLimitBelowFloor     = errors.New("handler: gas limit below intrinsic/floor gas")
	ErrNegativeEffectivePrice = errors.New("handler: effective gas price not set")
)

// precompileAddresses are the addresses EIP-2929 pre-warms unconditionally
// regardless of access list (spec.md §4.7 step 2, "warm precompile
// addresses"). Mainnet carries ten standard precompiles as of the point
// evaluation precompile (0x01 through 0x0a).
var precompileAddresses = func() []types.Address {
	addrs := make([]types.Address, 10)
	for i := range addrs {
		addrs[i][types.AddressLength-1] = byte(i + 1)
	}
	return addrs
}()

// Handler runs one transaction against a ChainID and a fresh per-transaction
// hoststate.MemoryState, per spec.md §4.7's "single owner at every moment."
type Handler struct {
	ChainID uint64
	Env     *hoststate.Env
}

// New constructs a handler bound to a chain id and block/tx environment.
func New(chainID uint64, env *hoststate.Env) *Handler {
	return &Handler{ChainID: chainID, Env: env}
}

// validated carries the Validate stage's computed figures into Pre-execute
// and Execute, avoiding recomputation.
type validated struct {
	isCreate  bool
	intrinsic uint64
	floor     uint64
	// gasCost is gas_limit * effective_gas_price, the amount actually
	// escrowed from the caller in preExecute. value moves exactly once,
	// via state.Transfer inside execute; upfrontCost (gasCost+value) is
	// only used for the Validate-stage balance sufficiency check, since
	// the caller must be able to cover both even though they are debited
	// through two different mechanisms.
	gasCost     *uint256.Int
	upfrontCost *uint256.Int
	// callerNonceBefore is the caller's nonce as Validate observed it, prior
	// to preExecute's per-tx increment. A creation transaction's new address
	// is derived from this pre-increment value (the nonce the sender actually
	// signed with), not the post-increment one preExecute leaves behind.
	callerNonceBefore uint64
}

// Validate implements spec.md §4.7 step 1.
func (h *Handler) Validate(tx *Transaction, state hoststate.StateDB) (*validated, error) {
	if tx.ChainID != h.ChainID {
		return nil, ErrInvalidChainID
	}
	var zero types.Address
	if tx.Caller == zero {
		return nil, ErrZeroCaller
	}
	if tx.EffectiveGasPrice == nil {
		return nil, ErrNegativeEffectivePrice
	}

	isCreate := tx.To == nil
	var accessCosts []accessListCost
	for _, entry := range tx.AccessList {
		accessCosts = append(accessCosts, accessListCost{slots: len(entry.Slots)})
	}
	intrinsic, err := intrinsicGas(tx.Data, isCreate, accessCosts)
	if err != nil {
		return nil, err
	}
	floor := floorGas(tx.Data)
	if tx.GasLimit < intrinsic || tx.GasLimit < floor {
		return nil, ErrGasLimitBelowFloor
	}

	gasCost := new(uint256.Int).SetUint64(tx.GasLimit)
	gasCost.Mul(gasCost, tx.EffectiveGasPrice)
	upfront := new(uint256.Int).Set(gasCost)
	if tx.Value != nil {
		upfront.Add(upfront, tx.Value)
	}
	balance := state.Balance(tx.Caller)
	if balance.Cmp(upfront) < 0 {
		return nil, ErrInsufficientFunds
	}
	_, nonceBefore, _ := state.LoadAccount(tx.Caller)

	return &validated{
		isCreate:          isCreate,
		intrinsic:         intrinsic,
		floor:             floor,
		gasCost:           gasCost,
		upfrontCost:       upfront,
		callerNonceBefore: nonceBefore,
	}, nil
}

// preExecute implements spec.md §4.7 step 2: warm precompiles/beneficiary/
// access-list, deduct upfront cost, bump caller nonce.
func (h *Handler) preExecute(tx *Transaction, v *validated, state hoststate.StateDB) error {
	for _, addr := range precompileAddresses {
		state.WarmAccount(addr)
	}
	if tx.ShanghaiPlus {
		state.WarmAccount(h.Env.Block.Coinbase)
	}
	state.WarmAccount(tx.Caller)
	if tx.To != nil {
		state.WarmAccount(*tx.To)
	}
	for _, entry := range tx.AccessList {
		state.WarmAccount(entry.Address)
		for _, slot := range entry.Slots {
			state.WarmAccountAndStorage(entry.Address, slot)
		}
	}

	if err := state.DebitBalance(tx.Caller, v.gasCost); err != nil {
		return err
	}

	return state.IncAccountNonce(tx.Caller)
}

// execute implements spec.md §4.7 step 3: build the root context and run the
// interpreter to completion.
func (h *Handler) execute(tx *Transaction, v *validated, state hoststate.StateDB) (returnData []byte, gasUsed uint64, reverted bool, contractAddr *types.Address, err error) {
	gasAvailable := tx.GasLimit - v.intrinsic

	value := tx.Value
	if value == nil {
		value = new(uint256.Int)
	}

	if v.isCreate {
		return h.executeCreate(tx, v, value, gasAvailable, state)
	}
	return h.executeCall(tx, value, gasAvailable, state)
}

func (h *Handler) executeCall(tx *Transaction, value *uint256.Int, gasAvailable uint64, state hoststate.StateDB) ([]byte, uint64, bool, *types.Address, error) {
	callee := *tx.To
	env := *h.Env
	env.Tx.Caller = tx.Caller
	env.Tx.Value = value
	env.Tx.Data = tx.Data
	env.Tx.EffectiveGasPrice = tx.EffectiveGasPrice
	env.Tx.AccessList = tx.AccessList
	env.Tx.GasLimit = tx.GasLimit

	root := context.New(callee, tx.Caller, value, state, &env)
	root.GasRemaining = gasAvailable

	code := state.LoadAccountCode(callee)
	cp := state.Checkpoint()
	if !value.IsZero() {
		if err := state.Transfer(tx.Caller, callee, value); err != nil {
			state.CheckpointRevert(cp)
			return nil, gasAvailable, true, nil, nil
		}
	}

	mem := riscv.NewMemory()
	mem.WriteRange(0, code)
	bridge := ecall.NewBridge(root)
	cpu := riscv.NewCPU(mem, 0, bridge)

	if runErr := cpu.Run(0); runErr != nil {
		state.CheckpointRevert(cp)
		gasUsed := gasAvailable - root.GasRemaining
		return nil, gasUsed, true, nil, nil
	}
	if cpu.ExitCode != 0 {
		state.CheckpointRevert(cp)
		gasUsed := gasAvailable - root.GasRemaining
		return root.ReturnData, gasUsed, true, nil, nil
	}
	state.CheckpointCommit(cp)
	gasUsed := gasAvailable - root.GasRemaining
	return root.ReturnData, gasUsed, false, nil, nil
}

func (h *Handler) executeCreate(tx *Transaction, v *validated, value *uint256.Int, gasAvailable uint64, state hoststate.StateDB) ([]byte, uint64, bool, *types.Address, error) {
	newAddr, err := ecall.DeriveCreateAddress(tx.Caller, v.callerNonceBefore)
	if err != nil {
		return nil, gasAvailable, true, nil, err
	}

	env := *h.Env
	env.Tx.Caller = tx.Caller
	env.Tx.Value = value
	env.Tx.Data = nil
	env.Tx.EffectiveGasPrice = tx.EffectiveGasPrice
	env.Tx.AccessList = tx.AccessList
	env.Tx.GasLimit = tx.GasLimit

	root := context.New(newAddr, tx.Caller, value, state, &env)
	root.GasRemaining = gasAvailable

	cp := state.Checkpoint()
	if !value.IsZero() {
		if err := state.Transfer(tx.Caller, newAddr, value); err != nil {
			state.CheckpointRevert(cp)
			return nil, gasAvailable, true, nil, nil
		}
	}

	mem := riscv.NewMemory()
	mem.WriteRange(0, tx.Data)
	bridge := ecall.NewBridge(root)
	cpu := riscv.NewCPU(mem, 0, bridge)

	if runErr := cpu.Run(0); runErr != nil {
		state.CheckpointRevert(cp)
		gasUsed := gasAvailable - root.GasRemaining
		return nil, gasUsed, true, nil, nil
	}
	if cpu.ExitCode != 0 {
		state.CheckpointRevert(cp)
		gasUsed := gasAvailable - root.GasRemaining
		return root.ReturnData, gasUsed, true, nil, nil
	}

	state.SetCode(newAddr, root.ReturnData)
	if err := state.IncAccountNonce(newAddr); err != nil {
		state.CheckpointRevert(cp)
		return nil, gasAvailable, true, nil, nil
	}
	state.CheckpointCommit(cp)
	gasUsed := gasAvailable - root.GasRemaining
	return nil, gasUsed, false, &newAddr, nil
}

// postExecute implements spec.md §4.7 step 4: refund cap, floor-gas
// enforcement, caller reimbursement, beneficiary reward.
func (h *Handler) postExecute(tx *Transaction, v *validated, gasUsed uint64, state hoststate.StateDB) uint64 {
	gasSpentBeforeRefund := v.intrinsic + gasUsed

	refund := refundCap(gasSpentBeforeRefund, tx.London)
	if avail := state.Refund(); refund > avail {
		refund = avail
	}
	gasSpent := gasSpentBeforeRefund - refund

	if gasSpent < v.floor {
		gasSpent = v.floor // EIP-7623 floor binds: refund is dropped entirely.
	}

	reimburse := new(uint256.Int).SetUint64(tx.GasLimit - gasSpent)
	reimburse.Mul(reimburse, tx.EffectiveGasPrice)
	state.CreditBalance(tx.Caller, reimburse)

	if tx.EffectiveGasPrice.Cmp(state.BaseFee()) > 0 {
		priorityFee := new(uint256.Int).Sub(tx.EffectiveGasPrice, state.BaseFee())
		reward := new(uint256.Int).SetUint64(gasSpent)
		reward.Mul(reward, priorityFee)
		state.CreditBalance(h.Env.Block.Coinbase, reward)
	}

	return gasSpent
}

// Handle runs the full pipeline for one transaction, implementing the Catch
// stage (spec.md §4.7 step 5): any error clears the journal before
// propagating, and a successful run finalizes it.
func (h *Handler) Handle(tx *Transaction, state hoststate.StateDB) (out *Output, err error) {
	v, err := h.Validate(tx, state)
	if err != nil {
		return nil, fmt.Errorf("handler: validate: %w", err)
	}

	defer func() {
		if err != nil {
			state.Clear()
		}
	}()

	if err = h.preExecute(tx, v, state); err != nil {
		return nil, fmt.Errorf("handler: pre-execute: %w", err)
	}

	returnData, gasUsed, reverted, contractAddr, execErr := h.execute(tx, v, state)
	if execErr != nil {
		return nil, fmt.Errorf("handler: execute: %w", execErr)
	}

	gasSpent := h.postExecute(tx, v, gasUsed, state)

	logs := state.Logs()
	state.Finalize()

	logger.Debug("transaction handled", "gas_spent", gasSpent, "reverted", reverted, "log_count", len(logs))
	return &Output{
		Success:         !reverted,
		Reverted:        reverted,
		GasUsed:         gasSpent,
		ReturnData:      returnData,
		Logs:            logs,
		LogsBloom:       types.LogsBloom(logs),
		ContractAddress: contractAddr,
	}, nil
}
