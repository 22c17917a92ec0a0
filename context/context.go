// Package context holds the per-frame execution context (C5): the callee and
// immediate caller of one interpreter invocation, its return-data buffer,
// and a borrowed handle to the host's journaled state and environment. One
// Context exists per active interpreter frame; nested CALL/CREATE frames get
// a fresh Context, never a mutated copy of the parent's.
package context

import (
	"github.com/eth2030/eth2030/hoststate"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

// Context is the tuple described in spec.md §3: callee identifies the
// account whose storage/code is authoritative for SLOAD/SSTORE/CODESIZE/
// CODECOPY/LOG* inside the interpreter; it is overridden by nested CALL/
// CREATE but not by DELEGATECALL/CALLCODE, which keep the outer callee and
// only swap in a different code account to execute.
type Context struct {
	Callee types.Address
	Caller types.Address

	// CodeAddress is the account whose code is actually executing. For CALL/
	// CREATE it equals Callee; for DELEGATECALL/CALLCODE it is the target of
	// the call while Callee stays the outer frame's callee.
	CodeAddress types.Address

	// Value is the wei value attached to this frame. A DELEGATECALL frame
	// carries the outer frame's value, passed through by the caller.
	Value *uint256.Int

	// ReturnData is the output of the most recently completed nested
	// call/create, visible to RETURNDATASIZE/RETURNDATACOPY. It is cleared
	// at the start of each sub-invocation and replaced when that
	// sub-invocation halts.
	ReturnData []byte

	// ReadOnly is set for STATICCALL frames and inherited by any further
	// nested calls under them. Every state-mutating ECALL (SSTORE, LOG*,
	// CREATE*, value-bearing CALL) must consult this and fault when true.
	// See spec.md §9: the source's draft omits this; it is a required fix.
	ReadOnly bool

	// Depth is the call-stack depth of this frame, 0 for the root
	// transaction frame. Used only for diagnostics; the interpreter itself
	// does not enforce a depth limit beyond the host's own bookkeeping.
	Depth int

	// GasRemaining is EVM-level gas available to this frame. Per-RV32M
	// instruction metering is a documented Non-goal (guest execution is
	// free), so GasRemaining only moves at frame boundaries: a CALL/CREATE
	// forwards at most 63/64 of it to the sub-frame (EIP-150) and, when the
	// sub-frame returns successfully, gets back whatever the sub-frame didn't
	// itself forward further down. A sub-frame that faults or REVERTs
	// consumes everything forwarded to it.
	GasRemaining uint64

	// State is the borrowed handle to the host's journaled account/storage
	// store and block/tx environment, shared by reference with every frame
	// in the call tree for the lifetime of the transaction (spec.md §9,
	// "Cyclic ownership": a borrow for the duration of the sub-frame, not
	// shared ownership).
	State hoststate.StateDB

	// Env is the read-only Ethereum block/tx environment.
	Env *hoststate.Env
}

// New constructs the root frame's context: callee is the transaction's
// target, caller is the transaction's sender, ReturnData starts empty.
func New(callee, caller types.Address, value *uint256.Int, state hoststate.StateDB, env *hoststate.Env) *Context {
	return &Context{
		Callee:      callee,
		Caller:      caller,
		CodeAddress: callee,
		Value:       value,
		State:       state,
		Env:         env,
	}
}

// Sub derives a fresh context for a CALL-family or CREATE-family
// sub-invocation. readOnly is the logical OR of the parent's ReadOnly and
// whether this particular sub-call is itself a STATICCALL.
func (c *Context) Sub(callee, caller, codeAddress types.Address, value *uint256.Int, readOnly bool) *Context {
	return &Context{
		Callee:      callee,
		Caller:      caller,
		CodeAddress: codeAddress,
		Value:       value,
		ReadOnly:    c.ReadOnly || readOnly,
		Depth:       c.Depth + 1,
		State:       c.State,
		Env:         c.Env,
	}
}

// ForwardGas implements the EIP-150 63/64 rule: it deducts and returns the
// amount to hand to a sub-frame, capped at requested.
func (c *Context) ForwardGas(requested uint64) uint64 {
	cap := (c.GasRemaining / 64) * 63
	forwarded := requested
	if forwarded > cap {
		forwarded = cap
	}
	c.GasRemaining -= forwarded
	return forwarded
}

// RefundGas returns unused gas from a completed sub-frame back to this one.
func (c *Context) RefundGas(amount uint64) {
	c.GasRemaining += amount
}

// SetReturnData replaces the context's return-data buffer, as happens when a
// sub-invocation halts (spec.md §4.6 step 4).
func (c *Context) SetReturnData(data []byte) {
	c.ReturnData = append(c.ReturnData[:0:0], data...)
}
