package ecall

import (
	"errors"
	"fmt"

	"github.com/eth2030/eth2030/context"
	"github.com/eth2030/eth2030/riscv"
	"github.com/eth2030/eth2030/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// ErrInitcodeTooLarge enforces EIP-3860's init-code size limit on CREATE/
// CREATE2, named directly in SPEC_FULL's supplemented features (grounded on
// the teacher's evm_create.go size checks). Oversized deployed code
// (EIP-170) is treated as an ordinary creation failure rather than a fault,
// since the real EVM lets the caller observe it as an unsuccessful CREATE
// rather than halting the caller's own frame.
var ErrInitcodeTooLarge = errors.New("ecall: initcode exceeds max init code size")

// callKind distinguishes the four CALL-family variants per spec.md §4.6's
// table; CREATE/CREATE2 are handled separately in create() since they do
// not read a target address from the register ABI.
type callKind int

const (
	callKindCall callKind = iota
	callKindCallCode
	callKindDelegateCall
	callKindStaticCall
)

// ErrNonceOverflow mirrors hoststate.ErrNonceOverflow at the ECALL boundary
// so CREATE can report it without importing hoststate's package name into
// every call site. CREATE returns this error in place of the hoststate one,
// which is not wrapped: errors.Is matches ecall.ErrNonceOverflow only.
var ErrNonceOverflow = errors.New("ecall: creator nonce overflow")

// SubFrameStepCap is the fixed per-sub-invocation instruction budget
// described in spec.md §4.4/§9: "the source halts sub-frames after 100
// steps... a production implementation MUST meter gas per RV32IM
// instruction... and bound sub-frames by gas rather than step count." Every
// sub-frame gets this same fixed budget regardless of nesting depth; it is
// independent of the EIP-150 gas-forwarding rule below, which governs EVM
// gas, not RV32 step count.
const SubFrameStepCap = 100

// runSubFrame executes one nested interpreter invocation: fresh memory and
// registers, the given context, a checkpoint opened before and resolved
// after. code is loaded as a flat instruction image at address 0 (the same
// representation SetCode stores and CODECOPY reads), matching the "raw
// binary" guest format in spec.md §6 -- sub-frame code never arrives as an
// ELF, only as previously-deployed runtime bytes.
func runSubFrame(code []byte, sub *context.Context) (returnData []byte, reverted bool, err error) {
	cp := sub.State.Checkpoint()

	mem := riscv.NewMemory()
	mem.WriteRange(0, code)
	bridge := NewBridge(sub)
	cpu := riscv.NewCPU(mem, 0, bridge)

	runErr := cpu.Run(SubFrameStepCap)
	if runErr != nil {
		// Any fault inside the sub-frame (decode/alignment/unknown-ECALL/
		// step-cap) is observed by the caller as a revert with empty
		// return data, per spec.md §7's propagation policy. The gas
		// forwarded to this frame is entirely consumed, matching the
		// EVM's treatment of an exceptional halt.
		sub.State.CheckpointRevert(cp)
		logger.Debug("sub-frame faulted", "err", runErr)
		return nil, true, nil
	}

	if cpu.ExitCode != 0 {
		sub.State.CheckpointRevert(cp)
		return sub.ReturnData, true, nil
	}
	sub.State.CheckpointCommit(cp)
	return sub.ReturnData, false, nil
}

// call dispatches CALL, CALLCODE, DELEGATECALL, and STATICCALL per the
// per-variant table in spec.md §4.6.
func (b *Bridge) call(cpu *riscv.CPU, kind callKind) error {
	argAddr := ReadAddress(&cpu.Regs, ArgBase)
	var value *uint256.Int
	reg := ArgBase + 5
	if kind == callKindCall || kind == callKindCallCode {
		value = Read256(&cpu.Regs, reg)
		reg += 8
	} else {
		value = new(uint256.Int)
	}
	argOffset := cpu.Regs.Read(reg)
	argSize := cpu.Regs.Read(reg + 1)
	retOffset := cpu.Regs.Read(reg + 2)
	retSize := cpu.Regs.Read(reg + 3)
	requestedGas := Read64(&cpu.Regs, reg+4)

	valueBearing := (kind == callKindCall || kind == callKindCallCode) && !value.IsZero()
	if valueBearing && b.Ctx.ReadOnly {
		return fmt.Errorf("%w: value-bearing CALL", ErrReadOnlyViolation)
	}

	var callee, caller, codeAddress types.Address
	switch kind {
	case callKindCall, callKindStaticCall:
		callee, caller, codeAddress = argAddr, b.Ctx.Callee, argAddr
	case callKindCallCode:
		callee, caller, codeAddress = b.Ctx.Callee, b.Ctx.Callee, argAddr
	case callKindDelegateCall:
		callee, caller, codeAddress = b.Ctx.Callee, b.Ctx.Caller, argAddr
		value = b.Ctx.Value
	}

	code := b.Ctx.State.LoadAccountCode(codeAddress)
	input := cpu.Memory.ReadRange(argOffset, int(argSize))

	sub := b.Ctx.Sub(callee, caller, codeAddress, value, kind == callKindStaticCall)
	subEnv := *b.Ctx.Env
	subEnv.Tx.Data = input
	sub.Env = &subEnv

	if valueBearing {
		target := argAddr
		if kind == callKindCallCode {
			// spec.md §4.6: "yes, outer->outer (no-op but recorded)" --
			// transferring a balance to its own owner has no net effect,
			// but the account is still touched/warmed like a real
			// transfer would.
			target = b.Ctx.Callee
		}
		if err := b.Ctx.State.Transfer(b.Ctx.Callee, target, value); err != nil {
			// Insufficient balance: the call itself fails (empty
			// return-data, no state change) rather than faulting the
			// whole frame.
			b.Ctx.SetReturnData(nil)
			cpu.Regs.Write(ArgBase, 0)
			return nil
		}
	}

	forwarded := b.Ctx.ForwardGas(requestedGas)
	sub.GasRemaining = forwarded
	returnData, reverted, err := runSubFrame(code, sub)
	if err != nil {
		return err
	}
	if !reverted {
		b.Ctx.RefundGas(sub.GasRemaining)
	}

	truncated := returnData
	if len(truncated) > int(retSize) {
		truncated = truncated[:retSize]
	}
	cpu.Memory.WriteRange(retOffset, truncated)
	b.Ctx.SetReturnData(returnData)

	if reverted {
		cpu.Regs.Write(ArgBase, 0)
	} else {
		cpu.Regs.Write(ArgBase, 1)
	}
	return nil
}

// create dispatches CREATE and CREATE2 per spec.md §4.6. The creator's
// nonce is incremented before address derivation (scenario 3 in spec.md
// §8: creator_nonce starts at 0, is read and incremented to 1 before
// derivation uses the pre-increment value 0, then bumped again to 2 once
// the new account's own initial nonce bump happens).
func (b *Bridge) create(cpu *riscv.CPU, salted bool) error {
	if b.Ctx.ReadOnly {
		return fmt.Errorf("%w: CREATE", ErrReadOnlyViolation)
	}

	value := Read256(&cpu.Regs, ArgBase)
	offset := cpu.Regs.Read(ArgBase + 8)
	size := cpu.Regs.Read(ArgBase + 9)
	reg := ArgBase + 10
	var salt types.Hash
	if salted {
		salt = ReadHash(&cpu.Regs, reg)
		reg += 8
	}
	if uint64(size) > params.MaxInitCodeSize {
		return fmt.Errorf("%w: %d bytes", ErrInitcodeTooLarge, size)
	}
	initcode := cpu.Memory.ReadRange(offset, int(size))

	_, nonceBeforeIncrement, _ := b.Ctx.State.LoadAccount(b.Ctx.Callee)
	if err := b.Ctx.State.IncAccountNonce(b.Ctx.Callee); err != nil {
		return fmt.Errorf("%w", ErrNonceOverflow)
	}

	var newAddr types.Address
	var err error
	if salted {
		newAddr = DeriveCreate2Address(b.Ctx.Callee, salt, initcode)
	} else {
		newAddr, err = DeriveCreateAddress(b.Ctx.Callee, nonceBeforeIncrement)
		if err != nil {
			return err
		}
	}

	cp := b.Ctx.State.Checkpoint()

	if !value.IsZero() {
		if err := b.Ctx.State.Transfer(b.Ctx.Callee, newAddr, value); err != nil {
			b.Ctx.State.CheckpointRevert(cp)
			var zero types.Address
			WriteAddress(&cpu.Regs, ArgBase, zero)
			return nil
		}
	}

	sub := b.Ctx.Sub(newAddr, b.Ctx.Callee, newAddr, value, false)
	subEnv := *b.Ctx.Env
	subEnv.Tx.Data = nil
	sub.Env = &subEnv

	forwarded := b.Ctx.ForwardGas(b.Ctx.GasRemaining)
	sub.GasRemaining = forwarded
	runtimeCode, reverted, err := runSubFrame(initcode, sub)
	if err != nil {
		return err
	}
	if !reverted {
		b.Ctx.RefundGas(sub.GasRemaining)
	}
	if reverted {
		b.Ctx.State.CheckpointRevert(cp)
		var zero types.Address
		WriteAddress(&cpu.Regs, ArgBase, zero)
		b.Ctx.SetReturnData(nil)
		return nil
	}

	if uint64(len(runtimeCode)) > params.MaxCodeSize {
		// Oversized deployed code fails the creation as if the sub-frame had
		// reverted, per EIP-170: the transfer and any storage/code writes the
		// initcode made before RETURN are undone.
		b.Ctx.State.CheckpointRevert(cp)
		var zero types.Address
		WriteAddress(&cpu.Regs, ArgBase, zero)
		b.Ctx.SetReturnData(nil)
		return nil
	}

	b.Ctx.State.SetCode(newAddr, runtimeCode)
	if err := b.Ctx.State.IncAccountNonce(newAddr); err != nil {
		b.Ctx.State.CheckpointRevert(cp)
		return fmt.Errorf("%w", ErrNonceOverflow)
	}
	b.Ctx.State.CheckpointCommit(cp)
	// The new account's initial nonce bump above also registers against the
	// creator (spec.md §8 scenario 3: creator_nonce ends at 2, not 1, after
	// one successful CREATE -- incremented once before derivation and once
	// more here).
	if err := b.Ctx.State.IncAccountNonce(b.Ctx.Callee); err != nil {
		return fmt.Errorf("%w", ErrNonceOverflow)
	}

	WriteAddress(&cpu.Regs, ArgBase, newAddr)
	b.Ctx.SetReturnData(nil)
	return nil
}
