package ecall

import (
	"errors"
	"fmt"

	"github.com/eth2030/eth2030/context"
	"github.com/eth2030/eth2030/crypto"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/riscv"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

var logger = log.Default().Module("ecall")

// ErrUnknownCode is returned for a call-code register value outside the
// closed service set.
var ErrUnknownCode = errors.New("ecall: unknown service code")

// ErrReadOnlyViolation is returned when a state-mutating service is invoked
// inside a STATICCALL frame (spec.md §4.6, §9: the source's draft omits
// this check; a correct implementation MUST add it).
var ErrReadOnlyViolation = errors.New("ecall: state mutation under read-only context")

// Bridge implements riscv.ECALLHandler, dispatching the service code in
// CodeRegister to the EVM-level operation it names, reading/writing
// arguments and results through the register ABI in regs.go. CALL/CREATE
// services recurse by constructing a fresh riscv.CPU bound to a fresh
// Bridge for the sub-frame (see subcall.go's runSubFrame, which always
// bounds the nested cpu.Run to SubFrameStepCap regardless of depth).
type Bridge struct {
	Ctx *context.Context
}

// NewBridge constructs a Bridge bound to one frame's context. The step cap
// is supplied separately to cpu.Run at each call site (0/unbounded for the
// root frame, SubFrameStepCap for every nested one) rather than stored on
// the Bridge, since a Bridge never re-derives its own cap from itself.
func NewBridge(ctx *context.Context) *Bridge {
	return &Bridge{Ctx: ctx}
}

// ECALL implements riscv.ECALLHandler.
func (b *Bridge) ECALL(cpu *riscv.CPU) error {
	code := Code(cpu.Regs.Read(CodeRegister))
	switch code {
	case CodeKeccak256:
		return b.keccak256(cpu)
	case CodeAddress:
		WriteAddress(&cpu.Regs, ArgBase, b.Ctx.Callee)
		return nil
	case CodeBalance:
		addr := ReadAddress(&cpu.Regs, ArgBase)
		Write256(&cpu.Regs, ArgBase, b.Ctx.State.Balance(addr))
		return nil
	case CodeOrigin:
		WriteAddress(&cpu.Regs, ArgBase, b.Ctx.Env.Tx.Caller)
		return nil
	case CodeCaller:
		WriteAddress(&cpu.Regs, ArgBase, b.Ctx.Caller)
		return nil
	case CodeCallValue:
		v := b.Ctx.Value
		if v == nil {
			v = new(uint256.Int)
		}
		Write256(&cpu.Regs, ArgBase, v)
		return nil
	case CodeCallDataLoad:
		return b.callDataLoad(cpu)
	case CodeCallDataSize:
		cpu.Regs.Write(ArgBase, uint32(len(b.Ctx.Env.Tx.Data)))
		return nil
	case CodeCallDataCopy:
		return b.callDataCopy(cpu)
	case CodeCodeSize:
		cpu.Regs.Write(ArgBase, uint32(len(b.Ctx.State.LoadAccountCode(b.Ctx.Callee))))
		return nil
	case CodeCodeCopy:
		return b.codeCopy(cpu, b.Ctx.Callee)
	case CodeGasPrice:
		Write256(&cpu.Regs, ArgBase, b.Ctx.State.EffectiveGasPrice())
		return nil
	case CodeExtCodeSize:
		addr := ReadAddress(&cpu.Regs, ArgBase)
		cpu.Regs.Write(ArgBase, uint32(len(b.Ctx.State.LoadAccountCode(addr))))
		return nil
	case CodeExtCodeCopy:
		addr := ReadAddress(&cpu.Regs, ArgBase)
		return b.codeCopy(cpu, addr)
	case CodeReturnDataSize:
		cpu.Regs.Write(ArgBase, uint32(len(b.Ctx.ReturnData)))
		return nil
	case CodeReturnDataCopy:
		return b.returnDataCopy(cpu)
	case CodeExtCodeHash:
		addr := ReadAddress(&cpu.Regs, ArgBase)
		WriteHash(&cpu.Regs, ArgBase, b.Ctx.State.LoadAccountCodeHash(addr))
		return nil
	case CodeBlockHash:
		num := Read64(&cpu.Regs, ArgBase)
		WriteHash(&cpu.Regs, ArgBase, b.Ctx.State.BlockHash(num))
		return nil
	case CodeCoinbase:
		WriteAddress(&cpu.Regs, ArgBase, b.Ctx.Env.Block.Coinbase)
		return nil
	case CodeTimestamp:
		Write64(&cpu.Regs, ArgBase, b.Ctx.Env.Block.Timestamp)
		return nil
	case CodeNumber:
		Write64(&cpu.Regs, ArgBase, b.Ctx.Env.Block.Number)
		return nil
	case CodePrevRandao:
		WriteHash(&cpu.Regs, ArgBase, b.Ctx.State.PrevRandao())
		return nil
	case CodeGasLimit:
		Write256(&cpu.Regs, ArgBase, new(uint256.Int).SetUint64(b.Ctx.State.GasLimit()))
		return nil
	case CodeChainID:
		Write64(&cpu.Regs, ArgBase, b.Ctx.Env.Block.ChainID)
		return nil
	case CodeSelfBalance:
		Write256(&cpu.Regs, ArgBase, b.Ctx.State.Balance(b.Ctx.Callee))
		return nil
	case CodeBaseFee:
		Write256(&cpu.Regs, ArgBase, b.Ctx.State.BaseFee())
		return nil
	case CodeBlobHash:
		idx := cpu.Regs.Read(ArgBase)
		WriteHash(&cpu.Regs, ArgBase, b.Ctx.State.BlobHash(idx))
		return nil
	case CodeBlobBaseFee:
		Write256(&cpu.Regs, ArgBase, b.Ctx.State.BlobGasPrice())
		return nil
	case CodeSLoad:
		return b.sload(cpu)
	case CodeSStore:
		return b.sstore(cpu)
	case CodeGas:
		// Stubbed to zero: gas metering of guest instructions is a
		// documented Non-goal (spec.md §1, §9); GAS cannot report a real
		// remaining-gas figure without it.
		Write256(&cpu.Regs, ArgBase, new(uint256.Int))
		return nil
	case CodeLog0, CodeLog1, CodeLog2, CodeLog3, CodeLog4:
		return b.log(cpu, int(code-CodeLog0))
	case CodeCreate:
		return b.create(cpu, false)
	case CodeCreate2:
		return b.create(cpu, true)
	case CodeCall:
		return b.call(cpu, callKindCall)
	case CodeCallCode:
		return b.call(cpu, callKindCallCode)
	case CodeDelegateCall:
		return b.call(cpu, callKindDelegateCall)
	case CodeStaticCall:
		return b.call(cpu, callKindStaticCall)
	case CodeReturn:
		return b.returnOrRevert(cpu, false)
	case CodeRevert:
		return b.returnOrRevert(cpu, true)
	default:
		logger.Debug("unknown ecall code", "code", fmt.Sprintf("0x%x", uint32(code)))
		return fmt.Errorf("%w: 0x%x", ErrUnknownCode, uint32(code))
	}
}

func (b *Bridge) keccak256(cpu *riscv.CPU) error {
	offset := cpu.Regs.Read(ArgBase)
	size := cpu.Regs.Read(ArgBase + 1)
	data := cpu.Memory.ReadRange(offset, int(size))
	digest := crypto.Keccak256Hash(data)
	WriteHash(&cpu.Regs, ArgBase, digest)
	return nil
}

func (b *Bridge) callDataLoad(cpu *riscv.CPU) error {
	offset := cpu.Regs.Read(ArgBase)
	data := zeroPaddedSlice(b.Ctx.Env.Tx.Data, int(offset), 32)
	WriteHash(&cpu.Regs, ArgBase, types.BytesToHash(data))
	return nil
}

func (b *Bridge) callDataCopy(cpu *riscv.CPU) error {
	dest := cpu.Regs.Read(ArgBase)
	offset := cpu.Regs.Read(ArgBase + 1)
	size := cpu.Regs.Read(ArgBase + 2)
	data := zeroPaddedSlice(b.Ctx.Env.Tx.Data, int(offset), int(size))
	cpu.Memory.WriteRange(dest, data)
	return nil
}

func (b *Bridge) codeCopy(cpu *riscv.CPU, addr types.Address) error {
	dest := cpu.Regs.Read(ArgBase)
	offset := cpu.Regs.Read(ArgBase + 1)
	size := cpu.Regs.Read(ArgBase + 2)
	code := b.Ctx.State.LoadAccountCode(addr)
	data := zeroPaddedSlice(code, int(offset), int(size))
	cpu.Memory.WriteRange(dest, data)
	return nil
}

func (b *Bridge) returnDataCopy(cpu *riscv.CPU) error {
	dest := cpu.Regs.Read(ArgBase)
	offset := cpu.Regs.Read(ArgBase + 1)
	size := cpu.Regs.Read(ArgBase + 2)
	data := zeroPaddedSlice(b.Ctx.ReturnData, int(offset), int(size))
	cpu.Memory.WriteRange(dest, data)
	return nil
}

func (b *Bridge) sload(cpu *riscv.CPU) error {
	slot := ReadHash(&cpu.Regs, ArgBase)
	value := b.Ctx.State.SLoad(b.Ctx.Callee, slot)
	WriteHash(&cpu.Regs, ArgBase, value)
	return nil
}

func (b *Bridge) sstore(cpu *riscv.CPU) error {
	if b.Ctx.ReadOnly {
		return fmt.Errorf("%w: SSTORE", ErrReadOnlyViolation)
	}
	slot := ReadHash(&cpu.Regs, ArgBase)
	value := ReadHash(&cpu.Regs, ArgBase+8)
	b.Ctx.State.SStore(b.Ctx.Callee, slot, value)
	return nil
}

func (b *Bridge) log(cpu *riscv.CPU, topicCount int) error {
	if b.Ctx.ReadOnly {
		return fmt.Errorf("%w: LOG%d", ErrReadOnlyViolation, topicCount)
	}
	offset := cpu.Regs.Read(ArgBase)
	size := cpu.Regs.Read(ArgBase + 1)
	// Topics are passed via memory (topicsOffset, implicit count) per
	// spec.md §9's required correction: the source's draft tried to pass
	// them through registers and ran out of register space past LOG1.
	topicsOffset := cpu.Regs.Read(ArgBase + 2)

	data := cpu.Memory.ReadRange(offset, int(size))
	topics := make([]types.Hash, topicCount)
	for i := 0; i < topicCount; i++ {
		raw := cpu.Memory.ReadRange(topicsOffset+uint32(i*32), 32)
		topics[i] = types.BytesToHash(raw)
	}

	b.Ctx.State.Log(&types.Log{
		Address: b.Ctx.Callee,
		Topics:  topics,
		Data:    data,
	})
	return nil
}

func (b *Bridge) returnOrRevert(cpu *riscv.CPU, revert bool) error {
	offset := cpu.Regs.Read(ArgBase)
	size := cpu.Regs.Read(ArgBase + 1)
	data := cpu.Memory.ReadRange(offset, int(size))
	b.Ctx.SetReturnData(data)
	cpu.Running = false
	if revert {
		cpu.ExitCode = 1
	}
	return nil
}

// zeroPaddedSlice returns data[offset:offset+size], zero-filling any portion
// that falls past the end of data (or before its start), per spec.md §4.5:
// "Range reads past calldata/code/return-data length MUST zero-fill (never
// fault)."
func zeroPaddedSlice(data []byte, offset, size int) []byte {
	out := make([]byte, size)
	if offset < 0 || offset >= len(data) || size <= 0 {
		return out
	}
	n := copy(out, data[offset:])
	_ = n
	return out
}
