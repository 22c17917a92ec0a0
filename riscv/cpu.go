package riscv

import (
	"errors"
	"fmt"

	"github.com/eth2030/eth2030/log"
)

var logger = log.Default().Module("riscv")

// Funct3 values for R-type and I-type ALU ops.
const (
	Funct3AddSub = 0b000
	Funct3Sll    = 0b001
	Funct3Slt    = 0b010
	Funct3Sltu   = 0b011
	Funct3Xor    = 0b100
	Funct3Srl    = 0b101
	Funct3Or     = 0b110
	Funct3And    = 0b111
)

// Funct7 qualifiers.
const (
	Funct7Base    = 0b0000000
	Funct7AltOp   = 0b0100000 // sub / sra
	Funct7MulDiv  = 0b0000001 // M-extension
)

// Funct3 values for the M extension (funct7 == Funct7MulDiv).
const (
	Funct3Mul    = 0b000
	Funct3Mulh   = 0b001
	Funct3Mulhsu = 0b010
	Funct3Mulhu  = 0b011
	Funct3Div    = 0b100
	Funct3Divu   = 0b101
	Funct3Rem    = 0b110
	Funct3Remu   = 0b111
)

// Funct3 values for loads and stores.
const (
	Funct3LB  = 0b000
	Funct3LH  = 0b001
	Funct3LW  = 0b010
	Funct3LBU = 0b100
	Funct3LHU = 0b101

	Funct3SB = 0b000
	Funct3SH = 0b001
	Funct3SW = 0b010
)

// Funct3 values for branches.
const (
	Funct3BEQ  = 0b000
	Funct3BNE  = 0b001
	Funct3BLT  = 0b100
	Funct3BGE  = 0b101
	Funct3BLTU = 0b110
	Funct3BGEU = 0b111
)

// ErrFault is a decode/alignment/memory fault that halts the current
// interpreter invocation. The caller (a sub-frame's ECALL dispatcher, or the
// transaction handler for the root frame) observes this as a revert.
type ErrFault struct{ Cause error }

func (e *ErrFault) Error() string { return fmt.Sprintf("riscv: fault: %v", e.Cause) }
func (e *ErrFault) Unwrap() error { return e.Cause }

// ErrStepCapExceeded is returned by Run when a sub-frame runs past its step
// cap without halting. Spec-documented stub: a production implementation
// would meter gas per instruction and bound sub-frames by gas instead.
var ErrStepCapExceeded = errors.New("riscv: sub-frame step cap exceeded")

// ECALLHandler services environment calls trapped by the ecall instruction.
// It is supplied by the embedding EVM bridge (see package ecall) so this
// package carries no EVM-specific knowledge. Implementations set cpu.Running
// to false to signal RETURN/REVERT; ECALL returns an error for any other
// fault (unknown service code, state-mutation under STATICCALL, etc), which
// Step wraps in ErrFault.
type ECALLHandler interface {
	ECALL(cpu *CPU) error
}

// CPU holds one interpreter invocation's mutable state: program counter,
// register file, memory, and the halt/exit-code pair set by RETURN/REVERT/
// faults.
type CPU struct {
	PC       uint32
	Regs     Registers
	Memory   *Memory
	Running  bool
	ExitCode int

	Handler ECALLHandler
}

// NewCPU returns a CPU ready to execute starting at entry, with the given
// memory image (already populated by a raw-binary or ELF load) and the
// supplied ECALL handler.
func NewCPU(mem *Memory, entry uint32, handler ECALLHandler) *CPU {
	return &CPU{PC: entry, Memory: mem, Running: true, Handler: handler}
}

func asSigned(v uint32) int32 { return int32(v) }

// Step executes exactly one instruction: fetch at PC (word access; an
// unaligned PC faults), decode (unknown opcode faults), dispatch by variant/
// funct, and advance PC by 4 unless the instruction itself redirected it (or
// the ECALL handler halted the CPU).
func (c *CPU) Step() error {
	word, err := c.Memory.ReadWord(c.PC)
	if err != nil {
		return &ErrFault{Cause: err}
	}
	ins, err := Decode(word)
	if err != nil {
		return &ErrFault{Cause: err}
	}

	switch ins.Opcode {
	case OpcodeR:
		if err := c.execR(ins); err != nil {
			return &ErrFault{Cause: err}
		}
		c.PC += 4

	case OpcodeIALU:
		if err := c.execIALU(ins); err != nil {
			return &ErrFault{Cause: err}
		}
		c.PC += 4

	case OpcodeLoad:
		if err := c.execLoad(ins); err != nil {
			return &ErrFault{Cause: err}
		}
		c.PC += 4

	case OpcodeStore:
		if err := c.execStore(ins); err != nil {
			return &ErrFault{Cause: err}
		}
		c.PC += 4

	case OpcodeBranch:
		taken := c.evalBranch(ins)
		if taken {
			c.PC = uint32(int32(c.PC) + ins.Imm)
		} else {
			c.PC += 4
		}

	case OpcodeJAL:
		link := c.PC + 4
		c.Regs.Write(ins.Rd, link)
		c.PC = uint32(int32(c.PC) + ins.Imm)

	case OpcodeJALR:
		target := (uint32(int32(c.Regs.Read(ins.Rs1))+ins.Imm)) &^ 1
		link := c.PC + 4
		c.Regs.Write(ins.Rd, link)
		c.PC = target

	case OpcodeLUI:
		c.Regs.Write(ins.Rd, uint32(ins.Imm))
		c.PC += 4

	case OpcodeAUIPC:
		c.Regs.Write(ins.Rd, uint32(int32(c.PC)+ins.Imm))
		c.PC += 4

	case OpcodeECALL:
		if c.Handler == nil {
			return &ErrFault{Cause: errors.New("riscv: ecall with no handler installed")}
		}
		if err := c.Handler.ECALL(c); err != nil {
			return &ErrFault{Cause: err}
		}
		if c.Running {
			c.PC += 4
		}

	default:
		return &ErrFault{Cause: &ErrUnknownOpcode{Opcode: ins.Opcode}}
	}

	return nil
}

func (c *CPU) execR(ins Instruction) error {
	a := c.Regs.Read(ins.Rs1)
	b := c.Regs.Read(ins.Rs2)
	var result uint32

	switch ins.Funct7 {
	case Funct7Base:
		switch ins.Funct3 {
		case Funct3AddSub:
			result = a + b
		case Funct3Sll:
			result = a << (b & 0x1F)
		case Funct3Slt:
			result = boolToWord(asSigned(a) < asSigned(b))
		case Funct3Sltu:
			result = boolToWord(a < b)
		case Funct3Xor:
			result = a ^ b
		case Funct3Srl:
			result = a >> (b & 0x1F)
		case Funct3Or:
			result = a | b
		case Funct3And:
			result = a & b
		default:
			return fmt.Errorf("riscv: unknown R-type funct3 %03b (funct7=base)", ins.Funct3)
		}

	case Funct7AltOp:
		switch ins.Funct3 {
		case Funct3AddSub:
			result = a - b
		case Funct3Srl:
			result = uint32(asSigned(a) >> (b & 0x1F))
		default:
			return fmt.Errorf("riscv: unknown R-type funct3 %03b (funct7=alt)", ins.Funct3)
		}

	case Funct7MulDiv:
		result = execMulDiv(ins.Funct3, a, b)

	default:
		return fmt.Errorf("riscv: unknown R-type funct7 %07b", ins.Funct7)
	}

	c.Regs.Write(ins.Rd, result)
	return nil
}

func execMulDiv(funct3 uint32, a, b uint32) uint32 {
	sa, sb := int64(asSigned(a)), int64(asSigned(b))
	switch funct3 {
	case Funct3Mul:
		return a * b
	case Funct3Mulh:
		return uint32((sa * sb) >> 32)
	case Funct3Mulhsu:
		return uint32((sa * int64(b)) >> 32)
	case Funct3Mulhu:
		return uint32((uint64(a) * uint64(b)) >> 32)
	case Funct3Div:
		if b == 0 {
			return 0xFFFFFFFF
		}
		if a == 0x80000000 && b == 0xFFFFFFFF {
			return 0x80000000 // INT_MIN / -1 overflows back to INT_MIN
		}
		return uint32(asSigned(a) / asSigned(b))
	case Funct3Divu:
		if b == 0 {
			return 0xFFFFFFFF
		}
		return a / b
	case Funct3Rem:
		if b == 0 {
			return a
		}
		if a == 0x80000000 && b == 0xFFFFFFFF {
			return 0
		}
		return uint32(asSigned(a) % asSigned(b))
	case Funct3Remu:
		if b == 0 {
			return a
		}
		return a % b
	default:
		return 0
	}
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (c *CPU) execIALU(ins Instruction) error {
	a := c.Regs.Read(ins.Rs1)
	imm := uint32(ins.Imm)
	var result uint32

	switch ins.Funct3 {
	case Funct3AddSub:
		result = a + imm
	case Funct3Slt:
		result = boolToWord(asSigned(a) < ins.Imm)
	case Funct3Sltu:
		result = boolToWord(a < imm)
	case Funct3Xor:
		result = a ^ imm
	case Funct3Or:
		result = a | imm
	case Funct3And:
		result = a & imm
	case Funct3Sll:
		result = a << ins.ShiftAmount
	case Funct3Srl:
		if ins.Funct7 == Funct7AltOp {
			result = uint32(asSigned(a) >> ins.ShiftAmount)
		} else {
			result = a >> ins.ShiftAmount
		}
	default:
		return fmt.Errorf("riscv: unknown I-type ALU funct3 %03b", ins.Funct3)
	}

	c.Regs.Write(ins.Rd, result)
	return nil
}

func (c *CPU) execLoad(ins Instruction) error {
	addr := uint32(int32(c.Regs.Read(ins.Rs1)) + ins.Imm)
	var result uint32

	switch ins.Funct3 {
	case Funct3LB:
		b := c.Memory.ReadByte(addr)
		result = uint32(int32(int8(b)))
	case Funct3LBU:
		result = uint32(c.Memory.ReadByte(addr))
	case Funct3LH:
		h, err := c.Memory.ReadHalf(addr)
		if err != nil {
			return err
		}
		result = uint32(int32(int16(h)))
	case Funct3LHU:
		h, err := c.Memory.ReadHalf(addr)
		if err != nil {
			return err
		}
		result = h
	case Funct3LW:
		w, err := c.Memory.ReadWord(addr)
		if err != nil {
			return err
		}
		result = w
	default:
		return fmt.Errorf("riscv: unknown load funct3 %03b", ins.Funct3)
	}

	c.Regs.Write(ins.Rd, result)
	return nil
}

func (c *CPU) execStore(ins Instruction) error {
	addr := uint32(int32(c.Regs.Read(ins.Rs1)) + ins.Imm)
	v := c.Regs.Read(ins.Rs2)

	switch ins.Funct3 {
	case Funct3SB:
		c.Memory.WriteByte(addr, byte(v))
		return nil
	case Funct3SH:
		return c.Memory.WriteHalf(addr, v)
	case Funct3SW:
		return c.Memory.WriteWord(addr, v)
	default:
		return fmt.Errorf("riscv: unknown store funct3 %03b", ins.Funct3)
	}
}

func (c *CPU) evalBranch(ins Instruction) bool {
	a := c.Regs.Read(ins.Rs1)
	b := c.Regs.Read(ins.Rs2)
	switch ins.Funct3 {
	case Funct3BEQ:
		return a == b
	case Funct3BNE:
		return a != b
	case Funct3BLT:
		return asSigned(a) < asSigned(b)
	case Funct3BGE:
		return asSigned(a) >= asSigned(b)
	case Funct3BLTU:
		return a < b
	case Funct3BGEU:
		return a >= b
	default:
		return false
	}
}

// Run steps the CPU until Running clears or a fault occurs. stepCap bounds
// the number of steps (0 means unbounded, used for the root frame); it
// exists to stop adversarial guests from looping forever inside a sub-frame
// before gas metering of guest instructions is implemented (see the
// Non-goals: this is a known, documented stand-in, not production metering).
func (c *CPU) Run(stepCap int) error {
	steps := 0
	for c.Running {
		if stepCap > 0 && steps >= stepCap {
			logger.Debug("sub-frame step cap exceeded", "cap", stepCap)
			return ErrStepCapExceeded
		}
		if err := c.Step(); err != nil {
			return err
		}
		steps++
	}
	return nil
}
