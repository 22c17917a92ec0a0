package riscv

import "fmt"

// Opcode is the low 7 bits of an instruction word, selecting the encoding
// variant and instruction family.
type Opcode uint32

const (
	OpcodeR       Opcode = 0b0110011 // register-register ALU/mul/div
	OpcodeIALU    Opcode = 0b0010011 // register-immediate ALU
	OpcodeLoad    Opcode = 0b0000011 // loads
	OpcodeStore   Opcode = 0b0100011 // stores
	OpcodeBranch  Opcode = 0b1100011 // conditional branches
	OpcodeJAL     Opcode = 0b1101111
	OpcodeJALR    Opcode = 0b1100111
	OpcodeLUI     Opcode = 0b0110111
	OpcodeAUIPC   Opcode = 0b0010111
	OpcodeECALL   Opcode = 0b1110011
)

// Variant identifies which of the six RV32 encoding shapes an instruction
// word uses.
type Variant int

const (
	VariantR Variant = iota
	VariantI
	VariantS
	VariantB
	VariantU
	VariantJ
)

// ErrUnknownOpcode is returned by Decode when the low 7 bits of the word do
// not match any recognized opcode.
type ErrUnknownOpcode struct{ Opcode Opcode }

func (e *ErrUnknownOpcode) Error() string {
	return fmt.Sprintf("riscv: unknown opcode 0b%07b", uint32(e.Opcode))
}

// Instruction is the decoded form of a 32-bit instruction word: every field
// that any variant might need, plus a discriminant pair (Variant, Opcode)
// telling the interpreter which fields are meaningful.
type Instruction struct {
	Raw     uint32
	Opcode  Opcode
	Variant Variant

	Rd, Rs1, Rs2   uint32
	Funct3         uint32
	Funct7         uint32
	Imm            int32 // sign-extended immediate (I/S/B/J); for U, already shifted left 12
	ShiftAmount    uint32 // low 5 bits of the I-type immediate field, for slli/srli/srai
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// Decode classifies a 32-bit instruction word into its encoding variant and
// extracts all fields, sign-extending immediates per the standard RV32
// layout. Unknown opcodes return ErrUnknownOpcode.
func Decode(word uint32) (Instruction, error) {
	opcode := Opcode(word & 0x7F)
	rd := (word >> 7) & 0x1F
	funct3 := (word >> 12) & 0x7
	rs1 := (word >> 15) & 0x1F
	rs2 := (word >> 20) & 0x1F
	funct7 := (word >> 25) & 0x7F

	ins := Instruction{Raw: word, Opcode: opcode, Rd: rd, Rs1: rs1, Rs2: rs2, Funct3: funct3, Funct7: funct7}

	switch opcode {
	case OpcodeR:
		ins.Variant = VariantR

	case OpcodeIALU, OpcodeLoad, OpcodeJALR, OpcodeECALL:
		ins.Variant = VariantI
		imm12 := word >> 20
		ins.Imm = signExtend(imm12, 12)
		ins.ShiftAmount = rs2 // low 5 bits of the imm field alias rs2's bit position
		ins.Funct7 = funct7   // arithmetic/logical shift qualifier for slli/srli/srai

	case OpcodeStore:
		ins.Variant = VariantS
		imm := (funct7 << 5) | rd
		ins.Imm = signExtend(imm, 12)

	case OpcodeBranch:
		ins.Variant = VariantB
		bit11 := (word >> 7) & 0x1
		bit4_1 := (word >> 8) & 0xF
		bit10_5 := (word >> 25) & 0x3F
		bit12 := (word >> 31) & 0x1
		imm := (bit12 << 12) | (bit11 << 11) | (bit10_5 << 5) | (bit4_1 << 1)
		ins.Imm = signExtend(imm, 13)

	case OpcodeLUI, OpcodeAUIPC:
		ins.Variant = VariantU
		ins.Imm = int32(word & 0xFFFFF000)

	case OpcodeJAL:
		ins.Variant = VariantJ
		bit19_12 := (word >> 12) & 0xFF
		bit11 := (word >> 20) & 0x1
		bit10_1 := (word >> 21) & 0x3FF
		bit20 := (word >> 31) & 0x1
		imm := (bit20 << 20) | (bit19_12 << 12) | (bit11 << 11) | (bit10_1 << 1)
		ins.Imm = signExtend(imm, 21)

	default:
		return Instruction{}, &ErrUnknownOpcode{Opcode: opcode}
	}

	return ins, nil
}
