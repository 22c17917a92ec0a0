package ecall

import (
	"encoding/binary"

	"github.com/eth2030/eth2030/riscv"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

// Register layout (canonicalized per spec.md §6/§9, which records the
// source disagreeing between register 1 and register 31 for the call-code
// and leaves argument placement otherwise unspecified beyond "fixed
// position"): the service code is carried in x31 (RISC-V calling-convention
// register t6, kept well away from a0-a7 so a guest's own argument-passing
// code never collides with it), and service arguments/results occupy
// consecutive registers starting at x10 (a0), following the standard RV32
// integer calling convention. A 256-bit value therefore exactly fills
// a0..a7 (x10..x17); a 160-bit address fills a0..a4 (x10..x14); a 64-bit
// quantity fills a0..a1 (x10..x11) as (high, low).
const (
	CodeRegister = 31
	ArgBase      = 10
)

// Word n of a register block holds bytes [4n..4n+4) of the value, written
// most-significant chunk first (spec.md §4.5), and within that word the
// bytes are big-endian -- i.e. each register's 32 bits are exactly one
// big-endian chunk of the value's big-endian byte representation.

// Write256 writes a 256-bit value across 8 registers starting at base.
func Write256(regs *riscv.Registers, base uint32, v *uint256.Int) {
	b := v.Bytes32()
	for i := 0; i < 8; i++ {
		regs.Write(base+uint32(i), binary.BigEndian.Uint32(b[i*4:i*4+4]))
	}
}

// Read256 reconstructs a 256-bit value from 8 registers starting at base.
func Read256(regs *riscv.Registers, base uint32) *uint256.Int {
	var b [32]byte
	for i := 0; i < 8; i++ {
		binary.BigEndian.PutUint32(b[i*4:i*4+4], regs.Read(base+uint32(i)))
	}
	return new(uint256.Int).SetBytes32(b[:])
}

// WriteHash writes a 32-byte hash across 8 registers starting at base.
func WriteHash(regs *riscv.Registers, base uint32, h types.Hash) {
	for i := 0; i < 8; i++ {
		regs.Write(base+uint32(i), binary.BigEndian.Uint32(h[i*4:i*4+4]))
	}
}

// ReadHash reconstructs a 32-byte hash from 8 registers starting at base.
func ReadHash(regs *riscv.Registers, base uint32) types.Hash {
	var h types.Hash
	for i := 0; i < 8; i++ {
		binary.BigEndian.PutUint32(h[i*4:i*4+4], regs.Read(base+uint32(i)))
	}
	return h
}

// WriteAddress writes a 20-byte address across 5 registers starting at
// base. The address's 20 bytes do not divide evenly into 4-byte words
// starting from byte 0 the way a 256-bit value does when padded to 32
// bytes, so the layout left-pads conceptually: register base holds bytes
// [0..4), ..., register base+4 holds bytes [16..20).
func WriteAddress(regs *riscv.Registers, base uint32, addr types.Address) {
	for i := 0; i < 5; i++ {
		regs.Write(base+uint32(i), binary.BigEndian.Uint32(addr[i*4:i*4+4]))
	}
}

// ReadAddress reconstructs a 20-byte address from 5 registers starting at
// base.
func ReadAddress(regs *riscv.Registers, base uint32) types.Address {
	var addr types.Address
	for i := 0; i < 5; i++ {
		binary.BigEndian.PutUint32(addr[i*4:i*4+4], regs.Read(base+uint32(i)))
	}
	return addr
}

// Write64 writes a 64-bit value across 2 registers (high, low) starting at
// base.
func Write64(regs *riscv.Registers, base uint32, v uint64) {
	regs.Write(base, uint32(v>>32))
	regs.Write(base+1, uint32(v))
}

// Read64 reconstructs a 64-bit value from 2 registers (high, low) starting
// at base.
func Read64(regs *riscv.Registers, base uint32) uint64 {
	hi := uint64(regs.Read(base))
	lo := uint64(regs.Read(base + 1))
	return hi<<32 | lo
}
