// Package elf loads a guest program into a riscv.Memory image, either from a
// raw stream of 32-bit instruction words (loaded at address 0) or from a
// 32-bit little-endian RISC-V executable ELF. This is an external
// collaborator of the core per the specification: it supplies instruction
// words and an initial memory image, nothing more.
package elf

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eth2030/eth2030/riscv"
)

// maxMemoryAddress is 2^32, the size of the address space. Several ELF
// validation rules reject values that collide with or exceed it.
const maxMemoryAddress = uint64(1) << 32

const wordSize = 4

// maxProgramHeaders bounds the number of PT_LOAD segments accepted, guarding
// against pathological inputs.
const maxProgramHeaders = 256

// Errors returned by LoadRaw/LoadELF. They mirror the rejection rules in the
// specification's external-interfaces section verbatim.
var (
	ErrEmptyProgram       = errors.New("elf: empty program")
	ErrNot32Bit           = errors.New("elf: class is not 32-bit")
	ErrNotRISCV           = errors.New("elf: machine is not RISC-V")
	ErrNotExecutable      = errors.New("elf: type is not executable")
	ErrEntryOutOfRange    = errors.New("elf: entry address equals 2^32")
	ErrEntryMisaligned    = errors.New("elf: entry address is not 4-byte aligned")
	ErrTooManyHeaders     = errors.New("elf: more than 256 program headers")
	ErrSegmentMisaligned  = errors.New("elf: PT_LOAD segment vaddr is not 4-byte aligned")
	ErrSegmentSizeInvalid = errors.New("elf: PT_LOAD segment filesz or memsz equals 2^32")
	ErrSegmentOverflows   = errors.New("elf: PT_LOAD segment (vaddr+offset) reaches 2^32")
)

// Image is the result of loading a guest program: a populated memory, the
// linear instruction stream (for implementations that want to fetch
// instructions directly rather than through Memory), the entry PC, and the
// base address (the minimum vaddr among executable segments).
type Image struct {
	Memory       *riscv.Memory
	Instructions []uint32
	Entry        uint32
	Base         uint32
}

// LoadRaw loads a flat stream of little-endian 32-bit instruction words at
// address 0 with PC=0. This is format (a) from the specification's guest
// binary format section.
func LoadRaw(words []uint32) (*Image, error) {
	if len(words) == 0 {
		return nil, ErrEmptyProgram
	}
	mem := riscv.NewMemory()
	for i, w := range words {
		if err := mem.WriteWord(uint32(i*wordSize), w); err != nil {
			return nil, fmt.Errorf("elf: write raw word %d: %w", i, err)
		}
	}
	return &Image{Memory: mem, Instructions: words, Entry: 0, Base: 0}, nil
}

// LoadELF parses and loads a 32-bit little-endian RISC-V ET_EXEC ELF binary,
// format (b) from the specification. It rejects malformed headers per the
// rules spelled out in the specification rather than trusting debug/elf's
// more permissive defaults.
func LoadELF(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyProgram
	}

	f, err := elf.NewFile(newReaderAt(data))
	if err != nil {
		return nil, fmt.Errorf("elf: parse: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, ErrNot32Bit
	}
	if f.Machine != elf.EM_RISCV {
		return nil, ErrNotRISCV
	}
	if f.Type != elf.ET_EXEC {
		return nil, ErrNotExecutable
	}
	if f.ByteOrder != binary.LittleEndian {
		return nil, fmt.Errorf("elf: byte order is not little-endian")
	}

	entry := uint64(f.Entry)
	if entry == maxMemoryAddress {
		return nil, ErrEntryOutOfRange
	}
	if entry%wordSize != 0 {
		return nil, ErrEntryMisaligned
	}

	loadSegments := make([]*elf.Prog, 0, len(f.Progs))
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			loadSegments = append(loadSegments, p)
		}
	}
	if len(loadSegments) > maxProgramHeaders {
		return nil, ErrTooManyHeaders
	}

	mem := riscv.NewMemory()
	var instructions []uint32
	base := uint64(maxMemoryAddress) // narrowed to the min executable vaddr below
	sawExecutable := false

	for _, p := range loadSegments {
		if p.Vaddr%wordSize != 0 {
			return nil, ErrSegmentMisaligned
		}
		if p.Filesz == maxMemoryAddress || p.Memsz == maxMemoryAddress {
			return nil, ErrSegmentSizeInvalid
		}
		if p.Vaddr+p.Off >= maxMemoryAddress {
			return nil, ErrSegmentOverflows
		}

		fileBytes := make([]byte, p.Filesz)
		if p.Filesz > 0 {
			sr := p.Open()
			if _, err := sr.Read(fileBytes); err != nil {
				return nil, fmt.Errorf("elf: read segment: %w", err)
			}
		}

		executable := p.Flags&elf.PF_X != 0
		if executable && p.Vaddr < base {
			base = p.Vaddr
			sawExecutable = true
		}

		for off := uint64(0); off < p.Memsz; off += wordSize {
			var word uint32
			if off+wordSize <= uint64(len(fileBytes)) {
				word = binary.LittleEndian.Uint32(fileBytes[off : off+wordSize])
			} else if off < uint64(len(fileBytes)) {
				var buf [wordSize]byte
				copy(buf[:], fileBytes[off:])
				word = binary.LittleEndian.Uint32(buf[:])
			}
			addr := p.Vaddr + off
			if addr >= maxMemoryAddress {
				break
			}
			if err := mem.WriteWord(uint32(addr), word); err != nil {
				return nil, fmt.Errorf("elf: write segment word at 0x%x: %w", addr, err)
			}
			if executable {
				instructions = append(instructions, word)
			}
		}
	}

	if !sawExecutable {
		base = 0
	}

	return &Image{
		Memory:       mem,
		Instructions: instructions,
		Entry:        uint32(entry),
		Base:         uint32(base),
	}, nil
}

// readerAt adapts a byte slice to io.ReaderAt for debug/elf.NewFile.
type readerAt struct{ data []byte }

func newReaderAt(data []byte) *readerAt { return &readerAt{data: data} }

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, errors.New("elf: read out of range")
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, errors.New("elf: short read")
	}
	return n, nil
}
