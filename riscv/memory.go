// Package riscv implements the RV32IM interpreter core: a flat little-endian
// byte-addressed memory, a 32-register file with a hard-wired zero register,
// an instruction decoder for the six RV32 encoding variants, and the
// fetch/decode/execute loop itself. Environment calls are delegated to an
// ECALLHandler supplied by the caller (see the ecall package) so this
// package has no knowledge of EVM semantics.
package riscv

import "fmt"

// pageShift/pageSize determine the granularity of the sparse memory map.
// A page is a contiguous, word-aligned run of pageSize bytes; pages are
// allocated lazily on first write and absent pages read as all zero.
const (
	pageShift = 12
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

// Width identifies the size of a memory access.
type Width int

const (
	WidthByte Width = 1
	WidthHalf Width = 2
	WidthWord Width = 4
)

// ErrMisaligned is returned when a half-word or word access does not satisfy
// its natural alignment requirement.
type ErrMisaligned struct {
	Addr  uint32
	Width Width
}

func (e *ErrMisaligned) Error() string {
	return fmt.Sprintf("riscv: misaligned access at 0x%08x (width %d)", e.Addr, e.Width)
}

// Memory is a conceptually flat 2^32-byte little-endian address space,
// physically backed by a sparse map of fixed-size pages. It MUST NOT
// pre-allocate the full address space; unwritten addresses read as zero.
type Memory struct {
	pages map[uint32][]byte
}

// NewMemory returns an empty memory image.
func NewMemory() *Memory {
	return &Memory{pages: make(map[uint32][]byte)}
}

func (m *Memory) page(pageAddr uint32, alloc bool) []byte {
	p, ok := m.pages[pageAddr]
	if !ok {
		if !alloc {
			return nil
		}
		p = make([]byte, pageSize)
		m.pages[pageAddr] = p
	}
	return p
}

// checkAlign validates that addr satisfies the alignment required by width.
func checkAlign(addr uint32, width Width) error {
	if width == WidthByte {
		return nil
	}
	if addr%uint32(width) != 0 {
		return &ErrMisaligned{Addr: addr, Width: width}
	}
	return nil
}

// ReadByte returns the byte stored at addr (0 if never written).
func (m *Memory) ReadByte(addr uint32) byte {
	pageAddr := addr &^ pageMask
	p := m.page(pageAddr, false)
	if p == nil {
		return 0
	}
	return p[addr&pageMask]
}

// WriteByte stores a single byte at addr.
func (m *Memory) WriteByte(addr uint32, v byte) {
	pageAddr := addr &^ pageMask
	p := m.page(pageAddr, true)
	p[addr&pageMask] = v
}

// ReadHalf reads a little-endian 16-bit value at addr, which must be
// 2-aligned.
func (m *Memory) ReadHalf(addr uint32) (uint32, error) {
	if err := checkAlign(addr, WidthHalf); err != nil {
		return 0, err
	}
	lo := uint32(m.ReadByte(addr))
	hi := uint32(m.ReadByte(addr + 1))
	return lo | hi<<8, nil
}

// WriteHalf writes the low 16 bits of v as little-endian at addr, which
// must be 2-aligned.
func (m *Memory) WriteHalf(addr uint32, v uint32) error {
	if err := checkAlign(addr, WidthHalf); err != nil {
		return err
	}
	m.WriteByte(addr, byte(v))
	m.WriteByte(addr+1, byte(v>>8))
	return nil
}

// ReadWord reads a little-endian 32-bit value at addr, which must be
// 4-aligned.
func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	if err := checkAlign(addr, WidthWord); err != nil {
		return 0, err
	}
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(m.ReadByte(addr+i)) << (8 * i)
	}
	return v, nil
}

// WriteWord writes v as little-endian at addr, which must be 4-aligned.
func (m *Memory) WriteWord(addr uint32, v uint32) error {
	if err := checkAlign(addr, WidthWord); err != nil {
		return err
	}
	for i := uint32(0); i < 4; i++ {
		m.WriteByte(addr+i, byte(v>>(8*i)))
	}
	return nil
}

// ReadRange copies n bytes starting at addr into a freshly allocated slice.
// It never faults: addresses that overflow 2^32 wrap, and unwritten bytes
// read as zero. Used by the ECALL bridge for KECCAK256/CODECOPY-style bulk
// reads where the spec requires zero-fill rather than a fault.
func (m *Memory) ReadRange(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = m.ReadByte(addr + uint32(i))
	}
	return out
}

// WriteRange copies data into memory starting at addr.
func (m *Memory) WriteRange(addr uint32, data []byte) {
	for i, b := range data {
		m.WriteByte(addr+uint32(i), b)
	}
}
