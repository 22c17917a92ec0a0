package riscv

import "testing"

// noopHandler lets tests run programs with no ecall instructions.
type noopHandler struct{}

func (noopHandler) ECALL(cpu *CPU) error { cpu.Running = false; return nil }

func loadProgram(mem *Memory, words []uint32, base uint32) {
	for i, w := range words {
		mem.WriteWord(base+uint32(i*4), w)
	}
}

// TestAddiSwLwChain implements spec scenario 1: addi x1,x0,42; addi x2,x1,-1;
// sw x2,0(x0); lw x3,0(x0) -> x3 = 41.
func TestAddiSwLwChain(t *testing.T) {
	mem := NewMemory()
	program := []uint32{
		EncodeIType(OpcodeIALU, 1, Funct3AddSub, 0, 42),  // addi x1, x0, 42
		EncodeIType(OpcodeIALU, 2, Funct3AddSub, 1, -1),  // addi x2, x1, -1
		EncodeSType(OpcodeStore, Funct3SW, 0, 2, 0),      // sw x2, 0(x0)
		EncodeIType(OpcodeLoad, 3, Funct3LW, 0, 0),       // lw x3, 0(x0)
	}
	loadProgram(mem, program, 0)

	cpu := NewCPU(mem, 0, noopHandler{})
	for i := 0; i < len(program); i++ {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	if got := cpu.Regs.Read(3); got != 41 {
		t.Fatalf("x3 = %d, want 41", got)
	}
	want := []byte{41, 0, 0, 0}
	got := mem.ReadRange(0, 4)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("memory[0:4] = %v, want %v", got, want)
		}
	}
}

func TestPCAdvancesByFour(t *testing.T) {
	mem := NewMemory()
	loadProgram(mem, []uint32{EncodeIType(OpcodeIALU, 1, Funct3AddSub, 0, 1)}, 0)
	cpu := NewCPU(mem, 0, noopHandler{})
	if err := cpu.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if cpu.PC != 4 {
		t.Fatalf("PC = %d, want 4", cpu.PC)
	}
}

func TestDivByZero(t *testing.T) {
	mem := NewMemory()
	loadProgram(mem, []uint32{
		EncodeIType(OpcodeIALU, 1, Funct3AddSub, 0, 5), // addi x1, x0, 5
		EncodeRType(OpcodeR, 2, Funct3Div, 1, 0, Funct7MulDiv),  // div x2, x1, x0
		EncodeRType(OpcodeR, 3, Funct3Rem, 1, 0, Funct7MulDiv),  // rem x3, x1, x0
	}, 0)
	cpu := NewCPU(mem, 0, noopHandler{})
	for i := 0; i < 3; i++ {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got := cpu.Regs.Read(2); got != 0xFFFFFFFF {
		t.Fatalf("div by zero = 0x%x, want 0xffffffff", got)
	}
	if got := cpu.Regs.Read(3); got != 5 {
		t.Fatalf("rem by zero = %d, want 5 (dividend)", got)
	}
}

func TestDivSignedOverflow(t *testing.T) {
	mem := NewMemory()
	mem.WriteWord(0, 0x80000000) // INT_MIN constant, loaded via lw
	loadProgram(mem, []uint32{
		EncodeIType(OpcodeLoad, 1, Funct3LW, 0, 0),                   // lw x1, 0(x0) -> INT_MIN
		EncodeIType(OpcodeIALU, 2, Funct3AddSub, 0, -1),              // addi x2, x0, -1
		EncodeRType(OpcodeR, 3, Funct3Div, 1, 2, Funct7MulDiv),       // div x3, x1, x2
		EncodeRType(OpcodeR, 4, Funct3Rem, 1, 2, Funct7MulDiv),       // rem x4, x1, x2
	}, 4)
	cpu := NewCPU(mem, 4, noopHandler{})
	for i := 0; i < 4; i++ {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got := cpu.Regs.Read(3); got != 0x80000000 {
		t.Fatalf("INT_MIN / -1 = 0x%x, want 0x80000000", got)
	}
	if got := cpu.Regs.Read(4); got != 0 {
		t.Fatalf("INT_MIN %% -1 = %d, want 0", got)
	}
}

func TestLoadSignExtension(t *testing.T) {
	mem := NewMemory()
	mem.WriteByte(0, 0xFF)
	loadProgram(mem, []uint32{
		EncodeIType(OpcodeLoad, 1, Funct3LB, 0, 0),  // lb x1, 0(x0)
		EncodeIType(OpcodeLoad, 2, Funct3LBU, 0, 0), // lbu x2, 0(x0)
	}, 4)
	cpu := NewCPU(mem, 4, noopHandler{})
	for i := 0; i < 2; i++ {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if got := cpu.Regs.Read(1); got != 0xFFFFFFFF {
		t.Fatalf("lb 0xFF = 0x%x, want 0xffffffff", got)
	}
	if got := cpu.Regs.Read(2); got != 0x000000FF {
		t.Fatalf("lbu 0xFF = 0x%x, want 0xff", got)
	}
}

func TestUnknownOpcodeFaults(t *testing.T) {
	mem := NewMemory()
	mem.WriteWord(0, 0x0000007F) // opcode bits 1111111, not in the table
	cpu := NewCPU(mem, 0, noopHandler{})
	if err := cpu.Step(); err == nil {
		t.Fatalf("expected fault for unknown opcode")
	}
}

func TestStepCapExceeded(t *testing.T) {
	mem := NewMemory()
	// jal x0, 0 -- infinite self-loop.
	loadProgram(mem, []uint32{EncodeJType(OpcodeJAL, 0, 0)}, 0)
	cpu := NewCPU(mem, 0, noopHandler{})
	if err := cpu.Run(5); err != ErrStepCapExceeded {
		t.Fatalf("Run = %v, want ErrStepCapExceeded", err)
	}
}
