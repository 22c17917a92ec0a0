// Package ecall implements the EVM ABI bridge (C6): a closed set of numbered
// environment calls that project EVM semantics onto the RV32 register file,
// per spec.md §4.5 and §4.6. It is the sole consumer of the riscv package's
// ECALLHandler seam and the sole producer of nested riscv.CPU invocations
// for CALL/CREATE-family sub-frames, keeping the riscv package itself free
// of any EVM-specific knowledge.
package ecall

// Code identifies one of the closed set of ECALL services. Unknown codes
// fault the current instruction (spec.md §4.5).
type Code uint32

const (
	CodeKeccak256 Code = 0x20

	CodeAddress         Code = 0x30
	CodeBalance         Code = 0x31
	CodeOrigin          Code = 0x32
	CodeCaller          Code = 0x33
	CodeCallValue       Code = 0x34
	CodeCallDataLoad    Code = 0x35
	CodeCallDataSize    Code = 0x36
	CodeCallDataCopy    Code = 0x37
	CodeCodeSize        Code = 0x38
	CodeCodeCopy        Code = 0x39
	CodeGasPrice        Code = 0x3A
	CodeExtCodeSize     Code = 0x3B
	CodeExtCodeCopy     Code = 0x3C
	CodeReturnDataSize  Code = 0x3D
	CodeReturnDataCopy  Code = 0x3E
	CodeExtCodeHash     Code = 0x3F

	CodeBlockHash   Code = 0x40
	CodeCoinbase    Code = 0x41
	CodeTimestamp   Code = 0x42
	CodeNumber      Code = 0x43
	CodePrevRandao  Code = 0x44
	CodeGasLimit    Code = 0x45
	CodeChainID     Code = 0x46
	CodeSelfBalance Code = 0x47
	CodeBaseFee     Code = 0x48
	CodeBlobHash    Code = 0x49
	CodeBlobBaseFee Code = 0x4A

	CodeSLoad  Code = 0x54
	CodeSStore Code = 0x55

	CodeGas Code = 0x5A

	CodeLog0 Code = 0xA0
	CodeLog1 Code = 0xA1
	CodeLog2 Code = 0xA2
	CodeLog3 Code = 0xA3
	CodeLog4 Code = 0xA4

	CodeCreate       Code = 0xF0
	CodeCall         Code = 0xF1
	CodeCallCode     Code = 0xF2
	CodeReturn       Code = 0xF3
	CodeDelegateCall Code = 0xF4
	CodeCreate2      Code = 0xF5
	CodeStaticCall   Code = 0xFA
	CodeRevert       Code = 0xFD
)
