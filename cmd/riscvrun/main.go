// Command riscvrun loads a guest RV32IM binary (raw words or ELF) and a JSON
// transaction description, runs the transaction through the handler
// pipeline, and prints the resulting output.
//
// Usage:
//
//	riscvrun run --bin program.bin --tx tx.json
//	riscvrun run --bin program.elf --elf --tx tx.json
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/eth2030/eth2030/elf"
	"github.com/eth2030/eth2030/handler"
	"github.com/eth2030/eth2030/hoststate"
	"github.com/eth2030/eth2030/log"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
)

var version = "v0.1.0-dev"

func main() {
	app := &cli.App{
		Name:    "riscvrun",
		Usage:   "run an RV32IM guest binary as an EVM transaction against an in-memory host",
		Version: version,
		Commands: []*cli.Command{
			runCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "execute one transaction",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bin", Required: true, Usage: "path to the guest binary"},
			&cli.BoolFlag{Name: "elf", Usage: "treat --bin as a 32-bit RISC-V ELF rather than raw words"},
			&cli.StringFlag{Name: "tx", Required: true, Usage: "path to the transaction JSON file"},
			&cli.IntFlag{Name: "verbosity", Value: 3, Usage: "log level 0-5 (0=silent, 4-5=debug)"},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	configureLogging(c.Int("verbosity"))

	binPath := c.String("bin")
	raw, err := os.ReadFile(binPath)
	if err != nil {
		return fmt.Errorf("read guest binary: %w", err)
	}

	var code []byte
	if c.Bool("elf") {
		image, err := elf.LoadELF(raw)
		if err != nil {
			return fmt.Errorf("load ELF: %w", err)
		}
		code = flattenImage(image)
	} else {
		code = raw
	}

	txSpecPath := c.String("tx")
	txJSON, err := os.ReadFile(txSpecPath)
	if err != nil {
		return fmt.Errorf("read tx spec: %w", err)
	}
	var spec txSpec
	if err := json.Unmarshal(txJSON, &spec); err != nil {
		return fmt.Errorf("parse tx spec: %w", err)
	}

	tx, env, chainID, err := spec.toTransaction()
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}

	state := hoststate.NewMemoryState(env)
	if tx.To != nil {
		state.SetCode(*tx.To, code)
	}
	seedBalance(state, tx.Caller, spec.CallerBalance)

	h := handler.New(chainID, env)
	out, err := h.Handle(tx, state)
	if err != nil {
		return fmt.Errorf("handle transaction: %w", err)
	}

	return printOutput(out)
}

// flattenImage reassembles an ELF's executable segments into the flat byte
// stream the interpreter's memory model expects, starting at Base.
func flattenImage(image *elf.Image) []byte {
	out := make([]byte, 4*len(image.Instructions))
	for i, w := range image.Instructions {
		out[i*4] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}

func seedBalance(state *hoststate.MemoryState, addr types.Address, balance *uint256.Int) {
	if balance == nil || balance.IsZero() {
		return
	}
	state.CreditBalance(addr, balance)
}

func printOutput(out *handler.Output) error {
	logs := make([]json.RawMessage, len(out.Logs))
	for i, l := range out.Logs {
		raw, err := types.MarshalLogJSON(l)
		if err != nil {
			return fmt.Errorf("marshal log %d: %w", i, err)
		}
		logs[i] = raw
	}

	result := struct {
		Success         bool              `json:"success"`
		Reverted        bool              `json:"reverted"`
		GasUsed         uint64            `json:"gasUsed"`
		ReturnData      string            `json:"returnData"`
		ContractAddress string            `json:"contractAddress,omitempty"`
		Logs            []json.RawMessage `json:"logs"`
		LogsBloom       string            `json:"logsBloom"`
	}{
		Success:    out.Success,
		Reverted:   out.Reverted,
		GasUsed:    out.GasUsed,
		ReturnData: "0x" + hex.EncodeToString(out.ReturnData),
		Logs:       logs,
		LogsBloom:  "0x" + hex.EncodeToString(out.LogsBloom[:]),
	}
	if out.ContractAddress != nil {
		result.ContractAddress = out.ContractAddress.Hex()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func configureLogging(verbosity int) {
	level := verbosityToLevel(verbosity)
	log.SetDefault(log.New(level))
}

// parseUint256 accepts both decimal and 0x-prefixed hex strings, the two
// forms a hand-written tx JSON file is likely to use.
func parseUint256(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	base := 10
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base = 16
		s = s[2:]
	}
	b, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer literal %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("integer literal %q overflows 256 bits", s)
	}
	return v, nil
}
