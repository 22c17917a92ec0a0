package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/eth2030/eth2030/handler"
	"github.com/eth2030/eth2030/hoststate"
	"github.com/eth2030/eth2030/types"
	"github.com/holiman/uint256"
)

// txSpec is the on-disk JSON shape riscvrun accepts for a transaction and
// its surrounding block environment. Numeric fields accept either decimal
// or 0x-prefixed hex strings via parseUint256.
type txSpec struct {
	ChainID  uint64  `json:"chainId"`
	Caller   string  `json:"caller"`
	To       *string `json:"to"`
	Value    string  `json:"value"`
	Data     string  `json:"data"`
	GasLimit uint64  `json:"gasLimit"`

	GasPrice     string `json:"gasPrice"`
	BaseFee      string `json:"baseFee"`
	London       bool   `json:"london"`
	ShanghaiPlus bool   `json:"shanghaiPlus"`

	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   uint64 `json:"timestamp"`
	Coinbase    string `json:"coinbase"`
	GasLimitBlk uint64 `json:"blockGasLimit"`

	CallerBalanceSpec string `json:"callerBalance"`

	// CallerBalance is populated from CallerBalanceSpec by toTransaction;
	// tagged json:"-" so it never round-trips through JSON itself.
	CallerBalance *uint256.Int `json:"-"`
}

func decodeHexData(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// toTransaction converts the JSON spec into a handler.Transaction and its
// block/tx environment.
func (s *txSpec) toTransaction() (*handler.Transaction, *hoststate.Env, uint64, error) {
	value, err := parseUint256(s.Value)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("value: %w", err)
	}
	gasPrice, err := parseUint256(s.GasPrice)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("gasPrice: %w", err)
	}
	baseFee, err := parseUint256(s.BaseFee)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("baseFee: %w", err)
	}
	callerBalance, err := parseUint256(s.CallerBalanceSpec)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("callerBalance: %w", err)
	}
	data, err := decodeHexData(s.Data)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("data: %w", err)
	}

	var to *types.Address
	if s.To != nil {
		addr := types.HexToAddress(*s.To)
		to = &addr
	}

	env := &hoststate.Env{
		Block: hoststate.BlockEnv{
			Number:    s.BlockNumber,
			Timestamp: s.Timestamp,
			Coinbase:  types.HexToAddress(s.Coinbase),
			GasLimit:  s.GasLimitBlk,
			BaseFee:   baseFee,
		},
	}

	tx := &handler.Transaction{
		Caller:            types.HexToAddress(s.Caller),
		To:                to,
		Value:             value,
		Data:              data,
		GasLimit:          s.GasLimit,
		ChainID:           s.ChainID,
		EffectiveGasPrice: gasPrice,
		London:            s.London,
		ShanghaiPlus:      s.ShanghaiPlus,
	}
	s.CallerBalance = callerBalance

	return tx, env, s.ChainID, nil
}

// verbosityToLevel maps the Geth-style 0-5 verbosity scale to slog levels,
// matching the convention the teacher's original CLI used for --verbosity.
func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError + 4 // effectively silent; slog has no "off" level
	case v == 1:
		return slog.LevelError
	case v == 2:
		return slog.LevelWarn
	case v == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
