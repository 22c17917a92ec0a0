// log.go implements the EVM-style Log's JSON serialization, the hex
// conventions cmd/riscvrun's output printing uses to report LOG0-4 events.
package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxTopicsPerLog is the maximum number of indexed topics in a single log
// event. LOG0..LOG4 allow 0-4 topics.
const MaxTopicsPerLog = 4

// jsonLog is the JSON-serializable representation of a log.
type jsonLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	TxIndex     string   `json:"transactionIndex"`
	BlockHash   string   `json:"blockHash"`
	LogIndex    string   `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

// MarshalLogJSON serializes a log to JSON using Ethereum hex conventions.
func MarshalLogJSON(l *Log) ([]byte, error) {
	if l == nil {
		return nil, errors.New("log: cannot marshal nil log")
	}
	if len(l.Topics) > MaxTopicsPerLog {
		return nil, fmt.Errorf("log: too many topics: %d > %d", len(l.Topics), MaxTopicsPerLog)
	}
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = "0x" + hex.EncodeToString(t[:])
	}
	jl := jsonLog{
		Address:     "0x" + hex.EncodeToString(l.Address[:]),
		Topics:      topics,
		Data:        "0x" + hex.EncodeToString(l.Data),
		BlockNumber: fmt.Sprintf("0x%x", l.BlockNumber),
		TxHash:      "0x" + hex.EncodeToString(l.TxHash[:]),
		TxIndex:     fmt.Sprintf("0x%x", l.TxIndex),
		BlockHash:   "0x" + hex.EncodeToString(l.BlockHash[:]),
		LogIndex:    fmt.Sprintf("0x%x", l.Index),
		Removed:     l.Removed,
	}
	return json.Marshal(jl)
}
