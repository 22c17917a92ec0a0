package handler

import (
	"github.com/ethereum/go-ethereum/params"
)

// floorGasPerToken is EIP-7623's per-token floor-gas price. go-ethereum's
// params package names for this constant have changed across Pectra-era
// releases, so rather than guess at an export that may not match this
// module's pinned go-ethereum version, the value (fixed by the EIP, not by
// any particular client) is kept as a local constant grounded directly on
// the EIP text referenced in spec.md §4.7 step 1 ("floor gas (EIP-7623)").
const floorGasPerToken = 10

// zeroByteTokens/nonZeroByteTokens are EIP-7623's token weights for calldata
// bytes, used for the floor-gas token count. intrinsicGas prices calldata
// with go-ethereum's params constants instead.
const (
	zeroByteTokens    = 1
	nonZeroByteTokens = 4
)

// intrinsicGas computes the base cost of a transaction per spec.md §4.7
// step 1: "21_000 base + per-byte calldata". isCreate adds go-ethereum's
// contract-creation surcharge and EIP-3860's per-word init-code cost.
func intrinsicGas(data []byte, isCreate bool, accessList []accessListCost) (uint64, error) {
	gas := params.TxGas
	if isCreate {
		gas += params.TxGasContractCreation - params.TxGas
	}

	var zeroBytes, nonZeroBytes uint64
	for _, b := range data {
		if b == 0 {
			zeroBytes++
		} else {
			nonZeroBytes++
		}
	}
	gas += zeroBytes * params.TxDataZeroGas
	gas += nonZeroBytes * params.TxDataNonZeroGasEIP2028

	if isCreate {
		words := (uint64(len(data)) + 31) / 32
		gas += words * params.InitCodeWordGas
	}

	for _, entry := range accessList {
		gas += params.TxAccessListAddressGas
		gas += uint64(entry.slots) * params.TxAccessListStorageKeyGas
	}

	return gas, nil
}

// accessListCost is the minimal shape intrinsicGas needs from a tx's
// access list: how many storage slots each declared address carries.
type accessListCost struct {
	slots int
}

// floorGas computes EIP-7623's per-tx minimum gas charge from calldata
// token weight (spec.md §4.7 step 1, "floor gas (EIP-7623)").
func floorGas(data []byte) uint64 {
	var tokens uint64
	for _, b := range data {
		if b == 0 {
			tokens += zeroByteTokens
		} else {
			tokens += nonZeroByteTokens
		}
	}
	return params.TxGas + tokens*floorGasPerToken
}

// refundCap bounds a transaction's gas refund per spec.md §4.7 step 4:
// 1/5 of gas spent post-London (EIP-3529), 1/2 pre-London.
func refundCap(gasSpent uint64, london bool) uint64 {
	if london {
		return gasSpent / params.RefundQuotientEIP3529
	}
	return gasSpent / params.RefundQuotient
}
