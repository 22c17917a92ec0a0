package ecall

import (
	"github.com/eth2030/eth2030/crypto"
	"github.com/eth2030/eth2030/rlp"
	"github.com/eth2030/eth2030/types"
)

// createAddressPayload is the RLP list [sender, nonce] hashed to derive a
// CREATE address, grounded on the teacher's evm_create.go address
// derivation (itself the standard Ethereum CREATE formula).
type createAddressPayload struct {
	Sender types.Address
	Nonce  uint64
}

// DeriveCreateAddress computes the address a CREATE frame deploys to:
// the low 20 bytes of keccak256(rlp([sender, nonce])).
func DeriveCreateAddress(sender types.Address, nonce uint64) (types.Address, error) {
	encoded, err := rlp.EncodeToBytes(&createAddressPayload{Sender: sender, Nonce: nonce})
	if err != nil {
		return types.Address{}, err
	}
	digest := crypto.Keccak256(encoded)
	return types.BytesToAddress(digest[12:]), nil
}

// DeriveCreate2Address computes the address a CREATE2 frame deploys to:
// the low 20 bytes of keccak256(0xff ++ sender ++ salt ++ keccak256(initcode)).
func DeriveCreate2Address(sender types.Address, salt types.Hash, initcode []byte) types.Address {
	initcodeHash := crypto.Keccak256(initcode)
	payload := make([]byte, 0, 1+types.AddressLength+types.HashLength+types.HashLength)
	payload = append(payload, 0xff)
	payload = append(payload, sender[:]...)
	payload = append(payload, salt[:]...)
	payload = append(payload, initcodeHash...)
	digest := crypto.Keccak256(payload)
	return types.BytesToAddress(digest[12:])
}
