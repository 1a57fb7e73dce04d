// Package crypto provides the fixed hash functions of the Deo contract
// core: Keccak-256 for the VM's SHA3 opcode and SHA-256 for address
// derivation and state digests. Both choices are part of the block
// replayability contract and must not change.
package crypto

import (
	"crypto/sha256"
	"strconv"

	"golang.org/x/crypto/sha3"

	"github.com/palaseus/deo/core/types"
)

// Keccak256 calculates the Keccak-256 hash of the given data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash calculates Keccak-256 and returns it as a types.Hash.
func Keccak256Hash(data ...[]byte) types.Hash {
	return types.BytesToHash(Keccak256(data...))
}

// Sha256 calculates the SHA-256 hash of the given data.
func Sha256(data ...[]byte) []byte {
	d := sha256.New()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Sha256Hash calculates SHA-256 and returns it as a types.Hash.
func Sha256Hash(data ...[]byte) types.Hash {
	return types.BytesToHash(Sha256(data...))
}

// DeriveContractAddress computes the address of a contract deployed by
// deployer at the given nonce: the first 20 bytes of
// sha256(deployer_hex || decimal(nonce)), where deployer_hex is the
// 0x-prefixed 40-nibble rendering of the deployer address.
func DeriveContractAddress(deployer types.Address, nonce uint64) types.Address {
	sum := Sha256([]byte(deployer.Hex()), []byte(strconv.FormatUint(nonce, 10)))
	return types.BytesToAddress(sum[:types.AddressLength])
}
