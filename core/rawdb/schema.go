package rawdb

import "github.com/palaseus/deo/core/types"

// Key prefixes partitioning the state keyspace. Records under each
// prefix sort by address (and storage key), which fixes the traversal
// order of the state digest.
const (
	AccountPrefix  = 'A' // A + addr hex -> account record
	ContractPrefix = 'C' // C + addr hex -> contract record
	StoragePrefix  = 'S' // S + addr hex + slot key (32 bytes BE) -> value (32 bytes BE)
)

// AccountKey returns the database key for an account record. Addresses
// appear in keys as their 40-character hex form without the 0x prefix.
func AccountKey(addr types.Address) []byte {
	return append([]byte{AccountPrefix}, addr.HexNoPrefix()...)
}

// ContractKey returns the database key for a contract record.
func ContractKey(addr types.Address) []byte {
	return append([]byte{ContractPrefix}, addr.HexNoPrefix()...)
}

// StorageKey returns the database key for one storage slot of a contract.
// slot is the 32-byte big-endian storage key.
func StorageKey(addr types.Address, slot [32]byte) []byte {
	k := append([]byte{StoragePrefix}, addr.HexNoPrefix()...)
	return append(k, slot[:]...)
}

// StorageKeyPrefix returns the key prefix covering every storage slot of
// one contract.
func StorageKeyPrefix(addr types.Address) []byte {
	return append([]byte{StoragePrefix}, addr.HexNoPrefix()...)
}
