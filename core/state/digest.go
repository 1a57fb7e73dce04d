package state

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/palaseus/deo/core/rawdb"
	"github.com/palaseus/deo/core/types"
)

// Digest computes the SHA-256 digest of the committed world state: an
// ordered traversal over the account, contract and storage namespaces,
// feeding each record as key_len:4 | key | value_len:4 | value. Two
// stores hold identical state iff their digests are equal; the digest is
// what the block layer uses as its state root.
//
// Buffered transaction writes are not part of the digest; commit first.
func (s *StateStore) Digest() (types.Hash, error) {
	h := sha256.New()
	for _, prefix := range []byte{rawdb.AccountPrefix, rawdb.ContractPrefix, rawdb.StoragePrefix} {
		it := s.db.NewIterator([]byte{prefix})
		for it.Next() {
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(it.Key())))
			h.Write(lenBuf[:])
			h.Write(it.Key())
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(it.Value())))
			h.Write(lenBuf[:])
			h.Write(it.Value())
		}
		it.Release()
	}
	var digest types.Hash
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// DigestHex returns the digest as a 0x-prefixed hex string.
func (s *StateStore) DigestHex() (string, error) {
	d, err := s.Digest()
	if err != nil {
		return "", fmt.Errorf("state: digest: %w", err)
	}
	return d.Hex(), nil
}
