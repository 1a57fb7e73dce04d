// Package state implements the Deo world-state store: accounts, deployed
// contracts and their storage slots, persisted through a rawdb.Database
// with transactional commit/rollback and a deterministic digest.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/palaseus/deo/core/rawdb"
	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/word"
	"github.com/palaseus/deo/log"
)

var (
	// ErrNotInTransaction is returned by Commit/Rollback without a prior Begin.
	ErrNotInTransaction = errors.New("state: not in transaction")

	// ErrInTransaction is returned by Begin while a transaction is active.
	ErrInTransaction = errors.New("state: transaction already active")

	// ErrCorrupt is returned when a persisted record fails to deserialize.
	ErrCorrupt = errors.New("state: corrupt record")

	// ErrIO wraps failures of the backing medium.
	ErrIO = errors.New("state: store io error")
)

// AccountState is the persisted state of one account. Accounts are
// created lazily: reading an absent account yields the zero value, and
// the record materializes on first write.
type AccountState struct {
	Balance    word.Word256
	Nonce      uint64
	IsContract bool
}

// ContractState is the persisted metadata of one contract. Code is
// immutable after deployment. Storage slots live in their own records
// under the storage namespace, not inside this struct.
type ContractState struct {
	Code            []byte
	Balance         word.Word256
	Nonce           uint64
	Deployed        bool
	DeploymentBlock uint64
	Deployer        types.Address
}

// Statistics is a point-in-time snapshot of store counters. Record
// counts are computed by traversal; operation counters accumulate on the
// store handle under its lock.
type Statistics struct {
	AccountCount      uint64
	ContractCount     uint64
	StorageEntryCount uint64
	Reads             uint64
	Writes            uint64
	Commits           uint64
	Rollbacks         uint64
}

// txEntry is one buffered write inside an open transaction.
type txEntry struct {
	value   []byte
	deleted bool
}

// StateStore is a transactional world-state store. Writes between Begin
// and Commit are buffered in an overlay and applied atomically as one
// batch; Rollback discards them. Reads during a transaction observe the
// overlay on top of the persisted base.
//
// Transactions serialize on an exclusive mutex held from Begin until
// Commit or Rollback.
type StateStore struct {
	txMu sync.Mutex // held for the duration of a transaction
	mu   sync.RWMutex

	db      rawdb.Database
	logger  *log.Logger
	inTx    bool
	overlay map[string]txEntry

	reads, writes, commits, rollbacks uint64
}

// Open creates a StateStore persisted at the given directory path.
func Open(path string) (*StateStore, error) {
	db, err := rawdb.NewFileDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s := NewWithDatabase(db)
	s.logger.Info("state store opened", "path", path)
	return s, nil
}

// NewWithDatabase creates a StateStore over an existing database,
// typically a rawdb.MemoryDB in tests.
func NewWithDatabase(db rawdb.Database) *StateStore {
	return &StateStore{
		db:     db,
		logger: log.Module("statestore"),
	}
}

// Close releases the backing database. An open transaction is rolled back.
func (s *StateStore) Close() error {
	s.mu.Lock()
	if s.inTx {
		s.inTx = false
		s.overlay = nil
		s.txMu.Unlock()
	}
	s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Begin starts a transaction, taking the store's transaction lock. It
// fails with ErrInTransaction if this handle already has one open.
func (s *StateStore) Begin() error {
	s.mu.Lock()
	if s.inTx {
		s.mu.Unlock()
		return ErrInTransaction
	}
	s.mu.Unlock()

	s.txMu.Lock()
	s.mu.Lock()
	s.inTx = true
	s.overlay = make(map[string]txEntry)
	s.mu.Unlock()
	return nil
}

// Commit atomically applies all writes buffered since Begin.
func (s *StateStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return ErrNotInTransaction
	}

	batch := s.db.NewBatch()
	for k, e := range s.overlay {
		if e.deleted {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), e.value)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.inTx = false
	s.overlay = nil
	s.commits++
	s.txMu.Unlock()
	return nil
}

// Rollback discards all writes buffered since Begin.
func (s *StateStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inTx {
		return ErrNotInTransaction
	}
	s.inTx = false
	s.overlay = nil
	s.rollbacks++
	s.txMu.Unlock()
	return nil
}

// InTransaction reports whether a transaction is open on this handle.
func (s *StateStore) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inTx
}

// get reads a key through the transaction overlay. A nil value with nil
// error means the key is absent.
func (s *StateStore) get(key []byte) ([]byte, error) {
	s.mu.Lock()
	s.reads++
	if s.inTx {
		if e, ok := s.overlay[string(key)]; ok {
			s.mu.Unlock()
			if e.deleted {
				return nil, nil
			}
			return e.value, nil
		}
	}
	s.mu.Unlock()

	val, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, rawdb.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return val, nil
}

// put writes a key, buffering it when a transaction is open.
func (s *StateStore) put(key, value []byte) error {
	s.mu.Lock()
	s.writes++
	if s.inTx {
		s.overlay[string(key)] = txEntry{value: value}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.db.Put(key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// --- Accounts ---

// GetAccount returns the account state at addr, zero-valued if the
// account has never been written.
func (s *StateStore) GetAccount(addr types.Address) (AccountState, error) {
	raw, err := s.get(rawdb.AccountKey(addr))
	if err != nil {
		return AccountState{}, err
	}
	if raw == nil {
		return AccountState{}, nil
	}
	return decodeAccount(raw)
}

// SetAccount materializes the account record at addr.
func (s *StateStore) SetAccount(addr types.Address, a AccountState) error {
	return s.put(rawdb.AccountKey(addr), encodeAccount(a))
}

// GetBalance returns the balance of addr (zero for absent accounts).
func (s *StateStore) GetBalance(addr types.Address) (word.Word256, error) {
	a, err := s.GetAccount(addr)
	if err != nil {
		return word.Word256{}, err
	}
	return a.Balance, nil
}

// SetBalance sets the balance of addr, materializing the account.
func (s *StateStore) SetBalance(addr types.Address, balance word.Word256) error {
	a, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	a.Balance = balance
	return s.SetAccount(addr, a)
}

// GetNonce returns the nonce of addr (zero for absent accounts).
func (s *StateStore) GetNonce(addr types.Address) (uint64, error) {
	a, err := s.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return a.Nonce, nil
}

// SetNonce sets the nonce of addr. Nonces only move forward; attempts to
// lower one are rejected.
func (s *StateStore) SetNonce(addr types.Address, nonce uint64) error {
	a, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	if nonce < a.Nonce {
		return fmt.Errorf("state: nonce for %s may not decrease (%d -> %d)", addr, a.Nonce, nonce)
	}
	a.Nonce = nonce
	return s.SetAccount(addr, a)
}

// IncrementNonce bumps the nonce of addr and returns the new value.
func (s *StateStore) IncrementNonce(addr types.Address) (uint64, error) {
	a, err := s.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	a.Nonce++
	if err := s.SetAccount(addr, a); err != nil {
		return 0, err
	}
	return a.Nonce, nil
}

// --- Contracts ---

// GetContract returns the contract record at addr and whether it exists.
func (s *StateStore) GetContract(addr types.Address) (ContractState, bool, error) {
	raw, err := s.get(rawdb.ContractKey(addr))
	if err != nil {
		return ContractState{}, false, err
	}
	if raw == nil {
		return ContractState{}, false, nil
	}
	c, err := decodeContract(raw)
	if err != nil {
		return ContractState{}, false, err
	}
	return c, true, nil
}

// SetContract writes the contract record at addr.
func (s *StateStore) SetContract(addr types.Address, c ContractState) error {
	return s.put(rawdb.ContractKey(addr), encodeContract(c))
}

// ContractExists reports whether a deployed contract lives at addr.
// Contracts destroyed by self-destruct keep their record but are no
// longer considered to exist.
func (s *StateStore) ContractExists(addr types.Address) (bool, error) {
	c, ok, err := s.GetContract(addr)
	if err != nil || !ok {
		return false, err
	}
	return c.Deployed, nil
}

// DeployContract writes a fresh contract record and marks the account as
// a contract account.
func (s *StateStore) DeployContract(addr types.Address, code []byte, deployer types.Address, block uint64) error {
	c := ContractState{
		Code:            code,
		Deployed:        true,
		DeploymentBlock: block,
		Deployer:        deployer,
	}
	if err := s.SetContract(addr, c); err != nil {
		return err
	}
	a, err := s.GetAccount(addr)
	if err != nil {
		return err
	}
	a.IsContract = true
	return s.SetAccount(addr, a)
}

// MarkSelfDestructed marks the contract at addr as no longer deployed.
// The code stays in the record for replay; the contract is simply not
// callable anymore.
func (s *StateStore) MarkSelfDestructed(addr types.Address) error {
	c, ok, err := s.GetContract(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("state: no contract at %s", addr)
	}
	c.Deployed = false
	return s.SetContract(addr, c)
}

// --- Storage ---

// GetStorage reads one storage slot of a contract; unset slots are zero.
func (s *StateStore) GetStorage(addr types.Address, key word.Word256) (word.Word256, error) {
	raw, err := s.get(rawdb.StorageKey(addr, key.Bytes32()))
	if err != nil {
		return word.Word256{}, err
	}
	if raw == nil {
		return word.Word256{}, nil
	}
	if len(raw) != 32 {
		return word.Word256{}, fmt.Errorf("%w: storage slot is %d bytes", ErrCorrupt, len(raw))
	}
	return word.FromBytes(raw), nil
}

// SetStorage writes one storage slot of a contract.
func (s *StateStore) SetStorage(addr types.Address, key, value word.Word256) error {
	return s.put(rawdb.StorageKey(addr, key.Bytes32()), value.Bytes())
}

// --- Statistics ---

// Stats returns a snapshot of record counts and operation counters.
func (s *StateStore) Stats() Statistics {
	s.mu.RLock()
	st := Statistics{
		Reads:     s.reads,
		Writes:    s.writes,
		Commits:   s.commits,
		Rollbacks: s.rollbacks,
	}
	s.mu.RUnlock()

	st.AccountCount = s.countPrefix(rawdb.AccountPrefix)
	st.ContractCount = s.countPrefix(rawdb.ContractPrefix)
	st.StorageEntryCount = s.countPrefix(rawdb.StoragePrefix)
	return st
}

func (s *StateStore) countPrefix(prefix byte) uint64 {
	it := s.db.NewIterator([]byte{prefix})
	defer it.Release()
	var n uint64
	for it.Next() {
		n++
	}
	return n
}
