package core

import (
	"github.com/palaseus/deo/core/rawdb"
	"github.com/palaseus/deo/core/state"
)

// Handle bundles one state store with the contract manager borrowing it.
// Hosts that want a long-lived session (the CLI, the block processor)
// own exactly one Handle and pass it through their call sites; the core
// itself holds no process-wide state.
type Handle struct {
	Store   *state.StateStore
	Manager *ContractManager
}

// Open creates a Handle persisted at the given directory path.
func Open(path string) (*Handle, error) {
	store, err := state.Open(path)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Store:   store,
		Manager: NewContractManager(store),
	}, nil
}

// OpenMemory creates a Handle over an in-memory store, for tests and
// ephemeral runs.
func OpenMemory() *Handle {
	store := state.NewWithDatabase(rawdb.NewMemoryDB())
	return &Handle{
		Store:   store,
		Manager: NewContractManager(store),
	}
}

// Close releases the underlying store.
func (h *Handle) Close() error {
	return h.Store.Close()
}
