package vm

import (
	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/word"
)

// GetHashFunc returns the hash of the block with the given number, or
// the zero hash when the number is out of range. The function is
// supplied by the contract manager; the VM never synthesizes block
// hashes itself.
type GetHashFunc func(uint64) types.Hash

// ExecutionContext carries everything one execution may read. It is
// immutable for the duration of the run.
type ExecutionContext struct {
	Code      []byte
	InputData []byte
	Caller    types.Address
	Contract  types.Address

	GasLimit uint64
	GasPrice uint64
	Value    word.Word256

	BlockNumber    uint64
	BlockTimestamp uint64
	BlockCoinbase  types.Address
	GetHash        GetHashFunc
}

// ExecutionResult is the outcome of one execution. Error holds the short
// machine-readable tag ("OutOfGas", "InvalidJump", ...), Message the
// human-readable detail; both are empty on success.
type ExecutionResult struct {
	Success    bool
	ReturnData []byte
	GasUsed    uint64
	Error      string
	Message    string
}

// Failed reports whether the execution halted with an error.
func (r *ExecutionResult) Failed() bool { return !r.Success }

// StateAccess is the VM's window onto the world state. The contract
// manager passes a StateStore with an open transaction, so every write
// lands in the transaction overlay and is discarded if the execution
// fails.
type StateAccess interface {
	GetStorage(addr types.Address, key word.Word256) (word.Word256, error)
	SetStorage(addr types.Address, key, value word.Word256) error
	GetBalance(addr types.Address) (word.Word256, error)
	SetBalance(addr types.Address, balance word.Word256) error
	MarkSelfDestructed(addr types.Address) error
}
