// Package core wires deployment and call transactions into VM execution:
// address derivation, nonce management, gas prepayment and refund, value
// transfer, and the transactional discipline that keeps failed
// executions from leaking state.
package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/palaseus/deo/core/state"
	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/vm"
	"github.com/palaseus/deo/core/word"
	"github.com/palaseus/deo/crypto"
	"github.com/palaseus/deo/log"
)

// MaxCodeSize is the largest bytecode accepted for deployment.
const MaxCodeSize = 24576

// blockhashWindow is how far back BLOCKHASH resolves before returning zero.
const blockhashWindow = 256

// Manager-level failure taxonomy. These reject a transaction before any
// VM invocation; no state changes.
var (
	ErrInvalidBytecode     = errors.New("core: invalid bytecode")
	ErrBytecodeTooLarge    = errors.New("core: bytecode exceeds size limit")
	ErrContractExists      = errors.New("core: contract already deployed at address")
	ErrContractNotFound    = errors.New("core: contract not found")
	ErrInsufficientBalance = errors.New("core: insufficient balance")
)

// DeploymentTransaction asks the manager to put code on chain.
type DeploymentTransaction struct {
	Deployer types.Address
	Code     []byte
	GasLimit uint64
	GasPrice uint64
	Value    word.Word256
}

// CallTransaction asks the manager to run a deployed contract.
type CallTransaction struct {
	Caller    types.Address
	Contract  types.Address
	InputData []byte
	GasLimit  uint64
	GasPrice  uint64
	Value     word.Word256
}

// ManagerStatistics is a snapshot of the manager's cumulative counters.
type ManagerStatistics struct {
	Deployments uint64
	Calls       uint64
	GasUsed     uint64
}

// ContractManager orchestrates transactions against the VM and the state
// store. All entry points hold an exclusive lock for the duration of
// their state transaction, so effects across one manager are sequenced
// by admission order.
type ContractManager struct {
	mu     sync.Mutex
	store  *state.StateStore
	vm     *vm.VM
	logger *log.Logger

	blockNumber    uint64
	blockTimestamp uint64
	blockCoinbase  types.Address

	deployments uint64
	calls       uint64
	gasUsed     uint64
}

// NewContractManager creates a manager borrowing the given store. The
// manager owns its VM; the store is owned by the caller (host or
// harness).
func NewContractManager(store *state.StateStore) *ContractManager {
	return &ContractManager{
		store:  store,
		vm:     vm.New(store),
		logger: log.Module("contracts"),
	}
}

// SetBlockContext fixes the block fields handed to every subsequent
// execution context.
func (m *ContractManager) SetBlockContext(number, timestamp uint64, coinbase types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockNumber = number
	m.blockTimestamp = timestamp
	m.blockCoinbase = coinbase
}

// BlockNumber returns the current block number held by the manager.
func (m *ContractManager) BlockNumber() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockNumber
}

// blockHash derives the hash for BLOCKHASH queries: SHA-256 of the
// 8-byte big-endian block number, for numbers within the lookback
// window; zero otherwise. The derivation is fixed across all nodes.
func (m *ContractManager) blockHash(n uint64) types.Hash {
	if n > m.blockNumber || m.blockNumber-n > blockhashWindow {
		return types.Hash{}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return crypto.Sha256Hash(buf[:])
}

// DeriveContractAddress returns the address a deployment by deployer at
// the given nonce lands on.
func DeriveContractAddress(deployer types.Address, nonce uint64) types.Address {
	return crypto.DeriveContractAddress(deployer, nonce)
}

// Deploy validates and persists a contract. The stored bytecode is not
// executed as a constructor; it becomes the contract's runtime code
// as-is. The deployer prepays gas_limit * gas_price and, since
// deployment itself consumes no gas, is refunded in full on success.
func (m *ContractManager) Deploy(tx *DeploymentTransaction) (types.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(tx.Code) == 0 {
		return types.Address{}, fmt.Errorf("%w: empty code", ErrInvalidBytecode)
	}
	if len(tx.Code) > MaxCodeSize {
		return types.Address{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrBytecodeTooLarge, len(tx.Code), MaxCodeSize)
	}
	if err := vm.ValidateBytecode(tx.Code); err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrInvalidBytecode, err)
	}

	if err := m.store.Begin(); err != nil {
		return types.Address{}, err
	}

	// Address derivation uses the nonce the deployment will bump to.
	// All remaining pre-checks run before the nonce write.
	nonce, err := m.store.GetNonce(tx.Deployer)
	if err != nil {
		return types.Address{}, m.abort(err)
	}
	addr := crypto.DeriveContractAddress(tx.Deployer, nonce+1)

	exists, err := m.store.ContractExists(addr)
	if err != nil {
		return types.Address{}, m.abort(err)
	}
	if exists {
		return types.Address{}, m.abort(fmt.Errorf("%w: %s", ErrContractExists, addr))
	}

	gasCost := word.FromUint64(tx.GasLimit).Mul(word.FromUint64(tx.GasPrice))
	if err := m.checkFunds(tx.Deployer, gasCost, tx.Value); err != nil {
		return types.Address{}, m.abort(err)
	}

	if _, err := m.store.IncrementNonce(tx.Deployer); err != nil {
		return types.Address{}, m.abort(err)
	}
	if err := m.debit(tx.Deployer, gasCost); err != nil {
		return types.Address{}, m.abort(err)
	}
	if !tx.Value.IsZero() {
		if err := m.transfer(tx.Deployer, addr, tx.Value); err != nil {
			return types.Address{}, m.abort(err)
		}
	}
	if err := m.store.DeployContract(addr, tx.Code, tx.Deployer, m.blockNumber); err != nil {
		return types.Address{}, m.abort(err)
	}
	// Full refund: no constructor ran, so no gas was consumed.
	if err := m.credit(tx.Deployer, gasCost); err != nil {
		return types.Address{}, m.abort(err)
	}

	if err := m.store.Commit(); err != nil {
		return types.Address{}, err
	}
	m.deployments++
	m.logger.Info("contract deployed", "address", addr, "deployer", tx.Deployer, "code_bytes", len(tx.Code))
	return addr, nil
}

// Call runs a deployed contract. Gas is prepaid at gas_limit *
// gas_price; on success the unused remainder is refunded. Nonce
// increment, gas payment and value transfer commit before execution and
// survive a failed run; the execution's own storage writes roll back on
// failure.
func (m *ContractManager) Call(tx *CallTransaction) (vm.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	contract, found, err := m.store.GetContract(tx.Contract)
	if err != nil {
		return vm.ExecutionResult{}, err
	}
	if !found || !contract.Deployed {
		return vm.ExecutionResult{}, fmt.Errorf("%w: %s", ErrContractNotFound, tx.Contract)
	}

	// Billing transaction: nonce, gas prepayment, value transfer.
	if err := m.store.Begin(); err != nil {
		return vm.ExecutionResult{}, err
	}
	gasCost := word.FromUint64(tx.GasLimit).Mul(word.FromUint64(tx.GasPrice))
	if err := m.checkFunds(tx.Caller, gasCost, tx.Value); err != nil {
		return vm.ExecutionResult{}, m.abort(err)
	}
	if _, err := m.store.IncrementNonce(tx.Caller); err != nil {
		return vm.ExecutionResult{}, m.abort(err)
	}
	if err := m.debit(tx.Caller, gasCost); err != nil {
		return vm.ExecutionResult{}, m.abort(err)
	}
	if !tx.Value.IsZero() {
		if err := m.transfer(tx.Caller, tx.Contract, tx.Value); err != nil {
			return vm.ExecutionResult{}, m.abort(err)
		}
	}
	if err := m.store.Commit(); err != nil {
		return vm.ExecutionResult{}, err
	}

	// Execution transaction: storage writes land in the overlay and are
	// committed only if the run succeeds.
	if err := m.store.Begin(); err != nil {
		return vm.ExecutionResult{}, err
	}
	ctx := &vm.ExecutionContext{
		Code:           contract.Code,
		InputData:      tx.InputData,
		Caller:         tx.Caller,
		Contract:       tx.Contract,
		GasLimit:       tx.GasLimit,
		GasPrice:       tx.GasPrice,
		Value:          tx.Value,
		BlockNumber:    m.blockNumber,
		BlockTimestamp: m.blockTimestamp,
		BlockCoinbase:  m.blockCoinbase,
		GetHash:        m.blockHash,
	}
	result := m.vm.Execute(ctx)
	m.calls++
	m.gasUsed += result.GasUsed

	if result.Success {
		refund := word.FromUint64(tx.GasLimit - result.GasUsed).Mul(word.FromUint64(tx.GasPrice))
		if err := m.credit(tx.Caller, refund); err != nil {
			return vm.ExecutionResult{}, m.abort(err)
		}
		if err := m.store.Commit(); err != nil {
			return vm.ExecutionResult{}, err
		}
	} else {
		if err := m.store.Rollback(); err != nil {
			return vm.ExecutionResult{}, err
		}
		m.logger.Info("call failed", "contract", tx.Contract, "error", result.Error, "gas_used", result.GasUsed)
	}
	return result, nil
}

// ContractExists reports whether a deployed contract lives at addr.
func (m *ContractManager) ContractExists(addr types.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.ContractExists(addr)
}

// GetContract returns the contract record at addr.
func (m *ContractManager) GetContract(addr types.Address) (state.ContractState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.GetContract(addr)
}

// Stats returns the manager's cumulative counters.
func (m *ContractManager) Stats() ManagerStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ManagerStatistics{
		Deployments: m.deployments,
		Calls:       m.calls,
		GasUsed:     m.gasUsed,
	}
}

// VMStats returns the owned VM's counters.
func (m *ContractManager) VMStats() vm.Statistics {
	return m.vm.Stats()
}

// abort rolls the open transaction back and passes err through.
func (m *ContractManager) abort(err error) error {
	if rbErr := m.store.Rollback(); rbErr != nil {
		m.logger.Error("rollback failed", "error", rbErr)
	}
	return err
}

// checkFunds verifies addr can pay gasCost plus value.
func (m *ContractManager) checkFunds(addr types.Address, gasCost, value word.Word256) error {
	balance, err := m.store.GetBalance(addr)
	if err != nil {
		return err
	}
	if balance.Lt(gasCost) {
		return fmt.Errorf("%w: balance %s cannot cover gas %s", ErrInsufficientBalance, balance, gasCost)
	}
	if balance.Sub(gasCost).Lt(value) {
		return fmt.Errorf("%w: balance %s cannot cover gas %s plus value %s", ErrInsufficientBalance, balance, gasCost, value)
	}
	return nil
}

func (m *ContractManager) debit(addr types.Address, amount word.Word256) error {
	balance, err := m.store.GetBalance(addr)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s < %s", ErrInsufficientBalance, balance, amount)
	}
	return m.store.SetBalance(addr, balance.Sub(amount))
}

func (m *ContractManager) credit(addr types.Address, amount word.Word256) error {
	balance, err := m.store.GetBalance(addr)
	if err != nil {
		return err
	}
	return m.store.SetBalance(addr, balance.Add(amount))
}

func (m *ContractManager) transfer(from, to types.Address, amount word.Word256) error {
	if err := m.debit(from, amount); err != nil {
		return err
	}
	return m.credit(to, amount)
}
