// Package determinism provides the N-instance replay comparator: the
// same input is run on N fully independent (StateStore, ContractManager,
// VM) triples in isolated state directories, and the execution results
// and state digests must match field for field. Any divergence is a
// consensus-splitting bug.
package determinism

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/palaseus/deo/core"
	"github.com/palaseus/deo/core/state"
	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/vm"
	"github.com/palaseus/deo/core/word"
	"github.com/palaseus/deo/log"
)

// Fixed execution identities. Every instance sees exactly the same
// addresses, balances and block context; only then is digest equality
// meaningful.
var (
	harnessCaller   = types.HexToAddress("0x1000000000000000000000000000000000000001")
	harnessContract = types.HexToAddress("0x2000000000000000000000000000000000000002")
	harnessCoinbase = types.HexToAddress("0x3000000000000000000000000000000000000003")
)

const (
	harnessBlockNumber    = 1
	harnessBlockTimestamp = 1700000000
	harnessFunding        = 1 << 62
)

// Result is the outcome of one comparison run.
type Result struct {
	Identical bool
	Mismatch  string // human-readable description of the first divergence
	Results   []vm.ExecutionResult
	Digests   []types.Hash
}

// Harness runs inputs on N independent instances rooted under BaseDir.
type Harness struct {
	n       int
	baseDir string
	logger  *log.Logger
}

// New creates a harness for n instances (n >= 2) with per-instance state
// directories under baseDir.
func New(n int, baseDir string) (*Harness, error) {
	if n < 2 {
		return nil, fmt.Errorf("determinism: need at least 2 instances, got %d", n)
	}
	return &Harness{
		n:       n,
		baseDir: baseDir,
		logger:  log.Module("determinism"),
	}, nil
}

// openInstance builds one isolated triple.
func (h *Harness) openInstance(i int) (*core.Handle, error) {
	dir := filepath.Join(h.baseDir, fmt.Sprintf("instance-%d", i))
	handle, err := core.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("determinism: instance %d: %w", i, err)
	}
	handle.Manager.SetBlockContext(harnessBlockNumber, harnessBlockTimestamp, harnessCoinbase)
	return handle, nil
}

// RunBytecode executes raw bytecode once per instance under a fixed
// context and compares outcomes.
func (h *Harness) RunBytecode(code, input []byte, gasLimit uint64) (*Result, error) {
	res := &Result{}
	for i := 0; i < h.n; i++ {
		handle, err := h.openInstance(i)
		if err != nil {
			return nil, err
		}
		machine := vm.New(handle.Store)
		if err := handle.Store.Begin(); err != nil {
			handle.Close()
			return nil, err
		}
		execResult := machine.Execute(&vm.ExecutionContext{
			Code:           code,
			InputData:      input,
			Caller:         harnessCaller,
			Contract:       harnessContract,
			GasLimit:       gasLimit,
			GasPrice:       1,
			BlockNumber:    harnessBlockNumber,
			BlockTimestamp: harnessBlockTimestamp,
			BlockCoinbase:  harnessCoinbase,
		})
		if execResult.Success {
			err = handle.Store.Commit()
		} else {
			err = handle.Store.Rollback()
		}
		if err != nil {
			handle.Close()
			return nil, err
		}
		digest, err := handle.Store.Digest()
		if err != nil {
			handle.Close()
			return nil, err
		}
		handle.Close()
		res.Results = append(res.Results, execResult)
		res.Digests = append(res.Digests, digest)
	}
	h.compare(res)
	return res, nil
}

// RunTransactions replays a transaction sequence once per instance.
// Senders are funded identically before replay; per-transaction
// rejections are recorded, not fatal, so all instances must reject
// identically too.
func (h *Harness) RunTransactions(txs []*core.Transaction) (*Result, error) {
	res := &Result{}
	for i := 0; i < h.n; i++ {
		handle, err := h.openInstance(i)
		if err != nil {
			return nil, err
		}
		if err := fundSenders(handle.Store, txs); err != nil {
			handle.Close()
			return nil, err
		}
		for _, tx := range txs {
			res.Results = append(res.Results, applyTransaction(handle.Manager, tx))
		}
		digest, err := handle.Store.Digest()
		if err != nil {
			handle.Close()
			return nil, err
		}
		handle.Close()
		res.Digests = append(res.Digests, digest)
	}
	h.compareGrouped(res, len(txs))
	return res, nil
}

// applyTransaction runs one transaction and normalizes the outcome. A
// deployment's "return data" is the derived contract address; a manager
// rejection becomes a failed result carrying the error text.
func applyTransaction(m *core.ContractManager, tx *core.Transaction) vm.ExecutionResult {
	switch {
	case tx.Deploy != nil:
		addr, err := m.Deploy(tx.Deploy)
		if err != nil {
			return vm.ExecutionResult{Error: "DeployFailed", Message: err.Error()}
		}
		return vm.ExecutionResult{Success: true, ReturnData: addr.Bytes()}
	case tx.Call != nil:
		result, err := m.Call(tx.Call)
		if err != nil {
			return vm.ExecutionResult{Error: "CallFailed", Message: err.Error()}
		}
		return result
	default:
		return vm.ExecutionResult{Error: "BadTransaction", Message: "neither deploy nor call"}
	}
}

// fundSenders gives every sender in the sequence the same fixed balance.
func fundSenders(store *state.StateStore, txs []*core.Transaction) error {
	funded := make(map[types.Address]bool)
	for _, tx := range txs {
		var sender types.Address
		switch {
		case tx.Deploy != nil:
			sender = tx.Deploy.Deployer
		case tx.Call != nil:
			sender = tx.Call.Caller
		default:
			continue
		}
		if funded[sender] {
			continue
		}
		funded[sender] = true
		if err := store.SetBalance(sender, word.FromUint64(harnessFunding)); err != nil {
			return err
		}
	}
	return nil
}

// compare checks one result and one digest per instance.
func (h *Harness) compare(res *Result) {
	h.compareGrouped(res, 1)
}

// compareGrouped checks res assuming perInstance results per instance,
// laid out instance-major.
func (h *Harness) compareGrouped(res *Result, perInstance int) {
	res.Identical = true
	for i := 1; i < h.n; i++ {
		for j := 0; j < perInstance; j++ {
			a, b := res.Results[j], res.Results[i*perInstance+j]
			if !equalResults(a, b) {
				res.Identical = false
				res.Mismatch = fmt.Sprintf("instance %d result %d differs from instance 0: %+v vs %+v", i, j, b, a)
				h.logger.Error("determinism violation", "mismatch", res.Mismatch)
				return
			}
		}
		if res.Digests[i] != res.Digests[0] {
			res.Identical = false
			res.Mismatch = fmt.Sprintf("instance %d state digest %s differs from instance 0 digest %s", i, res.Digests[i], res.Digests[0])
			h.logger.Error("determinism violation", "mismatch", res.Mismatch)
			return
		}
	}
}

// equalResults compares two execution results field by field.
func equalResults(a, b vm.ExecutionResult) bool {
	return a.Success == b.Success &&
		a.GasUsed == b.GasUsed &&
		a.Error == b.Error &&
		bytes.Equal(a.ReturnData, b.ReturnData)
}
