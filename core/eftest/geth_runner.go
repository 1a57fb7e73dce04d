// Package eftest cross-checks the Deo VM against go-ethereum's
// interpreter. Both machines share the conventional opcode numbering,
// so a pure program (no storage, no environment reads, operand-order
// insensitive arithmetic) must produce identical return data on both.
// Gas schedules differ deliberately and are never compared.
package eftest

import (
	"fmt"

	gethruntime "github.com/ethereum/go-ethereum/core/vm/runtime"

	"github.com/palaseus/deo/core/rawdb"
	"github.com/palaseus/deo/core/state"
	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/vm"
)

// DiffResult holds one bytecode run on both machines.
type DiffResult struct {
	DeoResult  vm.ExecutionResult
	GethReturn []byte
	GethErr    error
}

// Succeeded reports whether both machines completed without error.
func (r *DiffResult) Succeeded() bool {
	return r.DeoResult.Success && r.GethErr == nil
}

// RunDiff executes code with the given input on the Deo VM and on
// go-ethereum's runtime with the same gas budget.
func RunDiff(code, input []byte, gasLimit uint64) (*DiffResult, error) {
	store := state.NewWithDatabase(rawdb.NewMemoryDB())
	defer store.Close()

	machine := vm.New(store)
	deoRes := machine.Execute(&vm.ExecutionContext{
		Code:      code,
		InputData: input,
		Contract:  types.HexToAddress("0x2000000000000000000000000000000000000002"),
		GasLimit:  gasLimit,
	})

	gethRet, _, gethErr := gethruntime.Execute(code, input, &gethruntime.Config{
		GasLimit: gasLimit,
	})

	return &DiffResult{
		DeoResult:  deoRes,
		GethReturn: gethRet,
		GethErr:    gethErr,
	}, nil
}

// CheckReturnData compares the two return payloads, failing with a
// description of the divergence.
func (r *DiffResult) CheckReturnData() error {
	if r.DeoResult.Success != (r.GethErr == nil) {
		return fmt.Errorf("eftest: outcome mismatch: deo success=%v (%s), geth err=%v",
			r.DeoResult.Success, r.DeoResult.Error, r.GethErr)
	}
	if !r.DeoResult.Success {
		return nil // both failed; error surfaces differ by design
	}
	if len(r.DeoResult.ReturnData) != len(r.GethReturn) {
		return fmt.Errorf("eftest: return length mismatch: deo %d bytes, geth %d bytes",
			len(r.DeoResult.ReturnData), len(r.GethReturn))
	}
	for i := range r.GethReturn {
		if r.DeoResult.ReturnData[i] != r.GethReturn[i] {
			return fmt.Errorf("eftest: return byte %d mismatch: deo %#x, geth %#x",
				i, r.DeoResult.ReturnData[i], r.GethReturn[i])
		}
	}
	return nil
}
