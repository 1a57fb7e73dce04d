// Package vm implements the Deo stack virtual machine: a deterministic,
// gas-metered, single-threaded fetch-decode-execute interpreter over
// 256-bit words. Identical (ExecutionContext, state) pairs produce
// byte-identical results on every run; gas is the sole semantic bound on
// execution length.
package vm

import (
	"errors"
	"fmt"
	"sync"
)

// Config holds optional VM knobs.
type Config struct {
	// InstructionCap aborts execution after this many instructions.
	// Zero disables the cap. It is a denial-of-service guard for hosts
	// that run untrusted code with large gas budgets, never a semantic
	// limit: any capped execution would also have failed by running out
	// of gas under a bounded budget.
	InstructionCap uint64
}

// Statistics is a snapshot of cumulative VM counters.
type Statistics struct {
	Executions   uint64
	GasUsed      uint64
	Instructions uint64
}

// VM executes contract bytecode. A VM is owned by a single contract
// manager (or test); Execute itself is single-threaded with no
// suspension points.
type VM struct {
	state     StateAccess
	jumpTable JumpTable
	cfg       Config

	mu           sync.Mutex
	executions   uint64
	gasUsed      uint64
	instructions uint64
}

// errInstructionCap reports that the DoS guard fired.
var errInstructionCap = errors.New("instruction cap reached")

// New creates a VM bound to the given state access.
func New(state StateAccess) *VM {
	return NewWithConfig(state, Config{})
}

// NewWithConfig creates a VM with explicit configuration.
func NewWithConfig(state StateAccess, cfg Config) *VM {
	return &VM{
		state:     state,
		jumpTable: newDeoJumpTable(),
		cfg:       cfg,
	}
}

// execEnv carries the mutable machine state of one execution through the
// instruction handlers.
type execEnv struct {
	ctx       *ExecutionContext
	stack     *Stack
	mem       *Memory
	gas       uint64
	jumpdests map[uint64]bool
}

// useGas debits amount, reporting whether the budget covered it.
func (e *execEnv) useGas(amount uint64) bool {
	if e.gas < amount {
		return false
	}
	e.gas -= amount
	return true
}

// Execute validates and runs ctx.Code to completion, returning the
// ExecutionResult. Storage writes go through the StateAccess handed to
// New; atomicity (rollback on failure) is the caller's transaction
// discipline, not the VM's.
func (vm *VM) Execute(ctx *ExecutionContext) ExecutionResult {
	if err := ValidateBytecode(ctx.Code); err != nil {
		return ExecutionResult{
			Error:   errorTag(err),
			Message: err.Error(),
		}
	}

	env := &execEnv{
		ctx:       ctx,
		stack:     NewStack(),
		mem:       NewMemory(),
		gas:       ctx.GasLimit,
		jumpdests: analyzeJumpdests(ctx.Code),
	}

	var (
		pc      uint64
		steps   uint64
		codeLen = uint64(len(ctx.Code))
	)
	for pc < codeLen {
		if vm.cfg.InstructionCap > 0 && steps >= vm.cfg.InstructionCap {
			return vm.finish(env, steps, nil, errInstructionCap)
		}

		op := OpCode(ctx.Code[pc])
		operation := vm.jumpTable[op]
		if operation == nil {
			return vm.finish(env, steps, nil, fmt.Errorf("%w: %s", ErrInvalidInstruction, op))
		}

		if sLen := env.stack.Len(); sLen < operation.minStack {
			return vm.finish(env, steps, nil, fmt.Errorf("%w: %s needs %d items, have %d", ErrStackUnderflow, op, operation.minStack, sLen))
		} else if sLen > operation.maxStack {
			return vm.finish(env, steps, nil, fmt.Errorf("%w: %s at depth %d", ErrStackOverflow, op, sLen))
		}

		// Gas is debited before dispatch: constant cost, then memory
		// expansion, then any state-dependent cost.
		if !env.useGas(operation.constantGas) {
			return vm.finish(env, steps, nil, ErrOutOfGas)
		}
		var memSize uint64
		if operation.memorySize != nil {
			size, overflow := operation.memorySize(env.stack)
			if overflow {
				return vm.finish(env, steps, nil, fmt.Errorf("%w: %s", ErrMemoryOverflow, op))
			}
			memSize = size
		}
		if memSize > 0 {
			cost, overflow := memoryGasCost(env.mem, memSize)
			if overflow {
				return vm.finish(env, steps, nil, fmt.Errorf("%w: %s", ErrMemoryOverflow, op))
			}
			if !env.useGas(cost) {
				return vm.finish(env, steps, nil, ErrOutOfGas)
			}
		}
		if operation.dynamicGas != nil {
			cost, err := operation.dynamicGas(vm, env)
			if err != nil {
				return vm.finish(env, steps, nil, err)
			}
			if !env.useGas(cost) {
				return vm.finish(env, steps, nil, ErrOutOfGas)
			}
		}
		if memSize > 0 {
			env.mem.Resize(memSize)
		}

		ret, err := operation.execute(&pc, vm, env)
		steps++
		if err != nil {
			return vm.finish(env, steps, ret, err)
		}
		if operation.halts {
			return vm.finish(env, steps, ret, nil)
		}
		if operation.jumps {
			continue
		}
		pc++
	}

	// Running off the end of the code halts successfully with no return
	// data, as STOP would.
	return vm.finish(env, steps, nil, nil)
}

// finish assembles the ExecutionResult and updates the VM counters.
// OutOfGas consumes the entire budget by definition.
func (vm *VM) finish(env *execEnv, steps uint64, ret []byte, err error) ExecutionResult {
	if errors.Is(err, ErrOutOfGas) {
		env.gas = 0
	}
	result := ExecutionResult{
		GasUsed: env.ctx.GasLimit - env.gas,
	}
	switch {
	case err == nil:
		result.Success = true
		result.ReturnData = ret
	case errors.Is(err, ErrRevert):
		// Revert keeps the return payload; state rollback happens in the
		// caller's transaction.
		result.ReturnData = ret
		result.Error = errorTag(err)
		result.Message = err.Error()
	default:
		result.Error = errorTag(err)
		result.Message = err.Error()
	}

	vm.mu.Lock()
	vm.executions++
	vm.gasUsed += result.GasUsed
	vm.instructions += steps
	vm.mu.Unlock()
	return result
}

// Stats returns a snapshot of the cumulative counters.
func (vm *VM) Stats() Statistics {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return Statistics{
		Executions:   vm.executions,
		GasUsed:      vm.gasUsed,
		Instructions: vm.instructions,
	}
}
