package vm

import "github.com/palaseus/deo/core/word"

// executionFunc executes a single opcode against the machine state.
type executionFunc func(pc *uint64, vm *VM, env *execEnv) ([]byte, error)

// dynamicGasFunc computes a state-dependent gas cost (SSTORE) before the
// handler runs. It must not modify the stack.
type dynamicGasFunc func(vm *VM, env *execEnv) (uint64, error)

// memorySizeFunc returns the highest memory byte an operation will
// touch, and whether that computation overflowed.
type memorySizeFunc func(stack *Stack) (uint64, bool)

// operation is the execution metadata of a single opcode.
type operation struct {
	execute     executionFunc
	constantGas uint64
	dynamicGas  dynamicGasFunc
	minStack    int // items required on the stack
	maxStack    int // max depth allowed before the op (so the result fits 1024)
	memorySize  memorySizeFunc
	halts       bool
	jumps       bool
}

// JumpTable maps every opcode byte to its operation, nil for bytes that
// do not execute.
type JumpTable [256]*operation

func minStack(pops, _ int) int { return pops }
func maxStack(pops, push int) int {
	return StackLimit + pops - push
}

// Memory size functions. All offsets and lengths come off the stack
// unpopped; overflow here means the operation can never be paid for.

func memMload(stack *Stack) (uint64, bool) {
	return addWithBound(stack.Back(0), 32)
}

func memMstore(stack *Stack) (uint64, bool) {
	return addWithBound(stack.Back(0), 32)
}

func memMstore8(stack *Stack) (uint64, bool) {
	return addWithBound(stack.Back(0), 1)
}

// memReturn covers RETURN, REVERT and SHA3: offset on top, length below.
func memReturn(stack *Stack) (uint64, bool) {
	return addOffsets(stack.Back(0), stack.Back(1))
}

// memCopy covers CALLDATACOPY and CODECOPY: dest offset on top, length
// third from the top.
func memCopy(stack *Stack) (uint64, bool) {
	return addOffsets(stack.Back(0), stack.Back(2))
}

// addWithBound returns off+n for a stack-sourced offset, flagging any
// value that cannot be represented in 64 bits.
func addWithBound(off word.Word256, n uint64) (uint64, bool) {
	o, overflow := off.Uint64WithOverflow()
	if overflow || o+n < o {
		return 0, true
	}
	return o + n, false
}

// addOffsets returns off+length. A zero length touches no memory at all,
// whatever the offset.
func addOffsets(off, length word.Word256) (uint64, bool) {
	if length.IsZero() {
		return 0, false
	}
	l, overflow := length.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	return addWithBound(off, l)
}

// newDeoJumpTable builds the canonical instruction set.
func newDeoJumpTable() JumpTable {
	var jt JumpTable

	jt[STOP] = &operation{execute: opStop, constantGas: GasZero, minStack: minStack(0, 0), maxStack: maxStack(0, 0), halts: true}

	jt[ADD] = &operation{execute: opAdd, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[MUL] = &operation{execute: opMul, constantGas: GasLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[SUB] = &operation{execute: opSub, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[DIV] = &operation{execute: opDiv, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[MOD] = &operation{execute: opMod, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}

	jt[LT] = &operation{execute: opLt, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[GT] = &operation{execute: opGt, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[EQ] = &operation{execute: opEq, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[ISZERO] = &operation{execute: opIszero, constantGas: GasVeryLow, minStack: minStack(1, 1), maxStack: maxStack(1, 1)}
	jt[AND] = &operation{execute: opAnd, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[OR] = &operation{execute: opOr, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[XOR] = &operation{execute: opXor, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[NOT] = &operation{execute: opNot, constantGas: GasVeryLow, minStack: minStack(1, 1), maxStack: maxStack(1, 1)}
	jt[SHL] = &operation{execute: opShl, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[SHR] = &operation{execute: opShr, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}
	jt[SAR] = &operation{execute: opSar, constantGas: GasVeryLow, minStack: minStack(2, 1), maxStack: maxStack(2, 1)}

	jt[SHA3] = &operation{execute: opSha3, constantGas: GasSha3, minStack: minStack(2, 1), maxStack: maxStack(2, 1), memorySize: memReturn}

	jt[ADDRESS] = &operation{execute: opAddress, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[BALANCE] = &operation{execute: opBalance, constantGas: GasBase, minStack: minStack(1, 1), maxStack: maxStack(1, 1)}
	jt[CALLER] = &operation{execute: opCaller, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[CALLVALUE] = &operation{execute: opCallValue, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[CALLDATALOAD] = &operation{execute: opCallDataLoad, constantGas: GasBase, minStack: minStack(1, 1), maxStack: maxStack(1, 1)}
	jt[CALLDATASIZE] = &operation{execute: opCallDataSize, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[CALLDATACOPY] = &operation{execute: opCallDataCopy, constantGas: GasVeryLow, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memCopy}
	jt[CODESIZE] = &operation{execute: opCodeSize, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[CODECOPY] = &operation{execute: opCodeCopy, constantGas: GasVeryLow, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memCopy}
	jt[GASPRICE] = &operation{execute: opGasPrice, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}

	jt[BLOCKHASH] = &operation{execute: opBlockhash, constantGas: GasBlockhash, minStack: minStack(1, 1), maxStack: maxStack(1, 1)}
	jt[COINBASE] = &operation{execute: opCoinbase, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[TIMESTAMP] = &operation{execute: opTimestamp, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[NUMBER] = &operation{execute: opNumber, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[GASLIMIT] = &operation{execute: opGasLimit, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}

	jt[POP] = &operation{execute: opPop, constantGas: GasVeryLow, minStack: minStack(1, 0), maxStack: maxStack(1, 0)}
	jt[MLOAD] = &operation{execute: opMload, constantGas: GasVeryLow, minStack: minStack(1, 1), maxStack: maxStack(1, 1), memorySize: memMload}
	jt[MSTORE] = &operation{execute: opMstore, constantGas: GasVeryLow, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memMstore}
	jt[MSTORE8] = &operation{execute: opMstore8, constantGas: GasVeryLow, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memMstore8}
	jt[SLOAD] = &operation{execute: opSload, constantGas: GasSload, minStack: minStack(1, 1), maxStack: maxStack(1, 1)}
	jt[SSTORE] = &operation{execute: opSstore, dynamicGas: gasSstore, minStack: minStack(2, 0), maxStack: maxStack(2, 0)}
	jt[JUMP] = &operation{execute: opJump, constantGas: GasMid, minStack: minStack(1, 0), maxStack: maxStack(1, 0), jumps: true}
	jt[JUMPI] = &operation{execute: opJumpi, constantGas: GasMid, minStack: minStack(2, 0), maxStack: maxStack(2, 0), jumps: true}
	jt[PC] = &operation{execute: opPc, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[MSIZE] = &operation{execute: opMsize, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[GAS] = &operation{execute: opGas, constantGas: GasBase, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	jt[JUMPDEST] = &operation{execute: opJumpdest, constantGas: GasJumpDest, minStack: minStack(0, 0), maxStack: maxStack(0, 0)}

	jt[PUSH0] = &operation{execute: opPush0, constantGas: GasVeryLow, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	for i := 1; i <= 32; i++ {
		op := PUSH1 + OpCode(i-1)
		jt[op] = &operation{execute: makePush(uint64(i)), constantGas: GasVeryLow, minStack: minStack(0, 1), maxStack: maxStack(0, 1)}
	}
	for i := 1; i <= 8; i++ {
		jt[DUP1+OpCode(i-1)] = &operation{execute: makeDup(i), constantGas: GasVeryLow, minStack: minStack(i, i+1), maxStack: maxStack(i, i+1)}
		jt[SWAP1+OpCode(i-1)] = &operation{execute: makeSwap(i), constantGas: GasVeryLow, minStack: minStack(i+1, i+1), maxStack: maxStack(i+1, i+1)}
	}

	jt[RETURN] = &operation{execute: opReturn, constantGas: GasZero, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memReturn, halts: true}
	jt[REVERT] = &operation{execute: opRevert, constantGas: GasZero, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memReturn, halts: true}
	jt[INVALID] = &operation{execute: opInvalid, constantGas: GasZero, minStack: minStack(0, 0), maxStack: maxStack(0, 0)}
	jt[SELFDESTRUCT] = &operation{execute: opSelfdestruct, constantGas: GasSelfdestruct, minStack: minStack(1, 0), maxStack: maxStack(1, 0), halts: true}

	return jt
}
