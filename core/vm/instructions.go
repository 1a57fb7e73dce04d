package vm

import (
	"fmt"

	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/word"
	"github.com/palaseus/deo/crypto"
)

// Binary operations follow the convention: top of stack is b, the
// element below it is a, and a op b is pushed.

func opStop(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	return nil, nil
}

func opAdd(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.Add(b))
	return nil, nil
}

func opMul(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.Mul(b))
	return nil, nil
}

func opSub(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.Sub(b))
	return nil, nil
}

func opDiv(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.Div(b)) // division by zero yields zero
	return nil, nil
}

func opMod(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.Mod(b)) // modulo by zero yields zero
	return nil, nil
}

func opLt(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(word.FromBool(a.Lt(b)))
	return nil, nil
}

func opGt(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(word.FromBool(a.Gt(b)))
	return nil, nil
}

func opEq(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(word.FromBool(a.Eq(b)))
	return nil, nil
}

func opIszero(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	a := env.stack.Pop()
	env.stack.Push(word.FromBool(a.IsZero()))
	return nil, nil
}

func opAnd(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.And(b))
	return nil, nil
}

func opOr(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.Or(b))
	return nil, nil
}

func opXor(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	b, a := env.stack.Pop(), env.stack.Pop()
	env.stack.Push(a.Xor(b))
	return nil, nil
}

func opNot(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	a := env.stack.Pop()
	env.stack.Push(a.Not())
	return nil, nil
}

// Shifts take the count on top of the stack and the value below it.

func opShl(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	shift, value := env.stack.Pop(), env.stack.Pop()
	n, overflow := shift.Uint64WithOverflow()
	if overflow || n >= 256 {
		env.stack.Push(word.Zero())
		return nil, nil
	}
	env.stack.Push(value.Shl(uint(n)))
	return nil, nil
}

func opShr(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	shift, value := env.stack.Pop(), env.stack.Pop()
	n, overflow := shift.Uint64WithOverflow()
	if overflow || n >= 256 {
		env.stack.Push(word.Zero())
		return nil, nil
	}
	env.stack.Push(value.Shr(uint(n)))
	return nil, nil
}

func opSar(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	shift, value := env.stack.Pop(), env.stack.Pop()
	negative := value[3]&(1<<63) != 0
	n, overflow := shift.Uint64WithOverflow()
	if overflow || n >= 256 {
		if negative {
			env.stack.Push(word.Zero().Not())
		} else {
			env.stack.Push(word.Zero())
		}
		return nil, nil
	}
	res := value.Shr(uint(n))
	if negative && n > 0 {
		// Fill vacated high bits with ones.
		res = res.Or(word.Zero().Not().Shl(uint(256 - n)))
	}
	env.stack.Push(res)
	return nil, nil
}

func opSha3(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	offset, size := env.stack.Pop(), env.stack.Pop()
	off, _ := offset.Uint64WithOverflow()
	sz, _ := size.Uint64WithOverflow()
	hash := crypto.Keccak256(env.mem.GetPtr(off, sz))
	env.stack.Push(word.FromBytes(hash))
	return nil, nil
}

// Environment operations. Addresses push as their 160-bit integer
// interpretation.

func opAddress(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromBytes(env.ctx.Contract.Bytes()))
	return nil, nil
}

func opBalance(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	addr := wordToAddress(env.stack.Pop())
	balance, err := vm.state.GetBalance(addr)
	if err != nil {
		return nil, err
	}
	env.stack.Push(balance)
	return nil, nil
}

func opCaller(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromBytes(env.ctx.Caller.Bytes()))
	return nil, nil
}

func opCallValue(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(env.ctx.Value)
	return nil, nil
}

func opCallDataLoad(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	offset := env.stack.Pop()
	env.stack.Push(word.FromBytes(getData(env.ctx.InputData, offset, 32)))
	return nil, nil
}

func opCallDataSize(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(uint64(len(env.ctx.InputData))))
	return nil, nil
}

func opCallDataCopy(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	dest, src, size := env.stack.Pop(), env.stack.Pop(), env.stack.Pop()
	d, _ := dest.Uint64WithOverflow()
	sz, _ := size.Uint64WithOverflow()
	env.mem.Set(d, sz, getData(env.ctx.InputData, src, sz))
	return nil, nil
}

func opCodeSize(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(uint64(len(env.ctx.Code))))
	return nil, nil
}

func opCodeCopy(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	dest, src, size := env.stack.Pop(), env.stack.Pop(), env.stack.Pop()
	d, _ := dest.Uint64WithOverflow()
	sz, _ := size.Uint64WithOverflow()
	env.mem.Set(d, sz, getData(env.ctx.Code, src, sz))
	return nil, nil
}

func opGasPrice(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(env.ctx.GasPrice))
	return nil, nil
}

// Block information.

func opBlockhash(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	num := env.stack.Pop()
	n, overflow := num.Uint64WithOverflow()
	if overflow || env.ctx.GetHash == nil {
		env.stack.Push(word.Zero())
		return nil, nil
	}
	env.stack.Push(word.FromBytes(env.ctx.GetHash(n).Bytes()))
	return nil, nil
}

func opCoinbase(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromBytes(env.ctx.BlockCoinbase.Bytes()))
	return nil, nil
}

func opTimestamp(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(env.ctx.BlockTimestamp))
	return nil, nil
}

func opNumber(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(env.ctx.BlockNumber))
	return nil, nil
}

func opGasLimit(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(env.ctx.GasLimit))
	return nil, nil
}

// Stack, memory and storage.

func opPop(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Pop()
	return nil, nil
}

func opMload(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	offset := env.stack.Pop()
	off, _ := offset.Uint64WithOverflow()
	env.stack.Push(env.mem.Word(off))
	return nil, nil
}

func opMstore(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	offset, value := env.stack.Pop(), env.stack.Pop()
	off, _ := offset.Uint64WithOverflow()
	env.mem.SetWord(off, value)
	return nil, nil
}

func opMstore8(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	offset, value := env.stack.Pop(), env.stack.Pop()
	off, _ := offset.Uint64WithOverflow()
	env.mem.SetByte(off, byte(value[0]))
	return nil, nil
}

func opSload(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	key := env.stack.Pop()
	value, err := vm.state.GetStorage(env.ctx.Contract, key)
	if err != nil {
		return nil, err
	}
	env.stack.Push(value)
	return nil, nil
}

func opSstore(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	key, value := env.stack.Pop(), env.stack.Pop()
	if err := vm.state.SetStorage(env.ctx.Contract, key, value); err != nil {
		return nil, err
	}
	return nil, nil
}

// gasSstore charges GasSstoreSet for writing nonzero into a zero slot
// and GasSstoreReset for every other write, including zero over zero.
func gasSstore(vm *VM, env *execEnv) (uint64, error) {
	key, value := env.stack.Back(0), env.stack.Back(1)
	current, err := vm.state.GetStorage(env.ctx.Contract, key)
	if err != nil {
		return 0, err
	}
	if current.IsZero() && !value.IsZero() {
		return GasSstoreSet, nil
	}
	return GasSstoreReset, nil
}

// Control flow.

func opJump(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	dest := env.stack.Pop()
	d, overflow := dest.Uint64WithOverflow()
	if overflow || !env.jumpdests[d] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJump, dest)
	}
	*pc = d
	return nil, nil
}

func opJumpi(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	dest, cond := env.stack.Pop(), env.stack.Pop()
	if cond.IsZero() {
		*pc++
		return nil, nil
	}
	d, overflow := dest.Uint64WithOverflow()
	if overflow || !env.jumpdests[d] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJump, dest)
	}
	*pc = d
	return nil, nil
}

func opJumpdest(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	return nil, nil
}

func opPc(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(*pc))
	return nil, nil
}

func opMsize(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(uint64(env.mem.Len())))
	return nil, nil
}

func opGas(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.FromUint64(env.gas))
	return nil, nil
}

// Pushes, dups and swaps.

func opPush0(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	env.stack.Push(word.Zero())
	return nil, nil
}

// makePush reads the next size immediate bytes as a big-endian word.
// Bytecode validation guarantees the immediates are present.
func makePush(size uint64) executionFunc {
	return func(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
		start := *pc + 1
		env.stack.Push(word.FromBytes(env.ctx.Code[start : start+size]))
		*pc += size
		return nil, nil
	}
}

func makeDup(n int) executionFunc {
	return func(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
		env.stack.Dup(n)
		return nil, nil
	}
}

func makeSwap(n int) executionFunc {
	return func(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
		env.stack.Swap(n)
		return nil, nil
	}
}

// Termination.

func opReturn(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	offset, size := env.stack.Pop(), env.stack.Pop()
	off, _ := offset.Uint64WithOverflow()
	sz, _ := size.Uint64WithOverflow()
	return env.mem.Get(off, sz), nil
}

func opRevert(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	offset, size := env.stack.Pop(), env.stack.Pop()
	off, _ := offset.Uint64WithOverflow()
	sz, _ := size.Uint64WithOverflow()
	return env.mem.Get(off, sz), ErrRevert
}

func opInvalid(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	return nil, fmt.Errorf("%w: INVALID", ErrInvalidInstruction)
}

func opSelfdestruct(pc *uint64, vm *VM, env *execEnv) ([]byte, error) {
	beneficiary := wordToAddress(env.stack.Pop())
	contract := env.ctx.Contract

	balance, err := vm.state.GetBalance(contract)
	if err != nil {
		return nil, err
	}
	benBalance, err := vm.state.GetBalance(beneficiary)
	if err != nil {
		return nil, err
	}
	if err := vm.state.SetBalance(beneficiary, benBalance.Add(balance)); err != nil {
		return nil, err
	}
	if err := vm.state.SetBalance(contract, word.Zero()); err != nil {
		return nil, err
	}
	if err := vm.state.MarkSelfDestructed(contract); err != nil {
		return nil, err
	}
	return nil, nil
}

// getData returns size bytes of data starting at start, zero-filling
// past the end.
func getData(data []byte, start word.Word256, size uint64) []byte {
	out := make([]byte, size)
	s, overflow := start.Uint64WithOverflow()
	if !overflow && s < uint64(len(data)) {
		copy(out, data[s:])
	}
	return out
}

// wordToAddress interprets the low 160 bits of w as an address.
func wordToAddress(w word.Word256) types.Address {
	b := w.Bytes32()
	return types.BytesToAddress(b[12:])
}
