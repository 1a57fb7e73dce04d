package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/palaseus/deo/core/rawdb"
	"github.com/palaseus/deo/core/state"
	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/word"
)

var (
	testCaller   = types.HexToAddress("0x1111111111111111111111111111111111111111")
	testContract = types.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestVM(t *testing.T) (*VM, *state.StateStore) {
	t.Helper()
	store := state.NewWithDatabase(rawdb.NewMemoryDB())
	return New(store), store
}

func run(t *testing.T, code []byte, gasLimit uint64) ExecutionResult {
	t.Helper()
	machine, _ := newTestVM(t)
	return machine.Execute(&ExecutionContext{
		Code:     code,
		Caller:   testCaller,
		Contract: testContract,
		GasLimit: gasLimit,
	})
}

// Scenario: PUSH1 05 PUSH1 03 ADD PUSH1 00 MSTORE PUSH1 20 PUSH1 00 RETURN
var addProgram = []byte{0x60, 0x05, 0x60, 0x03, 0x01, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}

func TestExecuteSimpleAdd(t *testing.T) {
	res := run(t, addProgram, 100000)
	if !res.Success {
		t.Fatalf("execution failed: %s %s", res.Error, res.Message)
	}
	if len(res.ReturnData) != 32 {
		t.Fatalf("return data length = %d, want 32", len(res.ReturnData))
	}
	if res.ReturnData[31] != 0x08 {
		t.Fatalf("last return byte = %#x, want 0x08", res.ReturnData[31])
	}
	for i := 0; i < 31; i++ {
		if res.ReturnData[i] != 0 {
			t.Fatalf("return byte %d = %#x, want 0", i, res.ReturnData[i])
		}
	}
	// Five PUSH1s, ADD and MSTORE at 3 gas each, free RETURN, plus 3
	// for the single 32-byte memory word: 21 + 3.
	if res.GasUsed != 24 {
		t.Fatalf("gas used = %d, want 24", res.GasUsed)
	}
}

func TestExecuteDivisionByZero(t *testing.T) {
	// PUSH1 05 PUSH1 00 DIV PUSH1 00 MSTORE PUSH1 20 PUSH1 00 RETURN
	code := []byte{0x60, 0x05, 0x60, 0x00, 0x04, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res := run(t, code, 100000)
	if !res.Success {
		t.Fatalf("execution failed: %s %s", res.Error, res.Message)
	}
	if res.Error != "" {
		t.Fatalf("error = %q, want none", res.Error)
	}
	for i, b := range res.ReturnData {
		if b != 0 {
			t.Fatalf("return byte %d = %#x, want 0", i, b)
		}
	}
}

func TestExecuteOutOfGas(t *testing.T) {
	res := run(t, addProgram, 5)
	if res.Success {
		t.Fatal("execution should fail")
	}
	if res.Error != "OutOfGas" {
		t.Fatalf("error = %q, want OutOfGas", res.Error)
	}
	if res.GasUsed != 5 {
		t.Fatalf("gas used = %d, want the full limit 5", res.GasUsed)
	}
}

func TestExecuteInvalidJump(t *testing.T) {
	// PUSH1 03 JUMP: position 3 is past the end of the code.
	res := run(t, []byte{0x60, 0x03, 0x56}, 100000)
	if res.Success {
		t.Fatal("execution should fail")
	}
	if res.Error != "InvalidJump" {
		t.Fatalf("error = %q, want InvalidJump", res.Error)
	}
}

func TestExecuteJumpIntoPushData(t *testing.T) {
	// Jump to position 1, which holds a 0x5b byte but is PUSH immediate
	// data, not a JUMPDEST.
	code := []byte{0x60, 0x5b, 0x60, 0x01, 0x56}
	res := run(t, code, 100000)
	if res.Success || res.Error != "InvalidJump" {
		t.Fatalf("jump into immediate data: error = %q, want InvalidJump", res.Error)
	}
}

func TestExecuteValidForwardJump(t *testing.T) {
	// A forward jump over an INVALID to a JUMPDEST then STOP:
	// PUSH1 04 JUMP INVALID JUMPDEST STOP
	code := []byte{0x60, 0x04, 0x56, 0xfe, 0x5b, 0x00}
	res := run(t, code, 1000)
	if !res.Success {
		t.Fatalf("forward jump failed: %s %s", res.Error, res.Message)
	}
}

func TestExecuteJumpiFalseFallsThrough(t *testing.T) {
	// PUSH1 00 (condition) PUSH1 06 (dest) JUMPI STOP JUMPDEST STOP
	code := []byte{0x60, 0x00, 0x60, 0x06, 0x57, 0x00, 0x5b, 0x00}
	res := run(t, code, 1000)
	if !res.Success {
		t.Fatalf("JUMPI fall-through failed: %s %s", res.Error, res.Message)
	}
	// Condition nonzero takes the jump.
	code = []byte{0x60, 0x01, 0x60, 0x06, 0x57, 0xfe, 0x5b, 0x00}
	res = run(t, code, 1000)
	if !res.Success {
		t.Fatalf("JUMPI taken failed: %s %s", res.Error, res.Message)
	}
}

func TestExecuteStackUnderflow(t *testing.T) {
	res := run(t, []byte{0x01}, 1000) // ADD on empty stack
	if res.Success || res.Error != "StackUnderflow" {
		t.Fatalf("error = %q, want StackUnderflow", res.Error)
	}
}

func TestExecuteStackOverflow(t *testing.T) {
	// JUMPDEST PUSH0 PUSH1 00 JUMP -- each pass leaves one more item.
	code := []byte{0x5b, 0x5f, 0x60, 0x00, 0x56}
	res := run(t, code, 10_000_000)
	if res.Success || res.Error != "StackOverflow" {
		t.Fatalf("error = %q, want StackOverflow (%s)", res.Error, res.Message)
	}
}

func TestExecuteInvalidInstructionAtRuntime(t *testing.T) {
	res := run(t, []byte{0xfe}, 1000) // INVALID
	if res.Success || res.Error != "InvalidInstruction" {
		t.Fatalf("error = %q, want InvalidInstruction", res.Error)
	}
}

func TestExecuteUndefinedByteFailsValidation(t *testing.T) {
	res := run(t, []byte{0x0c}, 1000)
	if res.Success || res.Error != "InvalidInstruction" {
		t.Fatalf("error = %q, want InvalidInstruction", res.Error)
	}
	if res.GasUsed != 0 {
		t.Fatalf("validation failure should burn no gas, used %d", res.GasUsed)
	}
}

func TestExecuteRevert(t *testing.T) {
	// Store 8 at memory 0, then REVERT with that word as payload:
	// PUSH1 08 PUSH1 00 MSTORE PUSH1 20 PUSH1 00 REVERT
	code := []byte{0x60, 0x08, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xfd}
	res := run(t, code, 100000)
	if res.Success {
		t.Fatal("revert should not succeed")
	}
	if res.Error != "Revert" {
		t.Fatalf("error = %q, want Revert", res.Error)
	}
	if len(res.ReturnData) != 32 || res.ReturnData[31] != 0x08 {
		t.Fatalf("revert payload = %x", res.ReturnData)
	}
}

func TestExecuteImplicitHalt(t *testing.T) {
	// Running off the end of the code is a successful stop.
	res := run(t, []byte{0x60, 0x01, 0x50}, 1000) // PUSH1 01 POP
	if !res.Success {
		t.Fatalf("implicit halt failed: %s", res.Error)
	}
	if len(res.ReturnData) != 0 {
		t.Fatalf("return data = %x, want empty", res.ReturnData)
	}
}

func TestExecuteMemoryOutOfGasAtHugeOffset(t *testing.T) {
	// MSTORE at offset 2^32: expansion cost far exceeds the budget.
	// PUSH1 01 PUSH5 0100000000 MSTORE
	code := []byte{0x60, 0x01, 0x64, 0x01, 0x00, 0x00, 0x00, 0x00, 0x52}
	res := run(t, code, 1000)
	if res.Success || res.Error != "OutOfGas" {
		t.Fatalf("error = %q, want OutOfGas", res.Error)
	}
}

func TestExecuteMemoryOverflowBeyond64Bits(t *testing.T) {
	// MSTORE at an offset that does not fit in 64 bits.
	code := append([]byte{0x60, 0x01, 0x7f}, bytes.Repeat([]byte{0xff}, 32)...)
	code = append(code, 0x52)
	res := run(t, code, 100000)
	if res.Success || res.Error != "MemoryOverflow" {
		t.Fatalf("error = %q, want MemoryOverflow", res.Error)
	}
}

func TestStorageOpsAndGas(t *testing.T) {
	machine, store := newTestVM(t)
	// PUSH1 2a PUSH1 01 SSTORE  (slot 1 := 42)
	code := []byte{0x60, 0x2a, 0x60, 0x01, 0x55}
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 100000})
	if !res.Success {
		t.Fatalf("sstore failed: %s %s", res.Error, res.Message)
	}
	// 3 + 3 + 20000 (zero -> nonzero)
	if res.GasUsed != 6+GasSstoreSet {
		t.Fatalf("gas used = %d, want %d", res.GasUsed, 6+GasSstoreSet)
	}
	v, _ := store.GetStorage(testContract, word.FromUint64(1))
	if v != word.FromUint64(42) {
		t.Fatalf("slot 1 = %s, want 42", v)
	}

	// Overwrite nonzero -> nonzero charges the reset cost.
	res = machine.Execute(&ExecutionContext{Code: []byte{0x60, 0x07, 0x60, 0x01, 0x55}, Contract: testContract, GasLimit: 100000})
	if res.GasUsed != 6+GasSstoreReset {
		t.Fatalf("reset gas = %d, want %d", res.GasUsed, 6+GasSstoreReset)
	}
}

func TestSstoreZeroToZeroChargesReset(t *testing.T) {
	machine, store := newTestVM(t)
	// PUSH1 00 PUSH1 05 SSTORE (slot 5 := 0, previously 0)
	code := []byte{0x60, 0x00, 0x60, 0x05, 0x55}
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 100000})
	if !res.Success {
		t.Fatalf("sstore failed: %s", res.Error)
	}
	if res.GasUsed != 6+GasSstoreReset {
		t.Fatalf("zero-to-zero gas = %d, want %d", res.GasUsed, 6+GasSstoreReset)
	}
	v, _ := store.GetStorage(testContract, word.FromUint64(5))
	if !v.IsZero() {
		t.Fatalf("slot 5 = %s, want 0", v)
	}
}

func TestSloadUnsetIsZero(t *testing.T) {
	machine, _ := newTestVM(t)
	// PUSH1 09 SLOAD PUSH1 00 MSTORE PUSH1 20 PUSH1 00 RETURN
	code := []byte{0x60, 0x09, 0x54, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 100000})
	if !res.Success {
		t.Fatalf("sload failed: %s", res.Error)
	}
	for _, b := range res.ReturnData {
		if b != 0 {
			t.Fatalf("unset slot read nonzero: %x", res.ReturnData)
		}
	}
}

func TestEnvironmentOpcodes(t *testing.T) {
	machine, _ := newTestVM(t)
	// ADDRESS PUSH1 00 MSTORE PUSH1 20 PUSH1 00 RETURN
	code := []byte{0x30, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res := machine.Execute(&ExecutionContext{Code: code, Caller: testCaller, Contract: testContract, GasLimit: 100000})
	if !res.Success {
		t.Fatalf("ADDRESS failed: %s", res.Error)
	}
	if !bytes.Equal(res.ReturnData[12:], testContract.Bytes()) {
		t.Fatalf("ADDRESS pushed %x", res.ReturnData)
	}

	// CALLER
	code = []byte{0x33, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res = machine.Execute(&ExecutionContext{Code: code, Caller: testCaller, Contract: testContract, GasLimit: 100000})
	if !bytes.Equal(res.ReturnData[12:], testCaller.Bytes()) {
		t.Fatalf("CALLER pushed %x", res.ReturnData)
	}

	// NUMBER
	code = []byte{0x43, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res = machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 100000, BlockNumber: 77})
	if res.ReturnData[31] != 77 {
		t.Fatalf("NUMBER pushed %x", res.ReturnData)
	}
}

func TestCalldataOpcodes(t *testing.T) {
	machine, _ := newTestVM(t)
	input := []byte{0xaa, 0xbb, 0xcc}
	// CALLDATASIZE PUSH1 00 MSTORE PUSH1 20 PUSH1 00 RETURN
	code := []byte{0x36, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, InputData: input, GasLimit: 100000})
	if res.ReturnData[31] != 3 {
		t.Fatalf("CALLDATASIZE = %d, want 3", res.ReturnData[31])
	}

	// CALLDATALOAD at 0: out-of-range bytes zero-fill on the right.
	code = []byte{0x60, 0x00, 0x35, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res = machine.Execute(&ExecutionContext{Code: code, Contract: testContract, InputData: input, GasLimit: 100000})
	if res.ReturnData[0] != 0xaa || res.ReturnData[1] != 0xbb || res.ReturnData[2] != 0xcc || res.ReturnData[3] != 0 {
		t.Fatalf("CALLDATALOAD = %x", res.ReturnData)
	}

	// CALLDATACOPY: copy 2 bytes from input offset 1 to memory 0.
	// PUSH1 02 (len) PUSH1 01 (src) PUSH1 00 (dest) CALLDATACOPY then return 32 bytes.
	code = []byte{0x60, 0x02, 0x60, 0x01, 0x60, 0x00, 0x37, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res = machine.Execute(&ExecutionContext{Code: code, Contract: testContract, InputData: input, GasLimit: 100000})
	if res.ReturnData[0] != 0xbb || res.ReturnData[1] != 0xcc {
		t.Fatalf("CALLDATACOPY = %x", res.ReturnData)
	}
}

func TestSha3IsKeccak256(t *testing.T) {
	machine, _ := newTestVM(t)
	// Hash 32 zero bytes: PUSH1 20 (size) PUSH1 00 (offset) SHA3, store and return.
	code := []byte{0x60, 0x20, 0x60, 0x00, 0x20, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 100000})
	if !res.Success {
		t.Fatalf("SHA3 failed: %s %s", res.Error, res.Message)
	}
	// keccak256(32 zero bytes)
	want := "290decd9548b62a8d60345a988386fc84ba6bc95484008f6362f93160ef3e563"
	got := res.ReturnData
	if len(got) != 32 {
		t.Fatalf("SHA3 returned %d bytes", len(got))
	}
	hexStr := ""
	for _, b := range got {
		hexStr += string("0123456789abcdef"[b>>4]) + string("0123456789abcdef"[b&0xf])
	}
	if hexStr != want {
		t.Fatalf("SHA3 = %s, want %s", hexStr, want)
	}
}

func TestSelfDestruct(t *testing.T) {
	store := state.NewWithDatabase(rawdb.NewMemoryDB())
	machine := New(store)

	store.DeployContract(testContract, []byte{0x00}, testCaller, 1)
	store.SetBalance(testContract, word.FromUint64(500))

	beneficiary := types.HexToAddress("0x3333333333333333333333333333333333333333")
	// PUSH20 <beneficiary> SELFDESTRUCT
	code := append([]byte{0x73}, beneficiary.Bytes()...)
	code = append(code, 0xff)
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 100000})
	if !res.Success {
		t.Fatalf("selfdestruct failed: %s %s", res.Error, res.Message)
	}
	if res.GasUsed != GasVeryLow+GasSelfdestruct {
		t.Fatalf("gas = %d, want %d", res.GasUsed, GasVeryLow+GasSelfdestruct)
	}
	b, _ := store.GetBalance(beneficiary)
	if b != word.FromUint64(500) {
		t.Fatalf("beneficiary balance = %s, want 500", b)
	}
	b, _ = store.GetBalance(testContract)
	if !b.IsZero() {
		t.Fatalf("contract balance = %s, want 0", b)
	}
	if ok, _ := store.ContractExists(testContract); ok {
		t.Fatal("contract should no longer exist after selfdestruct")
	}
	// Code is retained for replay.
	c, found, _ := store.GetContract(testContract)
	if !found || len(c.Code) == 0 {
		t.Fatal("contract record and code should be retained")
	}
}

func TestInstructionCap(t *testing.T) {
	store := state.NewWithDatabase(rawdb.NewMemoryDB())
	machine := NewWithConfig(store, Config{InstructionCap: 100})
	// JUMPDEST PUSH1 00 JUMP -- infinite loop, huge budget.
	code := []byte{0x5b, 0x60, 0x00, 0x56}
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 1 << 40})
	if res.Success {
		t.Fatal("capped loop should fail")
	}
	if !strings.Contains(res.Message, "instruction cap") {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestGasExhaustionBoundsLoops(t *testing.T) {
	store := state.NewWithDatabase(rawdb.NewMemoryDB())
	machine := New(store) // no cap: gas is the only bound
	code := []byte{0x5b, 0x60, 0x00, 0x56}
	res := machine.Execute(&ExecutionContext{Code: code, Contract: testContract, GasLimit: 10000})
	if res.Success || res.Error != "OutOfGas" {
		t.Fatalf("error = %q, want OutOfGas", res.Error)
	}
	if res.GasUsed != 10000 {
		t.Fatalf("gas used = %d, want the full limit", res.GasUsed)
	}
}

func TestStackDepthNeverExceedsLimit(t *testing.T) {
	// 1024 pushes fill the stack exactly; one more overflows.
	code := bytes.Repeat([]byte{0x5f}, StackLimit)
	res := run(t, code, 1<<20)
	if !res.Success {
		t.Fatalf("1024 pushes should fit: %s", res.Error)
	}
	code = bytes.Repeat([]byte{0x5f}, StackLimit+1)
	res = run(t, code, 1<<20)
	if res.Success || res.Error != "StackOverflow" {
		t.Fatalf("error = %q, want StackOverflow", res.Error)
	}
}

func TestGasNeverExceedsLimit(t *testing.T) {
	for _, limit := range []uint64{0, 1, 5, 29, 30, 31, 1000} {
		res := run(t, addProgram, limit)
		if res.GasUsed > limit {
			t.Fatalf("gas used %d exceeds limit %d", res.GasUsed, limit)
		}
	}
	res := run(t, addProgram, 1000)
	if !res.Success || res.GasUsed >= 1000 {
		t.Fatalf("successful run should leave gas: used %d of 1000", res.GasUsed)
	}
}

func TestVMStatistics(t *testing.T) {
	machine, _ := newTestVM(t)
	machine.Execute(&ExecutionContext{Code: addProgram, Contract: testContract, GasLimit: 1000})
	machine.Execute(&ExecutionContext{Code: addProgram, Contract: testContract, GasLimit: 1000})
	st := machine.Stats()
	if st.Executions != 2 {
		t.Fatalf("Executions = %d, want 2", st.Executions)
	}
	if st.GasUsed != 48 {
		t.Fatalf("GasUsed = %d, want 48", st.GasUsed)
	}
	// addProgram is 8 opcodes (5 PUSH1, ADD, MSTORE, RETURN) per run.
	if st.Instructions != 16 {
		t.Fatalf("Instructions = %d, want 16", st.Instructions)
	}
}

func TestExecutionDeterminism(t *testing.T) {
	// Two fresh stacks over identical inputs must agree bit for bit.
	code := []byte{0x60, 0x2a, 0x60, 0x01, 0x55, 0x60, 0x01, 0x54, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	r1 := run(t, code, 100000)
	r2 := run(t, code, 100000)
	if r1.Success != r2.Success || r1.GasUsed != r2.GasUsed || r1.Error != r2.Error || !bytes.Equal(r1.ReturnData, r2.ReturnData) {
		t.Fatalf("divergent results: %+v vs %+v", r1, r2)
	}
}
