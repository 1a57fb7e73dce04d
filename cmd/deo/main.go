// Command deo is the contract-core CLI: it executes raw bytecode,
// deploys and calls contracts against a persistent state directory, and
// runs the determinism comparator.
//
// Usage:
//
//	deo exec --code <hex> [--input <hex>] [--gas N]
//	deo deploy --datadir <dir> --deployer <addr> --code <hex> [--gas N] [--gasprice N] [--value N]
//	deo call --datadir <dir> --caller <addr> --contract <addr> [--input <hex>] [--gas N] [--gasprice N] [--value N]
//	deo determinism --code <hex> [--instances N] [--gas N]
//	deo stats --datadir <dir>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/palaseus/deo/core"
	"github.com/palaseus/deo/core/determinism"
	"github.com/palaseus/deo/core/rawdb"
	"github.com/palaseus/deo/core/state"
	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/vm"
	"github.com/palaseus/deo/core/word"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0"
var version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. It accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	switch args[0] {
	case "exec":
		return cmdExec(args[1:])
	case "deploy":
		return cmdDeploy(args[1:])
	case "call":
		return cmdCall(args[1:])
	case "determinism":
		return cmdDeterminism(args[1:])
	case "faucet":
		return cmdFaucet(args[1:])
	case "stats":
		return cmdStats(args[1:])
	case "version", "--version":
		fmt.Printf("deo %s\n", version)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: deo <exec|deploy|call|determinism|stats|version> [flags]")
}

func cmdExec(args []string) int {
	fs := newFlagSet("exec")
	codeHex := fs.String("code", "", "bytecode as hex (with or without 0x)")
	inputHex := fs.String("input", "", "call input as hex")
	gas := uint64Flag(fs, "gas", 100000, "gas limit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	code, err := parseHex(*codeHex)
	if err != nil || len(code) == 0 {
		fmt.Fprintln(os.Stderr, "exec: --code must be non-empty hex")
		return 2
	}
	input, err := parseHex(*inputHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, "exec: bad --input hex")
		return 2
	}

	store := state.NewWithDatabase(rawdb.NewMemoryDB())
	defer store.Close()
	// A standing instruction cap guards interactive runs against
	// accidental infinite loops with large gas budgets.
	machine := vm.NewWithConfig(store, vm.Config{InstructionCap: 10000})
	res := machine.Execute(&vm.ExecutionContext{
		Code:      code,
		InputData: input,
		GasLimit:  *gas,
	})
	printResult(res)
	if !res.Success {
		return 1
	}
	return 0
}

func cmdDeploy(args []string) int {
	fs := newFlagSet("deploy")
	datadir := fs.String("datadir", "", "state directory")
	deployerHex := fs.String("deployer", "", "deployer address")
	codeHex := fs.String("code", "", "bytecode as hex")
	gas := uint64Flag(fs, "gas", 100000, "gas limit")
	gasPrice := uint64Flag(fs, "gasprice", 1, "gas price")
	value := uint64Flag(fs, "value", 0, "value to endow")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	deployerAddr, err := types.ParseAddress(*deployerHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deploy: %v\n", err)
		return 2
	}
	code, err := parseHex(*codeHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, "deploy: bad --code hex")
		return 2
	}
	handle, ok := openHandle(*datadir)
	if !ok {
		return 1
	}
	defer handle.Close()

	addr, err := handle.Manager.Deploy(&core.DeploymentTransaction{
		Deployer: deployerAddr,
		Code:     code,
		GasLimit: *gas,
		GasPrice: *gasPrice,
		Value:    word.FromUint64(*value),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "deploy: %v\n", err)
		return 1
	}
	fmt.Printf("contract address: %s\n", addr)
	return 0
}

func cmdCall(args []string) int {
	fs := newFlagSet("call")
	datadir := fs.String("datadir", "", "state directory")
	callerHex := fs.String("caller", "", "caller address")
	contractHex := fs.String("contract", "", "contract address")
	inputHex := fs.String("input", "", "call input as hex")
	gas := uint64Flag(fs, "gas", 100000, "gas limit")
	gasPrice := uint64Flag(fs, "gasprice", 1, "gas price")
	value := uint64Flag(fs, "value", 0, "value to transfer")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	callerAddr, err := types.ParseAddress(*callerHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "call: %v\n", err)
		return 2
	}
	contractAddr, err := types.ParseAddress(*contractHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "call: %v\n", err)
		return 2
	}
	input, err := parseHex(*inputHex)
	if err != nil {
		fmt.Fprintln(os.Stderr, "call: bad --input hex")
		return 2
	}
	handle, ok := openHandle(*datadir)
	if !ok {
		return 1
	}
	defer handle.Close()

	res, err := handle.Manager.Call(&core.CallTransaction{
		Caller:    callerAddr,
		Contract:  contractAddr,
		InputData: input,
		GasLimit:  *gas,
		GasPrice:  *gasPrice,
		Value:     word.FromUint64(*value),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "call: %v\n", err)
		return 1
	}
	printResult(res)
	if !res.Success {
		return 1
	}
	return 0
}

func cmdDeterminism(args []string) int {
	fs := newFlagSet("determinism")
	codeHex := fs.String("code", "", "bytecode as hex")
	instances := uint64Flag(fs, "instances", 3, "number of independent instances")
	gas := uint64Flag(fs, "gas", 100000, "gas limit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	code, err := parseHex(*codeHex)
	if err != nil || len(code) == 0 {
		fmt.Fprintln(os.Stderr, "determinism: --code must be non-empty hex")
		return 2
	}

	baseDir, err := os.MkdirTemp("", "deo-determinism-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "determinism: %v\n", err)
		return 1
	}
	defer os.RemoveAll(baseDir)

	harness, err := determinism.New(int(*instances), baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "determinism: %v\n", err)
		return 2
	}
	res, err := harness.RunBytecode(code, nil, *gas)
	if err != nil {
		fmt.Fprintf(os.Stderr, "determinism: %v\n", err)
		return 1
	}
	if !res.Identical {
		fmt.Printf("DIVERGED: %s\n", res.Mismatch)
		return 1
	}
	fmt.Printf("identical across %d instances\n", *instances)
	fmt.Printf("state digest: %s\n", res.Digests[0])
	printResult(res.Results[0])
	return 0
}

// cmdFaucet credits a development account. It exists so a fresh state
// directory can pay for gas; production balances come from the
// transaction layer, not this command.
func cmdFaucet(args []string) int {
	fs := newFlagSet("faucet")
	datadir := fs.String("datadir", "", "state directory")
	addrHex := fs.String("address", "", "account to credit")
	amount := uint64Flag(fs, "amount", 1_000_000_000, "amount to credit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, err := types.ParseAddress(*addrHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "faucet: %v\n", err)
		return 2
	}
	handle, ok := openHandle(*datadir)
	if !ok {
		return 1
	}
	defer handle.Close()

	balance, err := handle.Store.GetBalance(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "faucet: %v\n", err)
		return 1
	}
	if err := handle.Store.SetBalance(addr, balance.Add(word.FromUint64(*amount))); err != nil {
		fmt.Fprintf(os.Stderr, "faucet: %v\n", err)
		return 1
	}
	fmt.Printf("credited %d to %s\n", *amount, addr)
	return 0
}

func cmdStats(args []string) int {
	fs := newFlagSet("stats")
	datadir := fs.String("datadir", "", "state directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	handle, ok := openHandle(*datadir)
	if !ok {
		return 1
	}
	defer handle.Close()

	st := handle.Store.Stats()
	fmt.Printf("accounts:        %d\n", st.AccountCount)
	fmt.Printf("contracts:       %d\n", st.ContractCount)
	fmt.Printf("storage entries: %d\n", st.StorageEntryCount)
	digest, err := handle.Store.Digest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return 1
	}
	fmt.Printf("state digest:    %s\n", digest)
	return 0
}

func openHandle(datadir string) (*core.Handle, bool) {
	if datadir == "" {
		fmt.Fprintln(os.Stderr, "--datadir is required")
		return nil, false
	}
	handle, err := core.Open(datadir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", datadir, err)
		return nil, false
	}
	return handle, true
}

func printResult(res vm.ExecutionResult) {
	fmt.Printf("success:     %v\n", res.Success)
	fmt.Printf("gas used:    %d\n", res.GasUsed)
	fmt.Printf("return data: 0x%x\n", res.ReturnData)
	if res.Error != "" {
		fmt.Printf("error:       %s (%s)\n", res.Error, res.Message)
	}
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
