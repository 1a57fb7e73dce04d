package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/palaseus/deo/core/types"
)

func TestKeccak256EmptyInput(t *testing.T) {
	// Known Keccak-256 of the empty string.
	want := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	got := hex.EncodeToString(Keccak256())
	if got != want {
		t.Fatalf("Keccak256() = %s, want %s", got, want)
	}
}

func TestKeccak256KnownVector(t *testing.T) {
	// keccak256("abc")
	want := "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45"
	got := hex.EncodeToString(Keccak256([]byte("abc")))
	if got != want {
		t.Fatalf("Keccak256(abc) = %s, want %s", got, want)
	}
}

func TestKeccak256MultiChunk(t *testing.T) {
	single := Keccak256([]byte("hello world"))
	chunked := Keccak256([]byte("hello "), []byte("world"))
	if !bytes.Equal(single, chunked) {
		t.Fatal("chunked hashing should match single-buffer hashing")
	}
}

func TestSha256KnownVector(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	got := hex.EncodeToString(Sha256([]byte("abc")))
	if got != want {
		t.Fatalf("Sha256(abc) = %s, want %s", got, want)
	}
}

func TestDeriveContractAddressDeterministic(t *testing.T) {
	deployer := types.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	a := DeriveContractAddress(deployer, 1)
	b := DeriveContractAddress(deployer, 1)
	if a != b {
		t.Fatalf("derivation not deterministic: %s != %s", a, b)
	}
	c := DeriveContractAddress(deployer, 2)
	if a == c {
		t.Fatal("different nonces should yield different addresses")
	}
}

func TestDeriveContractAddressMatchesManual(t *testing.T) {
	deployer := types.HexToAddress("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	sum := Sha256([]byte(deployer.Hex() + "7"))
	want := types.BytesToAddress(sum[:types.AddressLength])
	if got := DeriveContractAddress(deployer, 7); got != want {
		t.Fatalf("DeriveContractAddress = %s, want %s", got, want)
	}
}
