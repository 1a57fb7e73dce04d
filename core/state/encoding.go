package state

import (
	"encoding/binary"
	"fmt"

	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/word"
)

// Persisted record layouts. Fields appear in a fixed order and all
// integers are big-endian; the encoding is load-bearing for the state
// digest and must not change.
//
//	account:  balance:32 | nonce:8 | is_contract:1
//	contract: code_len:4 | code | balance:32 | nonce:8 | deployed:1 |
//	          deployment_block:8 | deployer_len:2 | deployer (hex, no 0x)

const accountRecordLen = 32 + 8 + 1

func encodeAccount(a AccountState) []byte {
	buf := make([]byte, 0, accountRecordLen)
	buf = append(buf, a.Balance.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, a.Nonce)
	buf = append(buf, boolByte(a.IsContract))
	return buf
}

func decodeAccount(raw []byte) (AccountState, error) {
	if len(raw) != accountRecordLen {
		return AccountState{}, fmt.Errorf("%w: account record is %d bytes, want %d", ErrCorrupt, len(raw), accountRecordLen)
	}
	return AccountState{
		Balance:    word.FromBytes(raw[:32]),
		Nonce:      binary.BigEndian.Uint64(raw[32:40]),
		IsContract: raw[40] != 0,
	}, nil
}

func encodeContract(c ContractState) []byte {
	deployer := c.Deployer.HexNoPrefix()
	buf := make([]byte, 0, 4+len(c.Code)+32+8+1+8+2+len(deployer))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(c.Code)))
	buf = append(buf, c.Code...)
	buf = append(buf, c.Balance.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, c.Nonce)
	buf = append(buf, boolByte(c.Deployed))
	buf = binary.BigEndian.AppendUint64(buf, c.DeploymentBlock)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(deployer)))
	buf = append(buf, deployer...)
	return buf
}

func decodeContract(raw []byte) (ContractState, error) {
	corrupt := func() (ContractState, error) {
		return ContractState{}, fmt.Errorf("%w: contract record is %d bytes", ErrCorrupt, len(raw))
	}
	if len(raw) < 4 {
		return corrupt()
	}
	codeLen := int(binary.BigEndian.Uint32(raw[:4]))
	pos := 4
	if len(raw) < pos+codeLen+32+8+1+8+2 {
		return corrupt()
	}
	var c ContractState
	c.Code = append([]byte{}, raw[pos:pos+codeLen]...)
	pos += codeLen
	c.Balance = word.FromBytes(raw[pos : pos+32])
	pos += 32
	c.Nonce = binary.BigEndian.Uint64(raw[pos : pos+8])
	pos += 8
	c.Deployed = raw[pos] != 0
	pos++
	c.DeploymentBlock = binary.BigEndian.Uint64(raw[pos : pos+8])
	pos += 8
	deployerLen := int(binary.BigEndian.Uint16(raw[pos : pos+2]))
	pos += 2
	if len(raw) != pos+deployerLen {
		return corrupt()
	}
	var err error
	c.Deployer, err = types.ParseAddress("0x" + string(raw[pos:pos+deployerLen]))
	if err != nil {
		return ContractState{}, fmt.Errorf("%w: bad deployer in contract record", ErrCorrupt)
	}
	return c, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
