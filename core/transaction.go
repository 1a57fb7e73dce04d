package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/palaseus/deo/core/types"
	"github.com/palaseus/deo/core/word"
)

// Wire format for transactions crossing the core boundary. Address
// strings are their 0x-prefixed hex form, null-terminated; code and
// input carry a 4-byte big-endian length; fixed-width integers are
// big-endian.
//
//	deploy: 0x01 | deployer\0 | code_len:4 | code | gas_limit:8 | gas_price:8 | value:32
//	call:   0x02 | caller\0 | contract\0 | input_len:4 | input | gas_limit:8 | gas_price:8 | value:32

const (
	txKindDeploy byte = 0x01
	txKindCall   byte = 0x02
)

// ErrBadTransaction is returned when decoding malformed transaction bytes.
var ErrBadTransaction = errors.New("core: malformed transaction")

// Transaction is either a deployment or a call, exactly one of which is
// set.
type Transaction struct {
	Deploy *DeploymentTransaction
	Call   *CallTransaction
}

// EncodeTransaction serializes a transaction for transport or replay.
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	switch {
	case tx.Deploy != nil && tx.Call == nil:
		d := tx.Deploy
		var buf bytes.Buffer
		buf.WriteByte(txKindDeploy)
		writeAddr(&buf, d.Deployer)
		writeBytes(&buf, d.Code)
		writeTail(&buf, d.GasLimit, d.GasPrice, d.Value)
		return buf.Bytes(), nil
	case tx.Call != nil && tx.Deploy == nil:
		c := tx.Call
		var buf bytes.Buffer
		buf.WriteByte(txKindCall)
		writeAddr(&buf, c.Caller)
		writeAddr(&buf, c.Contract)
		writeBytes(&buf, c.InputData)
		writeTail(&buf, c.GasLimit, c.GasPrice, c.Value)
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: exactly one of Deploy or Call must be set", ErrBadTransaction)
	}
}

// DecodeTransaction parses the wire form back into a Transaction.
func DecodeTransaction(raw []byte) (*Transaction, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadTransaction)
	}
	r := &txReader{data: raw[1:]}
	switch raw[0] {
	case txKindDeploy:
		d := &DeploymentTransaction{}
		d.Deployer = r.addr()
		d.Code = r.bytes()
		d.GasLimit, d.GasPrice, d.Value = r.tail()
		if r.err != nil {
			return nil, r.err
		}
		return &Transaction{Deploy: d}, nil
	case txKindCall:
		c := &CallTransaction{}
		c.Caller = r.addr()
		c.Contract = r.addr()
		c.InputData = r.bytes()
		c.GasLimit, c.GasPrice, c.Value = r.tail()
		if r.err != nil {
			return nil, r.err
		}
		return &Transaction{Call: c}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind 0x%02x", ErrBadTransaction, raw[0])
	}
}

func writeAddr(buf *bytes.Buffer, addr types.Address) {
	buf.WriteString(addr.Hex())
	buf.WriteByte(0)
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func writeTail(buf *bytes.Buffer, gasLimit, gasPrice uint64, value word.Word256) {
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], gasLimit)
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], gasPrice)
	buf.Write(u64[:])
	buf.Write(value.Bytes())
}

// txReader is a cursor over the wire form; the first error sticks.
type txReader struct {
	data []byte
	pos  int
	err  error
}

func (r *txReader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrBadTransaction, r.pos)
	}
}

func (r *txReader) addr() types.Address {
	if r.err != nil {
		return types.Address{}
	}
	end := bytes.IndexByte(r.data[r.pos:], 0)
	if end < 0 {
		r.fail()
		return types.Address{}
	}
	s := string(r.data[r.pos : r.pos+end])
	r.pos += end + 1
	a, err := types.ParseAddress(s)
	if err != nil {
		r.err = fmt.Errorf("%w: %v", ErrBadTransaction, err)
	}
	return a
}

func (r *txReader) bytes() []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+4 > len(r.data) {
		r.fail()
		return nil
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos : r.pos+4]))
	r.pos += 4
	if r.pos+n > len(r.data) {
		r.fail()
		return nil
	}
	out := append([]byte{}, r.data[r.pos:r.pos+n]...)
	r.pos += n
	return out
}

func (r *txReader) tail() (uint64, uint64, word.Word256) {
	if r.err != nil {
		return 0, 0, word.Word256{}
	}
	if r.pos+8+8+32 > len(r.data) {
		r.fail()
		return 0, 0, word.Word256{}
	}
	gasLimit := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	gasPrice := binary.BigEndian.Uint64(r.data[r.pos+8 : r.pos+16])
	value := word.FromBytes(r.data[r.pos+16 : r.pos+48])
	r.pos += 48
	if r.pos != len(r.data) {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrBadTransaction, len(r.data)-r.pos)
	}
	return gasLimit, gasPrice, value
}
