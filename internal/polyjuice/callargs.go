// Package polyjuice 实现 Polyjuice 合约账户使用的定长二进制格式：
// 原生交易中的调用参数（CallArgs）以及回执中的用户日志（UserLog）。
// 所有整数字段均为小端定长编码，与以太坊 RLP 的最小宽度编码无关。
package polyjuice

import (
	"bytes"
	"encoding/binary"

	"github.com/holiman/uint256"

	gwerrors "gateway/internal/errors"
)

const (
	// 调用类型
	CallKindCall   byte = 0x00
	CallKindCreate byte = 0x03

	magicLen      = 7
	u128Len       = 16
	headerLen     = magicLen + 1 + 8 + u128Len + u128Len + 4 // 52
	maxU128BitLen = 128
)

// Magic 调用参数头部魔数：0xFFFFFF ‖ "POLY"
var Magic = [magicLen]byte{0xFF, 0xFF, 0xFF, 'P', 'O', 'L', 'Y'}

// CallArgs 调用参数
type CallArgs struct {
	IsCreate bool
	GasLimit uint64
	GasPrice *uint256.Int // 不超过128位
	Value    *uint256.Int // 不超过128位
	Data     []byte
}

// IsCallArgs 判断参数前7字节是否为 Polyjuice 魔数
func IsCallArgs(args []byte) bool {
	return len(args) >= magicLen && bytes.Equal(args[:magicLen], Magic[:])
}

// Kind 返回调用类型字节
func (c *CallArgs) Kind() byte {
	if c.IsCreate {
		return CallKindCreate
	}
	return CallKindCall
}

// Encode 编码为 magic ‖ type ‖ gasLimit ‖ gasPrice ‖ value ‖ dataLength ‖ data
func (c *CallArgs) Encode() ([]byte, error) {
	if uint64(len(c.Data)) > uint64(^uint32(0)) {
		return nil, gwerrors.ErrValueOverflow.New("data 长度超出 u32: %d", len(c.Data))
	}

	gasPrice, err := putU128(c.GasPrice, "gasPrice")
	if err != nil {
		return nil, err
	}
	value, err := putU128(c.Value, "value")
	if err != nil {
		return nil, err
	}

	buf := make([]byte, headerLen+len(c.Data))
	copy(buf, Magic[:])
	buf[magicLen] = c.Kind()
	binary.LittleEndian.PutUint64(buf[8:16], c.GasLimit)
	copy(buf[16:32], gasPrice)
	copy(buf[32:48], value)
	binary.LittleEndian.PutUint32(buf[48:52], uint32(len(c.Data)))
	copy(buf[headerLen:], c.Data)
	return buf, nil
}

// DecodeCallArgs 解码调用参数，长度或魔数不符视为数据损坏
func DecodeCallArgs(args []byte) (*CallArgs, error) {
	if len(args) < headerLen {
		return nil, gwerrors.ErrMalformedArgs.New("参数长度不足: %d < %d", len(args), headerLen)
	}
	if !IsCallArgs(args) {
		return nil, gwerrors.ErrMalformedArgs.New("魔数不匹配: %x", args[:magicLen])
	}

	var isCreate bool
	switch args[magicLen] {
	case CallKindCreate:
		isCreate = true
	case CallKindCall:
	default:
		return nil, gwerrors.ErrMalformedArgs.New("未知调用类型: 0x%02x", args[magicLen])
	}

	dataLen := binary.LittleEndian.Uint32(args[48:52])
	if uint64(dataLen) != uint64(len(args)-headerLen) {
		return nil, gwerrors.ErrMalformedArgs.New("data 长度 %d 与剩余字节数 %d 不一致", dataLen, len(args)-headerLen)
	}

	data := make([]byte, dataLen)
	copy(data, args[headerLen:])

	return &CallArgs{
		IsCreate: isCreate,
		GasLimit: binary.LittleEndian.Uint64(args[8:16]),
		GasPrice: getU128(args[16:32]),
		Value:    getU128(args[32:48]),
		Data:     data,
	}, nil
}

// putU128 小端编码16字节整数，nil 视为0
func putU128(v *uint256.Int, field string) ([]byte, error) {
	out := make([]byte, u128Len)
	if v == nil {
		return out, nil
	}
	if v.BitLen() > maxU128BitLen {
		return nil, gwerrors.ErrValueOverflow.New("%s 超出128位: %s", field, v.Hex())
	}
	binary.LittleEndian.PutUint64(out[0:8], v[0])
	binary.LittleEndian.PutUint64(out[8:16], v[1])
	return out, nil
}

func getU128(b []byte) *uint256.Int {
	v := new(uint256.Int)
	v[0] = binary.LittleEndian.Uint64(b[0:8])
	v[1] = binary.LittleEndian.Uint64(b[8:16])
	return v
}
