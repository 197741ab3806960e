package gw

import (
	"encoding/binary"
	"fmt"
)

// molecule table 布局：total_size(u32) ‖ offsets(u32 * n) ‖ fields
// Bytes 字段为 fixvec：item_count(u32) ‖ bytes
const moleculeWordLen = 4

func packTable(fields ...[]byte) []byte {
	headerLen := moleculeWordLen * (len(fields) + 1)
	total := headerLen
	for _, f := range fields {
		total += len(f)
	}

	out := make([]byte, headerLen, total)
	binary.LittleEndian.PutUint32(out[0:4], uint32(total))
	offset := headerLen
	for i, f := range fields {
		binary.LittleEndian.PutUint32(out[moleculeWordLen*(i+1):], uint32(offset))
		offset += len(f)
	}
	for _, f := range fields {
		out = append(out, f...)
	}
	return out
}

func unpackTable(data []byte, fieldCount int) ([][]byte, error) {
	if len(data) < moleculeWordLen {
		return nil, fmt.Errorf("molecule table 头部不完整: %d 字节", len(data))
	}
	total := int(binary.LittleEndian.Uint32(data[0:4]))
	if total != len(data) {
		return nil, fmt.Errorf("molecule table 总长度不符: 声明 %d, 实际 %d", total, len(data))
	}
	headerLen := moleculeWordLen * (fieldCount + 1)
	if total < headerLen {
		return nil, fmt.Errorf("molecule table 长度 %d 不足以容纳 %d 个字段", total, fieldCount)
	}
	if first := int(binary.LittleEndian.Uint32(data[4:8])); first != headerLen {
		return nil, fmt.Errorf("molecule table 字段数不符: 期望 %d", fieldCount)
	}

	offsets := make([]int, fieldCount+1)
	for i := 0; i < fieldCount; i++ {
		offsets[i] = int(binary.LittleEndian.Uint32(data[moleculeWordLen*(i+1):]))
	}
	offsets[fieldCount] = total

	fields := make([][]byte, fieldCount)
	for i := 0; i < fieldCount; i++ {
		if offsets[i] > offsets[i+1] || offsets[i+1] > total {
			return nil, fmt.Errorf("molecule table 字段 %d 偏移越界", i)
		}
		fields[i] = data[offsets[i]:offsets[i+1]]
	}
	return fields, nil
}

func packUint32(v uint32) []byte {
	b := make([]byte, moleculeWordLen)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func unpackUint32(b []byte) (uint32, error) {
	if len(b) != moleculeWordLen {
		return 0, fmt.Errorf("Uint32 字段长度应为 4, 实际为 %d", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

func packBytes(v []byte) []byte {
	out := make([]byte, moleculeWordLen, moleculeWordLen+len(v))
	binary.LittleEndian.PutUint32(out, uint32(len(v)))
	return append(out, v...)
}

func unpackBytes(b []byte) ([]byte, error) {
	if len(b) < moleculeWordLen {
		return nil, fmt.Errorf("Bytes 字段头部不完整")
	}
	n := int(binary.LittleEndian.Uint32(b[0:4]))
	if n != len(b)-moleculeWordLen {
		return nil, fmt.Errorf("Bytes 字段长度不符: 声明 %d, 实际 %d", n, len(b)-moleculeWordLen)
	}
	out := make([]byte, n)
	copy(out, b[moleculeWordLen:])
	return out, nil
}

// SerializeRawL2Transaction 按 molecule table {from_id, to_id, nonce, args} 序列化
func SerializeRawL2Transaction(raw *RawL2Transaction) []byte {
	return packTable(
		packUint32(uint32(raw.FromID)),
		packUint32(uint32(raw.ToID)),
		packUint32(raw.Nonce),
		packBytes(raw.Args),
	)
}

// DeserializeRawL2Transaction SerializeRawL2Transaction 的逆操作
func DeserializeRawL2Transaction(data []byte) (*RawL2Transaction, error) {
	fields, err := unpackTable(data, 4)
	if err != nil {
		return nil, err
	}
	var nums [3]uint32
	for i := range nums {
		if nums[i], err = unpackUint32(fields[i]); err != nil {
			return nil, err
		}
	}
	args, err := unpackBytes(fields[3])
	if err != nil {
		return nil, err
	}
	return &RawL2Transaction{
		FromID: AccountID(nums[0]),
		ToID:   AccountID(nums[1]),
		Nonce:  nums[2],
		Args:   args,
	}, nil
}

// SerializeL2Transaction 按 molecule table {raw, signature} 序列化
func SerializeL2Transaction(tx *L2Transaction) []byte {
	return packTable(SerializeRawL2Transaction(&tx.Raw), packBytes(tx.Signature[:]))
}

// DeserializeL2Transaction SerializeL2Transaction 的逆操作
func DeserializeL2Transaction(data []byte) (*L2Transaction, error) {
	fields, err := unpackTable(data, 2)
	if err != nil {
		return nil, err
	}
	raw, err := DeserializeRawL2Transaction(fields[0])
	if err != nil {
		return nil, fmt.Errorf("raw 字段: %w", err)
	}
	sig, err := unpackBytes(fields[1])
	if err != nil {
		return nil, fmt.Errorf("signature 字段: %w", err)
	}
	tx := &L2Transaction{Raw: *raw}
	if len(sig) != len(tx.Signature) {
		return nil, fmt.Errorf("签名长度应为 %d, 实际为 %d", len(tx.Signature), len(sig))
	}
	copy(tx.Signature[:], sig)
	return tx, nil
}
