package polyjuice

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	gwerrors "gateway/internal/errors"
)

// UserLog Polyjuice 用户日志
type UserLog struct {
	Address common.Address
	Data    []byte
	Topics  []common.Hash
}

// ParseUserLog 解析 address(20) ‖ dataLength(u32) ‖ data ‖ topicsCount(u32) ‖ topics(32*n)
// 任何长度字段导致游标未恰好落在末尾都视为损坏
func ParseUserLog(raw []byte) (*UserLog, error) {
	cursor := 0
	take := func(n uint64, field string) ([]byte, error) {
		if n > uint64(len(raw)-cursor) {
			return nil, gwerrors.ErrLogCorrupt.New("%s 越界: 需要 %d 字节, 剩余 %d", field, n, len(raw)-cursor)
		}
		b := raw[cursor : cursor+int(n)]
		cursor += int(n)
		return b, nil
	}

	addr, err := take(common.AddressLength, "address")
	if err != nil {
		return nil, err
	}
	lenBytes, err := take(4, "dataLength")
	if err != nil {
		return nil, err
	}
	data, err := take(uint64(binary.LittleEndian.Uint32(lenBytes)), "data")
	if err != nil {
		return nil, err
	}
	countBytes, err := take(4, "topicsCount")
	if err != nil {
		return nil, err
	}
	count := uint64(binary.LittleEndian.Uint32(countBytes))
	topicBytes, err := take(count*common.HashLength, "topics")
	if err != nil {
		return nil, err
	}
	if cursor != len(raw) {
		return nil, gwerrors.ErrLogCorrupt.New("日志末尾存在 %d 个多余字节", len(raw)-cursor)
	}

	log := &UserLog{
		Address: common.BytesToAddress(addr),
		Data:    common.CopyBytes(data),
		Topics:  make([]common.Hash, count),
	}
	for i := range log.Topics {
		log.Topics[i] = common.BytesToHash(topicBytes[i*common.HashLength : (i+1)*common.HashLength])
	}
	return log, nil
}

// Encode 按 ParseUserLog 的布局序列化
func (l *UserLog) Encode() []byte {
	buf := make([]byte, 0, common.AddressLength+8+len(l.Data)+len(l.Topics)*common.HashLength)
	buf = append(buf, l.Address.Bytes()...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(l.Data)))
	buf = append(buf, l.Data...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(l.Topics)))
	for _, topic := range l.Topics {
		buf = append(buf, topic.Bytes()...)
	}
	return buf
}
