package ethtx

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	gwerrors "gateway/internal/errors"
)

const uncompressedPubKeyLen = 65

// RecoverPublicKey 从 r ‖ s ‖ recoveryId 签名与消息哈希恢复65字节非压缩公钥
func RecoverPublicKey(sig [65]byte, hash common.Hash) ([]byte, error) {
	if sig[64] > 1 {
		return nil, gwerrors.ErrRecovery.New("无效的 recovery id: %d", sig[64])
	}
	pub, err := crypto.Ecrecover(hash.Bytes(), sig[:])
	if err != nil {
		return nil, gwerrors.ErrRecovery.Wrap(err, "恢复公钥失败")
	}
	return pub, nil
}

// PublicKeyToAddress 去掉格式前缀后对64字节公钥做 keccak256，取后20字节
func PublicKeyToAddress(pub []byte) (common.Address, error) {
	if len(pub) != uncompressedPubKeyLen || pub[0] != 0x04 {
		return common.Address{}, gwerrors.ErrRecovery.New("非法的非压缩公钥, 长度 %d", len(pub))
	}
	return common.BytesToAddress(crypto.Keccak256(pub[1:])[12:]), nil
}

// RecoverSender 恢复签名者地址，是唯一的发送方认证步骤
func RecoverSender(sig [65]byte, hash common.Hash) (common.Address, error) {
	pub, err := RecoverPublicKey(sig, hash)
	if err != nil {
		return common.Address{}, err
	}
	return PublicKeyToAddress(pub)
}
