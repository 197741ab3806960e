package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	gwerrors "gateway/internal/errors"
)

// 内置规则名
const (
	RuleAddress = "address"
	RuleHash    = "hash"
	RuleData    = "data"
)

var (
	hashRegex    = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")
)

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(value string) error
	Name() string
	Description() string
}

// Validator JSON-RPC 参数验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式：大小写混合的地址必须符合 EIP-55 校验和
	rules      map[string]ValidationRule

	mu       sync.Mutex
	checked  map[string]int
	rejected map[string]int
}

// NewValidator 创建参数验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
		checked:    make(map[string]int),
		rejected:   make(map[string]int),
	}

	v.AddRule(&AddressValidationRule{validator: v})
	v.AddRule(&HashValidationRule{})
	v.AddRule(&DataValidationRule{})

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// Validate 按规则名验证参数
func (v *Validator) Validate(ruleName, value string) error {
	rule, exists := v.rules[ruleName]
	if !exists {
		return gwerrors.ErrInvalidParams.New("未知的验证规则: %s", ruleName)
	}

	err := rule.Validate(value)

	v.mu.Lock()
	v.checked[ruleName]++
	if err != nil {
		v.rejected[ruleName]++
	}
	v.mu.Unlock()

	if err != nil {
		v.logger.WithFields(logrus.Fields{
			"rule":  ruleName,
			"value": value,
		}).Debug("参数验证失败")
	}
	return err
}

// ParseAddress 验证并解析地址参数
func (v *Validator) ParseAddress(value string) (common.Address, error) {
	if err := v.Validate(RuleAddress, value); err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(value), nil
}

// ParseHash 验证并解析哈希参数
func (v *Validator) ParseHash(value string) (common.Hash, error) {
	if err := v.Validate(RuleHash, value); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(value), nil
}

// ParseData 验证并解析十六进制数据参数
func (v *Validator) ParseData(value string) ([]byte, error) {
	if err := v.Validate(RuleData, value); err != nil {
		return nil, err
	}
	return hexutil.Decode(value)
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	v.mu.Lock()
	defer v.mu.Unlock()

	checked := make(map[string]int, len(v.checked))
	for k, n := range v.checked {
		checked[k] = n
	}
	rejected := make(map[string]int, len(v.rejected))
	for k, n := range v.rejected {
		rejected[k] = n
	}
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
		"checked":          checked,
		"rejected":         rejected,
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}

// ExpectParams 检查位置参数个数在 [min, max] 内
func ExpectParams(params []json.RawMessage, min, max int) error {
	if len(params) < min || len(params) > max {
		if min == max {
			return gwerrors.ErrInvalidParams.New("需要 %d 个参数，实际 %d 个", min, len(params))
		}
		return gwerrors.ErrInvalidParams.New("需要 %d 到 %d 个参数，实际 %d 个", min, max, len(params))
	}
	return nil
}

// StringParam 取第 index 个参数并解码为字符串
func StringParam(params []json.RawMessage, index int) (string, error) {
	if index >= len(params) {
		return "", gwerrors.ErrInvalidParams.New("缺少第 %d 个参数", index+1)
	}
	var s string
	if err := json.Unmarshal(params[index], &s); err != nil {
		return "", gwerrors.ErrInvalidParams.Wrap(err, "第 %d 个参数不是字符串", index+1)
	}
	return s, nil
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return hashRegex.MatchString(hash)
}

// isValidAddress 验证地址格式
func isValidAddress(addr string) bool {
	return addressRegex.MatchString(addr)
}

// isChecksumValid 全小写或全大写视为未带校验和
func isChecksumValid(addr string) bool {
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(addr).Hex() == addr
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct {
	validator *Validator
}

func (r *AddressValidationRule) Name() string {
	return RuleAddress
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(addr string) error {
	if !isValidAddress(addr) {
		return gwerrors.ErrInvalidParams.New("地址格式无效: %q", addr).WithContext("rule", RuleAddress)
	}
	if r.validator != nil && r.validator.strictMode && !isChecksumValid(addr) {
		return gwerrors.ErrInvalidParams.New("地址校验和错误: %s", addr).WithContext("rule", RuleAddress)
	}
	return nil
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

func (r *HashValidationRule) Name() string {
	return RuleHash
}

func (r *HashValidationRule) Description() string {
	return "32字节哈希验证规则"
}

func (r *HashValidationRule) Validate(hash string) error {
	if !isValidHash(hash) {
		return gwerrors.ErrInvalidParams.New("哈希格式无效: %q", hash).WithContext("rule", RuleHash)
	}
	return nil
}

// DataValidationRule 十六进制数据验证规则，要求 0x 前缀且长度为偶数
type DataValidationRule struct{}

func (r *DataValidationRule) Name() string {
	return RuleData
}

func (r *DataValidationRule) Description() string {
	return "十六进制数据验证规则"
}

func (r *DataValidationRule) Validate(data string) error {
	if _, err := hexutil.Decode(data); err != nil {
		return gwerrors.ErrInvalidParams.Wrap(err, "十六进制数据无效").WithContext("rule", RuleData)
	}
	return nil
}
