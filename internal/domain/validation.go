package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// RFC 5322 长度限制
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	// 本地部分只允许小写字母、数字和 . _ -，首尾必须是字母或数字
	localPartRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

	// 域名验证（支持子域名）
	domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
)

// EmailValidator 地址格式验证器，只做基础形状检查
type EmailValidator struct{}

// NewEmailValidator 创建验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 验证完整地址，输入会先规范化
func (v *EmailValidator) ValidateEmail(email string) error {
	email = NormalizeAddress(email)
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	local, domain, ok := SplitAddress(email)
	if !ok || strings.Contains(local, "@") {
		return ErrInvalidEmail
	}
	if len(local) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	return v.ValidateDomain(domain)
}

// ValidateLocalPart 验证调用方指定的本地部分
func (v *EmailValidator) ValidateLocalPart(localPart string) error {
	if localPart == "" {
		return ErrInvalidLocalPart
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(localPart) {
		return ErrInvalidLocalPart
	}
	// 不允许连续的分隔符
	for _, seq := range []string{"..", ".-", "-.", "--", "__", "_.", "._"} {
		if strings.Contains(localPart, seq) {
			return ErrInvalidLocalPart
		}
	}
	return nil
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) || !strings.Contains(domain, ".") {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateTTL 检查 ttl 分钟数，越界直接拒绝，不做截断
func ValidateTTL(minutes int) error {
	if minutes < MinTTLMinutes || minutes > MaxTTLMinutes {
		return ErrInvalidTTL
	}
	return nil
}
