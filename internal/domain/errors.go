package domain

import "errors"

// 业务错误定义
var (
	ErrAddressNotFound    = errors.New("address not found")
	ErrAddressExpired     = errors.New("address expired")
	ErrAddressInactive    = errors.New("address is not active")
	ErrAddressConflict    = errors.New("address already exists")
	ErrAddressExhausted   = errors.New("could not generate a unique address")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrDomainConflict     = errors.New("domain already exists")
	ErrDomainInactive     = errors.New("domain is not active")
	ErrNoActiveDomain     = errors.New("no active domain available")
	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentMissing  = errors.New("attachment not found")
	ErrInvalidTTL         = errors.New("ttl minutes must be within [1, 1440]")
	ErrMissingField       = errors.New("missing required field")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Kind 错误分类，传输层据此决定响应状态
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindExpired
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidTTL, KindValidation},
	{ErrMissingField, KindValidation},
	{ErrInvalidEmail, KindValidation},
	{ErrEmailTooLong, KindValidation},
	{ErrLocalPartTooLong, KindValidation},
	{ErrDomainTooLong, KindValidation},
	{ErrInvalidLocalPart, KindValidation},
	{ErrInvalidDomain, KindValidation},
	{ErrDomainInactive, KindValidation},
	{ErrAddressNotFound, KindNotFound},
	{ErrDomainNotFound, KindNotFound},
	{ErrMessageNotFound, KindNotFound},
	{ErrAttachmentMissing, KindNotFound},
	{ErrAddressExpired, KindExpired},
	{ErrAddressInactive, KindExpired},
	{ErrAddressConflict, KindConflict},
	{ErrAddressExhausted, KindConflict},
	{ErrDomainConflict, KindConflict},
	{ErrNoActiveDomain, KindConflict},
	{ErrStorageUnavailable, KindTransient},
}

// KindOf 返回错误所属分类，未识别的错误归为 KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
