package domain

// 分页默认值
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListOptions 分页参数，Page 从 1 开始
type ListOptions struct {
	Page  int
	Limit int
}

// Normalize 修正越界的分页参数
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
	return o
}

// Offset 返回跳过的记录数
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// Page 分页结果
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
	HasMore    bool  `json:"hasMore"`
}

// NewPage 根据总数计算分页信息
func NewPage[T any](items []T, total int64, opts ListOptions) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if opts.Limit > 0 {
		totalPages = int((total + int64(opts.Limit) - 1) / int64(opts.Limit))
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		TotalPages: totalPages,
		HasMore:    int64(opts.Offset()+len(items)) < total,
	}
}
