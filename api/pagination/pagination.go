// Package pagination carries the shared request/response types for
// paginated list endpoints.
package pagination

// Query is the paging window bound from the request's query string.
type Query struct {
	Start int `form:"start"`
	Limit int `form:"limit"`
}

// Result wraps one page of data together with the unpaged total.
type Result struct {
	Data  interface{} `json:"data"`
	Total int64       `json:"total"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize clamps the window to sane bounds.
func (q *Query) Normalize() {
	if q.Start < 0 {
		q.Start = 0
	}

	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}

	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
}
