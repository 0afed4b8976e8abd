package common

import (
	"net/http"
	"strconv"
)

// Page is a 1-based page request read from ?page and ?limit.
type Page struct {
	Number int
	Size   int
}

// Pagination is the metadata block attached to list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// ParsePage reads the page request; Size falls back to def and never exceeds maxSize.
func ParsePage(r *http.Request, def, maxSize int) Page {
	p := Page{Number: 1, Size: def}
	q := r.URL.Query()
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.Size = n
	}
	if maxSize > 0 {
		p.Size = min(p.Size, maxSize)
	}
	return p
}

func (p Page) Offset() int { return (max(p.Number, 1) - 1) * p.Size }

// Meta describes p against total and sets X-Total-Count on w for clients that
// only read headers.
func (p Page) Meta(w http.ResponseWriter, total int64) Pagination {
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	pages := 0
	if p.Size > 0 {
		pages = int((total + int64(p.Size) - 1) / int64(p.Size))
	}
	return Pagination{Page: p.Number, PerPage: p.Size, TotalItems: int(total), TotalPages: pages}
}
