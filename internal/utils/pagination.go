// Package utils holds small helpers shared by the HTTP and CLI layers.
package utils

import "strconv"

// Page bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault parses s, returning def when s is empty or not an int.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// ParsePage reads raw page and page_size values, defaulting and clamping
// them to [1, MaxPageSize].
func ParsePage(page, size string) Page {
	p := Page{
		Number: AtoiDefault(page, 1),
		Size:   AtoiDefault(size, DefaultPageSize),
	}
	p.Number = max(p.Number, 1)
	p.Size = min(max(p.Size, 1), MaxPageSize)
	return p
}

// Offset is the number of rows before this page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// TotalPages is ceil(total/size); zero rows is zero pages.
func (p Page) TotalPages(total int64) int {
	if total <= 0 || p.Size <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// HasNext reports whether another page follows.
func (p Page) HasNext(total int64) bool { return p.Number < p.TotalPages(total) }
