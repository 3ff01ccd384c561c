// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// Paging bounds applied by ParsePage.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParsePage reads 1-based page and page_size query values. Missing or
// invalid values fall back to page 1 and DefaultPageSize; the size is
// capped at MaxPageSize.
//
// Example:
//
//	p, s := utils.ParsePage("3", "500") // 3, 100
//	p, s = utils.ParsePage("", "x")     // 1, 20
func ParsePage(page, size string) (int, int) {
	p := AtoiDefault(page, 1)
	if p < 1 {
		p = 1
	}
	s := AtoiDefault(size, DefaultPageSize)
	switch {
	case s < 1:
		s = DefaultPageSize
	case s > MaxPageSize:
		s = MaxPageSize
	}
	return p, s
}

// ParseID parses a positive numeric identifier from a path segment.
func ParseID(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
