// Package utils holds small helpers for the nullable columns shared by the
// bracket model, the stores and their tests.
package utils

import "strings"

// Ptr returns a pointer to a copy of v, for optional fields such as a
// team's coordinates or a match winner.
func Ptr[T any](v T) *T {
	return &v
}

// StringOrNil trims s and returns nil when nothing is left, so blank
// reasons are stored as NULL.
func StringOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
