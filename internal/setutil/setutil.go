// Package setutil canonicalizes value lists drawn from a declared set.
package setutil

import (
	"fmt"
	"strings"
)

// Canonicalize validates values against allowed and returns them deduplicated
// in declaration order, so equivalent client lists produce identical SQL.
func Canonicalize(values []string, allowed []string) ([]string, error) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, v := range allowed {
		allowedSet[v] = struct{}{}
	}

	selected := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := allowedSet[v]; !ok {
			return nil, fmt.Errorf("invalid value %q, only the following values are accepted: %s", v, strings.Join(allowed, ", "))
		}
		selected[v] = struct{}{}
	}

	ordered := make([]string, 0, len(selected))
	for _, option := range allowed {
		if _, ok := selected[option]; ok {
			ordered = append(ordered, option)
		}
	}
	return ordered, nil
}

// Contains reports whether every value is part of allowed.
func Contains(allowed []string, values ...string) bool {
	_, err := Canonicalize(values, allowed)
	return err == nil
}
