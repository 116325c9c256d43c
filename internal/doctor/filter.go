package doctor

import "strings"

// FilterResult holds the outcome of filtering checks by name or category.
type FilterResult struct {
	Matched   []Check  // Checks that matched the filter
	Unmatched []string // Input names that didn't match any check or category
}

// NormalizeName canonicalizes a check name for comparison: lowercased
// with dashes and underscores collapsed.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	return name
}

// FilterChecks filters registered checks by name or category.
// Resolution order per arg:
//  1. Exact check name match (after normalization)
//  2. Category name match (case-insensitive)
//  3. Unmatched
//
// If args is empty, all checks are returned.
func FilterChecks(checks []Check, args []string) *FilterResult {
	if len(args) == 0 {
		return &FilterResult{Matched: checks}
	}

	result := &FilterResult{}
	seen := make(map[string]bool)

	for _, arg := range args {
		normalized := NormalizeName(arg)
		matched := false

		for _, check := range checks {
			if NormalizeName(check.Name()) == normalized {
				if !seen[check.Name()] {
					result.Matched = append(result.Matched, check)
					seen[check.Name()] = true
				}
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		for _, check := range checks {
			if strings.EqualFold(check.Category(), arg) {
				if !seen[check.Name()] {
					result.Matched = append(result.Matched, check)
					seen[check.Name()] = true
				}
				matched = true
			}
		}
		if !matched {
			result.Unmatched = append(result.Unmatched, arg)
		}
	}

	return result
}
