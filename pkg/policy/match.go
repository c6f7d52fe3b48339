package policy

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

func (r Rule) matches(toolName string, args map[string]any) bool {
	if ok, err := doublestar.Match(r.Tool, toolName); err != nil || !ok {
		return false
	}
	return matchArgs(r.ArgsPattern, args)
}

// matchArgs checks pattern against every string-valued argument.
func matchArgs(pattern string, args map[string]any) bool {
	if pattern == "" {
		return true
	}
	for _, val := range args {
		str, ok := val.(string)
		if !ok {
			continue
		}
		if matchPattern(pattern, str) {
			return true
		}
	}
	return false
}

// matchPattern tries glob matching first, then a case-insensitive substring.
func matchPattern(pattern, value string) bool {
	if strings.ContainsAny(pattern, "*?[{") {
		if matched, err := doublestar.Match(pattern, value); err == nil && matched {
			return true
		}
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}
