package utils

import (
	p "path"
	"strings"
)

// NormalizeKey strips leading separators and collapses dot segments so
// keys are always relative and cannot escape a bucket root.
func NormalizeKey(key string) string {
	cleaned := p.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	return strings.TrimLeft(cleaned, "/")
}
