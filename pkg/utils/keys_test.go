package utils

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeKey(t *testing.T) {
	tables := []struct {
		name     string
		key      string
		expected string
	}{
		{"plain key", "uploads/file.bin", "uploads/file.bin"},
		{"leading slash", "/uploads/file.bin", "uploads/file.bin"},
		{"many leading slashes", "///file.bin", "file.bin"},
		{"dot segments", "a/./b/../c.txt", "a/c.txt"},
		{"traversal out of root", "../../etc/passwd", "etc/passwd"},
		{"backslashes", "a\\b\\c.txt", "a/b/c.txt"},
		{"empty", "", ""},
	}

	for _, table := range tables {
		t.Run(table.name, func(t *testing.T) {
			if diff := cmp.Diff(table.expected, NormalizeKey(table.key)); diff != "" {
				t.Errorf("NormalizeKey() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
