// Package nameenc provides the filename-safe encoding used for per-bundle
// extraction directories. The encoding is part of the on-disk layout shared
// with existing tooling, so it must not change.
package nameenc

import (
	"fmt"
	"strings"
)

// Encode maps an arbitrary bundle name to a filesystem-safe directory name.
//
// ASCII alphanumerics pass through; every other byte becomes "_" followed by
// its two-digit lower-case hex value. Everything before the first underscore
// is then lowercased.
func Encode(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		b := name[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, "_%02x", b)
		}
	}

	out := sb.String()
	cut := strings.IndexByte(out, '_')
	if cut < 0 {
		cut = len(out)
	}
	return strings.ToLower(out[:cut]) + out[cut:]
}
