package util

import "regexp"

// storageKeyPattern matches the storage keys this system mints (short
// id + media extension). Serving and deletion paths refuse anything
// else, which also rules out path traversal.
var storageKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}\.(mp4|m4a|webm)$`)

// ValidStorageKey reports whether s is a well-formed storage key.
func ValidStorageKey(s string) bool {
	return storageKeyPattern.MatchString(s)
}
