package sqlfmt

import (
	"regexp"

	"metatable/internal/apperr"
)

// Physical names come from metadata and end up concatenated into SQL, so
// every one of them passes through here first. An optional schema prefix is
// allowed.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$#]*(\.[A-Za-z_][A-Za-z0-9_$#]*)?$`)

// ValidIdentifier reports whether name is safe to splice into SQL.
func ValidIdentifier(name string) bool {
	return len(name) <= 128 && identifierPattern.MatchString(name)
}

// Identifier returns name unchanged, or InvalidArgument when it is unsafe.
func Identifier(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", apperr.InvalidArgumentf("unsafe identifier %q", name)
	}
	return name, nil
}
