package helpers

import "strings"

// Module ids from package directories are treated as third-party code. Their
// "will always be undefined" warnings are downgraded to debug messages since
// users usually cannot fix them.
func IsInsideNodeModules(path string) bool {
	for {
		// Be consistently agnostic to which kind of slash is used
		slash := strings.LastIndexAny(path, "/\\")
		if slash == -1 {
			return false
		}
		dir, base := path[:slash], path[slash+1:]
		if base == "node_modules" {
			return true
		}
		path = dir
	}
}

// Turns a module path into something usable as part of a generated
// identifier: "./src/my-util.js" becomes "my_util".
func IdentifierNameFromPath(path string) string {
	base := path
	if slash := strings.LastIndexAny(base, "/\\"); slash != -1 {
		base = base[slash+1:]
	}
	if dot := strings.IndexByte(base, '.'); dot > 0 {
		base = base[:dot]
	}
	if base == "index" {
		dir := path
		if slash := strings.LastIndexAny(dir, "/\\"); slash != -1 {
			dir = dir[:slash]
			if slash := strings.LastIndexAny(dir, "/\\"); slash != -1 {
				dir = dir[slash+1:]
			}
			if dir != "" {
				base = dir
			}
		}
	}

	sb := strings.Builder{}
	for i, c := range base {
		isLetter := c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		switch {
		case isLetter || (isDigit && i > 0):
			sb.WriteRune(c)
		case isDigit:
			sb.WriteByte('_')
			sb.WriteRune(c)
		default:
			sb.WriteByte('_')
		}
	}
	if sb.Len() == 0 {
		return "module"
	}
	return sb.String()
}
