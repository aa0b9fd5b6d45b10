package helpers

import (
	"runtime/debug"
	"strings"
)

const modulePrefix = "github.com/modlink/modlink/"

// Formats the current goroutine's stack as one "function (file:line)" entry
// per line. This goes into internal error diagnostics, so it drops the
// goroutine header, argument lists and program counter offsets.
func PrettyPrintedStack() string {
	lines := strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "goroutine ") {
		lines = lines[1:]
	}

	var entries []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "\t") {
			if paren := strings.LastIndexByte(line, '('); paren != -1 && strings.HasSuffix(line, ")") {
				line = line[:paren]
			}
			if slash := strings.LastIndexByte(line, '/'); slash != -1 {
				line = line[slash+1:]
			}
			entries = append(entries, line)
			continue
		}

		// Indented lines are the source location of the previous call
		where := strings.TrimPrefix(line[1:], modulePrefix)
		if offset := strings.LastIndex(where, " +0x"); offset != -1 {
			where = where[:offset]
		}
		if n := len(entries); n > 0 {
			entries[n-1] += " (" + where + ")"
		}
	}

	return strings.Join(entries, "\n")
}
