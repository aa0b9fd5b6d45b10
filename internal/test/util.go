package test

import (
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/modlink/modlink/internal/logger"
)

func AssertEqual(t *testing.T, a interface{}, b interface{}) {
	t.Helper()
	if a != b {
		t.Fatalf("%v != %v", a, b)
	}
}

func AssertEqualWithDiff(t *testing.T, observed string, expected string) {
	t.Helper()
	if observed != expected {
		color := logger.GetTerminalInfo(os.Stderr).UseColorEscapes
		t.Fatal("\n" + Diff(expected, observed, color))
	}
}

// Writes each file into a fresh in-memory file system. Leading newlines are
// trimmed so fixtures can start on the line after the backtick.
func MemFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, contents := range files {
		if err := afero.WriteFile(fs, path, []byte(strings.TrimLeft(contents, "\n")), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return fs
}

func WriteFile(t *testing.T, fs afero.Fs, path string, contents string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(strings.TrimLeft(contents, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Renders messages the way they are printed without colors or source lines
func LogText(msgs []logger.Msg) string {
	sb := strings.Builder{}
	for _, msg := range msgs {
		sb.WriteString(msg.String(logger.OutputOptions{}, logger.TerminalInfo{}))
	}
	return sb.String()
}

func SourceForTest(path string, contents string) logger.Source {
	return logger.Source{
		KeyPath:        logger.Path{Text: path, Namespace: "file"},
		PrettyPath:     strings.TrimPrefix(path, "/"),
		Contents:       contents,
		IdentifierName: "stdin",
	}
}
