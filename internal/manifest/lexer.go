package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/logger"
)

type T uint8

const (
	TEndOfLine T = iota
	TIdentifier
	TString
	TNumber
	TPunct
)

func (t T) String() string {
	switch t {
	case TEndOfLine:
		return "end of line"
	case TIdentifier:
		return "identifier"
	case TString:
		return "string"
	case TNumber:
		return "number"
	default:
		return "punctuation"
	}
}

type token struct {
	// For strings this is the decoded value, otherwise the raw text
	Text  string
	Range logger.Range
	Kind  T
}

// Statements never span lines, so a lexer only ever sees a single line. The
// offset of the line is kept so that ranges point into the whole file.
type lexer struct {
	source *logger.Source
	line   string
	offset int32
	tokens []token
	index  int
}

func isIdentifierStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentifierContinue(c byte) bool {
	return isIdentifierStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func tokenizeLine(source *logger.Source, line string, offset int32) (*lexer, error) {
	lex := &lexer{source: source, line: line, offset: offset}
	i := 0

	for i < len(line) {
		c := line[i]
		start := i

		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
			continue

		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			// A trailing comment ends the statement
			i = len(line)
			continue

		case isIdentifierStart(c):
			for i < len(line) && isIdentifierContinue(line[i]) {
				i++
			}
			lex.push(TIdentifier, line[start:i], start, i)

		case isDigit(c) || (c == '-' && i+1 < len(line) && isDigit(line[i+1])):
			i++
			for i < len(line) && (isDigit(line[i]) || line[i] == '.' || line[i] == 'e' || line[i] == 'E') {
				i++
			}
			lex.push(TNumber, line[start:i], start, i)

		case c == '"' || c == '\'':
			i++
			for i < len(line) && line[i] != c {
				if line[i] == '\\' {
					i++
				}
				i++
			}
			if i >= len(line) {
				return nil, lex.errorAt(start, len(line), "Unterminated string literal")
			}
			i++
			raw := line[start:i]
			if c == '\'' {
				raw = "\"" + strings.ReplaceAll(raw[1:len(raw)-1], "\"", "\\\"") + "\""
			}
			value, err := strconv.Unquote(raw)
			if err != nil {
				return nil, lex.errorAt(start, i, fmt.Sprintf("Invalid string literal %s", line[start:i]))
			}
			lex.push(TString, value, start, i)

		case strings.IndexByte("{}()[],.=*:;", c) != -1:
			i++
			lex.push(TPunct, line[start:i], start, i)

		default:
			return nil, lex.errorAt(start, start+1, fmt.Sprintf("Unexpected %q", string(c)))
		}
	}

	// Allow an optional semicolon at the end of the line
	if n := len(lex.tokens); n > 0 && lex.tokens[n-1].Kind == TPunct && lex.tokens[n-1].Text == ";" {
		lex.tokens = lex.tokens[:n-1]
	}

	lex.tokens = append(lex.tokens, token{
		Kind:  TEndOfLine,
		Range: logger.Range{Loc: logger.Loc{Start: offset + int32(len(line))}},
	})
	return lex, nil
}

func (lex *lexer) push(kind T, text string, start int, end int) {
	lex.tokens = append(lex.tokens, token{
		Kind:  kind,
		Text:  text,
		Range: logger.Range{Loc: logger.Loc{Start: lex.offset + int32(start)}, Len: int32(end - start)},
	})
}

func (lex *lexer) errorAt(start int, end int, text string) error {
	return &bundler.SyntaxError{
		Text:  text,
		Range: logger.Range{Loc: logger.Loc{Start: lex.offset + int32(start)}, Len: int32(end - start)},
	}
}

func (lex *lexer) peek() token {
	return lex.tokens[lex.index]
}

func (lex *lexer) peekAt(n int) token {
	if lex.index+n < len(lex.tokens) {
		return lex.tokens[lex.index+n]
	}
	return lex.tokens[len(lex.tokens)-1]
}

func (lex *lexer) next() token {
	t := lex.tokens[lex.index]
	if t.Kind != TEndOfLine {
		lex.index++
	}
	return t
}

func (lex *lexer) is(text string) bool {
	t := lex.peek()
	return (t.Kind == TPunct || t.Kind == TIdentifier) && t.Text == text
}

// Consumes the token if it matches
func (lex *lexer) eat(text string) bool {
	if lex.is(text) {
		lex.index++
		return true
	}
	return false
}

func (lex *lexer) expect(text string) error {
	if !lex.eat(text) {
		return lex.unexpected(fmt.Sprintf("%q", text))
	}
	return nil
}

func (lex *lexer) expectKind(kind T) (token, error) {
	t := lex.peek()
	if t.Kind != kind {
		return t, lex.unexpected(kind.String())
	}
	lex.index++
	return t, nil
}

func (lex *lexer) expectEnd() error {
	if lex.peek().Kind != TEndOfLine {
		return lex.unexpected("end of line")
	}
	return nil
}

func (lex *lexer) unexpected(expected string) error {
	t := lex.peek()
	found := t.Kind.String()
	if t.Kind != TEndOfLine {
		found = fmt.Sprintf("%q", lex.source.TextForRange(t.Range))
	}
	return &bundler.SyntaxError{
		Text:  fmt.Sprintf("Expected %s but found %s", expected, found),
		Range: t.Range,
	}
}
