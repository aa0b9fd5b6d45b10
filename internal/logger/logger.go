package logger

// Diagnostics are modeled after clang's error format. Every message carries a
// kind, a message id, an optional source location and optional notes. Logs
// are plain structs of closures so that callers can swap in a deferred log
// for tests or a stderr log for the command line without any interfaces.

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

type Log struct {
	AddMsg    func(Msg)
	HasErrors func() bool
	Done      func() []Msg

	Level     LogLevel
	Overrides map[MsgID]LogLevel
}

type LogLevel int8

const (
	LevelNone LogLevel = iota
	LevelVerbose
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelSilent
)

type MsgKind uint8

const (
	Error MsgKind = iota
	Warning
	Info
	Note
	Debug
	Verbose
)

func (kind MsgKind) String() string {
	switch kind {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Note:
		return "note"
	case Debug:
		return "debug"
	case Verbose:
		return "verbose"
	default:
		panic("Internal error")
	}
}

func (kind MsgKind) level() LogLevel {
	switch kind {
	case Error:
		return LevelError
	case Warning:
		return LevelWarning
	case Info, Note:
		return LevelInfo
	case Debug:
		return LevelDebug
	default:
		return LevelVerbose
	}
}

type Msg struct {
	Notes []MsgData
	Data  MsgData
	Kind  MsgKind
	ID    MsgID
}

type MsgData struct {
	Location *MsgLocation
	Text     string
}

type MsgLocation struct {
	File       string
	LineText   string
	Suggestion string
	Line       int // 1-based
	Column     int // 0-based, in bytes
	Length     int // in bytes
}

type Loc struct {
	// This is the 0-based index of this location from the start of the file, in bytes
	Start int32
}

type Range struct {
	Loc Loc
	Len int32
}

func (r Range) End() int32 {
	return r.Loc.Start + r.Len
}

// This type is just so we can use Go's native sort function
type SortableMsgs []Msg

func (a SortableMsgs) Len() int          { return len(a) }
func (a SortableMsgs) Swap(i int, j int) { a[i], a[j] = a[j], a[i] }

func (a SortableMsgs) Less(i int, j int) bool {
	ai := a[i]
	aj := a[j]
	li := ai.Data.Location
	lj := aj.Data.Location

	// Location
	if li == nil && lj != nil {
		return true
	}
	if li != nil && lj == nil {
		return false
	}
	if li != nil && lj != nil {
		if li.File != lj.File {
			return li.File < lj.File
		}
		if li.Line != lj.Line {
			return li.Line < lj.Line
		}
		if li.Column != lj.Column {
			return li.Column < lj.Column
		}
		if li.Length != lj.Length {
			return li.Length < lj.Length
		}
	}

	// Kind
	if ai.Kind != aj.Kind {
		return ai.Kind < aj.Kind
	}

	// Text
	return ai.Data.Text < aj.Data.Text
}

// A module path. The namespace distinguishes real files ("file") from
// collaborator-defined virtual modules. Externals keep the raw specifier as
// their text and use the "external" namespace.
type Path struct {
	Text      string
	Namespace string
}

func (a Path) ComesBeforeInSortedOrder(b Path) bool {
	return a.Namespace > b.Namespace || (a.Namespace == b.Namespace && a.Text < b.Text)
}

func (a Path) String() string {
	if a.Namespace == "" || a.Namespace == "file" {
		return a.Text
	}
	return a.Namespace + ":" + a.Text
}

type Source struct {
	// This is used as a unique key to identify this module. It is also the
	// module id handed back to collaborators.
	KeyPath Path

	// This is used for error messages and the chunk plan. It never contains
	// environment-specific information.
	PrettyPath string

	// An identifier that is mixed in to automatically-generated symbol names to
	// improve readability. For example, if the identifier is "util" then the
	// symbol for an "export default" statement will be called "util_default".
	IdentifierName string

	Contents string
	Index    uint32
}

func (s *Source) TextForRange(r Range) string {
	return s.Contents[r.Loc.Start : r.Loc.Start+r.Len]
}

// Converts a byte range into a message location. Sources without contents
// still report the file so that messages can be grouped by module.
func (s *Source) MsgData(r Range, text string) MsgData {
	return MsgData{Text: text, Location: locationOrNil(s, r)}
}

func plural(prefix string, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, prefix)
	}
	return fmt.Sprintf("%d %ss", count, prefix)
}

func errorAndWarningSummary(errors int, warnings int) string {
	switch {
	case errors == 0:
		return plural("warning", warnings)
	case warnings == 0:
		return plural("error", errors)
	default:
		return fmt.Sprintf("%s and %s",
			plural("warning", warnings),
			plural("error", errors))
	}
}

type TerminalInfo struct {
	IsTTY           bool
	UseColorEscapes bool
	Width           int
	Height          int
}

type StderrColor uint8

const (
	ColorIfTerminal StderrColor = iota
	ColorNever
	ColorAlways
)

type OutputOptions struct {
	IncludeSource bool
	ErrorLimit    int
	Color         StderrColor
	LogLevel      LogLevel
	Overrides     map[MsgID]LogLevel
}

func NewStderrLog(options OutputOptions) Log {
	var mutex sync.Mutex
	var msgs SortableMsgs
	terminalInfo := GetTerminalInfo(os.Stderr)
	errors := 0
	warnings := 0
	errorLimitWasHit := false

	switch options.Color {
	case ColorNever:
		terminalInfo.UseColorEscapes = false
	case ColorAlways:
		terminalInfo.UseColorEscapes = SupportsColorEscapes
	}

	return Log{
		Level:     options.LogLevel,
		Overrides: options.Overrides,

		AddMsg: func(msg Msg) {
			mutex.Lock()
			defer mutex.Unlock()
			msgs = append(msgs, msg)

			// Be silent if we're past the limit so we don't flood the terminal
			if errorLimitWasHit {
				return
			}

			switch msg.Kind {
			case Error:
				errors++
			case Warning:
				warnings++
			}
			if options.LogLevel <= msg.Kind.level() {
				writeStringWithColor(os.Stderr, msg.String(options, terminalInfo))
			}

			// Silence further output if we reached the error limit
			if options.ErrorLimit != 0 && errors >= options.ErrorLimit {
				errorLimitWasHit = true
				if options.LogLevel <= LevelError {
					writeStringWithColor(os.Stderr, fmt.Sprintf(
						"%s reached (disable error limit with --error-limit=0)\n", errorAndWarningSummary(errors, warnings)))
				}
			}
		},

		HasErrors: func() bool {
			mutex.Lock()
			defer mutex.Unlock()
			return errors > 0
		},

		Done: func() []Msg {
			mutex.Lock()
			defer mutex.Unlock()

			// Print out a summary if the error limit wasn't hit
			if !errorLimitWasHit && options.LogLevel <= LevelInfo && (warnings != 0 || errors != 0) {
				writeStringWithColor(os.Stderr, fmt.Sprintf("%s\n", errorAndWarningSummary(errors, warnings)))
			}

			sort.Stable(msgs)
			return msgs
		},
	}
}

func PrintErrorToStderr(osArgs []string, text string) {
	PrintMessageToStderr(osArgs, Msg{Kind: Error, Data: MsgData{Text: text}})
}

func PrintMessageToStderr(osArgs []string, msg Msg) {
	options := OutputOptions{IncludeSource: true}

	// Implement a mini argument parser so these options always work even if we
	// haven't yet gotten to the general-purpose argument parsing code
	for _, arg := range osArgs {
		switch arg {
		case "--color=false":
			options.Color = ColorNever
		case "--color=true":
			options.Color = ColorAlways
		case "--log-level=warning":
			options.LogLevel = LevelWarning
		case "--log-level=error":
			options.LogLevel = LevelError
		case "--log-level=silent":
			options.LogLevel = LevelSilent
		}
	}

	log := NewStderrLog(options)
	log.AddMsg(msg)
	log.Done()
}

// The deferred log collects every message and prints nothing. Tests and the
// embedding API use it and read the messages back from "Done".
func NewDeferLog(level LogLevel, overrides map[MsgID]LogLevel) Log {
	var msgs SortableMsgs
	var mutex sync.Mutex
	var hasErrors bool

	return Log{
		Level:     level,
		Overrides: overrides,

		AddMsg: func(msg Msg) {
			mutex.Lock()
			defer mutex.Unlock()
			if msg.Kind == Error {
				hasErrors = true
			}
			msgs = append(msgs, msg)
		},

		HasErrors: func() bool {
			mutex.Lock()
			defer mutex.Unlock()
			return hasErrors
		},

		Done: func() []Msg {
			mutex.Lock()
			defer mutex.Unlock()
			sort.Stable(msgs)
			return msgs
		},
	}
}

const colorReset = "\033[0m"
const colorRed = "\033[31m"
const colorGreen = "\033[32m"
const colorMagenta = "\033[35m"
const colorBlue = "\033[34m"
const colorBold = "\033[1m"
const colorResetBold = "\033[0;1m"

func (msg Msg) String(options OutputOptions, terminalInfo TerminalInfo) string {
	kind := msg.Kind.String()
	kindColor := colorRed
	switch msg.Kind {
	case Warning:
		kindColor = colorMagenta
	case Info, Note, Debug, Verbose:
		kindColor = colorBlue
	}

	suffix := ""
	if msg.ID != MsgID_None {
		suffix = fmt.Sprintf(" [%s]", MsgIDToString(msg.ID))
	}

	sb := strings.Builder{}
	loc := msg.Data.Location
	switch {
	case loc == nil:
		if terminalInfo.UseColorEscapes {
			sb.WriteString(fmt.Sprintf("%s%s%s: %s%s%s%s\n",
				colorBold, kindColor, kind, colorResetBold, msg.Data.Text, suffix, colorReset))
		} else {
			sb.WriteString(fmt.Sprintf("%s: %s%s\n", kind, msg.Data.Text, suffix))
		}

	case !options.IncludeSource || loc.LineText == "":
		if terminalInfo.UseColorEscapes {
			sb.WriteString(fmt.Sprintf("%s%s:%d:%d: %s%s: %s%s%s%s\n",
				colorBold, loc.File, loc.Line, loc.Column,
				kindColor, kind, colorResetBold, msg.Data.Text, suffix, colorReset))
		} else {
			sb.WriteString(fmt.Sprintf("%s:%d:%d: %s: %s%s\n", loc.File, loc.Line, loc.Column, kind, msg.Data.Text, suffix))
		}

	default:
		d := detailStruct(loc, terminalInfo)
		if terminalInfo.UseColorEscapes {
			sb.WriteString(fmt.Sprintf("%s%s:%d:%d: %s%s: %s%s%s%s\n    %s%s%s%s%s\n    %s%s%s%s\n",
				colorBold, loc.File, loc.Line, loc.Column,
				kindColor, kind, colorResetBold, msg.Data.Text, suffix, colorReset,
				d.SourceBefore, colorGreen, d.SourceMarked, colorReset, d.SourceAfter,
				colorGreen, d.Indent, d.Marker, colorReset))
		} else {
			sb.WriteString(fmt.Sprintf("%s:%d:%d: %s: %s%s\n    %s\n    %s%s\n",
				loc.File, loc.Line, loc.Column, kind, msg.Data.Text, suffix, d.Source, d.Indent, d.Marker))
		}
	}

	for _, note := range msg.Notes {
		if note.Location != nil {
			sb.WriteString(fmt.Sprintf("  %s:%d:%d: note: %s\n", note.Location.File, note.Location.Line, note.Location.Column, note.Text))
		} else {
			sb.WriteString(fmt.Sprintf("  note: %s\n", note.Text))
		}
	}
	return sb.String()
}

type msgDetail struct {
	// Source == SourceBefore + SourceMarked + SourceAfter
	Source       string
	SourceBefore string
	SourceMarked string
	SourceAfter  string

	Indent string
	Marker string
}

func computeLineAndColumn(contents string, offset int) (lineCount int, columnCount int, lineStart int, lineEnd int) {
	var prevCodePoint rune
	if offset > len(contents) {
		offset = len(contents)
	}

	// Scan up to the offset and count lines
	for i, codePoint := range contents[:offset] {
		switch codePoint {
		case '\n':
			lineStart = i + 1
			if prevCodePoint != '\r' {
				lineCount++
			}
		case '\r':
			lineStart = i + 1
			lineCount++
		}
		prevCodePoint = codePoint
	}

	// Scan to the end of the line (or end of file if this is the last line)
	lineEnd = len(contents)
	if i := strings.IndexAny(contents[offset:], "\r\n"); i != -1 {
		lineEnd = offset + i
	}

	columnCount = offset - lineStart
	return
}

func locationOrNil(source *Source, r Range) *MsgLocation {
	if source == nil {
		return nil
	}
	if source.Contents == "" {
		return &MsgLocation{File: source.PrettyPath, Line: 1}
	}

	// Convert the index into a line and column number
	lineCount, columnCount, lineStart, lineEnd := computeLineAndColumn(source.Contents, int(r.Loc.Start))

	return &MsgLocation{
		File:     source.PrettyPath,
		Line:     lineCount + 1, // 0-based to 1-based
		Column:   columnCount,
		Length:   int(r.Len),
		LineText: source.Contents[lineStart:lineEnd],
	}
}

func detailStruct(loc *MsgLocation, terminalInfo TerminalInfo) msgDetail {
	lineText := loc.LineText
	column := loc.Column
	length := loc.Length

	// Clamp values in range
	if column < 0 {
		column = 0
	}
	if column > len(lineText) {
		column = len(lineText)
	}
	if length < 0 {
		length = 0
	}
	if length > len(lineText)-column {
		length = len(lineText) - column
	}

	// Trim the line to fit the terminal width
	width := terminalInfo.Width
	if width < 1 {
		width = 80
	}
	width -= 4
	if len(lineText) > width && column+length <= len(lineText) {
		start := column - width/4
		if start < 0 {
			start = 0
		}
		end := start + width
		if end > len(lineText) {
			end = len(lineText)
		}
		lineText = lineText[start:end]
		column -= start
		if column+length > len(lineText) {
			length = len(lineText) - column
		}
	}

	marker := "^"
	if length > 1 {
		marker = strings.Repeat("~", length)
	}

	return msgDetail{
		Source:       lineText,
		SourceBefore: lineText[:column],
		SourceMarked: lineText[column : column+length],
		SourceAfter:  lineText[column+length:],
		Indent:       strings.Repeat(" ", column),
		Marker:       marker,
	}
}

// Applies any per-id override before forwarding the message. A message whose
// effective level is below the log level is dropped. Errors are never
// downgraded so that a failing build cannot be silenced into success.
func (log Log) AddMsgID(id MsgID, msg Msg) {
	msg.ID = id
	if override, ok := log.Overrides[id]; ok && msg.Kind != Error {
		switch override {
		case LevelSilent:
			return
		case LevelError:
			msg.Kind = Error
		case LevelWarning:
			msg.Kind = Warning
		case LevelInfo:
			msg.Kind = Info
		case LevelDebug:
			msg.Kind = Debug
		case LevelVerbose:
			msg.Kind = Verbose
		}
	}
	if msg.Kind != Error && log.Level > msg.Kind.level() {
		return
	}
	log.AddMsg(msg)
}

func (log Log) AddError(source *Source, r Range, text string) {
	log.AddMsg(Msg{
		Kind: Error,
		Data: MsgData{Text: text, Location: locationOrNil(source, r)},
	})
}

func (log Log) AddErrorWithNotes(source *Source, r Range, text string, notes []MsgData) {
	log.AddMsg(Msg{
		Kind:  Error,
		Data:  MsgData{Text: text, Location: locationOrNil(source, r)},
		Notes: notes,
	})
}

func (log Log) AddID(id MsgID, kind MsgKind, source *Source, r Range, text string) {
	log.AddMsgID(id, Msg{
		Kind: kind,
		Data: MsgData{Text: text, Location: locationOrNil(source, r)},
	})
}

func (log Log) AddIDWithNotes(id MsgID, kind MsgKind, source *Source, r Range, text string, notes []MsgData) {
	log.AddMsgID(id, Msg{
		Kind:  kind,
		Data:  MsgData{Text: text, Location: locationOrNil(source, r)},
		Notes: notes,
	})
}

func ParseLogLevel(text string) (LogLevel, bool) {
	switch text {
	case "verbose":
		return LevelVerbose, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning":
		return LevelWarning, true
	case "error":
		return LevelError, true
	case "silent":
		return LevelSilent, true
	}
	return LevelNone, false
}
