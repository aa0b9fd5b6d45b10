package api

import (
	"context"

	"github.com/spf13/afero"

	"github.com/modlink/modlink/internal/hmr"
	"github.com/modlink/modlink/internal/linker"
)

type Splitting uint8

const (
	SplittingDefault Splitting = iota
	SplittingFalse
	SplittingTrue
)

type TreeShaking uint8

const (
	TreeShakingDefault TreeShaking = iota
	TreeShakingFalse
	TreeShakingTrue
)

type Location struct {
	File     string
	Line     int // 1-based
	Column   int // 0-based, in bytes
	Length   int // in bytes
	LineText string
}

type Note struct {
	Text     string
	Location *Location
}

type Message struct {
	// The name used with "LogOverride", or empty for messages that can't be
	// overridden
	ID       string
	Text     string
	Location *Location
	Notes    []Note
}

type StderrColor uint8

const (
	ColorIfTerminal StderrColor = iota
	ColorNever
	ColorAlways
)

type LogLevel uint8

const (
	LogLevelSilent LogLevel = iota
	LogLevelVerbose
	LogLevelDebug
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

////////////////////////////////////////////////////////////////////////////////
// Build API

type BuildOptions struct {
	// Messages are printed to stderr unless the level is silent. They are
	// returned in the result either way.
	Color       StderrColor
	LogLevel    LogLevel
	LogOverride map[string]LogLevel

	// Modules are read from the real file system unless "FS" is set. Paths
	// are relative to "AbsWorkingDir", which defaults to the current
	// directory.
	FS            afero.Fs
	AbsWorkingDir string

	// A YAML file with the defaults for everything below. Settings from the
	// file are overridden by "MODLINK_*" variables read through "LookupEnv"
	// (if set) and those are overridden by the fields of this struct.
	ConfigFile string
	LookupEnv  func(string) (string, bool)

	Splitting         Splitting
	TreeShaking       TreeShaking
	KeepNames         bool
	OneModulePerChunk bool
	IgnoreAnnotations bool
	Concurrency       int
	External          []string

	// Merge shared chunks of side-effect free modules when together they
	// have at most this many live statements. Zero disables merging.
	MergeSmallChunks int

	EntryPoints []string
}

type BuildResult struct {
	Errors   []Message
	Warnings []Message

	Chunks []Chunk

	plan      *linker.Result
	keepNames bool
}

// A chunk of the plan with modules named by their paths relative to the
// working directory
type Chunk struct {
	Name           string        `yaml:"name"`
	Entry          string        `yaml:"entry,omitempty"`
	Modules        []string      `yaml:"modules"`
	Imports        []ChunkImport `yaml:"imports,omitempty"`
	Exports        []string      `yaml:"exports,omitempty"`
	EntryExports   []Export      `yaml:"entryExports,omitempty"`
	DynamicImports []string      `yaml:"dynamicImports,omitempty"`
}

type ChunkImport struct {
	Chunk    string   `yaml:"chunk"`
	Names    []string `yaml:"names,omitempty"`
	Deferred bool     `yaml:"deferred,omitempty"`
}

type Export struct {
	Alias string `yaml:"alias"`
	Name  string `yaml:"name"`
}

func Build(options BuildOptions) BuildResult {
	return buildImpl(context.Background(), options)
}

func BuildContext(ctx context.Context, options BuildOptions) BuildResult {
	return buildImpl(ctx, options)
}

type RunResult struct {
	// One line per log statement, in evaluation order
	Trace []string

	// Set if evaluation stopped early
	Thrown string
}

// Evaluates the entry chunk with the given name against the built plan
func (result *BuildResult) Run(entry string) (RunResult, error) {
	return runImpl(result.plan, result.keepNames, entry)
}

// A detailed rendering of the plan that includes the statements of every
// chunk. Empty if the build failed.
func (result *BuildResult) Dump() string {
	if result.plan == nil {
		return ""
	}
	return result.plan.Dump(true)
}

////////////////////////////////////////////////////////////////////////////////
// Session API

// A session keeps the last successful build around so that edits can be
// applied as hot updates. Calls may overlap: a newer call cancels the one in
// flight, which then returns a cancellation error and changes nothing.
type Session struct {
	options BuildOptions
	inner   *hmr.Session
	setup   setupResult
}

type ModuleUpdate struct {
	Changed          string   `yaml:"changed"`
	SignatureChanged bool     `yaml:"signatureChanged"`
	FullReload       bool     `yaml:"fullReload,omitempty"`
	Boundaries       []string `yaml:"boundaries,omitempty"`
	Modules          []string `yaml:"modules"`
}

type UpdateResult struct {
	Errors   []Message
	Warnings []Message

	Updates    []ModuleUpdate
	FullReload bool
	Relinked   bool

	// The plan after the update. It only differs from the previous plan when
	// "Relinked" is set.
	Chunks []Chunk
}

func NewSession(options BuildOptions) *Session {
	return newSessionImpl(options)
}

func (s *Session) Rebuild(ctx context.Context) BuildResult {
	return s.rebuildImpl(ctx)
}

// The paths of the changed modules are relative to the working directory
func (s *Session) Update(ctx context.Context, changed ...string) UpdateResult {
	return s.updateImpl(ctx, changed)
}
