package linker

// This package implements the second phase of a build. Given the modules
// discovered by the scan phase it binds imports to exports, decides which
// parts survive tree shaking, partitions the survivors into chunks, and
// assigns every top-level symbol a name that is unique within its chunk. The
// result is a plan: it says what goes where and in which order, and leaves
// printing code to someone else.

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/logger"
)

var (
	// Linking found at least one error-level problem, such as an import with
	// no matching export. The messages themselves are in the log.
	ErrLinkFailed = errors.New("linking failed")

	// Something that should be impossible happened. This is always a bug.
	ErrInternal = errors.New("internal error")
)

type linkerContext struct {
	options *config.Options
	timer   *helpers.Timer
	tracer  *zap.Logger
	log     logger.Log
	graph   graph.LinkerGraph
	chunks  []chunkInfo

	// This helps avoid an infinite loop when matching imports to exports
	cycleDetector []importTracker

	// Ambiguous "export *" names are reported once per pair of declarations
	// even though every module that re-exports them rediscovers the problem
	ambiguousMutex    sync.Mutex
	reportedAmbiguous map[[2]ast.Ref]bool
}

// Returns a log where "log.HasErrors()" only returns true if any errors have
// been logged since this call. This is useful when there have already been
// errors logged by the scan phase, which shares the same log.
func wrappedLog(log logger.Log) logger.Log {
	var mutex sync.Mutex
	var hasErrors bool
	addMsg := log.AddMsg

	log.AddMsg = func(msg logger.Msg) {
		if msg.Kind == logger.Error {
			mutex.Lock()
			defer mutex.Unlock()
			hasErrors = true
		}
		addMsg(msg)
	}

	log.HasErrors = func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return hasErrors
	}

	return log
}

// Links the scanned modules into a chunk plan. The input files are cloned
// first and are never mutated, so the same scan result can be linked again.
//
// The context is checked between phases. A cancelled link returns the
// context's error and no result.
func Link(
	ctx context.Context,
	log logger.Log,
	options *config.Options,
	inputFiles []graph.InputFile,
	entryPoints []graph.EntryPoint,
	reachableFiles []uint32,
) (result *Result, err error) {
	tracer := logger.Tracer()
	timer := helpers.NewTimerIfTracing(tracer)
	timer.Begin("Link")
	defer func() {
		timer.End("Link")
		timer.Log(tracer)
	}()

	log = wrappedLog(log)

	// Every dynamic import target is a chunk root of its own when splitting
	if options.CodeSplitting {
		entryPoints = addDynamicImportEntryPoints(inputFiles, entryPoints, reachableFiles)
	}

	timer.Begin("Clone linker graph")
	c := &linkerContext{
		options:           options,
		timer:             timer,
		tracer:            tracer,
		log:               log,
		graph:             graph.MakeLinkerGraph(inputFiles, entryPoints, reachableFiles),
		reportedAmbiguous: make(map[[2]ast.Ref]bool),
	}
	timer.End("Clone linker graph")

	defer c.recoverInternalError(&err)

	for _, entryPoint := range c.graph.EntryPoints {
		if entryPoint.Kind == graph.EntryPointDynamicImport {
			// Whoever imports this gets the whole namespace object
			c.graph.JS(entryPoint.SourceIndex).Meta.ForceIncludeExportsForEntryPoint = true
		}
	}

	if err := c.scanImportsAndExports(); err != nil {
		return nil, err
	}

	// Stop now if there were errors
	if c.log.HasErrors() {
		return nil, ErrLinkFailed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.warnAboutCircularDependencies()
	c.treeShakingAndCodeSplitting()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.computeChunks()
	if err := c.computeCrossChunkDependencies(); err != nil {
		return nil, err
	}
	c.deferCyclicChunkImports()
	c.warnAboutIneffectiveDynamicImports()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Make sure calls to "ast.FollowSymbols()" in parallel goroutines after this
	// won't hit concurrent map mutation hazards
	ast.FollowAllSymbols(c.graph.Symbols)

	chunks, err := c.generateChunksInParallel(ctx)
	if err != nil {
		return nil, err
	}

	tracer.Debug("link finished",
		zap.Int("modules", len(c.graph.ReachableFiles)),
		zap.Int("chunks", len(chunks)))

	return &Result{Graph: c.graph, Chunks: chunks}, nil
}

// When code splitting is active, the targets of "import()" (and of glob
// imports, which expand to a set of "import()" calls) become entry points.
// They are appended after the user's entry points in discovery order so the
// numbering is deterministic.
func addDynamicImportEntryPoints(
	inputFiles []graph.InputFile,
	entryPoints []graph.EntryPoint,
	reachableFiles []uint32,
) []graph.EntryPoint {
	isEntryPoint := make(map[uint32]bool, len(entryPoints))
	for _, entryPoint := range entryPoints {
		isEntryPoint[entryPoint.SourceIndex] = true
	}

	result := append([]graph.EntryPoint{}, entryPoints...)
	for _, sourceIndex := range reachableFiles {
		for _, record := range *inputFiles[sourceIndex].Repr.ImportRecords() {
			if !record.Kind.IsDynamic() || !record.SourceIndex.IsValid() {
				continue
			}
			if target := record.SourceIndex.GetIndex(); !isEntryPoint[target] {
				isEntryPoint[target] = true
				result = append(result, graph.EntryPoint{
					SourceIndex: target,
					Kind:        graph.EntryPointDynamicImport,
				})
			}
		}
	}
	return result
}

// Converts a panic into an error. This must be deferred directly by the
// goroutine that may panic since "recover()" only works there.
func (c *linkerContext) recoverInternalError(err *error) {
	if r := recover(); r != nil {
		stack := helpers.PrettyPrintedStack()
		c.log.AddIDWithNotes(logger.MsgID_Link_InternalError, logger.Error, nil, logger.Range{},
			fmt.Sprintf("panic: %v", r), []logger.MsgData{{Text: stack}})
		c.tracer.Error("linker panic", zap.Any("value", r), zap.String("stack", stack))
		*err = fmt.Errorf("%w: %v", ErrInternal, r)
	}
}

func (c *linkerContext) prettyPath(sourceIndex uint32) string {
	return c.graph.Files[sourceIndex].InputFile.Source.PrettyPath
}

func (c *linkerContext) source(sourceIndex uint32) *logger.Source {
	return &c.graph.Files[sourceIndex].InputFile.Source
}

// Finds the range of an identifier at the given location. Locations from
// the collaborator are not guaranteed to point at the identifier, in which
// case only the start is reported.
func rangeOfIdentifier(source *logger.Source, loc logger.Loc, name string) logger.Range {
	r := logger.Range{Loc: loc}
	end := int(loc.Start) + len(name)
	if loc.Start >= 0 && end <= len(source.Contents) && source.Contents[loc.Start:end] == name {
		r.Len = int32(len(name))
	}
	return r
}
