package bundler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/cache"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/linker"
	"github.com/modlink/modlink/internal/logger"
)

type scannedFile struct {
	inputFile graph.InputFile

	// One per import record. Nil if resolution failed.
	resolveResults []*ResolveResult

	ok bool
}

type Bundle struct {
	files          []scannedFile
	visited        map[logger.Path]uint32
	entryPoints    []graph.EntryPoint
	reachableFiles []uint32
	caches         *cache.CacheSet
}

type ScanInput struct {
	EntryPaths []string

	// For an incremental rescan. Modules from the previous bundle are reused
	// without loading, parsing or resolving them again unless they are listed
	// in "Changed" or failed last time. Modules that are no longer reachable
	// are left out of the new bundle.
	Previous *Bundle
	Changed  []logger.Path
}

type parseArgs struct {
	ctx             context.Context
	log             logger.Log
	collaborators   Collaborators
	caches          *cache.CacheSet
	options         *config.Options
	sem             *semaphore.Weighted
	results         chan parseResult
	importSource    *logger.Source
	keyPath         logger.Path
	prettyPath      string
	sideEffects     graph.SideEffects
	importPathRange logger.Range
	sourceIndex     uint32
}

type parseResult struct {
	errs        []error
	file        scannedFile
	sourceIndex uint32
}

var errExternalEntryPoint = errors.New("entry points cannot be external")

func parseFile(args parseArgs) {
	result := parseResult{sourceIndex: args.sourceIndex}

	// Every claim reports back exactly once unless the scan was abandoned
	defer func() {
		select {
		case args.results <- result:
		case <-args.ctx.Done():
		}
	}()

	if err := args.sem.Acquire(args.ctx, 1); err != nil {
		return
	}
	defer args.sem.Release(1)

	source := logger.Source{
		Index:          args.sourceIndex,
		KeyPath:        args.keyPath,
		PrettyPath:     args.prettyPath,
		IdentifierName: helpers.IdentifierNameFromPath(args.keyPath.Text),
	}

	contents, err := args.collaborators.Loader.Load(args.ctx, args.keyPath)
	if err != nil {
		if args.ctx.Err() != nil {
			return
		}
		args.log.AddID(logger.MsgID_Scan_LoadFailed, logger.Error, args.importSource, args.importPathRange,
			fmt.Sprintf("Could not load %q: %s", args.prettyPath, err.Error()))
		result.errs = append(result.errs, &LoadError{Path: args.keyPath, Err: err})
		return
	}
	source.Contents = contents

	repr, err := args.caches.ParseCache.Parse(args.ctx, source, args.collaborators.Parser.Parse)
	if err != nil {
		if args.ctx.Err() != nil {
			return
		}
		var syntaxErr *SyntaxError
		if errors.As(err, &syntaxErr) {
			args.log.AddID(logger.MsgID_Scan_ParseFailed, logger.Error, &source, syntaxErr.Range, syntaxErr.Text)
		} else {
			args.log.AddID(logger.MsgID_Scan_ParseFailed, logger.Error, &source, logger.Range{},
				fmt.Sprintf("Could not parse %q: %s", args.prettyPath, err.Error()))
		}
		result.errs = append(result.errs, &ParseError{Path: args.keyPath, Err: err})
		return
	}

	// Clone the import records because they will be mutated later
	repr = graph.CloneRepr(repr)

	sideEffects := args.sideEffects
	switch repr.(type) {
	case *graph.JSONRepr, *graph.AssetRepr:
		sideEffects.Kind = graph.NoSideEffects_PureData
	}

	result.file = scannedFile{
		inputFile: graph.InputFile{
			Source:      source,
			Repr:        repr,
			SideEffects: sideEffects,
		},
	}

	// Run the resolver on the worker so it's not run on the main goroutine.
	// That way the main goroutine isn't blocked if the resolver takes a while.
	records := *repr.ImportRecords()
	result.file.resolveResults = make([]*ResolveResult, len(records))
	resolverCache := make(map[ast.ImportKind]map[string]*ResolveResult)

	for importRecordIndex := range records {
		record := &records[importRecordIndex]

		// Cache the path in case it's imported multiple times in this module
		cache, ok := resolverCache[record.Kind]
		if !ok {
			cache = make(map[string]*ResolveResult)
			resolverCache[record.Kind] = cache
		}
		if resolveResult, ok := cache[record.Specifier]; ok {
			result.file.resolveResults[importRecordIndex] = resolveResult
			continue
		}

		if args.options.IsExternal(record.Specifier) {
			resolveResult := externalResult(record.Specifier)
			cache[record.Specifier] = resolveResult
			result.file.resolveResults[importRecordIndex] = resolveResult
			continue
		}

		resolveResult, err := args.collaborators.Resolver.Resolve(args.ctx, args.keyPath, record.Specifier, record.Kind)
		if err != nil {
			if args.ctx.Err() != nil {
				return
			}

			// Failed imports inside a try/catch are silently turned into
			// external imports instead of causing errors. This matches a common
			// code pattern for conditionally importing a module with a graceful
			// fallback.
			if record.Flags.Has(ast.HandlesImportErrors) {
				args.log.AddID(logger.MsgID_Scan_IgnoredUnresolvedImport, logger.Warning, &source, record.Range,
					fmt.Sprintf("Could not resolve %q, so it will be left as a run-time import that throws", record.Specifier))
				external := externalResult(record.Specifier)
				cache[record.Specifier] = external
				result.file.resolveResults[importRecordIndex] = external
				continue
			}

			hint := ""
			if errors.Is(err, ErrNotFound) {
				hint = " (mark it as external to exclude it from the bundle)"
			}
			args.log.AddID(logger.MsgID_Scan_UnresolvedImport, logger.Error, &source, record.Range,
				fmt.Sprintf("Could not resolve %q%s", record.Specifier, hint))
			result.errs = append(result.errs, &ResolutionError{
				Importer:  args.keyPath,
				Specifier: record.Specifier,
				Err:       err,
			})
			cache[record.Specifier] = nil
			continue
		}

		if resolveResult.PrettyPath == "" {
			resolveResult.PrettyPath = resolveResult.Path.Text
		}
		if args.options.IgnoreAnnotations {
			resolveResult.SideEffects = graph.SideEffects{}
		}
		cache[record.Specifier] = &resolveResult
		result.file.resolveResults[importRecordIndex] = &resolveResult
	}

	result.file.ok = true
}

func externalResult(specifier string) *ResolveResult {
	return &ResolveResult{
		Path:       logger.Path{Text: specifier, Namespace: "external"},
		PrettyPath: specifier,
		IsExternal: true,
	}
}

// Discovers every module reachable from the entry points. Loading, parsing
// and resolving run on a bounded pool of goroutines while this goroutine owns
// the visited map, so each module is claimed exactly once no matter how many
// modules import it concurrently. Linking only starts after every claim has
// reported back.
//
// Per-module failures don't stop the traversal. They are all logged and then
// returned together. Cancelling the context abandons the scan: the returned
// bundle is empty and the error is the context's error.
func ScanBundle(
	ctx context.Context,
	log logger.Log,
	collaborators Collaborators,
	caches *cache.CacheSet,
	input ScanInput,
	options config.Options,
) (Bundle, error) {
	tracer := logger.Tracer()
	timer := helpers.NewTimerIfTracing(tracer)
	timer.Begin("Scan phase")
	defer func() {
		timer.End("Scan phase")
		timer.Log(tracer)
	}()

	if options.Concurrency < 1 {
		options.Concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(options.Concurrency))
	results := make([]parseResult, 0, caches.SourceIndexCache.LenHint())
	visited := make(map[logger.Path]uint32)
	resultChannel := make(chan parseResult)
	workers := sync.WaitGroup{}
	remaining := 0
	var errs []error

	changed := make(map[logger.Path]bool, len(input.Changed))
	for _, path := range input.Changed {
		changed[path] = true
	}

	maybeParseFile := func(
		resolveResult ResolveResult,
		importSource *logger.Source,
		importPathRange logger.Range,
	) uint32 {
		path := resolveResult.Path
		if sourceIndex, ok := visited[path]; ok {
			return sourceIndex
		}

		// Allocate a source index using the shared source index cache so that
		// subsequent builds reuse the same source index and therefore use the
		// cached parse results for increased speed.
		sourceIndex := caches.SourceIndexCache.Get(path)
		visited[path] = sourceIndex

		// Grow the results array to fit this source index
		if newLen := int(sourceIndex) + 1; len(results) < newLen {
			// Reallocate to a bigger array
			if cap(results) < newLen {
				results = append(make([]parseResult, 0, 2*newLen), results...)
			}

			// Grow in place
			results = results[:newLen]
		}

		remaining++
		workers.Add(1)

		if previous := input.Previous.reusableFile(sourceIndex, path); previous != nil && !changed[path] {
			tracer.Debug("reuse module", zap.Stringer("path", path), zap.Uint32("source_index", sourceIndex))
			go func() {
				defer workers.Done()
				select {
				case resultChannel <- parseResult{file: *previous, sourceIndex: sourceIndex}:
				case <-ctx.Done():
				}
			}()
			return sourceIndex
		}

		tracer.Debug("claim module", zap.Stringer("path", path), zap.Uint32("source_index", sourceIndex))
		args := parseArgs{
			ctx:             ctx,
			log:             log,
			collaborators:   collaborators,
			caches:          caches,
			options:         &options,
			sem:             sem,
			results:         resultChannel,
			importSource:    importSource,
			keyPath:         path,
			prettyPath:      resolveResult.PrettyPath,
			sideEffects:     resolveResult.SideEffects,
			importPathRange: importPathRange,
			sourceIndex:     sourceIndex,
		}
		go func() {
			defer workers.Done()
			parseFile(args)
		}()
		return sourceIndex
	}

	entryPoints := []graph.EntryPoint{}
	duplicateEntryPoints := make(map[logger.Path]bool)

	for _, entryPath := range input.EntryPaths {
		resolveResult, err := collaborators.Resolver.Resolve(ctx, logger.Path{}, entryPath, ast.ImportEntryPoint)
		if err == nil && resolveResult.IsExternal {
			err = errExternalEntryPoint
		}
		if err != nil {
			if ctx.Err() != nil {
				cancel()
				workers.Wait()
				return Bundle{}, ctx.Err()
			}
			log.AddID(logger.MsgID_Scan_UnresolvedImport, logger.Error, nil, logger.Range{},
				fmt.Sprintf("Could not resolve entry point %q: %s", entryPath, err.Error()))
			errs = append(errs, &ResolutionError{Specifier: entryPath, Err: err})
			continue
		}

		if duplicateEntryPoints[resolveResult.Path] {
			continue
		}
		duplicateEntryPoints[resolveResult.Path] = true

		if resolveResult.PrettyPath == "" {
			resolveResult.PrettyPath = resolveResult.Path.Text
		}
		if options.IgnoreAnnotations {
			resolveResult.SideEffects = graph.SideEffects{}
		}
		sourceIndex := maybeParseFile(resolveResult, nil, logger.Range{})
		entryPoints = append(entryPoints, graph.EntryPoint{
			SourceIndex: sourceIndex,
			Kind:        graph.EntryPointUserSpecified,
		})
	}

	// Continue scanning until all dependencies have been discovered
	for remaining > 0 {
		var result parseResult
		select {
		case result = <-resultChannel:
		case <-ctx.Done():
			workers.Wait()
			return Bundle{}, ctx.Err()
		}
		remaining--
		errs = append(errs, result.errs...)

		if result.file.ok {
			records := *result.file.inputFile.Repr.ImportRecords()
			for importRecordIndex := range records {
				record := &records[importRecordIndex]

				// Skip this import record if the previous resolver call failed
				resolveResult := result.file.resolveResults[importRecordIndex]
				if resolveResult == nil {
					continue
				}

				record.Path = resolveResult.Path
				if !resolveResult.IsExternal {
					// Handle a path within the bundle
					sourceIndex := maybeParseFile(*resolveResult, &result.file.inputFile.Source, record.Range)
					record.SourceIndex = ast.MakeIndex32(sourceIndex)
				} else {
					record.SourceIndex = ast.Index32{}
				}
			}
		}

		results[result.sourceIndex] = result
	}
	workers.Wait()

	// A superseded scan never produces a bundle
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	files := make([]scannedFile, len(results))
	for sourceIndex, result := range results {
		files[sourceIndex] = result.file
	}

	bundle := Bundle{
		files:          files,
		visited:        visited,
		entryPoints:    entryPoints,
		reachableFiles: findReachableFiles(files, entryPoints),
		caches:         caches,
	}

	sort.SliceStable(errs, func(i, j int) bool {
		return errorSortKey(errs[i]) < errorSortKey(errs[j])
	})
	tracer.Debug("scan finished",
		zap.Int("modules", len(bundle.reachableFiles)),
		zap.Int("errors", len(errs)))
	return bundle, multierr.Combine(errs...)
}

// The result can be mutated by the new scan without affecting the previous
// bundle, which may still be in use.
func (b *Bundle) reusableFile(sourceIndex uint32, path logger.Path) *scannedFile {
	if b == nil || int(sourceIndex) >= len(b.files) {
		return nil
	}
	previous := &b.files[sourceIndex]
	if !previous.ok || previous.inputFile.Source.KeyPath != path {
		return nil
	}
	clone := *previous
	clone.inputFile.Repr = graph.CloneRepr(previous.inputFile.Repr)
	return &clone
}

// This returns modules in the order they are first finished being visited by
// a depth-first traversal of the entry points in order and of each module's
// import records in order. This order is what makes builds deterministic:
// source indices depend on scheduling but this order doesn't.
func findReachableFiles(files []scannedFile, entryPoints []graph.EntryPoint) []uint32 {
	visited := make(map[uint32]bool)
	var order []uint32
	var visit func(uint32)

	visit = func(sourceIndex uint32) {
		if !visited[sourceIndex] {
			visited[sourceIndex] = true
			file := &files[sourceIndex]
			if !file.ok {
				return
			}
			for _, record := range *file.inputFile.Repr.ImportRecords() {
				if record.SourceIndex.IsValid() {
					visit(record.SourceIndex.GetIndex())
				}
			}

			// Each module must come after its dependencies
			order = append(order, sourceIndex)
		}
	}

	for _, entryPoint := range entryPoints {
		visit(entryPoint.SourceIndex)
	}
	return order
}

func (b *Bundle) InputFiles() []graph.InputFile {
	inputFiles := make([]graph.InputFile, len(b.files))
	for sourceIndex, file := range b.files {
		inputFiles[sourceIndex] = file.inputFile
	}
	return inputFiles
}

func (b *Bundle) EntryPoints() []graph.EntryPoint {
	return b.entryPoints
}

func (b *Bundle) ReachableFiles() []uint32 {
	return b.reachableFiles
}

func (b *Bundle) File(sourceIndex uint32) (graph.InputFile, bool) {
	if int(sourceIndex) >= len(b.files) || !b.files[sourceIndex].ok {
		return graph.InputFile{}, false
	}
	return b.files[sourceIndex].inputFile, true
}

func (b *Bundle) SourceIndexForPath(path logger.Path) (uint32, bool) {
	sourceIndex, ok := b.visited[path]
	return sourceIndex, ok
}

// Links the scanned modules. The bundle itself is not modified, so the same
// bundle can be compiled again or used as the base of an incremental rescan.
func (b *Bundle) Compile(ctx context.Context, log logger.Log, options config.Options) (*linker.Result, error) {
	return linker.Link(ctx, log, &options, b.InputFiles(), b.entryPoints, b.reachableFiles)
}
