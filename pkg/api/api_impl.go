package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/cache"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/hmr"
	"github.com/modlink/modlink/internal/linker"
	"github.com/modlink/modlink/internal/logger"
	"github.com/modlink/modlink/internal/manifest"
	modruntime "github.com/modlink/modlink/internal/runtime"
)

func validateColor(value StderrColor) logger.StderrColor {
	switch value {
	case ColorIfTerminal:
		return logger.ColorIfTerminal
	case ColorNever:
		return logger.ColorNever
	case ColorAlways:
		return logger.ColorAlways
	default:
		panic("Invalid color")
	}
}

func validateLogLevel(value LogLevel) logger.LogLevel {
	switch value {
	case LogLevelVerbose:
		return logger.LevelVerbose
	case LogLevelDebug:
		return logger.LevelDebug
	case LogLevelInfo:
		return logger.LevelInfo
	case LogLevelWarning:
		return logger.LevelWarning
	case LogLevelError:
		return logger.LevelError
	case LogLevelSilent:
		return logger.LevelSilent
	default:
		panic("Invalid log level")
	}
}

// Everything derived from the options before any module is read
type setupResult struct {
	config config.Options
	fs     afero.Fs
	root   string
	errors []Message
}

func validateOptions(options BuildOptions) setupResult {
	var errs []Message
	addError := func(format string, args ...interface{}) {
		errs = append(errs, Message{Text: fmt.Sprintf(format, args...)})
	}

	fs := options.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	root := options.AbsWorkingDir
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = filepath.ToSlash(cwd)
		} else {
			root = "/"
		}
	}
	if !path.IsAbs(root) {
		addError("The working directory %q is not an absolute path", root)
	}
	root = path.Clean(root)

	// Defaults, then the config file, then the environment
	cfg := config.DefaultOptions()
	if options.ConfigFile != "" {
		loaded, err := config.Load(fs, absPath(root, options.ConfigFile))
		if err != nil {
			addError("%s", err.Error())
		} else {
			cfg = loaded
		}
	}
	if options.LookupEnv != nil {
		if err := config.ApplyEnv(&cfg, options.LookupEnv); err != nil {
			addError("%s", err.Error())
		}
	}

	switch options.Splitting {
	case SplittingFalse:
		cfg.CodeSplitting = false
	case SplittingTrue:
		cfg.CodeSplitting = true
	}
	switch options.TreeShaking {
	case TreeShakingFalse:
		cfg.TreeShaking = false
	case TreeShakingTrue:
		cfg.TreeShaking = true
	}
	if options.KeepNames {
		cfg.KeepNames = true
	}
	if options.OneModulePerChunk {
		cfg.OneModulePerChunk = true
	}
	if options.IgnoreAnnotations {
		cfg.IgnoreAnnotations = true
	}

	if options.Concurrency < 0 {
		addError("Invalid concurrency: %d", options.Concurrency)
	} else if options.Concurrency > 0 {
		cfg.Concurrency = options.Concurrency
	}

	for _, pattern := range options.External {
		if strings.Count(pattern, "*") > 1 {
			addError("External path %q cannot have more than one \"*\" wildcard", pattern)
		}
	}
	cfg.External = append(cfg.External, options.External...)

	if options.MergeSmallChunks < 0 {
		addError("Invalid chunk merge limit: %d", options.MergeSmallChunks)
	} else if options.MergeSmallChunks > 0 {
		cfg.ChunkMergePolicy = config.SmallChunkPolicy{MaxParts: options.MergeSmallChunks}
	}

	for id, level := range options.LogOverride {
		if cfg.LogOverrides == nil {
			cfg.LogOverrides = make(map[logger.MsgID]logger.LogLevel)
		}
		logger.StringToMsgIDs(id, validateLogLevel(level), cfg.LogOverrides)
	}

	if len(options.EntryPoints) == 0 {
		addError("Must provide at least one entry point")
	}

	return setupResult{
		config: cfg,
		fs:     fs,
		root:   root,
		errors: errs,
	}
}

func absPath(root string, text string) string {
	text = filepath.ToSlash(text)
	if path.IsAbs(text) {
		return path.Clean(text)
	}
	return path.Join(root, text)
}

func (setup *setupResult) prettyPath(absPath string) string {
	if setup.root == "/" {
		return strings.TrimPrefix(absPath, "/")
	}
	if rel := strings.TrimPrefix(absPath, setup.root+"/"); rel != absPath {
		return rel
	}
	return absPath
}

func (setup *setupResult) newLog(options BuildOptions) logger.Log {
	if options.LogLevel == LogLevelSilent {
		return logger.NewDeferLog(setup.config.LogLevel, setup.config.LogOverrides)
	}
	return logger.NewStderrLog(logger.OutputOptions{
		IncludeSource: true,
		Color:         validateColor(options.Color),
		LogLevel:      validateLogLevel(options.LogLevel),
		Overrides:     setup.config.LogOverrides,
	})
}

func convertLocationToPublic(loc *logger.MsgLocation) *Location {
	if loc == nil {
		return nil
	}
	return &Location{
		File:     loc.File,
		Line:     loc.Line,
		Column:   loc.Column,
		Length:   loc.Length,
		LineText: loc.LineText,
	}
}

func messagesOfKind(kind logger.MsgKind, msgs []logger.Msg) []Message {
	var filtered []Message
	for _, msg := range msgs {
		if msg.Kind != kind {
			continue
		}
		var notes []Note
		for _, note := range msg.Notes {
			notes = append(notes, Note{
				Text:     note.Text,
				Location: convertLocationToPublic(note.Location),
			})
		}
		filtered = append(filtered, Message{
			ID:       logger.MsgIDToString(msg.ID),
			Text:     msg.Data.Text,
			Location: convertLocationToPublic(msg.Data.Location),
			Notes:    notes,
		})
	}
	return filtered
}

// Failures that reached the log are already in "msgs". Anything else, like
// a cancellation, is turned into a message here so that it isn't lost.
func appendUnloggedErrors(msgs []Message, err error) []Message {
	if err == nil || len(msgs) > 0 {
		return msgs
	}
	for _, e := range multierr.Errors(err) {
		msgs = append(msgs, Message{Text: e.Error()})
	}
	return msgs
}

func chunksOf(plan *linker.Result) []Chunk {
	prettyPath := func(sourceIndex uint32) string {
		return plan.Graph.Files[sourceIndex].InputFile.Source.PrettyPath
	}

	chunks := make([]Chunk, len(plan.Chunks))
	for i, chunk := range plan.Chunks {
		out := Chunk{Name: chunk.Name}
		if chunk.IsEntryPoint {
			out.Entry = prettyPath(chunk.SourceIndex)
		}
		for _, sourceIndex := range chunk.FilesInOrder {
			out.Modules = append(out.Modules, prettyPath(sourceIndex))
		}
		for _, chunkImport := range chunk.ImportsFromOtherChunks {
			item := ChunkImport{
				Chunk:    plan.Chunks[chunkImport.ChunkIndex].Name,
				Deferred: chunkImport.Deferred,
			}
			for _, name := range chunkImport.Items {
				item.Names = append(item.Names, name.Alias)
			}
			out.Imports = append(out.Imports, item)
		}
		for _, export := range chunk.ExportsToOtherChunks {
			out.Exports = append(out.Exports, export.Alias)
		}
		for _, export := range chunk.EntryExports {
			out.EntryExports = append(out.EntryExports, Export{Alias: export.Alias, Name: export.Name})
		}
		for _, other := range chunk.DynamicImports {
			out.DynamicImports = append(out.DynamicImports, plan.Chunks[other].Name)
		}
		chunks[i] = out
	}
	return chunks
}

func runImpl(plan *linker.Result, keepNames bool, entry string) (RunResult, error) {
	if plan == nil {
		return RunResult{}, errors.New("there is nothing to run because the build failed")
	}
	exec, err := modruntime.RunEntry(plan, entry, modruntime.Options{KeepNames: keepNames})
	var thrown *modruntime.RuntimeError
	if errors.As(err, &thrown) {
		return RunResult{Trace: thrown.Trace, Thrown: thrown.Text}, nil
	}
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{Trace: exec.Trace}, nil
}

////////////////////////////////////////////////////////////////////////////////
// Build API

func buildImpl(ctx context.Context, options BuildOptions) BuildResult {
	// Stop now if the options are invalid
	setup := validateOptions(options)
	if len(setup.errors) > 0 {
		return BuildResult{Errors: setup.errors}
	}
	collaborators := manifest.NewCollaborators(setup.fs, setup.root)

	// Scan over the bundle
	scanLog := setup.newLog(options)
	bundle, err := bundler.ScanBundle(ctx, scanLog, collaborators, cache.MakeCacheSet(),
		bundler.ScanInput{EntryPaths: options.EntryPoints}, setup.config)
	scanMsgs := scanLog.Done()
	result := BuildResult{
		Errors:    messagesOfKind(logger.Error, scanMsgs),
		Warnings:  messagesOfKind(logger.Warning, scanMsgs),
		keepNames: setup.config.KeepNames,
	}

	// Stop now if there were errors
	if err != nil {
		result.Errors = appendUnloggedErrors(result.Errors, err)
		return result
	}

	// Compile the bundle
	compileLog := setup.newLog(options)
	plan, err := bundle.Compile(ctx, compileLog, setup.config)
	compileMsgs := compileLog.Done()
	result.Errors = append(result.Errors, messagesOfKind(logger.Error, compileMsgs)...)
	result.Warnings = append(result.Warnings, messagesOfKind(logger.Warning, compileMsgs)...)
	if err != nil {
		result.Errors = appendUnloggedErrors(result.Errors, err)
		return result
	}

	result.plan = plan
	result.Chunks = chunksOf(plan)
	return result
}

////////////////////////////////////////////////////////////////////////////////
// Session API

func newSessionImpl(options BuildOptions) *Session {
	s := &Session{
		options: options,
		setup:   validateOptions(options),
	}
	if len(s.setup.errors) == 0 {
		collaborators := manifest.NewCollaborators(s.setup.fs, s.setup.root)
		s.inner = hmr.NewSession(collaborators, s.setup.config, options.EntryPoints...)
	}
	return s
}

func (s *Session) rebuildImpl(ctx context.Context) BuildResult {
	if s.inner == nil {
		return BuildResult{Errors: s.setup.errors}
	}

	log := s.setup.newLog(s.options)
	plan, err := s.inner.Build(ctx, log)
	msgs := log.Done()
	result := BuildResult{
		Errors:    messagesOfKind(logger.Error, msgs),
		Warnings:  messagesOfKind(logger.Warning, msgs),
		keepNames: s.setup.config.KeepNames,
	}
	if err != nil {
		result.Errors = appendUnloggedErrors(result.Errors, err)
		return result
	}

	result.plan = plan
	result.Chunks = chunksOf(plan)
	return result
}

func (s *Session) updateImpl(ctx context.Context, changed []string) UpdateResult {
	if s.inner == nil {
		return UpdateResult{Errors: s.setup.errors}
	}

	paths := make([]logger.Path, len(changed))
	for i, text := range changed {
		paths[i] = logger.Path{Text: absPath(s.setup.root, text), Namespace: "file"}
	}

	log := s.setup.newLog(s.options)
	updated, err := s.inner.Update(ctx, log, paths...)
	msgs := log.Done()
	result := UpdateResult{
		Errors:   messagesOfKind(logger.Error, msgs),
		Warnings: messagesOfKind(logger.Warning, msgs),
	}
	if err != nil {
		result.Errors = appendUnloggedErrors(result.Errors, err)
		return result
	}

	for _, update := range updated.Updates {
		out := ModuleUpdate{
			Changed:          s.setup.prettyPath(update.Changed.Text),
			SignatureChanged: update.SignatureChanged,
			FullReload:       update.FullReload,
		}
		for _, boundary := range update.Boundaries {
			out.Boundaries = append(out.Boundaries, s.setup.prettyPath(boundary.Text))
		}
		for _, code := range update.Code {
			out.Modules = append(out.Modules, code.File.Source.PrettyPath)
		}
		result.Updates = append(result.Updates, out)
	}
	result.FullReload = updated.FullReload()
	result.Relinked = updated.Relinked
	result.Chunks = chunksOf(updated.Result)
	return result
}
