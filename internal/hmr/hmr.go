// Package hmr keeps a build alive between edits. A session remembers the
// last scanned bundle and its chunk plan. An update rescans only the changed
// modules, compares their export signatures with the previous ones, and
// decides how far the change has to propagate: to the direct importers when
// nothing about the exports changed, up to the nearest accepting modules
// when it did, or all the way to a full reload when an entry point is reached
// first.
package hmr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/cache"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/helpers"
	"github.com/modlink/modlink/internal/linker"
	"github.com/modlink/modlink/internal/logger"
)

var ErrNoBuild = errors.New("the session has no successful build to update")

type Session struct {
	collaborators bundler.Collaborators
	caches        *cache.CacheSet
	options       config.Options
	entryPaths    []string

	mutex      sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	current    *buildState
}

type buildState struct {
	bundle     bundler.Bundle
	result     *linker.Result
	signatures map[logger.Path]moduleSignature
}

type moduleSignature struct {
	exports Signature
	imports Signature
}

// The module that changed and what it means for the running program
type Update struct {
	Changed          logger.Path
	SignatureChanged bool

	// No module accepted the change before an entry point was reached
	FullReload bool

	// The modules that absorb the change. When the signature didn't change
	// this is the changed module itself. Empty on a full reload.
	Boundaries []logger.Path

	// Every module that has to be re-evaluated, with its new contents. This
	// is the changed module and the modules between it and the boundaries.
	Code []ModuleCode
}

type ModuleCode struct {
	Path logger.Path
	File graph.InputFile
}

type UpdateResult struct {
	Updates []Update

	// The chunk plan after the update. When no export signature changed and
	// no module was added or removed, this is the previous plan and
	// "Relinked" is false.
	Result   *linker.Result
	Relinked bool
}

func (r *UpdateResult) FullReload() bool {
	for _, update := range r.Updates {
		if update.FullReload {
			return true
		}
	}
	return false
}

func NewSession(collaborators bundler.Collaborators, options config.Options, entryPaths ...string) *Session {
	return &Session{
		collaborators: collaborators,
		caches:        cache.MakeCacheSet(),
		options:       options,
		entryPaths:    append([]string{}, entryPaths...),
	}
}

// Starts a new build or update. Whatever was in flight is cancelled and will
// not be committed.
func (s *Session) begin(ctx context.Context) (context.Context, uint64, *buildState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.generation++
	return ctx, s.generation, s.current
}

func (s *Session) commit(generation uint64, state *buildState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if generation != s.generation {
		return context.Canceled
	}
	s.current = state
	return nil
}

func (s *Session) finish(generation uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if generation == s.generation && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// The chunk plan of the last committed build or update
func (s *Session) Result() *linker.Result {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.result
}

// A full build from the entry points. Modules that haven't changed since the
// last build are not parsed again.
func (s *Session) Build(ctx context.Context, log logger.Log) (*linker.Result, error) {
	ctx, generation, _ := s.begin(ctx)
	defer s.finish(generation)

	bundle, err := bundler.ScanBundle(ctx, log, s.collaborators, s.caches, bundler.ScanInput{EntryPaths: s.entryPaths}, s.options)
	if err != nil {
		return nil, err
	}
	result, err := bundle.Compile(ctx, log, s.options)
	if err != nil {
		return nil, err
	}

	state := &buildState{bundle: bundle, result: result, signatures: signatures(&bundle)}
	if err := s.commit(generation, state); err != nil {
		return nil, err
	}
	return result, nil
}

// Applies edits to the given modules. The session state only changes if the
// update succeeds and nothing superseded it in the meantime.
func (s *Session) Update(ctx context.Context, log logger.Log, changed ...logger.Path) (*UpdateResult, error) {
	ctx, generation, previous := s.begin(ctx)
	defer s.finish(generation)
	if previous == nil {
		return nil, ErrNoBuild
	}

	tracer := logger.Tracer()
	timer := helpers.NewTimerIfTracing(tracer)
	timer.Begin("Hot update")
	defer func() {
		timer.End("Hot update")
		timer.Log(tracer)
	}()

	for _, path := range changed {
		s.caches.ParseCache.Invalidate(path)
	}

	bundle, err := bundler.ScanBundle(ctx, log, s.collaborators, s.caches, bundler.ScanInput{
		EntryPaths: s.entryPaths,
		Previous:   &previous.bundle,
		Changed:    changed,
	}, s.options)
	if err != nil {
		return nil, err
	}

	state := &buildState{bundle: bundle, result: previous.result, signatures: signatures(&bundle)}
	walker := newWalker(&bundle)
	result := &UpdateResult{Result: previous.result}
	relink := !sameModules(&previous.bundle, &bundle)
	var errs error

	for _, path := range changed {
		sourceIndex, ok := bundle.SourceIndexForPath(path)
		if _, wasKnown := previous.signatures[path]; !ok || !wasKnown || !walker.isReachable(sourceIndex) {
			errs = multierr.Append(errs, fmt.Errorf("%q is not part of the module graph", path.Text))
			continue
		}

		update := Update{
			Changed:          path,
			SignatureChanged: previous.signatures[path].exports != state.signatures[path].exports,
		}

		// A module that imports something different changes the plan even if
		// its exports stay the same
		if previous.signatures[path].imports != state.signatures[path].imports {
			relink = true
		}

		var scope, boundaries []uint32
		if update.SignatureChanged {
			relink = true
			scope, boundaries, update.FullReload = walker.propagate(sourceIndex)
		} else {
			scope = append([]uint32{sourceIndex}, walker.importersOf(sourceIndex)...)
			boundaries = []uint32{sourceIndex}
		}

		for _, other := range walker.sorted(scope) {
			file, _ := bundle.File(other)
			update.Code = append(update.Code, ModuleCode{Path: file.Source.KeyPath, File: file})
		}
		if !update.FullReload {
			for _, other := range walker.sorted(boundaries) {
				file, _ := bundle.File(other)
				update.Boundaries = append(update.Boundaries, file.Source.KeyPath)
			}
		}

		tracer.Debug("hot update",
			zap.String("changed", path.Text),
			zap.Bool("signatureChanged", update.SignatureChanged),
			zap.Bool("fullReload", update.FullReload),
			zap.Int("scope", len(update.Code)))
		result.Updates = append(result.Updates, update)
	}
	if errs != nil {
		return nil, errs
	}

	if relink {
		linked, err := bundle.Compile(ctx, log, s.options)
		if err != nil {
			return nil, err
		}
		state.result = linked
		result.Result = linked
		result.Relinked = true
	}

	if err := s.commit(generation, state); err != nil {
		return nil, err
	}
	return result, nil
}

func signatures(bundle *bundler.Bundle) map[logger.Path]moduleSignature {
	result := make(map[logger.Path]moduleSignature, len(bundle.ReachableFiles()))
	for _, sourceIndex := range bundle.ReachableFiles() {
		if file, ok := bundle.File(sourceIndex); ok {
			result[file.Source.KeyPath] = moduleSignature{
				exports: SignatureOf(file.Repr),
				imports: importsSignatureOf(file.Repr),
			}
		}
	}
	return result
}

func sameModules(a *bundler.Bundle, b *bundler.Bundle) bool {
	if len(a.ReachableFiles()) != len(b.ReachableFiles()) {
		return false
	}
	for i, sourceIndex := range a.ReachableFiles() {
		if sourceIndex != b.ReachableFiles()[i] {
			return false
		}
	}
	return true
}
