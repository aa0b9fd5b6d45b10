package bundler

import (
	"context"
	"errors"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/logger"
)

// Resolvers return an error wrapping this when a specifier doesn't name any
// module. Other errors are reported as-is.
var ErrNotFound = errors.New("module not found")

type Resolver interface {
	// The importer is the zero path for entry points
	Resolve(ctx context.Context, importer logger.Path, specifier string, kind ast.ImportKind) (ResolveResult, error)
}

type ResolveResult struct {
	Path logger.Path

	// Used in messages and in the chunk plan. Defaults to the path text.
	PrettyPath string

	// If true, the module is not part of the bundle and is imported at run-time
	IsExternal bool

	// Packages may declare their modules free of side effects
	SideEffects graph.SideEffects
}

type Loader interface {
	Load(ctx context.Context, path logger.Path) (string, error)
}

type Parser interface {
	// Returns one of "*graph.ESMRepr", "*graph.CJSRepr", "*graph.JSONRepr" or
	// "*graph.AssetRepr". The result must not depend on any other module since
	// it is cached by content.
	Parse(ctx context.Context, source logger.Source) (graph.InputFileRepr, error)
}

type Collaborators struct {
	Resolver Resolver
	Loader   Loader
	Parser   Parser
}
