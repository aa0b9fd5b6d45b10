// Package manifest provides the collaborators that read modules from a file
// system: a node-style resolver, a loader and a parser for module manifests.
// The tests and the command-line tool link these.
package manifest

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/logger"
)

type Loader struct {
	fs afero.Fs
}

func NewLoader(fs afero.Fs) *Loader {
	return &Loader{fs: fs}
}

func (l *Loader) Load(ctx context.Context, path logger.Path) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if path.Namespace != "file" {
		return "", fmt.Errorf("cannot load from namespace %q", path.Namespace)
	}
	contents, err := afero.ReadFile(l.fs, path.Text)
	if err != nil {
		return "", err
	}
	return string(contents), nil
}

// All three collaborators share the file system. Paths are resolved
// relative to "root".
func NewCollaborators(fs afero.Fs, root string) bundler.Collaborators {
	return bundler.Collaborators{
		Resolver: NewResolver(fs, root),
		Loader:   NewLoader(fs),
		Parser:   NewParser(),
	}
}
