package manifest

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/graph"
	"github.com/modlink/modlink/internal/logger"
)

// Given "./x", the resolver tries these in order:
//
//	./x
//	./x.js
//	./x.mjs
//	./x.cjs
//	./x.json
//	./x/package.json "main"
//	./x/index.js (and the other extensions)
var extensionOrder = []string{".js", ".mjs", ".cjs", ".json"}

// Resolves specifiers the way node does for files on an afero file system.
// Bare specifiers are looked up in "node_modules" directories and URLs are
// always external.
type Resolver struct {
	fs   afero.Fs
	root string

	// Directories map to nil if they don't contain a "package.json" file
	packageJSONMutex sync.Mutex
	packageJSONs     map[string]*packageJSON
}

type packageJSON struct {
	dir        string
	prettyPath string
	main       string

	// A nil map means there is no "sideEffects" field. "sideEffects: false" is
	// an empty map, and a list of files is a map plus the regexps of any
	// patterns with wildcards.
	sideEffectsMap     map[string]bool
	sideEffectsRegexps []*regexp.Regexp
}

func NewResolver(fs afero.Fs, root string) *Resolver {
	if root == "" {
		root = "/"
	}
	return &Resolver{
		fs:           fs,
		root:         path.Clean(root),
		packageJSONs: make(map[string]*packageJSON),
	}
}

func IsPackagePath(specifier string) bool {
	return !strings.HasPrefix(specifier, "/") && !strings.HasPrefix(specifier, "./") &&
		!strings.HasPrefix(specifier, "../") && specifier != "." && specifier != ".."
}

func isURL(specifier string) bool {
	return strings.HasPrefix(specifier, "http://") || strings.HasPrefix(specifier, "https://") ||
		strings.HasPrefix(specifier, "//") || strings.HasPrefix(specifier, "node:")
}

func (r *Resolver) Resolve(ctx context.Context, importer logger.Path, specifier string, kind ast.ImportKind) (bundler.ResolveResult, error) {
	if err := ctx.Err(); err != nil {
		return bundler.ResolveResult{}, err
	}

	if isURL(specifier) {
		return bundler.ResolveResult{
			Path:       logger.Path{Text: specifier, Namespace: "external"},
			PrettyPath: specifier,
			IsExternal: true,
		}, nil
	}

	sourceDir := r.root
	if importer != (logger.Path{}) {
		sourceDir = path.Dir(importer.Text)
	}

	var absPath string
	var found bool
	var err error

	switch {
	case strings.HasPrefix(specifier, "/"):
		absPath, found, err = r.loadAsFileOrDirectory(path.Clean(specifier))

	case !IsPackagePath(specifier) || kind == ast.ImportEntryPoint:
		// Entry points are relative to the root even without a "./" prefix
		absPath, found, err = r.loadAsFileOrDirectory(path.Join(sourceDir, specifier))

	default:
		absPath, found, err = r.loadNodeModules(sourceDir, specifier)
	}

	if err != nil {
		return bundler.ResolveResult{}, err
	}
	if !found {
		return bundler.ResolveResult{}, fmt.Errorf("%w: %q from %q", bundler.ErrNotFound, specifier, r.prettyPath(sourceDir))
	}

	result := bundler.ResolveResult{
		Path:       logger.Path{Text: absPath, Namespace: "file"},
		PrettyPath: r.prettyPath(absPath),
	}
	if result.SideEffects, err = r.sideEffects(absPath); err != nil {
		return bundler.ResolveResult{}, err
	}

	logger.Tracer().Debug("resolved",
		zap.String("specifier", specifier),
		zap.String("path", absPath),
		zap.Stringer("kind", kind))
	return result, nil
}

func (r *Resolver) prettyPath(absPath string) string {
	if r.root == "/" {
		return strings.TrimPrefix(absPath, "/")
	}
	if rel := strings.TrimPrefix(absPath, r.root+"/"); rel != absPath {
		return rel
	}
	return absPath
}

func (r *Resolver) isFile(absPath string) bool {
	info, err := r.fs.Stat(absPath)
	return err == nil && !info.IsDir()
}

func (r *Resolver) isDir(absPath string) bool {
	info, err := r.fs.Stat(absPath)
	return err == nil && info.IsDir()
}

func (r *Resolver) loadAsFile(absPath string) (string, bool) {
	if r.isFile(absPath) {
		return absPath, true
	}
	for _, ext := range extensionOrder {
		if r.isFile(absPath + ext) {
			return absPath + ext, true
		}
	}
	return "", false
}

func (r *Resolver) loadAsFileOrDirectory(absPath string) (string, bool, error) {
	if result, ok := r.loadAsFile(absPath); ok {
		return result, true, nil
	}
	if !r.isDir(absPath) {
		return "", false, nil
	}

	// Try the "main" field of "package.json"
	pkg, err := r.packageJSONForDir(absPath)
	if err != nil {
		return "", false, err
	}
	if pkg != nil && pkg.main != "" {
		mainPath := path.Join(absPath, pkg.main)
		if result, ok := r.loadAsFile(mainPath); ok {
			return result, true, nil
		}
		if result, ok := r.loadAsFile(path.Join(mainPath, "index")); ok {
			return result, true, nil
		}
	}

	result, ok := r.loadAsFile(path.Join(absPath, "index"))
	return result, ok, nil
}

// Searches "node_modules" in every parent directory of the importer
func (r *Resolver) loadNodeModules(sourceDir string, specifier string) (string, bool, error) {
	dir := sourceDir
	for {
		if path.Base(dir) != "node_modules" {
			result, found, err := r.loadAsFileOrDirectory(path.Join(dir, "node_modules", specifier))
			if err != nil || found {
				return result, found, err
			}
		}

		parent := path.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

func (r *Resolver) packageJSONForDir(dir string) (*packageJSON, error) {
	r.packageJSONMutex.Lock()
	pkg, ok := r.packageJSONs[dir]
	r.packageJSONMutex.Unlock()
	if ok {
		return pkg, nil
	}

	pkgPath := path.Join(dir, "package.json")
	if r.isFile(pkgPath) {
		contents, err := afero.ReadFile(r.fs, pkgPath)
		if err != nil {
			return nil, err
		}
		if pkg, err = r.parsePackageJSON(dir, string(contents)); err != nil {
			return nil, err
		}
	}

	r.packageJSONMutex.Lock()
	r.packageJSONs[dir] = pkg
	r.packageJSONMutex.Unlock()
	return pkg, nil
}

func (r *Resolver) parsePackageJSON(dir string, contents string) (*packageJSON, error) {
	pkg := &packageJSON{
		dir:        dir,
		prettyPath: r.prettyPath(path.Join(dir, "package.json")),
	}
	if !gjson.Valid(contents) {
		return nil, fmt.Errorf("invalid JSON in %q", pkg.prettyPath)
	}

	if main := gjson.Get(contents, "main"); main.Type == gjson.String {
		pkg.main = main.Str
	}

	// Read the "sideEffects" property
	switch sideEffects := gjson.Get(contents, "sideEffects"); {
	case !sideEffects.Exists():

	case sideEffects.Type == gjson.False:
		pkg.sideEffectsMap = make(map[string]bool)

	case sideEffects.Type == gjson.True:

	case sideEffects.IsArray():
		// The "sideEffects: []" format means all files in this module but not
		// in the array can be considered to not have side effects
		pkg.sideEffectsMap = make(map[string]bool)
		for _, item := range sideEffects.Array() {
			if item.Type != gjson.String {
				return nil, fmt.Errorf("expected string in array for \"sideEffects\" in %q", pkg.prettyPath)
			}

			absPattern := path.Join(dir, item.Str)
			re, hadWildcard := globToEscapedRegexp(absPattern)

			// Wildcard patterns require more expensive matching
			if hadWildcard {
				pkg.sideEffectsRegexps = append(pkg.sideEffectsRegexps, regexp.MustCompile(re))
				continue
			}

			// Normal strings can be matched with a map lookup
			pkg.sideEffectsMap[absPattern] = true
		}

	default:
		return nil, fmt.Errorf("the value for \"sideEffects\" in %q must be a boolean or an array", pkg.prettyPath)
	}

	return pkg, nil
}

func globToEscapedRegexp(glob string) (string, bool) {
	sb := strings.Builder{}
	sb.WriteByte('^')
	hadWildcard := false

	for _, c := range glob {
		switch c {
		case '\\', '^', '$', '.', '+', '|', '(', ')', '[', ']', '{', '}':
			sb.WriteByte('\\')
			sb.WriteRune(c)

		case '*':
			sb.WriteString(".*")
			hadWildcard = true

		case '?':
			sb.WriteByte('.')
			hadWildcard = true

		default:
			sb.WriteRune(c)
		}
	}

	sb.WriteByte('$')
	return sb.String(), hadWildcard
}

// The nearest "package.json" decides
func (r *Resolver) sideEffects(absPath string) (graph.SideEffects, error) {
	dir := path.Dir(absPath)
	for {
		pkg, err := r.packageJSONForDir(dir)
		if err != nil {
			return graph.SideEffects{}, err
		}

		if pkg != nil {
			if pkg.sideEffectsMap == nil {
				return graph.SideEffects{}, nil
			}
			hasSideEffects := pkg.sideEffectsMap[absPath]
			for _, re := range pkg.sideEffectsRegexps {
				if re.MatchString(absPath) {
					hasSideEffects = true
					break
				}
			}
			if hasSideEffects {
				return graph.SideEffects{}, nil
			}
			return graph.SideEffects{
				Kind:            graph.NoSideEffects_PackageJSON,
				PackageJSONPath: pkg.prettyPath,
			}, nil
		}

		parent := path.Dir(dir)
		if parent == dir || !strings.HasPrefix(dir, r.root) {
			return graph.SideEffects{}, nil
		}
		dir = parent
	}
}
