package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/modlink/modlink/internal/exitcode"
	"github.com/modlink/modlink/pkg/api"
)

// Flags shared by every command that builds
type buildFlags struct {
	splitting         bool
	treeShaking       bool
	keepNames         bool
	oneModulePerChunk bool
	ignoreAnnotations bool
	concurrency       int
	mergeSmallChunks  int
	external          []string
}

func (f *buildFlags) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.BoolVar(&f.splitting, "splitting", true, "move shared and dynamically imported modules into chunks of their own")
	flags.BoolVar(&f.treeShaking, "tree-shaking", true, "drop statements that nothing uses")
	flags.BoolVar(&f.keepNames, "keep-names", false, "keep the original names of renamed functions and classes")
	flags.BoolVar(&f.oneModulePerChunk, "one-module-per-chunk", false, "put every module in a chunk of its own")
	flags.BoolVar(&f.ignoreAnnotations, "ignore-annotations", false, "ignore \"sideEffects\" in package.json files")
	flags.IntVar(&f.concurrency, "concurrency", 0, "how many modules to load and parse at once (default: the number of CPUs)")
	flags.IntVar(&f.mergeSmallChunks, "merge-small-chunks", 0, "merge side-effect free shared chunks with at most this many statements")
	flags.StringSliceVar(&f.external, "external", nil, "leave imports matching this pattern out of the bundle (may contain one \"*\")")
	return flags
}

func parseLogLevel(text string) (api.LogLevel, error) {
	switch text {
	case "verbose":
		return api.LogLevelVerbose, nil
	case "debug":
		return api.LogLevelDebug, nil
	case "info":
		return api.LogLevelInfo, nil
	case "warning":
		return api.LogLevelWarning, nil
	case "error":
		return api.LogLevelError, nil
	case "silent":
		return api.LogLevelSilent, nil
	}
	return 0, exitcode.Set(fmt.Errorf("invalid log level %q (valid: verbose, debug, info, warning, error, silent)", text), exitcode.InvalidUsage)
}

func (c *rootCommand) workingDir() (string, error) {
	root := c.root
	if root == "" || !filepath.IsAbs(root) {
		cwd, err := c.gs.getwd()
		if err != nil {
			return "", err
		}
		root = filepath.Join(cwd, root)
	}
	return filepath.ToSlash(root), nil
}

func (c *rootCommand) buildOptions(flags *pflag.FlagSet, bf *buildFlags, entryPoints []string) (api.BuildOptions, error) {
	root, err := c.workingDir()
	if err != nil {
		return api.BuildOptions{}, err
	}

	logLevel, err := parseLogLevel(c.logLevel)
	if err != nil {
		return api.BuildOptions{}, err
	}
	overrides := make(map[string]api.LogLevel, len(c.logOverride))
	for id, text := range c.logOverride {
		level, err := parseLogLevel(text)
		if err != nil {
			return api.BuildOptions{}, err
		}
		overrides[id] = level
	}

	options := api.BuildOptions{
		LogLevel:          logLevel,
		LogOverride:       overrides,
		FS:                c.gs.fs,
		AbsWorkingDir:     root,
		ConfigFile:        c.configFile,
		LookupEnv:         c.gs.lookupEnv,
		KeepNames:         bf.keepNames,
		OneModulePerChunk: bf.oneModulePerChunk,
		IgnoreAnnotations: bf.ignoreAnnotations,
		Concurrency:       bf.concurrency,
		External:          bf.external,
		MergeSmallChunks:  bf.mergeSmallChunks,
		EntryPoints:       entryPoints,
	}

	// Only flags that were given override the config file
	if flags.Changed("splitting") {
		options.Splitting = api.SplittingFalse
		if bf.splitting {
			options.Splitting = api.SplittingTrue
		}
	}
	if flags.Changed("tree-shaking") {
		options.TreeShaking = api.TreeShakingFalse
		if bf.treeShaking {
			options.TreeShaking = api.TreeShakingTrue
		}
	}
	return options, nil
}

func resolvePath(root string, text string) string {
	if filepath.IsAbs(text) {
		return text
	}
	return filepath.Join(root, text)
}

func plural(prefix string, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, prefix)
	}
	return fmt.Sprintf("%d %ss", count, prefix)
}

func writeYAML(w io.Writer, value interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return err
	}
	return encoder.Close()
}
