package config

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/modlink/modlink/internal/logger"
)

type Options struct {
	// Dynamic imports become separate chunks and modules shared by several
	// chunk roots are hoisted into shared chunks. Without this every entry
	// point gets a single chunk and dynamically-imported modules are wrapped
	// and evaluated lazily.
	CodeSplitting bool

	TreeShaking bool

	// Attach the original name to renamed functions and classes so that
	// run-time name queries still report it
	KeepNames bool

	// Every module becomes its own chunk. Chunk boundaries then follow module
	// boundaries, so static cycles between modules become chunk cycles.
	OneModulePerChunk bool

	// Ignore "sideEffects" declarations in "package.json" files
	IgnoreAnnotations bool

	// The maximum number of modules being loaded and parsed at once
	Concurrency int

	// Specifiers matching these patterns are left as external imports. A
	// pattern may contain a single "*" wildcard.
	External []string

	LogLevel     logger.LogLevel
	LogOverrides map[logger.MsgID]logger.LogLevel

	// Optional. Nil merges nothing.
	ChunkMergePolicy ChunkMergePolicy
}

func DefaultOptions() Options {
	return Options{
		CodeSplitting: true,
		TreeShaking:   true,
		Concurrency:   runtime.GOMAXPROCS(0),
		LogLevel:      logger.LevelInfo,
		LogOverrides:  make(map[logger.MsgID]logger.LogLevel),
	}
}

func (options *Options) IsExternal(specifier string) bool {
	for _, pattern := range options.External {
		if star := strings.IndexByte(pattern, '*'); star != -1 {
			prefix, suffix := pattern[:star], pattern[star+1:]
			if len(specifier) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(specifier, prefix) && strings.HasSuffix(specifier, suffix) {
				return true
			}
		} else if pattern == specifier {
			return true
		}
	}
	return false
}

// The YAML shape of a configuration file. Every field is optional and only
// fields that are present override the defaults.
type fileOptions struct {
	CodeSplitting     *bool             `yaml:"codeSplitting"`
	TreeShaking       *bool             `yaml:"treeShaking"`
	KeepNames         *bool             `yaml:"keepNames"`
	OneModulePerChunk *bool             `yaml:"oneModulePerChunk"`
	IgnoreAnnotations *bool             `yaml:"ignoreAnnotations"`
	Concurrency       *int              `yaml:"concurrency"`
	External          []string          `yaml:"external"`
	LogLevel          string            `yaml:"logLevel"`
	LogOverride       map[string]string `yaml:"logOverride"`
	ChunkMerge        *struct {
		Policy   string `yaml:"policy"`
		MaxParts int    `yaml:"maxParts"`
	} `yaml:"chunkMerge"`
}

// Reads a YAML configuration file on top of the defaults
func Load(fs afero.Fs, path string) (Options, error) {
	options := DefaultOptions()

	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return options, fmt.Errorf("could not read config file %q: %w", path, err)
	}

	var file fileOptions
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return options, fmt.Errorf("could not parse config file %q: %w", path, err)
	}

	if err := file.applyTo(&options); err != nil {
		return options, fmt.Errorf("invalid config file %q: %w", path, err)
	}
	return options, nil
}

func (file *fileOptions) applyTo(options *Options) error {
	setBool := func(target *bool, value *bool) {
		if value != nil {
			*target = *value
		}
	}
	setBool(&options.CodeSplitting, file.CodeSplitting)
	setBool(&options.TreeShaking, file.TreeShaking)
	setBool(&options.KeepNames, file.KeepNames)
	setBool(&options.OneModulePerChunk, file.OneModulePerChunk)
	setBool(&options.IgnoreAnnotations, file.IgnoreAnnotations)

	if file.Concurrency != nil {
		if *file.Concurrency < 1 {
			return fmt.Errorf("concurrency must be at least 1, got %d", *file.Concurrency)
		}
		options.Concurrency = *file.Concurrency
	}

	options.External = append(options.External, file.External...)

	if file.LogLevel != "" {
		level, ok := logger.ParseLogLevel(file.LogLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", file.LogLevel)
		}
		options.LogLevel = level
	}

	for id, text := range file.LogOverride {
		level, ok := logger.ParseLogLevel(text)
		if !ok {
			return fmt.Errorf("unknown log level %q for %q", text, id)
		}
		if options.LogOverrides == nil {
			options.LogOverrides = make(map[logger.MsgID]logger.LogLevel)
		}
		logger.StringToMsgIDs(id, level, options.LogOverrides)
	}

	if merge := file.ChunkMerge; merge != nil {
		switch merge.Policy {
		case "", "none":
			options.ChunkMergePolicy = nil
		case "small":
			options.ChunkMergePolicy = SmallChunkPolicy{MaxParts: merge.MaxParts}
		default:
			return fmt.Errorf("unknown chunk merge policy %q", merge.Policy)
		}
	}
	return nil
}

type envOptions struct {
	Concurrency   *int    `envconfig:"MODLINK_CONCURRENCY"`
	CodeSplitting *bool   `envconfig:"MODLINK_CODE_SPLITTING"`
	TreeShaking   *bool   `envconfig:"MODLINK_TREE_SHAKING"`
	KeepNames     *bool   `envconfig:"MODLINK_KEEP_NAMES"`
	LogLevel      *string `envconfig:"MODLINK_LOG_LEVEL"`
}

// Overlays "MODLINK_*" environment variables. A nil lookup function reads
// the process environment.
func ApplyEnv(options *Options, lookup func(string) (string, bool)) error {
	var env envOptions
	var err error
	if lookup != nil {
		err = envconfig.Process("", &env, lookup)
	} else {
		err = envconfig.Process("", &env)
	}
	if err != nil {
		return err
	}

	if env.Concurrency != nil {
		if *env.Concurrency < 1 {
			return fmt.Errorf("MODLINK_CONCURRENCY must be at least 1, got %d", *env.Concurrency)
		}
		options.Concurrency = *env.Concurrency
	}
	if env.CodeSplitting != nil {
		options.CodeSplitting = *env.CodeSplitting
	}
	if env.TreeShaking != nil {
		options.TreeShaking = *env.TreeShaking
	}
	if env.KeepNames != nil {
		options.KeepNames = *env.KeepNames
	}
	if env.LogLevel != nil {
		level, ok := logger.ParseLogLevel(*env.LogLevel)
		if !ok {
			return fmt.Errorf("MODLINK_LOG_LEVEL: unknown log level %q", *env.LogLevel)
		}
		options.LogLevel = level
	}
	return nil
}
