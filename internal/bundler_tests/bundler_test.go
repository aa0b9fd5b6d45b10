package bundler_tests

// These tests link small module graphs end to end and check two things: how
// modules were distributed across chunks, and what the linked program does
// when it runs. The second part uses the reference evaluator, so a test
// fails if linking changed the observable behavior of the modules, no matter
// how the chunks were laid out.

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime"
	"strings"
	"testing"

	"github.com/modlink/modlink/internal/ast"
	"github.com/modlink/modlink/internal/bundler"
	"github.com/modlink/modlink/internal/cache"
	"github.com/modlink/modlink/internal/config"
	"github.com/modlink/modlink/internal/linker"
	"github.com/modlink/modlink/internal/logger"
	"github.com/modlink/modlink/internal/manifest"
	modruntime "github.com/modlink/modlink/internal/runtime"
	"github.com/modlink/modlink/internal/test"
)

func assertLog(t *testing.T, msgs []logger.Msg, expected string) {
	t.Helper()
	test.AssertEqualWithDiff(t, test.LogText(msgs), expected)
}

func hasErrors(msgs []logger.Msg) bool {
	for _, msg := range msgs {
		if msg.Kind == logger.Error {
			return true
		}
	}
	return false
}

type bundled struct {
	files      map[string]string
	entryPaths []string
	options    config.Options
	externals  map[string]ast.Value

	expectedScanLog    string
	expectedCompileLog string

	// One line per chunk: its name and the modules it contains. Shared
	// chunks are listed as "chunk" since their names are content hashes.
	// Only checked with code splitting unless "noSplittingOnly" is set.
	expectedChunks string

	// The trace of running each entry point, in entry point order
	expectedOutput string

	// Chunk layout and compile warnings depend on code splitting but the
	// output never does. Both modes run unless one of these is set.
	splittingOnly   bool
	noSplittingOnly bool

	noTreeShaking bool
}

type suite struct {
	name string
}

func (s *suite) expectBundled(t *testing.T, args bundled) {
	t.Helper()
	if !args.noSplittingOnly {
		s.__expectBundledImpl(t, args, true)
	}
	if !args.splittingOnly {
		s.__expectBundledImpl(t, args, false)
	}
}

// Don't call this directly. Call "expectBundled" instead.
func (s *suite) __expectBundledImpl(t *testing.T, args bundled, splitting bool) {
	t.Helper()

	subName := "NoSplitting"
	if splitting {
		subName = "Splitting"
	}

	t.Run(subName, func(t *testing.T) {
		t.Helper()

		// Prepare the options
		options := args.options
		options.CodeSplitting = splitting
		options.TreeShaking = !args.noTreeShaking
		if options.Concurrency == 0 {
			options.Concurrency = runtime.GOMAXPROCS(0)
		}
		ctx := context.Background()
		collaborators := manifest.NewCollaborators(test.MemFS(t, args.files), "/")

		// Run the bundler
		log := logger.NewDeferLog(logger.LevelInfo, options.LogOverrides)
		bundle, err := bundler.ScanBundle(ctx, log, collaborators, cache.MakeCacheSet(), bundler.ScanInput{EntryPaths: args.entryPaths}, options)
		msgs := log.Done()
		assertLog(t, msgs, args.expectedScanLog)

		// Stop now if there were any errors during the scan
		if hasErrors(msgs) {
			if err == nil {
				t.Fatal("Expected the scan to fail")
			}
			return
		}
		if err != nil {
			t.Fatal(err)
		}

		log = logger.NewDeferLog(logger.LevelInfo, options.LogOverrides)
		result, err := bundle.Compile(ctx, log, options)
		msgs = log.Done()
		assertLog(t, msgs, args.expectedCompileLog)

		// Stop now if there were any errors during the compile
		if hasErrors(msgs) {
			if !errors.Is(err, linker.ErrLinkFailed) {
				t.Fatalf("Expected %v but got %v", linker.ErrLinkFailed, err)
			}
			return
		}
		if err != nil {
			t.Fatal(err)
		}

		if args.expectedChunks != "" && (splitting || args.noSplittingOnly) {
			test.AssertEqualWithDiff(t, chunksText(result), args.expectedChunks)
		}
		test.AssertEqualWithDiff(t, outputText(t, result, args), args.expectedOutput)
	})
}

func chunksText(result *linker.Result) string {
	sb := strings.Builder{}
	for _, chunk := range result.Chunks {
		name := "chunk"
		if chunk.IsEntryPoint {
			name = chunk.Name
		}
		files := make([]string, len(chunk.FilesInOrder))
		for i, sourceIndex := range chunk.FilesInOrder {
			files[i] = result.Graph.Files[sourceIndex].InputFile.Source.PrettyPath
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", name, strings.Join(files, ", ")))
	}
	return sb.String()
}

func outputText(t *testing.T, result *linker.Result, args bundled) string {
	t.Helper()
	sb := strings.Builder{}
	for _, entryPath := range args.entryPaths {
		name := strings.TrimSuffix(path.Base(entryPath), path.Ext(entryPath))
		sb.WriteString(fmt.Sprintf("---------- %s ----------\n", name))

		exec, err := modruntime.RunEntry(result, name, modruntime.Options{
			KeepNames: args.options.KeepNames,
			Externals: args.externals,
		})
		var thrown *modruntime.RuntimeError
		switch {
		case errors.As(err, &thrown):
			for _, line := range thrown.Trace {
				sb.WriteString(line + "\n")
			}
			sb.WriteString("throws: " + thrown.Text + "\n")
		case err != nil:
			t.Fatal(err)
		default:
			for _, line := range exec.Trace {
				sb.WriteString(line + "\n")
			}
		}
	}
	return sb.String()
}
