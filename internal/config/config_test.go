package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/modlink/internal/logger"
)

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/modlink.yaml", []byte(`
codeSplitting: false
keepNames: true
concurrency: 3
external: ["node:*", "react"]
logLevel: warning
logOverride:
  circular-dependency: silent
  ambiguous-export: error
chunkMerge:
  policy: small
  maxParts: 2
`), 0o644))

	options, err := Load(fs, "/modlink.yaml")
	require.NoError(t, err)
	assert.False(t, options.CodeSplitting)
	assert.True(t, options.TreeShaking, "defaults survive")
	assert.True(t, options.KeepNames)
	assert.Equal(t, 3, options.Concurrency)
	assert.Equal(t, logger.LevelWarning, options.LogLevel)
	assert.Equal(t, map[logger.MsgID]logger.LogLevel{
		logger.MsgID_Link_CircularDependency: logger.LevelSilent,
		logger.MsgID_Link_AmbiguousExport:    logger.LevelError,
	}, options.LogOverrides)
	assert.Equal(t, SmallChunkPolicy{MaxParts: 2}, options.ChunkMergePolicy)

	assert.True(t, options.IsExternal("node:fs"))
	assert.True(t, options.IsExternal("react"))
	assert.False(t, options.IsExternal("react-dom"))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("minify: true\n"), 0o644))
	_, err := Load(fs, "/bad.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minify")

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("concurrency: 0\n"), 0o644))
	_, err = Load(fs, "/bad.yaml")
	require.ErrorContains(t, err, "at least 1")

	_, err = Load(fs, "/missing.yaml")
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MODLINK_CONCURRENCY":    "5",
		"MODLINK_TREE_SHAKING":   "false",
		"MODLINK_LOG_LEVEL":      "debug",
		"MODLINK_CODE_SPLITTING": "true",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	options := DefaultOptions()
	options.CodeSplitting = false
	options.KeepNames = true
	require.NoError(t, ApplyEnv(&options, lookup))
	assert.Equal(t, 5, options.Concurrency)
	assert.False(t, options.TreeShaking)
	assert.True(t, options.CodeSplitting)
	assert.True(t, options.KeepNames, "unset variables leave options alone")
	assert.Equal(t, logger.LevelDebug, options.LogLevel)

	env["MODLINK_LOG_LEVEL"] = "loud"
	require.Error(t, ApplyEnv(&options, lookup))
}

func TestSmallChunkPolicy(t *testing.T) {
	policy := SmallChunkPolicy{MaxParts: 1}
	assert.Nil(t, policy.Merge([]MergeCandidate{{Index: 3, PartCount: 1}, {Index: 4, PartCount: 2}}))
	assert.Equal(t, [][]uint32{{2, 5}}, policy.Merge([]MergeCandidate{
		{Index: 5, PartCount: 1},
		{Index: 4, PartCount: 9},
		{Index: 2, PartCount: 0},
	}))
}
