package helpers_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modlink/modlink/internal/helpers"
)

func TestBitSet(t *testing.T) {
	a := helpers.NewBitSet(12)
	a.SetBit(1)
	a.SetBit(9)
	b := a.Copy()
	b.SetBit(4)

	assert.Equal(t, []uint{1, 9}, a.Bits())
	assert.Equal(t, []uint{1, 4, 9}, b.Bits())
	assert.True(t, a.IsSubsetOf(b))
	assert.False(t, b.IsSubsetOf(a))
	assert.Equal(t, 3, b.Count())
	assert.False(t, a.Equals(b))
	assert.NotEqual(t, a.String(), b.String())

	c := helpers.NewBitSet(12)
	assert.True(t, c.IsEmpty())
	c.Or(a)
	assert.True(t, c.Equals(a))
}

func TestTypoDetector(t *testing.T) {
	detector := helpers.MakeTypoDetector([]string{"render", "useState", "foo"})

	for typo, expected := range map[string]string{
		"rendr":    "render",
		"rendar":   "render",
		"usestate": "useState",
	} {
		corrected, ok := detector.MaybeCorrectTypo(typo)
		assert.True(t, ok, typo)
		assert.Equal(t, expected, corrected)
	}

	_, ok := detector.MaybeCorrectTypo("fo")
	assert.False(t, ok)
	_, ok = detector.MaybeCorrectTypo("render")
	assert.False(t, ok)
}

func TestIdentifierNameFromPath(t *testing.T) {
	assert.Equal(t, "my_util", helpers.IdentifierNameFromPath("/src/my-util.js"))
	assert.Equal(t, "lib", helpers.IdentifierNameFromPath("/node_modules/lib/index.js"))
	assert.Equal(t, "_1x", helpers.IdentifierNameFromPath("/1x.png"))
	assert.True(t, helpers.IsInsideNodeModules("/app/node_modules/pkg/index.js"))
	assert.False(t, helpers.IsInsideNodeModules("/app/src/index.js"))
}

func TestHasherIsLengthPrefixed(t *testing.T) {
	a := helpers.NewHasher()
	a.WriteString("ab")
	a.WriteString("c")
	b := helpers.NewHasher()
	b.WriteString("a")
	b.WriteString("bc")
	assert.NotEqual(t, a.Sum64(), b.Sum64())
	assert.Equal(t, helpers.ContentHash("x"), helpers.ContentHash("x"))
}
