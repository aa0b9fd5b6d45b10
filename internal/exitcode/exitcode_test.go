package exitcode_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"

	"github.com/modlink/modlink/internal/exitcode"
)

func TestGet(t *testing.T) {
	base := exitcode.Set(errors.New(""), exitcode.RunFailed)
	wrapped := fmt.Errorf("wrapping: %w", base)

	testCases := map[string]struct {
		err  error
		want int
	}{
		"nil":     {nil, exitcode.Success},
		"default": {errors.New(""), exitcode.BuildFailed},
		"help":    {pflag.ErrHelp, exitcode.InvalidUsage},
		"set":     {exitcode.Set(errors.New(""), exitcode.InvalidUsage), exitcode.InvalidUsage},
		"wrapped": {wrapped, exitcode.RunFailed},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitcode.Get(tc.err), "%v", tc.err)
		})
	}
}

func TestSet(t *testing.T) {
	t.Run("same-message", func(t *testing.T) {
		err := errors.New("hello")
		coder := exitcode.Set(err, exitcode.InvalidUsage)
		assert.Equal(t, err.Error(), coder.Error())
	})
	t.Run("keep-chain", func(t *testing.T) {
		err := errors.New("hello")
		coder := exitcode.Set(err, exitcode.RunFailed)
		assert.ErrorIs(t, coder, err)
	})
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, exitcode.Set(nil, exitcode.RunFailed))
	})
}
