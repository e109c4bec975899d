package exitcodes

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestGetInnerErrorAndExitCode(t *testing.T) {
	err, code := GetInnerErrorAndExitCode(nil)
	assert.NoError(t, err)
	assert.Equal(t, ExitCodeSuccess, code)

	plain := errors.New("boom")
	err, code = GetInnerErrorAndExitCode(plain)
	assert.Same(t, plain, err)
	assert.Equal(t, ExitCodeGeneralError, code)

	err, code = GetInnerErrorAndExitCode(NewErrorWithExitCode(plain, ExitCodeCompileError))
	assert.Same(t, plain, err)
	assert.Equal(t, ExitCodeCompileError, code)

	// The exit code is found through wrapping
	wrapped := errors.Wrap(NewErrorWithExitCode(plain, ExitCodeHandledError), "context")
	err, code = GetInnerErrorAndExitCode(wrapped)
	assert.Same(t, plain, err)
	assert.Equal(t, ExitCodeHandledError, code)
	assert.ErrorIs(t, wrapped, plain)
}
