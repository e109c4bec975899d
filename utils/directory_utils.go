package utils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WithWorkingDirectory changes the process working directory to dir, runs fn and restores the previous working
// directory on every exit path, including panics. The working directory is process-wide state, so callers must not
// run this concurrently.
func WithWorkingDirectory(dir string, fn func() error) (err error) {
	previous, err := os.Getwd()
	if err != nil {
		return errors.WithStack(err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return errors.WithStack(err)
	}
	if !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	if err = os.Chdir(dir); err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if restoreErr := os.Chdir(previous); restoreErr != nil && err == nil {
			err = errors.WithStack(restoreErr)
		}
	}()

	return fn()
}
