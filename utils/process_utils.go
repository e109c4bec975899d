package utils

import (
	"bytes"
	"io"
	"os/exec"
	"runtime"
	"sync"
)

// RunCommandWithOutputAndError runs the command, optionally feeding stdin, and returns stdout, stderr and the
// interleaved combined output.
func RunCommandWithOutputAndError(command *exec.Cmd, stdin []byte) ([]byte, []byte, []byte, error) {
	var stdout, stderr, combined bytes.Buffer
	combinedWriter := &synchronizedWriter{writer: &combined}

	command.Stdout = io.MultiWriter(&stdout, combinedWriter)
	command.Stderr = io.MultiWriter(&stderr, combinedWriter)
	if stdin != nil {
		command.Stdin = bytes.NewReader(stdin)
	}

	err := command.Run()
	return stdout.Bytes(), stderr.Bytes(), combined.Bytes(), err
}

// IsWindowsEnvironment reports whether we are running on Windows.
func IsWindowsEnvironment() bool {
	return runtime.GOOS == "windows"
}

// synchronizedWriter serializes writes from the stdout and stderr copiers into one buffer.
type synchronizedWriter struct {
	writer io.Writer
	mutex  sync.Mutex
}

func (s *synchronizedWriter) Write(p []byte) (n int, err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.writer.Write(p)
}
