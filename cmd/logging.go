package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/crytic/vyperlens/config"
	"github.com/crytic/vyperlens/logging"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/utils"
)

// cmdLogger is the logger of the CLI. It is replaced once the project configuration has been read.
var cmdLogger = logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.CLI_SERVICE)

// setupLogging configures the global logger from the project's logging options. Console output goes to stderr so
// command output on stdout stays machine readable. When a log directory is configured, structured logs are also
// written to a new file in it. The returned closer must be called once the command is done.
func setupLogging(loggingConfig config.LoggingConfig) (io.Closer, error) {
	if loggingConfig.NoColor {
		colors.DisableColor()
	} else {
		colors.EnableColor()
	}

	logging.GlobalLogger = logging.NewLogger(loggingConfig.Level)
	logging.GlobalLogger.AddWriter(os.Stderr, logging.UNSTRUCTURED, !loggingConfig.NoColor)

	var logFile *os.File
	if loggingConfig.LogDirectory != "" {
		var err error
		fileName := fmt.Sprintf("vyperlens-%d.log", time.Now().Unix())
		if logFile, err = utils.CreateFile(loggingConfig.LogDirectory, fileName); err != nil {
			return nil, err
		}
		logging.GlobalLogger.AddWriter(logFile, logging.STRUCTURED, false)
	}

	cmdLogger = logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.CLI_SERVICE)
	return closerFunc(func() error {
		if logFile == nil {
			return nil
		}
		logging.GlobalLogger.RemoveWriter(logFile, logging.STRUCTURED, false)
		return logFile.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
