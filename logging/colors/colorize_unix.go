//go:build !windows

package colors

import "fmt"

// EnableColor turns ANSI output on. Unix terminals always understand the escape codes.
func EnableColor() {
	enabled = true
}

// Colorize wraps s in the ANSI code c.
func Colorize(s any, c Color) string {
	if !enabled {
		return fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
