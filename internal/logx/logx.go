// Package logx is the terminal/log sink the core writes status lines to.
// It keeps bracket-tagged log lines ([INFO], [WARN], [FAIL])
// but colorizes the tags with colorstring instead of leaving them plain.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/mitchellh/colorstring"
)

var (
	mu     sync.Mutex
	std    = log.New(os.Stderr, "", log.Ltime)
	colors = &colorstring.Colorize{
		Colors:  colorstring.DefaultColors,
		Disable: !isTerminal(os.Stderr),
		Reset:   true,
	}
)

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

func logf(tag string, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	line := colors.Color(fmt.Sprintf("[%s]\t%s", tag, fmt.Sprintf(format, args...)))
	std.Print(line)
}

// Info logs a routine status line.
func Info(format string, args ...interface{}) {
	logf("[blue]INFO[reset]", format, args...)
}

// Warn logs a recoverable condition (a retried block, a dropped peer).
func Warn(format string, args ...interface{}) {
	logf("[yellow]WARN[reset]", format, args...)
}

// Fail logs a failure that terminated a session or the download.
func Fail(format string, args ...interface{}) {
	logf("[red]FAIL[reset]", format, args...)
}
