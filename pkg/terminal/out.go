package terminal

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// stdoutWriter returns the writer used for command output and whether
// escape sequences must be avoided. Colors are disabled for dumb
// terminals and when stdout is redirected.
func stdoutWriter() (w io.Writer, dumb bool) {
	if strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout, true
	}
	return colorable.NewColorableStdout(), false
}
