package runner

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// commandLog appends timestamped lines for every command the runner starts
// and finishes.
type commandLog struct {
	w io.Writer
}

func newCommandLog(w io.Writer) *commandLog {
	if w == nil {
		return nil
	}
	return &commandLog{w: w}
}

func (l *commandLog) Printf(at time.Time, format string, args ...any) {
	if l == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintf(l.w, "[%s] %s\n", at.Format(time.RFC3339), line)
}
