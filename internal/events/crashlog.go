package events

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const (
	crashRule       = "================================================================================"
	crashTimeLayout = "2006-01-02 15:04:05"
)

// CrashLog appends a human-readable report block for every crash to w,
// typically a rotated file. Other event kinds are ignored.
type CrashLog struct {
	mu sync.Mutex
	w  io.Writer
	n  int
}

func NewCrashLog(w io.Writer) *CrashLog { return &CrashLog{w: w} }

func (c *CrashLog) Send(_ context.Context, e Event) error {
	if e.Kind != Crashed {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	_, err := io.WriteString(c.w, FormatCrash(c.n, e))
	return err
}

// Close closes the underlying writer when it is closable.
func (c *CrashLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.w.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// FormatCrash renders one crash report block.
func FormatCrash(seq int, e Event) string {
	code := "unknown"
	if e.ExitCode != nil {
		code = fmt.Sprint(*e.ExitCode)
	}
	uptime, started := "unknown", "unknown"
	if !e.StartedAt.IsZero() {
		started = e.StartedAt.Format(crashTimeLayout)
		uptime = e.Uptime.Truncate(time.Second).String()
	}
	pid := "unknown"
	if e.PID != 0 {
		pid = fmt.Sprint(e.PID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nCRASH EVENT #%d\n%s\n", crashRule, seq, crashRule)
	fmt.Fprintf(&b, "Timestamp:     %s\n", e.Time.Format(crashTimeLayout))
	fmt.Fprintf(&b, "Service:       %s\n", e.Service)
	fmt.Fprintf(&b, "Type:          %s\n", orUnknown(e.ServiceKind))
	fmt.Fprintf(&b, "PID:           %s\n", pid)
	fmt.Fprintf(&b, "Exit Code:     %s\n", code)
	fmt.Fprintf(&b, "Uptime:        %s\n", uptime)
	fmt.Fprintf(&b, "Started At:    %s\n", started)
	fmt.Fprintf(&b, "Command:       %s\n", orUnknown(e.Command))
	if e.Detail != "" {
		fmt.Fprintf(&b, "Detail:        %s\n", e.Detail)
	}
	b.WriteString(crashRule + "\n")
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
