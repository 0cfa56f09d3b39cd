//go:build !windows

package monitor

import (
	"bufio"
	"bytes"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// startToken returns the process start time in Unix milliseconds, 0 when
// unavailable.
func startToken(pid int) int64 {
	if runtime.GOOS == "linux" {
		return startTokenLinux(pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms
}

var (
	bootOnce sync.Once
	bootTime int64 // seconds
	clkTck   int64
)

func loadBoot() {
	clkTck = 100
	if clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK); err == nil && clk > 0 {
		clkTck = clk
	}
	f, err := os.Open("/proc/stat")
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if v, ok := strings.CutPrefix(s.Text(), "btime "); ok {
			if bt, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				bootTime = bt
			}
			return
		}
	}
}

// startTokenLinux reads starttime (field 22, clock ticks since boot) from
// /proc/<pid>/stat without spawning anything.
func startTokenLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	// comm may contain spaces; it ends at the last ") "
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	parts := strings.Fields(line[end+2:])
	if len(parts) < 20 {
		return 0
	}
	ticks, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil || ticks <= 0 {
		return 0
	}
	bootOnce.Do(loadBoot)
	if bootTime == 0 {
		return 0
	}
	return bootTime*1000 + ticks*1000/clkTck
}

// isZombie reports a Linux zombie via /proc/<pid>/status. Other platforms
// rely on the existence probe.
func isZombie(pid int) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
