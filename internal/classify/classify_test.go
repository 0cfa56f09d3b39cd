package classify

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loykin/watchdogd/internal/monitor"
	"github.com/loykin/watchdogd/internal/service"
)

func exitCode(c int) monitor.Exit { return monitor.Exit{Code: c, CodeKnown: true} }

func TestClassifyGrid(t *testing.T) {
	grace := 5 * time.Second
	uptimes := []time.Duration{0, time.Millisecond, 4999 * time.Millisecond, grace, grace + time.Nanosecond, time.Hour}
	codes := []int{0, 1, 2, 127, 255}
	for _, up := range uptimes {
		for _, c := range codes {
			want := Crash
			if up < grace && c == 0 {
				want = NormalExit
			}
			got := Classify(grace, up, exitCode(c))
			assert.Equal(t, want, got, fmt.Sprintf("uptime=%s code=%d", up, c))
		}
	}
}

func TestClassifyBoundaryIsCrash(t *testing.T) {
	assert.Equal(t, Crash, Classify(3*time.Second, 3*time.Second, exitCode(0)))
	assert.Equal(t, NormalExit, Classify(3*time.Second, 3*time.Second-time.Nanosecond, exitCode(0)))
}

func TestClassifyUnknownCodeIsCrash(t *testing.T) {
	assert.Equal(t, Crash, Classify(time.Minute, time.Second, monitor.Exit{}))
}

func TestClassifyZeroGraceAlwaysCrash(t *testing.T) {
	assert.Equal(t, Crash, Classify(0, 0, exitCode(0)))
}

func TestDecide(t *testing.T) {
	def := service.Definition{MinUptimeForCrash: 2 * time.Second, AutoRestart: true, RestartInterval: time.Second}

	d := Decide(def, 10*time.Second, exitCode(1))
	assert.Equal(t, Decision{Verdict: Crash, Restart: true, Delay: time.Second}, d)

	d = Decide(def, time.Second, exitCode(0))
	assert.Equal(t, Decision{Verdict: NormalExit}, d)

	def.AutoRestart = false
	d = Decide(def, 10*time.Second, exitCode(1))
	assert.Equal(t, Decision{Verdict: Crash}, d)
}
