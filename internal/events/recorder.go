package events

import (
	"context"
	"sync"
)

const DefaultRecorderSize = 256

// Recorder keeps the most recent events in a ring buffer for display.
type Recorder struct {
	mu    sync.RWMutex
	buf   []Event
	start int
	count int
}

func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{buf: make([]Event, size)}
}

func (r *Recorder) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return nil
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
	return nil
}

// Recent returns up to n events, oldest first. n <= 0 returns all of them.
func (r *Recorder) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Event, n)
	skip := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

// Filter returns the recent events of one service, oldest first.
func (r *Recorder) Filter(service string, n int) []Event {
	all := r.Recent(0)
	var out []Event
	for _, e := range all {
		if e.Service == service {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
