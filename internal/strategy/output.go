package strategy

import (
	"errors"
	"io"
	"os"
)

// outputCopy feeds one child stream into a rotated writer. The child gets
// the write end of an OS pipe as a plain *os.File, so reaping the primary
// never waits on the copy; the copy ends once every process holding the
// pipe, detached descendants included, has exited.
type outputCopy struct {
	dst  io.WriteCloser
	r, w *os.File
	done chan struct{}
	err  error
}

func newOutputCopy(dst io.WriteCloser) (*outputCopy, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &outputCopy{dst: dst, r: r, w: w, done: make(chan struct{})}, nil
}

// start begins copying after the child was spawned. The parent's write end
// is closed so only the child side keeps the pipe open.
func (o *outputCopy) start() {
	_ = o.w.Close()
	go func() {
		defer close(o.done)
		_, cerr := io.Copy(o.dst, o.r)
		o.err = errors.Join(cerr, o.r.Close(), o.dst.Close())
	}()
}

// abort releases everything when the spawn failed.
func (o *outputCopy) abort() {
	_ = o.w.Close()
	_ = o.r.Close()
	_ = o.dst.Close()
	close(o.done)
}

// wait blocks until the copy has finished.
func (o *outputCopy) wait() error {
	<-o.done
	return o.err
}

type outputs []*outputCopy

// attach wires dst as a child stream and returns the file to hand to the
// child, or nil when dst is nil.
func (outs *outputs) attach(dst io.WriteCloser) (*os.File, error) {
	if dst == nil {
		return nil, nil
	}
	oc, err := newOutputCopy(dst)
	if err != nil {
		_ = dst.Close()
		return nil, err
	}
	*outs = append(*outs, oc)
	return oc.w, nil
}

func (outs outputs) start() {
	for _, o := range outs {
		o.start()
	}
}

func (outs outputs) abort() {
	for _, o := range outs {
		o.abort()
	}
}

func (outs outputs) wait() error {
	var errs []error
	for _, o := range outs {
		errs = append(errs, o.wait())
	}
	return errors.Join(errs...)
}
