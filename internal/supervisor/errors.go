package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrShuttingDown   = errors.New("supervisor is shutting down")
)

func unknown(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownService, name)
}

// PanicError wraps a panic recovered from a service instance.
type PanicError struct {
	Service string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("service %s: instance panic: %v", e.Service, e.Value)
}
