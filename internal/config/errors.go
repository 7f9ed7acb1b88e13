package config

import (
	"fmt"

	"go.uber.org/multierr"
)

// Error reports a configuration that cannot be used. It is fatal: nothing is
// probed until the configuration loads cleanly.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Problems lists every individual validation failure.
func (e *Error) Problems() []error { return multierr.Errors(e.Err) }
