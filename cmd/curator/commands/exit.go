package commands

import (
	"errors"
	"fmt"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/config"
	"github.com/curator-health/curator/pkg/engine"
)

// Process exit statuses.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitStructural = 2
	ExitCommit     = 3
)

// usageError reports bad command input. It exits like a policy failure.
type usageError struct {
	msg string
}

func newUsageError(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func (e *usageError) Error() string {
	return e.msg
}

// ExitCode maps an operation error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var usage *usageError
	var cfgErrs *config.Errors
	switch {
	case engine.IsPartialCommit(err), artifact.IsConflict(err):
		return ExitCommit
	case artifact.IsStructural(err), errors.As(err, &usage), errors.As(err, &cfgErrs):
		return ExitStructural
	default:
		return ExitFailure
	}
}
