package shell

import (
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Result - combined stdout/stderr and exit status of a finished command
type Result struct {
	Command  []string
	Output   string
	ExitCode int
}

func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Executor runs commands synchronously, the child inherits the process environment
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

// Execute runs argv and waits for it. A non-zero exit is reported through Result.ExitCode,
// err is returned only when the command could not be started or was killed.
func (e *Executor) Execute(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	log.Debug().Msg(strings.Join(argv, " "))
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	result := &Result{Command: argv, Output: string(out)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, errors.Wrapf(err, "can't execute %q", strings.Join(argv, " "))
	}
	return result, nil
}
