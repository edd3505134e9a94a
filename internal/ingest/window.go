package ingest

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// UnknownWindow is recorded when the focused window cannot be determined.
const UnknownWindow = "unknown"

// WindowResolver looks up the title of the currently focused window.
type WindowResolver interface {
	ActiveWindow(ctx context.Context) (string, error)
}

var errNoWindow = errors.New("no window resolver configured")

// NoWindow is a resolver that never finds a window.
type NoWindow struct{}

func (NoWindow) ActiveWindow(context.Context) (string, error) {
	return "", errNoWindow
}

// CommandResolver runs an external command, such as
// `xdotool getactivewindow getwindowname`, and uses the first line of its
// output as the window title. The command is killed after Timeout.
type CommandResolver struct {
	Argv    []string
	Timeout time.Duration
}

// NewCommandResolver returns a resolver for argv, or NoWindow when argv is
// empty.
func NewCommandResolver(argv []string, timeout time.Duration) WindowResolver {
	if len(argv) == 0 {
		return NoWindow{}
	}
	return &CommandResolver{Argv: argv, Timeout: timeout}
}

func (r *CommandResolver) ActiveWindow(ctx context.Context) (string, error) {
	if len(r.Argv) == 0 {
		return "", errNoWindow
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.Argv[0], r.Argv[1:]...)
	cmd.WaitDelay = r.Timeout
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("window command %s: %w", r.Argv[0], ctx.Err())
		}
		return "", fmt.Errorf("window command %s: %w", r.Argv[0], err)
	}

	title, _, _ := strings.Cut(string(out), "\n")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("window command %s: empty output", r.Argv[0])
	}
	return title, nil
}
