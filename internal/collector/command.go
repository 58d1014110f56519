package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs an external scraper binary and reads its summary from stdout.
// The binary is expected to print a single JSON object, e.g.
// {"new":3,"updated":1}; anything unparseable counts as zero items rather
// than a failure, since the run itself succeeded.
type Command struct {
	Path string
	Args []string
}

func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args}
}

func (c *Command) Collect(ctx context.Context) (Summary, error) {
	output, err := exec.CommandContext(ctx, c.Path, c.Args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return Summary{}, fmt.Errorf("collector %s failed: %s", c.Path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Summary{}, fmt.Errorf("collector %s failed: %w", c.Path, err)
	}

	summary := Summary{}
	if err := json.Unmarshal(output, &summary); err != nil {
		return Summary{}, nil
	}
	return summary, nil
}
