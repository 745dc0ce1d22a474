package action

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

const maxOutput = 512

// Command runs Argv and treats a non-zero exit as failure.
type Command struct {
	Argv []string
}

func (c *Command) Invoke(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > maxOutput {
			msg = msg[:maxOutput-3] + "..."
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", c.Argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", c.Argv[0], err)
	}
	return nil
}
