package fonts

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/feichai0017/book-harvester/pkg/logger"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Log logger.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if r.Log != nil {
		if err != nil {
			r.Log.Error("exec failed",
				logger.String("cmd", name),
				logger.String("args", strings.Join(args, " ")),
				logger.Duration("duration", time.Since(start)),
				logger.String("stderr", truncate(errb.String(), 8<<10)),
				logger.Error(err))
		} else {
			r.Log.Debug("exec ok",
				logger.String("cmd", name),
				logger.Duration("duration", time.Since(start)),
				logger.Int("stdout_bytes", out.Len()))
		}
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
