package simplifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/akila/mesh-simplifier/models"
)

var (
	// ErrSpawn means the executable could not be started at all: missing
	// binary, bad permissions, and the like.
	ErrSpawn = errors.New("simplifier could not be started")

	// ErrTimeout means the process was killed because its deadline passed.
	ErrTimeout = errors.New("simplifier timed out")
)

// waitDelay bounds how long Run waits for output pipes after the process
// is killed, in case a grandchild still holds them open.
const waitDelay = 5 * time.Second

// Runner starts one process and waits for it.
type Runner interface {
	Run(ctx context.Context, argv []string) (*models.JobResult, error)
}

// ExecRunner runs argv as a child process. A non-zero exit is reported in the
// result, not as an error; errors are reserved for processes that never ran
// or were cut short by ctx.
type ExecRunner struct {
	// MaxOutputBytes bounds the memory held for each captured stream; bytes
	// past the limit are discarded as they arrive. Zero means no cap.
	MaxOutputBytes int
}

func (r ExecRunner) Run(ctx context.Context, argv []string) (*models.JobResult, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command line", ErrSpawn)
	}

	stdout := &cappedBuffer{limit: r.MaxOutputBytes}
	stderr := &cappedBuffer{limit: r.MaxOutputBytes}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := &models.JobResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %s", ErrTimeout, res.Duration.Round(time.Millisecond))
		}
		return res, fmt.Errorf("simplifier interrupted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
// Writes always report full success so the child never sees a broken pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

// String returns the kept bytes, minus a multibyte rune split by the cap.
func (b *cappedBuffer) String() string {
	out := b.buf.Bytes()
	if b.truncated {
		for i := 0; i < utf8.UTFMax && len(out) > 0; i++ {
			r, size := utf8.DecodeLastRune(out)
			if r != utf8.RuneError || size != 1 {
				break
			}
			out = out[:len(out)-1]
		}
	}
	return string(out)
}
