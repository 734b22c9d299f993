package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/cirunner/internal/logfields"
)

// outputTailLimit bounds how much combined output a StepResult retains.
const outputTailLimit = 4096

// execStep runs a single step via the shell with the merged environment,
// streaming output to the logs and retaining a bounded tail.
func execStep(ctx context.Context, step Step, dir string, env []string, timeout time.Duration) StepResult {
	result := StepResult{Step: step}

	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(stepCtx, "sh", "-c", step.Command)
	cmd.Dir = dir
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failStep(result, err)
	}
	cmd.Stderr = cmd.Stdout

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return failStep(result, err)
	}

	tail := streamOutput(stdout, step)

	// Drain the pipe fully before Wait; Wait closes the pipe.
	result.OutputTail = tail()
	err = cmd.Wait()
	result.Duration = time.Since(started)

	if err != nil {
		result.Status = StepFailed
		result.Err = err
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		if stepCtx.Err() != nil {
			result.Err = stepCtx.Err()
		}
		return result
	}

	result.Status = StepSucceeded
	return result
}

func failStep(result StepResult, err error) StepResult {
	result.Status = StepFailed
	result.ExitCode = -1
	result.Err = err
	return result
}

// streamOutput logs each output line and returns a function yielding the
// retained tail once the stream is drained.
func streamOutput(r io.Reader, step Step) func() string {
	var (
		mu   sync.Mutex
		tail strings.Builder
		wg   sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			slog.Debug(line, logfields.Phase(string(step.Phase)), logfields.Step(step.Index))

			mu.Lock()
			tail.WriteString(line)
			tail.WriteByte('\n')
			if tail.Len() > outputTailLimit {
				trimmed := tail.String()
				trimmed = trimmed[len(trimmed)-outputTailLimit:]
				tail.Reset()
				tail.WriteString(trimmed)
			}
			mu.Unlock()
		}
	}()

	return func() string {
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		return tail.String()
	}
}
