package tools

import (
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
)

type execData struct {
	ExitCode  int    `json:"exitCode"`
	TimedOut  bool   `json:"timedOut"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated,omitempty"`
}

// checkCommand rejects commands whose basename or full string starts with a
// denied prefix.
func checkCommand(command string, denied []string) error {
	trimmed := strings.TrimSpace(command)
	base := filepath.Base(trimmed)
	for _, prefix := range denied {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(base, prefix) || strings.HasPrefix(trimmed, prefix) {
			slog.Warn("security.command_blocked", "command", command, "prefix", prefix)
			return faults.New(faults.CommandBlocked, "command %q matches denied prefix %q", command, prefix)
		}
	}
	return nil
}

func (e *Executor) execCommand(call Call, g policy.Guardrails) Result {
	command := strings.TrimSpace(stringArg(call.Arguments, "command"))
	if command == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "command is required"))
	}
	if err := checkCommand(command, g.DeniedCommandPrefixes); err != nil {
		return failResult(call.Tool, err)
	}
	args := stringSliceArg(call.Arguments, "arguments")

	timeout := time.Duration(g.ExecTimeoutMs) * time.Millisecond
	if arg := int64Arg(call.Arguments, "timeoutMs"); arg > 0 {
		timeout = time.Duration(arg) * time.Millisecond
	}

	cmd := exec.Command(command, args...)
	if cwd := stringArg(call.Arguments, "cwd"); cwd != "" {
		resolved, err := resolvePath(cwd, e.workspaceRoot(), g.AllowedExecRoots)
		if err != nil {
			if faults.Is(err, faults.PathNotAllowed) {
				err = faults.New(faults.CwdNotAllowed, "cwd %q is outside the allowed roots", cwd)
			}
			return failResult(call.Tool, err)
		}
		cmd.Dir = resolved
	}

	stdout := newCappedBuffer(g.MaxExecOutputBytes)
	stderr := newCappedBuffer(g.MaxExecOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return failResult(call.Tool, faults.Wrap(faults.ExecFailed, err))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-waitCh:
	case <-timer.C:
		timedOut = true
		_ = cmd.Process.Kill()
		<-waitCh
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return okResult(call.Tool, execData{
		ExitCode:  exitCode,
		TimedOut:  timedOut,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	})
}

// cappedBuffer keeps at most cap bytes and silently drops the rest. Output
// size is counted in raw bytes.
type cappedBuffer struct {
	buf       []byte
	cap       int64
	truncated bool
}

func newCappedBuffer(cap int64) *cappedBuffer {
	return &cappedBuffer{cap: cap}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	remaining := b.cap - int64(len(b.buf))
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }
