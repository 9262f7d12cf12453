// Package procs manages per-session background processes with quotas and
// lifecycle. The registry mutates its state only on its own mailbox;
// callers always receive by-value snapshots.
package procs

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/sessiond/internal/actor"
	"github.com/nextlevelbuilder/sessiond/internal/faults"
)

// Process is the by-value snapshot of a managed process.
type Process struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Args       []string   `json:"args,omitempty"`
	Cwd        string     `json:"cwd,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	Running    bool       `json:"running"`
}

type record struct {
	snapshot Process
	cmd      *exec.Cmd
	done     chan struct{} // closed by the wait goroutine
	waitErr  error
}

// Registry owns every managed process, keyed by session.
type Registry struct {
	box      *actor.Mailbox
	sessions map[string]map[string]*record // sessionID → processID → record
}

// NewRegistry starts an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		box:      actor.NewMailbox(128),
		sessions: make(map[string]map[string]*record),
	}
}

// Start spawns a process for a session. It fails with process_limit_reached
// when the session already has maxProcesses live processes.
func (r *Registry) Start(ctx context.Context, sessionID, command string, args []string, cwd string, maxProcesses int) (Process, error) {
	var snap Process
	var opErr error
	err := r.box.Do(ctx, func() {
		procs := r.sessions[sessionID]
		live := 0
		for _, rec := range procs {
			r.refresh(rec)
			if rec.snapshot.Running {
				live++
			}
		}
		if maxProcesses > 0 && live >= maxProcesses {
			opErr = faults.New(faults.ProcessLimitReached, "session %q already has %d live processes", sessionID, live)
			return
		}

		cmd := exec.Command(command, args...)
		cmd.Dir = cwd
		// stdout/stderr are discarded; callers observe the process through
		// status, not output.
		if err := cmd.Start(); err != nil {
			opErr = faults.Wrap(faults.LaunchFailed, err)
			return
		}

		rec := &record{
			snapshot: Process{
				ID:        uuid.NewString(),
				Command:   command,
				Args:      args,
				Cwd:       cwd,
				StartedAt: time.Now().UTC(),
				Running:   true,
			},
			cmd:  cmd,
			done: make(chan struct{}),
		}
		go func() {
			rec.waitErr = cmd.Wait()
			close(rec.done)
		}()

		if procs == nil {
			procs = make(map[string]*record)
			r.sessions[sessionID] = procs
		}
		procs[rec.snapshot.ID] = rec
		snap = cloneSnapshot(rec.snapshot)
		slog.Info("procs: started", "session", sessionID, "process", rec.snapshot.ID, "command", command)
	})
	if err != nil {
		return Process{}, err
	}
	return snap, opErr
}

// refresh runs on the mailbox goroutine: if the process has exited and the
// exit code was not yet observed, capture it.
func (r *Registry) refresh(rec *record) {
	if !rec.snapshot.Running {
		return
	}
	select {
	case <-rec.done:
		code := -1
		if state := rec.cmd.ProcessState; state != nil {
			code = state.ExitCode()
		}
		now := time.Now().UTC()
		rec.snapshot.Running = false
		rec.snapshot.ExitCode = &code
		rec.snapshot.FinishedAt = &now
	default:
	}
}

// Status returns the refreshed snapshot of one process.
func (r *Registry) Status(ctx context.Context, sessionID, processID string) (Process, error) {
	var snap Process
	var opErr error
	err := r.box.Do(ctx, func() {
		rec, ok := r.sessions[sessionID][processID]
		if !ok {
			opErr = faults.New(faults.ProcessNotFound, "process %q not found", processID)
			return
		}
		r.refresh(rec)
		snap = cloneSnapshot(rec.snapshot)
	})
	if err != nil {
		return Process{}, err
	}
	return snap, opErr
}

// Stop terminates a process, waits for it to exit, and returns the final
// snapshot. The record is removed from the registry.
func (r *Registry) Stop(ctx context.Context, sessionID, processID string) (Process, error) {
	var snap Process
	var opErr error
	err := r.box.Do(ctx, func() {
		rec, ok := r.sessions[sessionID][processID]
		if !ok {
			opErr = faults.New(faults.ProcessNotFound, "process %q not found", processID)
			return
		}
		terminate(rec)
		r.refresh(rec)
		snap = cloneSnapshot(rec.snapshot)
		delete(r.sessions[sessionID], processID)
	})
	if err != nil {
		return Process{}, err
	}
	return snap, opErr
}

// List returns refreshed snapshots for all of a session's processes.
func (r *Registry) List(ctx context.Context, sessionID string) ([]Process, error) {
	var out []Process
	err := r.box.Do(ctx, func() {
		for _, rec := range r.sessions[sessionID] {
			r.refresh(rec)
			out = append(out, cloneSnapshot(rec.snapshot))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountRunning returns the number of live processes for a session.
func (r *Registry) CountRunning(ctx context.Context, sessionID string) (int, error) {
	n := 0
	err := r.box.Do(ctx, func() {
		for _, rec := range r.sessions[sessionID] {
			r.refresh(rec)
			if rec.snapshot.Running {
				n++
			}
		}
	})
	return n, err
}

// Cleanup terminates every live process of a session and discards records.
func (r *Registry) Cleanup(ctx context.Context, sessionID string) error {
	return r.box.Do(ctx, func() {
		for id, rec := range r.sessions[sessionID] {
			terminate(rec)
			delete(r.sessions[sessionID], id)
		}
		delete(r.sessions, sessionID)
	})
}

// Shutdown cleans up every session and stops the registry.
func (r *Registry) Shutdown(ctx context.Context) error {
	err := r.box.Do(ctx, func() {
		for sessionID, procs := range r.sessions {
			for _, rec := range procs {
				terminate(rec)
			}
			delete(r.sessions, sessionID)
		}
	})
	r.box.Close()
	return err
}

// terminate kills the process if still live and waits for the exit to be
// observed.
func terminate(rec *record) {
	select {
	case <-rec.done:
		return
	default:
	}
	if rec.cmd.Process != nil {
		_ = rec.cmd.Process.Kill()
	}
	<-rec.done
}

func cloneSnapshot(s Process) Process {
	out := s
	if s.Args != nil {
		out.Args = append([]string(nil), s.Args...)
	}
	if s.ExitCode != nil {
		code := *s.ExitCode
		out.ExitCode = &code
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
