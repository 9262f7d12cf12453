package tools

import (
	"context"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
	"github.com/nextlevelbuilder/sessiond/internal/procs"
)

type processListData struct {
	Processes []procs.Process `json:"processes"`
}

func (e *Executor) manageProcess(ctx context.Context, call Call, g policy.Guardrails) Result {
	switch action := stringArg(call.Arguments, "action"); action {
	case "start":
		command := stringArg(call.Arguments, "command")
		if command == "" {
			return failResult(call.Tool, faults.New(faults.InvalidArguments, "command is required"))
		}
		if err := checkCommand(command, g.DeniedCommandPrefixes); err != nil {
			return failResult(call.Tool, err)
		}
		cwd := stringArg(call.Arguments, "cwd")
		if cwd != "" {
			resolved, err := resolvePath(cwd, e.workspaceRoot(), g.AllowedExecRoots)
			if err != nil {
				if faults.Is(err, faults.PathNotAllowed) {
					err = faults.New(faults.CwdNotAllowed, "cwd %q is outside the allowed roots", cwd)
				}
				return failResult(call.Tool, err)
			}
			cwd = resolved
		}
		proc, err := e.procs.Start(ctx, call.SessionID, command, stringSliceArg(call.Arguments, "arguments"), cwd, g.MaxProcessesPerSession)
		if err != nil {
			return failResult(call.Tool, err)
		}
		return okResult(call.Tool, proc)

	case "status":
		proc, err := e.procs.Status(ctx, call.SessionID, stringArg(call.Arguments, "processId"))
		if err != nil {
			return failResult(call.Tool, err)
		}
		return okResult(call.Tool, proc)

	case "stop":
		proc, err := e.procs.Stop(ctx, call.SessionID, stringArg(call.Arguments, "processId"))
		if err != nil {
			return failResult(call.Tool, err)
		}
		return okResult(call.Tool, proc)

	case "list":
		list, err := e.procs.List(ctx, call.SessionID)
		if err != nil {
			return failResult(call.Tool, err)
		}
		return okResult(call.Tool, processListData{Processes: list})

	default:
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "unknown action %q", action))
	}
}
