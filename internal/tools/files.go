package tools

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/sessiond/internal/faults"
	"github.com/nextlevelbuilder/sessiond/internal/policy"
)

type readFileData struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	SizeBytes int64  `json:"sizeBytes"`
}

type writeFileData struct {
	Path         string `json:"path"`
	BytesWritten int64  `json:"bytesWritten"`
}

type editFileData struct {
	Path         string `json:"path"`
	Replacements int    `json:"replacements"`
}

func (e *Executor) readFile(call Call, g policy.Guardrails) Result {
	path, err := resolvePath(stringArg(call.Arguments, "path"), e.workspaceRoot(), g.AllowedWriteRoots)
	if err != nil {
		return failResult(call.Tool, err)
	}
	cap := g.MaxReadBytes
	if arg := int64Arg(call.Arguments, "maxBytes"); arg > 0 && arg < cap {
		cap = arg
	}
	info, serr := os.Stat(path)
	if serr != nil {
		return failResult(call.Tool, faults.Wrap(faults.ReadFailed, serr))
	}
	if info.Size() > cap {
		return failResult(call.Tool, faults.New(faults.FileTooLarge, "%s is %d bytes, limit %d", path, info.Size(), cap))
	}
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return failResult(call.Tool, faults.Wrap(faults.ReadFailed, rerr))
	}
	if !utf8.Valid(data) {
		return failResult(call.Tool, faults.New(faults.BinaryNotSupport, "%s is not valid UTF-8", path))
	}
	return okResult(call.Tool, readFileData{Path: path, Content: string(data), SizeBytes: int64(len(data))})
}

func (e *Executor) writeFile(call Call, g policy.Guardrails) Result {
	content := stringArg(call.Arguments, "content")
	if content == "" && !boolArg(call.Arguments, "allowEmpty") {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "content is empty; pass allowEmpty to write an empty file"))
	}
	if int64(len(content)) > g.MaxWriteBytes {
		return failResult(call.Tool, faults.New(faults.ContentTooLarge, "content is %d bytes, limit %d", len(content), g.MaxWriteBytes))
	}
	path, err := resolvePath(stringArg(call.Arguments, "path"), e.workspaceRoot(), g.AllowedWriteRoots)
	if err != nil {
		return failResult(call.Tool, err)
	}
	if werr := atomicWrite(path, []byte(content)); werr != nil {
		return failResult(call.Tool, faults.Wrap(faults.WriteFailed, werr))
	}
	return okResult(call.Tool, writeFileData{Path: path, BytesWritten: int64(len(content))})
}

func (e *Executor) editFile(call Call, g policy.Guardrails) Result {
	search := stringArg(call.Arguments, "search")
	if search == "" {
		return failResult(call.Tool, faults.New(faults.InvalidArguments, "search is required"))
	}
	replace := stringArg(call.Arguments, "replace")
	path, err := resolvePath(stringArg(call.Arguments, "path"), e.workspaceRoot(), g.AllowedWriteRoots)
	if err != nil {
		return failResult(call.Tool, err)
	}
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return failResult(call.Tool, faults.Wrap(faults.EditFailed, rerr))
	}
	content := string(data)
	count := strings.Count(content, search)
	if count == 0 {
		return failResult(call.Tool, faults.New(faults.SearchNotFound, "search text not found in %s", path))
	}
	replacements := 1
	if boolArg(call.Arguments, "all") {
		content = strings.ReplaceAll(content, search, replace)
		replacements = count
	} else {
		content = strings.Replace(content, search, replace, 1)
	}
	if int64(len(content)) > g.MaxWriteBytes {
		return failResult(call.Tool, faults.New(faults.ContentTooLarge, "edited content is %d bytes, limit %d", len(content), g.MaxWriteBytes))
	}
	if werr := atomicWrite(path, []byte(content)); werr != nil {
		return failResult(call.Tool, faults.Wrap(faults.EditFailed, werr))
	}
	return okResult(call.Tool, editFileData{Path: path, Replacements: replacements})
}

// atomicWrite creates parent directories and replaces path via a temp file
// in the same directory, so readers never see a half-written file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
