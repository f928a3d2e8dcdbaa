// Package shellrunner implements the Shell runner kind: selecting how to
// invoke a configured shell executable and materialising a task's
// rendered command into an executable script file.
package shellrunner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tasktreehq/tt/internal/ttio"
)

// Shell is a resolved shell invocation: the executable plus the flags
// needed to make it run a script file non-interactively.
type Shell struct {
	Cmd        string
	Args       []string
	ScriptExt  string // extension for the materialised script file
	IsWindows  bool
}

// Selector maps a Runner's configured shell field (an executable name or
// path) to its invocation shape: a lookup by shell name rather than by
// OS, since Runner.Shell names a concrete executable rather than "auto".
type Selector struct {
	known map[string]Shell
}

// NewSelector builds a Selector with the well-known shell shapes.
func NewSelector() *Selector {
	return &Selector{known: map[string]Shell{
		"sh":         {Cmd: "sh", ScriptExt: ".sh"},
		"bash":       {Cmd: "bash", ScriptExt: ".sh"},
		"zsh":        {Cmd: "zsh", ScriptExt: ".sh"},
		"dash":       {Cmd: "dash", ScriptExt: ".sh"},
		"cmd":        {Cmd: "cmd", Args: []string{"/C"}, ScriptExt: ".bat", IsWindows: true},
		"cmd.exe":    {Cmd: "cmd.exe", Args: []string{"/C"}, ScriptExt: ".bat", IsWindows: true},
		"powershell": {Cmd: "powershell", Args: []string{"-NoProfile", "-File"}, ScriptExt: ".ps1", IsWindows: true},
		"pwsh":       {Cmd: "pwsh", Args: []string{"-NoProfile", "-File"}, ScriptExt: ".ps1", IsWindows: true},
	}}
}

// Resolve returns the Shell shape for a Runner's `shell` field. An
// unrecognised executable (a custom path, or a POSIX-style shell under a
// nonstandard name) falls back to calling it as a plain POSIX shell.
func (s *Selector) Resolve(shellField string) Shell {
	base := filepath.Base(shellField)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if sh, ok := s.known[strings.ToLower(base)]; ok {
		sh.Cmd = shellField // preserve the caller's path, only the shape is looked up by name
		return sh
	}
	return Shell{Cmd: shellField, ScriptExt: ".sh"}
}

// BuildCommand returns the full argv to invoke this shell against a
// materialised script file.
func (sh Shell) BuildCommand(scriptPath string) []string {
	out := []string{sh.Cmd}
	out = append(out, sh.Args...)
	out = append(out, scriptPath)
	return out
}

// Materialize writes preamble+cmd to a temp script file in dir, in this
// shell's language, and returns its path. The file is created with
// executable permissions so POSIX runners can also be invoked directly.
func Materialize(fs ttio.FileSystem, dir string, sh Shell, preamble, cmd string) (string, error) {
	var b strings.Builder
	if sh.IsWindows {
		if sh.ScriptExt == ".ps1" {
			if preamble != "" {
				b.WriteString(preamble)
				b.WriteString("\n")
			}
			b.WriteString(cmd)
		} else {
			b.WriteString("@echo off\r\n")
			if preamble != "" {
				b.WriteString(preamble)
				b.WriteString("\r\n")
			}
			b.WriteString(cmd)
		}
	} else {
		fmt.Fprintf(&b, "#!%s\n", shebangFor(sh))
		if preamble != "" {
			b.WriteString(preamble)
			b.WriteString("\n")
		}
		b.WriteString(cmd)
		b.WriteString("\n")
	}

	f, err := fs.TempFile(dir, "tt-script-*"+sh.ScriptExt)
	if err != nil {
		return "", err
	}
	path := f.Name()
	chmodErr := f.Chmod(0o755)
	_ = f.Close()
	if chmodErr != nil {
		_ = fs.Remove(path)
		return "", chmodErr
	}

	if err := fs.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		_ = fs.Remove(path)
		return "", err
	}
	return path, nil
}

func shebangFor(sh Shell) string {
	if sh.Cmd == "" {
		return "/bin/sh"
	}
	if filepath.IsAbs(sh.Cmd) {
		return sh.Cmd
	}
	return "/usr/bin/env " + sh.Cmd
}
