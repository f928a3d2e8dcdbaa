package freshness

import (
	"fmt"

	"github.com/tasktreehq/tt/internal/globexpand"
	"github.com/tasktreehq/tt/internal/graph"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/ttio"
)

// Result reports a node's staleness classification and the expanded
// input set backing it, so the Execution Driver can reuse the snapshot
// when it writes the post-run state entry.
type Result struct {
	Stale    bool
	Reason   string
	Inputs   map[string]int64 // path -> mtime_ns, for the new state entry on success
	Warnings []string         // e.g. globs matching nothing
}

// Engine classifies nodes against a Store.
type Engine struct {
	FS    ttio.FileSystem
	Clock ttio.Clock
}

// Classify determines whether node must run. force marks every requested
// node stale unconditionally (CLI `--force`/`--only`); it does not affect
// transitively-pulled-in dependency nodes unless they are also requested.
func (e *Engine) Classify(node *graph.Node, store *Store, force bool) (Result, error) {
	inputs, warnings, err := ExpandInputs(e.FS, node.WorkingDir, node.EffectiveInputs)
	if err != nil {
		return Result{}, err
	}
	res := Result{Inputs: inputs, Warnings: warnings}

	if force {
		res.Stale, res.Reason = true, "forced"
		return res, nil
	}

	for _, dep := range node.Deps {
		if dep.Executed {
			res.Stale, res.Reason = true, fmt.Sprintf("dependency %q executed this invocation", dep.Task.Name)
			return res, nil
		}
	}

	if len(node.EffectiveInputs) == 0 && len(node.Outputs) == 0 {
		res.Stale, res.Reason = true, "no inputs or outputs declared"
		return res, nil
	}

	entry, ok := store.Lookup(node.DefinitionHash, node.ArgBindingHash)
	if !ok {
		res.Stale, res.Reason = true, "no prior state entry"
		return res, nil
	}

	if len(entry.Inputs) != len(inputs) {
		res.Stale, res.Reason = true, "input set changed"
		return res, nil
	}
	for path, mtime := range inputs {
		stored, ok := entry.Inputs[path]
		if !ok {
			res.Stale, res.Reason = true, fmt.Sprintf("new input %q", path)
			return res, nil
		}
		if mtime > stored {
			res.Stale, res.Reason = true, fmt.Sprintf("input %q is newer than last run", path)
			return res, nil
		}
	}

	res.Stale, res.Reason = false, "up to date"
	return res, nil
}

// ExpandInputs expands every IOEntry's glob relative to workingDir and
// stats each match for its modification time in nanoseconds. Globs
// matching nothing are permitted; they are reported as warnings, not
// errors.
func ExpandInputs(fs ttio.FileSystem, workingDir string, entries []recipe.IOEntry) (map[string]int64, []string, error) {
	result := map[string]int64{}
	var warnings []string

	for _, e := range entries {
		matches, err := globexpand.AbsExpand(workingDir, e.Glob)
		if err != nil {
			return nil, nil, err
		}
		if len(matches) == 0 {
			warnings = append(warnings, fmt.Sprintf("glob %q matched no files", e.Glob))
			continue
		}
		for _, path := range matches {
			info, err := fs.Stat(path)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("could not stat %q: %v", path, err))
				continue
			}
			result[path] = info.ModTime().UnixNano()
		}
	}
	return result, warnings, nil
}
