package app

import (
	"strings"

	"github.com/tasktreehq/tt/internal/graph"
	"github.com/tasktreehq/tt/internal/recipe"
)

// parseTaskArgs splits the remaining argv after a task name into
// positional values and name=value / --name=value bindings: a bare token
// is positional unless it is a known arg name in key=value form.
func parseTaskArgs(task *recipe.Task, args []string) graph.Request {
	named := map[string]string{}
	var positional []string

	for _, a := range args {
		trimmed := strings.TrimPrefix(a, "--")
		if eq := strings.Index(trimmed, "="); eq >= 0 {
			name, value := trimmed[:eq], trimmed[eq+1:]
			if isArgName(task, name) {
				named[name] = value
				continue
			}
		}
		positional = append(positional, a)
	}

	if len(named) > 0 {
		return graph.Request{Task: task.Name, Kind: recipe.DepNamed, Named: named}
	}
	if len(positional) > 0 {
		return graph.Request{Task: task.Name, Kind: recipe.DepPositional, Positional: positional}
	}
	return graph.Request{Task: task.Name, Kind: recipe.DepDefaults}
}

func isArgName(task *recipe.Task, name string) bool {
	for _, a := range task.Args {
		if a.Name == name {
			return true
		}
	}
	return false
}
