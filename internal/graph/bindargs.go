package graph

import (
	"fmt"

	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/template"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// bindArgs resolves a DepInvocation's argument binding against a task's
// ArgSpecs, template-expanding each value in the caller's scope and
// validating it against its spec. Exported ($-prefixed) args are returned
// separately: they are never exposed through the arg.* template prefix.
func bindArgs(task *recipe.Task, inv recipe.DepInvocation, eng *template.Engine, callerScope template.Scope) (args, exported map[string]string, err error) {
	args = map[string]string{}
	exported = map[string]string{}

	switch inv.Kind {
	case recipe.DepPositional:
		if len(inv.Positional) > len(task.Args) {
			return nil, nil, &ttserr.Error{Kind: ttserr.KindUnknownArgument, Task: task.Name,
				Message: fmt.Sprintf("%d positional arguments given, task accepts at most %d", len(inv.Positional), len(task.Args))}
		}
		for i, spec := range task.Args {
			var raw string
			has := i < len(inv.Positional)
			if has {
				raw = inv.Positional[i]
			} else if spec.HasDefault {
				raw = spec.Default
			} else {
				return nil, nil, missingArgErr(task.Name, spec.Name)
			}
			if err := bindOne(task.Name, spec, raw, eng, callerScope, args, exported); err != nil {
				return nil, nil, err
			}
		}

	case recipe.DepNamed:
		specByName := map[string]recipe.ArgSpec{}
		for _, spec := range task.Args {
			specByName[spec.Name] = spec
		}
		for name := range inv.Named {
			if _, ok := specByName[name]; !ok {
				return nil, nil, &ttserr.Error{Kind: ttserr.KindUnknownArgument, Task: task.Name, Variable: name,
					Message: fmt.Sprintf("task %q has no argument named %q", task.Name, name)}
			}
		}
		for _, spec := range task.Args {
			raw, has := inv.Named[spec.Name]
			if !has {
				if spec.HasDefault {
					raw = spec.Default
				} else {
					return nil, nil, missingArgErr(task.Name, spec.Name)
				}
			}
			if err := bindOne(task.Name, spec, raw, eng, callerScope, args, exported); err != nil {
				return nil, nil, err
			}
		}

	default: // DepDefaults
		for _, spec := range task.Args {
			if !spec.HasDefault {
				return nil, nil, missingArgErr(task.Name, spec.Name)
			}
			if err := bindOne(task.Name, spec, spec.Default, eng, callerScope, args, exported); err != nil {
				return nil, nil, err
			}
		}
	}

	return args, exported, nil
}

func bindOne(taskName string, spec recipe.ArgSpec, raw string, eng *template.Engine, scope template.Scope, args, exported map[string]string) error {
	value, err := eng.Render(raw, scope)
	if err != nil {
		return err
	}
	if err := validateArg(taskName, spec, value); err != nil {
		return err
	}
	if spec.Exported {
		exported[spec.Name] = value
	} else {
		args[spec.Name] = value
	}
	return nil
}

func missingArgErr(taskName, argName string) error {
	return &ttserr.Error{Kind: ttserr.KindMissingArgument, Task: taskName, Variable: argName,
		Message: fmt.Sprintf("argument %q has no binding and no default", argName),
		Hint:    "supply it positionally, by name, or add a default in the task's args spec"}
}
