package app

import (
	"errors"

	"go.uber.org/zap"

	"github.com/tasktreehq/tt/internal/diag"
	"github.com/tasktreehq/tt/internal/driver"
	"github.com/tasktreehq/tt/internal/freshness"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/recipeconfig"
	"github.com/tasktreehq/tt/internal/ttio"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// invocation bundles everything a subcommand needs after discovering and
// loading a recipe: the recipe itself, the real OS collaborators, and a
// logger built from --log-level.
type invocation struct {
	Recipe              *recipe.Recipe
	ConfigDefaultRunner *recipe.Runner
	Loader              *recipe.Loader
	FS                  ttio.FileSystem
	Env                 ttio.Environment
	Spawn               ttio.ProcessSpawner
	Clock               ttio.Clock
	Log                 *zap.SugaredLogger
}

func newInvocation() (*invocation, error) {
	fs := ttio.OSFileSystem{}
	env := ttio.OSEnvironment{}
	spawn := ttio.OSProcessSpawner{}
	clock := ttio.SystemClock{}
	log := diag.NewLogger(logLevelFlag)

	filePath := fileFlag
	if filePath == "" {
		discovered, err := recipe.Discover(fs, ".")
		if err != nil {
			return nil, err
		}
		filePath = discovered
	}

	loader := recipe.NewLoader(fs, env, spawn)
	rec, err := loader.Load(filePath)
	if err != nil {
		return nil, err
	}

	var configDefaultRunner *recipe.Runner
	if runner, warnings, err := recipeconfig.ResolveDefaultRunner(rec.ProjectRoot, fs.ReadFile); err == nil {
		for _, w := range warnings {
			log.Warnf("config: %s", w)
		}
		configDefaultRunner = runner
	}

	return &invocation{
		Recipe: rec, ConfigDefaultRunner: configDefaultRunner, Loader: loader,
		FS: fs, Env: env, Spawn: spawn, Clock: clock, Log: log,
	}, nil
}

func newFreshnessStore(inv *invocation) *freshness.Store {
	store := freshness.NewStore(inv.FS, inv.Recipe.ProjectRoot)
	if err := store.Load(); err != nil {
		inv.Log.Warnf("state file: %v (starting from empty state)", err)
	}
	return store
}

func newDriver(inv *invocation, store *freshness.Store) *driver.Driver {
	return driver.NewDriver(inv.FS, inv.Env, inv.Spawn, inv.Clock, store, inv.Recipe.ProjectRoot)
}

// exitCodeFor maps a returned error to a process exit code: a task's own
// nonzero exit propagates verbatim, everything else is a generic failure.
func exitCodeFor(err error) int {
	var ttErr *ttserr.Error
	if errors.As(err, &ttErr) && ttErr.Kind == ttserr.KindTaskFailed && ttErr.ExitCode != 0 {
		return ttErr.ExitCode
	}
	return 1
}
