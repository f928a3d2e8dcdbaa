// Package recipeconfig implements the default-runner config-file
// layering: project-scoped, user-scoped, and machine-scoped files, in
// decreasing priority, resolving only the default runner definition when
// a recipe declares none of its own. It also stores an optional
// machine-scoped container registry credential in the OS keychain via
// zalando/go-keyring, whose per-OS backends already give this a single
// cross-platform facade without any build-tag split.
package recipeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/tasktreehq/tt/internal/recipe"
)

const keyringService = "tasktree"

// file is the on-disk shape of each layer. Only the default runner is
// layered; everything else about a recipe always comes from the recipe
// itself.
type file struct {
	DefaultRunner *recipe.RawRunnerDoc `yaml:"default_runner"`
}

// Layer identifies where a config file was found, for warnings.
type Layer struct {
	Path   string
	Source string // "project", "user", "machine"
}

// Paths returns the three candidate config file locations in priority
// order (project highest), given the project root.
func Paths(projectRoot string) []Layer {
	layers := []Layer{
		{Path: filepath.Join(projectRoot, ".tasktree.config.yaml"), Source: "project"},
	}
	if home, err := os.UserHomeDir(); err == nil {
		layers = append(layers, Layer{Path: filepath.Join(home, ".config", "tasktree", "config.yaml"), Source: "user"})
	}
	layers = append(layers, Layer{Path: machineConfigPath(), Source: "machine"})
	return layers
}

func machineConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("ProgramData"), "tasktree", "config.yaml")
	}
	return "/etc/tasktree/config.yaml"
}

// ResolveDefaultRunner walks Paths(projectRoot) in priority order and
// returns the first layer's default runner definition, building it the
// same way the recipe loader normalises inline runner blocks. A file that
// fails to parse is skipped with a warning rather than failing the whole
// lookup.
func ResolveDefaultRunner(projectRoot string, readFile func(string) ([]byte, error)) (*recipe.Runner, []string, error) {
	var warnings []string
	for _, layer := range Paths(projectRoot) {
		data, err := readFile(layer.Path)
		if err != nil {
			continue // absent layers are normal, not a warning
		}

		var f file
		if err := yaml.Unmarshal(data, &f); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s config %s: %v (ignored)", layer.Source, layer.Path, err))
			continue
		}
		if f.DefaultRunner == nil {
			continue
		}
		runner, err := recipe.NormalizeRunnerDoc("default", *f.DefaultRunner)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s config %s: %v (ignored)", layer.Source, layer.Path, err))
			continue
		}
		return runner, warnings, nil
	}
	return nil, warnings, nil
}

// RegistryCredential is a private container registry login, looked up
// from the machine keyring rather than ever stored in a recipe or config
// file in plain text.
type RegistryCredential struct {
	Username string
	Password string
}

// StoreRegistryCredential saves a registry login under the given
// registry host.
func StoreRegistryCredential(registryHost string, cred RegistryCredential) error {
	return keyring.Set(keyringService, registryHost, cred.Username+"\x00"+cred.Password)
}

// LookupRegistryCredential retrieves a previously stored registry login.
// A missing entry is reported via ok=false, not an error.
func LookupRegistryCredential(registryHost string) (RegistryCredential, bool, error) {
	raw, err := keyring.Get(keyringService, registryHost)
	if err != nil {
		if err == keyring.ErrNotFound {
			return RegistryCredential{}, false, nil
		}
		return RegistryCredential{}, false, err
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] == 0 {
			return RegistryCredential{Username: raw[:i], Password: raw[i+1:]}, true, nil
		}
	}
	return RegistryCredential{}, false, fmt.Errorf("malformed registry credential for %q", registryHost)
}

// DeleteRegistryCredential removes a stored registry login, if any.
func DeleteRegistryCredential(registryHost string) error {
	err := keyring.Delete(keyringService, registryHost)
	if err != nil && err != keyring.ErrNotFound {
		return err
	}
	return nil
}
