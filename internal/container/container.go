// Package container implements the Container runner kind: building a
// task's image (cached by Dockerfile, context and build-args digest), running it with
// the state file bind-mounted at the reserved path, and POSIX UID:GID
// mapping.
//
// The client construction follows the same shape Go tools that drive the
// Docker daemon directly tend to use: an env-derived Docker host plus API
// version negotiation, rather than hardcoding a socket path or API version.
package container

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/tasktreehq/tt/internal/hashing"
	"github.com/tasktreehq/tt/internal/recipe"
	"github.com/tasktreehq/tt/internal/recipeconfig"
	"github.com/tasktreehq/tt/internal/ttserr"
)

// ReservedStatePath is where the host's state file is bind-mounted
// inside every container runner invocation.
const ReservedStatePath = "/var/run/tasktree/.tasktree-state"

// NewClient builds a Docker API client from the ambient environment
// (DOCKER_HOST, DOCKER_CERT_PATH, etc.), negotiating the API version
// with the daemon.
func NewClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, ttserr.Wrap(ttserr.KindRunnerBuildFailed, "failed to construct docker client", err)
	}
	return cli, nil
}

// ImageCache maps an image hash to the tag of an already-built image,
// reused across nodes within one invocation.
type ImageCache struct {
	built map[string]string
}

// NewImageCache creates an empty, process-lifetime image cache.
func NewImageCache() *ImageCache { return &ImageCache{built: map[string]string{}} }

// EnsureImage builds r's image if its hash is not already cached, and
// returns the image tag to run. A private base image is authenticated
// against a credential stored under its registry host, if one exists.
func (c *ImageCache) EnsureImage(ctx context.Context, cli *client.Client, r *recipe.Runner, readFile func(string) ([]byte, error)) (string, error) {
	dockerfileContents, err := readFile(r.Dockerfile)
	if err != nil {
		return "", ttserr.Wrap(ttserr.KindRunnerBuildFailed, "failed to read Dockerfile "+r.Dockerfile, err).WithPath(r.Dockerfile)
	}

	imageHash := hashing.ImageHash(string(dockerfileContents), r)
	if tag, ok := c.built[imageHash]; ok {
		return tag, nil
	}

	tag := "tt-runner-" + imageHash[:16]
	if err := build(ctx, cli, r, dockerfileContents, tag); err != nil {
		return "", err
	}
	c.built[imageHash] = tag
	return tag, nil
}

// build runs the image build, retrying a bounded number of times: the
// daemon pulls the Dockerfile's base image as part of the build, and that
// pull is the most common transient failure (registry timeouts, rate
// limits) worth retrying without resorting to it around a task's own cmd.
func build(ctx context.Context, cli *client.Client, r *recipe.Runner, dockerfileContents []byte, tag string) error {
	authConfigs, err := registryAuthConfigs(dockerfileContents)
	if err != nil {
		return ttserr.Wrap(ttserr.KindRunnerBuildFailed, "failed to look up registry credential for runner "+r.Name, err)
	}

	return backoff.Retry(func() error {
		buildCtx, err := tarContext(r.Context, dockerfileContents)
		if err != nil {
			return backoff.Permanent(ttserr.Wrap(ttserr.KindRunnerBuildFailed, "failed to prepare build context", err))
		}

		resp, err := cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
			Tags:        []string{tag},
			BuildArgs:   toBuildArgPtrs(r.BuildArgs),
			Dockerfile:  "Dockerfile.tt",
			Remove:      true,
			AuthConfigs: authConfigs,
		})
		if err != nil {
			return ttserr.Wrap(ttserr.KindRunnerBuildFailed, "docker image build failed for runner "+r.Name, err)
		}
		defer resp.Body.Close()
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return ttserr.Wrap(ttserr.KindRunnerBuildFailed, "failed to read build output for runner "+r.Name, err)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx))
}

// tarContext packages the build context directory (if any) plus the
// Dockerfile contents (under a fixed name, since r.Dockerfile's real path
// may live outside Context) into a tar stream for the Docker build API.
func tarContext(contextDir string, dockerfileContents []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if contextDir != "" {
		entries, err := os.ReadDir(contextDir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			data, err := os.ReadFile(contextDir + string(os.PathSeparator) + entry.Name())
			if err != nil {
				return nil, err
			}
			if err := tw.WriteHeader(&tar.Header{Name: entry.Name(), Mode: 0o644, Size: int64(len(data))}); err != nil {
				return nil, err
			}
			if _, err := tw.Write(data); err != nil {
				return nil, err
			}
		}
	}

	if err := tw.WriteHeader(&tar.Header{Name: "Dockerfile.tt", Mode: 0o644, Size: int64(len(dockerfileContents))}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(dockerfileContents); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// registryAuthConfigs looks up a stored credential for the registry host
// named in the Dockerfile's base image, if any. A missing credential, or a
// base image with no explicit registry host (Docker Hub), builds
// unauthenticated, exactly as before.
func registryAuthConfigs(dockerfileContents []byte) (map[string]types.AuthConfig, error) {
	host := baseImageRegistryHost(dockerfileContents)
	if host == "" {
		return nil, nil
	}
	cred, ok, err := recipeconfig.LookupRegistryCredential(host)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return map[string]types.AuthConfig{
		host: {Username: cred.Username, Password: cred.Password, ServerAddress: host},
	}, nil
}

// baseImageRegistryHost extracts the registry hostname from a Dockerfile's
// first FROM instruction. Returns "" for an image with no explicit host
// (an implicit docker.io/library pull, or a previous build stage's alias).
func baseImageRegistryHost(dockerfileContents []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(dockerfileContents))
	for scanner.Scan() {
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) < 2 || !strings.EqualFold(fields[0], "FROM") {
			continue
		}
		return registryHostFromImageRef(fields[1])
	}
	return ""
}

func registryHostFromImageRef(ref string) string {
	if at := strings.IndexByte(ref, '@'); at != -1 {
		ref = ref[:at]
	}
	slash := strings.IndexByte(ref, '/')
	if slash == -1 {
		return "" // e.g. "alpine:3.19", Docker Hub library image
	}
	host := ref[:slash]
	if host == "localhost" || strings.ContainsAny(host, ".:") {
		return host
	}
	return "" // e.g. "golang/go" — a Docker Hub namespace, not a host
}

func toBuildArgPtrs(args map[string]string) map[string]*string {
	out := make(map[string]*string, len(args))
	for k, v := range args {
		v := v
		out[k] = &v
	}
	return out
}

// RunOptions configures a single container invocation.
type RunOptions struct {
	Image        string
	Cmd          []string // shell invocation + script path, already resolved inside the container
	WorkingDir   string
	Env          []string
	StatePathHost string
	Volumes      []recipe.VolumeBind
	Ports        map[string]string // host port -> container port[/proto]
	RunAsRoot    bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// portBindings converts a Runner's ports map into the exposed-port set and
// host bindings ContainerCreate expects. Values may carry an explicit
// "/udp" or "/tcp" suffix; "tcp" is assumed otherwise.
func portBindings(ports map[string]string) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for hostPort, containerSpec := range ports {
		containerPort, proto := containerSpec, "tcp"
		if i := strings.IndexByte(containerSpec, '/'); i != -1 {
			containerPort, proto = containerSpec[:i], containerSpec[i+1:]
		}
		port, err := nat.NewPort(proto, containerPort)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port mapping %q:%q: %w", hostPort, containerSpec, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: hostPort})
	}
	return exposed, bindings, nil
}

// Run creates, starts, waits for, and removes a container for a single
// task invocation, streaming its output to opts.Stdout/Stderr.
func Run(ctx context.Context, cli *client.Client, opts RunOptions) (int, error) {
	for _, v := range opts.Volumes {
		if v.Container == ReservedStatePath {
			return 0, &ttserr.Error{Kind: ttserr.KindReservedVolumePath,
				Message: fmt.Sprintf("volume mount target %q is reserved for the state file", ReservedStatePath)}
		}
	}

	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: opts.StatePathHost,
		Target: ReservedStatePath,
	}}
	for _, v := range opts.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.Host,
			Target:   v.Container,
			ReadOnly: v.ReadOnly,
		})
	}

	var userSpec string
	if !opts.RunAsRoot && runtime.GOOS != "windows" {
		userSpec = hostUIDGID()
	}

	exposedPorts, hostPortBindings, err := portBindings(opts.Ports)
	if err != nil {
		return 0, ttserr.Wrap(ttserr.KindRunnerDefInvalid, "invalid port mapping", err)
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		WorkingDir:   opts.WorkingDir,
		Env:          opts.Env,
		User:         userSpec,
		ExposedPorts: exposedPorts,
	}, &container.HostConfig{
		Mounts:       mounts,
		PortBindings: hostPortBindings,
	}, nil, nil, "")
	if err != nil {
		return 0, ttserr.Wrap(ttserr.KindProcessSpawnFailed, "failed to create container", err)
	}
	defer func() {
		_ = cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
	}()

	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return 0, ttserr.Wrap(ttserr.KindProcessSpawnFailed, "failed to start container", err)
	}

	// ContainerLogs without Tty returns Docker's multiplexed stdcopy
	// stream: each frame carries a header naming which of stdout/stderr it
	// belongs to, so it must be demultiplexed rather than copied raw.
	logs, err := cli.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err == nil {
		defer logs.Close()
		_, _ = stdcopy.StdCopy(blackholeIfNil(opts.Stdout), blackholeIfNil(opts.Stderr), logs)
	}

	statusCh, errCh := cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, ttserr.Wrap(ttserr.KindProcessSpawnFailed, "failed waiting for container", err)
		}
		return 0, nil
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

// blackholeIfNil substitutes io.Discard for a policy that wants this
// stream dropped (stdcopy.StdCopy requires a non-nil writer for both
// sides even when only one is actually wanted).
func blackholeIfNil(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func hostUIDGID() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Uid + ":" + u.Gid
}
