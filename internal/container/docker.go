package container

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"ticker-provisioner/internal/domain"
	"ticker-provisioner/internal/observability"
)

// DefaultCallTimeout bounds each runtime call.
const DefaultCallTimeout = 30 * time.Second

// stopGraceSeconds is how long a worker gets to exit before it is killed.
const stopGraceSeconds = 10

// dockerAPI is the subset of the Docker engine client used by Docker.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

var _ dockerAPI = (*client.Client)(nil)

var _ Orchestrator = (*Docker)(nil)

// DockerOptions configures Docker.
type DockerOptions struct {
	Client      dockerAPI
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// Docker implements Orchestrator on the Docker engine API.
type Docker struct {
	api     dockerAPI
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDocker creates a Docker orchestrator over an existing engine client.
func NewDocker(opts DockerOptions) *Docker {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Docker{
		api:     opts.Client,
		timeout: timeout,
		logger:  opts.Logger.With().Str("component", "docker").Logger(),
	}
}

// NewDockerFromEnv connects to the engine described by DOCKER_HOST and friends.
func NewDockerFromEnv(timeout time.Duration, logger zerolog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return NewDocker(DockerOptions{Client: cli, CallTimeout: timeout, Logger: logger}), nil
}

// Close releases the engine client.
func (d *Docker) Close() error {
	return d.api.Close()
}

// Launch creates and starts a worker. A missing image is pulled once.
func (d *Docker) Launch(ctx context.Context, spec LaunchSpec) (domain.ContainerHandle, error) {
	start := time.Now()
	h, err := d.launch(ctx, spec)
	observability.RecordContainerOp("launch", time.Since(start).Seconds(), err)
	return h, err
}

func (d *Docker) launch(ctx context.Context, spec LaunchSpec) (domain.ContainerHandle, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    envList(spec.Env),
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{}
	if spec.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)}
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	created, err := d.create(ctx, cfg, hostCfg, spec.Name)
	if cerrdefs.IsNotFound(err) {
		d.logger.Info().Str("image", spec.Image).Msg("image not present, pulling")
		if perr := d.pull(ctx, spec.Image); perr != nil {
			return domain.ContainerHandle{}, fmt.Errorf("pull image %s: %w", spec.Image, perr)
		}
		created, err = d.create(ctx, cfg, hostCfg, spec.Name)
	}
	if err != nil {
		if cerrdefs.IsConflict(err) {
			return domain.ContainerHandle{}, fmt.Errorf("create %s: %w", spec.Name, ErrNameConflict)
		}
		return domain.ContainerHandle{}, fmt.Errorf("create %s: %w", spec.Name, err)
	}
	for _, w := range created.Warnings {
		d.logger.Warn().Str("container", spec.Name).Msg(w)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.api.ContainerStart(callCtx, created.ID, container.StartOptions{}); err != nil {
		return domain.ContainerHandle{}, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	return domain.ContainerHandle{ID: created.ID, Name: spec.Name, Status: "running"}, nil
}

func (d *Docker) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (container.CreateResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.api.ContainerCreate(callCtx, cfg, hostCfg, nil, nil, name)
}

func (d *Docker) pull(ctx context.Context, ref string) error {
	start := time.Now()
	err := func() error {
		// Pulls can be slow; allow several call budgets.
		callCtx, cancel := context.WithTimeout(ctx, 4*d.timeout)
		defer cancel()

		rc, err := d.api.ImagePull(callCtx, ref, image.PullOptions{})
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(io.Discard, rc)
		return err
	}()
	observability.RecordContainerOp("pull", time.Since(start).Seconds(), err)
	return err
}

// Inspect returns the current state of a named container.
func (d *Docker) Inspect(ctx context.Context, name string) (domain.ContainerHandle, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	info, err := d.api.ContainerInspect(callCtx, name)
	observability.RecordContainerOp("inspect", time.Since(start).Seconds(), ignoreNotFound(err))
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return domain.ContainerHandle{}, fmt.Errorf("inspect %s: %w", name, ErrNotFound)
		}
		return domain.ContainerHandle{}, fmt.Errorf("inspect %s: %w", name, err)
	}

	h := domain.ContainerHandle{Name: name}
	if info.ContainerJSONBase != nil {
		h.ID = info.ID
		h.Name = strings.TrimPrefix(info.Name, "/")
		if info.State != nil {
			h.Status = string(info.State.Status)
		}
	}
	return h, nil
}

// Start starts an existing container.
func (d *Docker) Start(ctx context.Context, name string) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.api.ContainerStart(callCtx, name, container.StartOptions{})
	observability.RecordContainerOp("start", time.Since(start).Seconds(), err)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("start %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("start %s: %w", name, err)
	}
	return nil
}

// Stop stops a running container, killing it after a grace period.
func (d *Docker) Stop(ctx context.Context, name string) error {
	grace := stopGraceSeconds
	callCtx, cancel := context.WithTimeout(ctx, d.timeout+time.Duration(grace)*time.Second)
	defer cancel()

	start := time.Now()
	err := d.api.ContainerStop(callCtx, name, container.StopOptions{Timeout: &grace})
	observability.RecordContainerOp("stop", time.Since(start).Seconds(), err)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("stop %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// List returns containers whose name starts with prefix, including stopped ones.
func (d *Docker) List(ctx context.Context, prefix string) ([]domain.ContainerHandle, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	items, err := d.api.ContainerList(callCtx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", prefix)),
	})
	observability.RecordContainerOp("list", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]domain.ContainerHandle, 0, len(items))
	for _, it := range items {
		// The engine's name filter is a substring match.
		for _, n := range it.Names {
			n = strings.TrimPrefix(n, "/")
			if strings.HasPrefix(n, prefix) {
				out = append(out, domain.ContainerHandle{ID: it.ID, Name: n, Status: string(it.State)})
				break
			}
		}
	}
	return out, nil
}

func ignoreNotFound(err error) error {
	if cerrdefs.IsNotFound(err) {
		return nil
	}
	return err
}
