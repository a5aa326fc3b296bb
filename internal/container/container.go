// Package container launches and inspects ticker worker containers.
package container

import (
	"context"
	"errors"

	"ticker-provisioner/internal/domain"
)

// Sentinel errors for orchestrator operations.
var (
	// ErrNotFound is returned when no container has the requested name.
	ErrNotFound = errors.New("container not found")

	// ErrNameConflict is returned when a container with the requested name already exists.
	ErrNameConflict = errors.New("container name already in use")
)

// Labels set on every worker container.
const (
	LabelTicker    = "ticker-provisioner.ticker"
	LabelClientID  = "ticker-provisioner.client_id"
	LabelClass     = "ticker-provisioner.asset_class"
	LabelManagedBy = "ticker-provisioner.managed"
)

// Restart policies understood by the runtime.
const (
	RestartNo            = "no"
	RestartUnlessStopped = "unless-stopped"
	RestartAlways        = "always"
	RestartOnFailure     = "on-failure"
)

// LaunchSpec describes one detached worker container.
type LaunchSpec struct {
	Name          string
	Image         string
	Env           map[string]string
	Labels        map[string]string
	Network       string // optional network to attach to
	RestartPolicy string // optional, one of the Restart* constants
}

// Orchestrator manages worker containers on a container runtime.
type Orchestrator interface {
	// Launch creates and starts a detached container.
	// Returns ErrNameConflict if the name is taken.
	Launch(ctx context.Context, spec LaunchSpec) (domain.ContainerHandle, error)

	// Inspect returns the container with the given name.
	// Returns ErrNotFound if it does not exist.
	Inspect(ctx context.Context, name string) (domain.ContainerHandle, error)

	// Start starts an existing stopped container.
	Start(ctx context.Context, name string) error

	// Stop stops a running container.
	Stop(ctx context.Context, name string) error

	// List returns all containers, running or not, whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]domain.ContainerHandle, error)
}

// WorkerLabels returns the labels attached to a worker for a claimed credential.
func WorkerLabels(ticker, clientID string, class domain.AssetClass) map[string]string {
	return map[string]string{
		LabelTicker:    ticker,
		LabelClientID:  clientID,
		LabelClass:     class.String(),
		LabelManagedBy: "true",
	}
}
