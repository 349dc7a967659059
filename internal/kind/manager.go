// Package kind drives the kind CLI: cluster create, delete and list.
package kind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/security"
)

const (
	DefaultBinary = "kind"
	nodeImageRepo = "kindest/node"
	// MaxWorkers bounds the synthesized config; every worker is a container
	// on the host.
	MaxWorkers = 100
)

// ErrListUnavailable marks a cluster listing that could not be produced, as
// opposed to a listing that is empty.
var ErrListUnavailable = errors.New("cluster list unavailable")

type CreateRequest struct {
	Name        string
	NodeVersion string
	Workers     int
	Config      string
}

// Validate checks every caller-supplied field without touching the
// filesystem or spawning anything.
func (request CreateRequest) Validate() error {
	if err := security.ValidateClusterName(request.Name); err != nil {
		return err
	}
	if request.Workers < 0 {
		return &security.ValidationError{Reason: "num_workers must be >= 0"}
	}
	if request.Workers > MaxWorkers {
		return &security.ValidationError{Reason: fmt.Sprintf("num_workers must be <= %d", MaxWorkers)}
	}
	if strings.TrimSpace(request.NodeVersion) != "" {
		if _, err := security.NormalizeNodeVersion(request.NodeVersion); err != nil {
			return err
		}
	}
	if strings.TrimSpace(request.Config) != "" {
		return validateConfig(request.Config)
	}
	return nil
}

type Manager struct {
	runner  executor.Runner
	binary  string
	tempDir string
	logger  zerolog.Logger
}

type Option func(*Manager)

func WithBinary(binary string) Option {
	return func(manager *Manager) {
		if strings.TrimSpace(binary) != "" {
			manager.binary = binary
		}
	}
}

// WithTempDir sets where ephemeral cluster config files are written.
func WithTempDir(directory string) Option {
	return func(manager *Manager) {
		manager.tempDir = directory
	}
}

func NewManager(runner executor.Runner, logger zerolog.Logger, options ...Option) *Manager {
	manager := &Manager{
		runner: runner,
		binary: DefaultBinary,
		logger: logger.With().Str("component", "kind").Logger(),
	}
	for _, option := range options {
		option(manager)
	}
	return manager
}

// ContextName is the kubeconfig context kind registers for a cluster.
func ContextName(clusterName string) string {
	return "kind-" + clusterName
}

// CreateCluster writes the cluster config to a temporary file, runs
// `kind create cluster` against it and removes the file on every return path.
func (manager *Manager) CreateCluster(ctx context.Context, request CreateRequest) (executor.Result, error) {
	if err := request.Validate(); err != nil {
		return executor.Result{}, err
	}
	nodeVersion := ""
	if strings.TrimSpace(request.NodeVersion) != "" {
		nodeVersion, _ = security.NormalizeNodeVersion(request.NodeVersion)
	}
	configContent := request.Config
	if strings.TrimSpace(configContent) == "" {
		generated, renderError := renderConfig(request.Workers)
		if renderError != nil {
			return executor.Result{}, renderError
		}
		configContent = generated
	}

	configPath, writeError := manager.writeConfigFile(configContent)
	if writeError != nil {
		return executor.Result{}, writeError
	}
	defer manager.removeConfigFile(configPath)

	args := []string{"create", "cluster", "--name", request.Name, "--config", configPath}
	if nodeVersion != "" {
		args = append(args, "--image", nodeImageRepo+":v"+nodeVersion)
	}
	command := executor.NewCommand(manager.binary, args...)
	manager.logger.Info().Str("cluster", request.Name).Int("workers", request.Workers).Str("command", command.String()).Msg("creating cluster")

	result, runError := manager.runner.Run(ctx, command)
	if runError != nil {
		return result, fmt.Errorf("create cluster %s: %w", request.Name, runError)
	}
	if err := result.Err(); err != nil {
		return result, err
	}
	manager.logger.Info().Str("cluster", request.Name).Int64("duration_ms", result.DurationMS).Msg("cluster created")
	return result, nil
}

// DeleteCluster reports false when kind exits nonzero; a missing cluster and
// a failed delete are not told apart.
func (manager *Manager) DeleteCluster(ctx context.Context, name string) (bool, error) {
	if err := security.ValidateClusterName(name); err != nil {
		return false, err
	}
	command := executor.NewCommand(manager.binary, "delete", "cluster", "--name", name)
	result, runError := manager.runner.Run(ctx, command)
	if runError != nil {
		return false, fmt.Errorf("delete cluster %s: %w", name, runError)
	}
	if result.ExitCode != 0 {
		manager.logger.Warn().Str("cluster", name).Int("exit_code", result.ExitCode).Msg("cluster delete failed")
		return false, nil
	}
	manager.logger.Info().Str("cluster", name).Msg("cluster deleted")
	return true, nil
}

// ListClusters returns the names kind knows about. A listing that could not
// be produced yields an empty slice and an error wrapping ErrListUnavailable.
func (manager *Manager) ListClusters(ctx context.Context) ([]string, error) {
	command := executor.NewCommand(manager.binary, "get", "clusters")
	result, runError := manager.runner.Run(ctx, command)
	if runError != nil {
		return []string{}, fmt.Errorf("%w: %v", ErrListUnavailable, runError)
	}
	if err := result.Err(); err != nil {
		return []string{}, fmt.Errorf("%w: %v", ErrListUnavailable, err)
	}
	return parseClusterList(result.Stdout), nil
}

func parseClusterList(output string) []string {
	names := []string{}
	for _, line := range strings.Split(output, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "No kind clusters found") {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (manager *Manager) writeConfigFile(content string) (string, error) {
	file, createError := os.CreateTemp(manager.tempDir, "kind-config-*.yaml")
	if createError != nil {
		return "", fmt.Errorf("create cluster config file: %w", createError)
	}
	path := file.Name()
	if _, writeError := file.WriteString(content); writeError != nil {
		_ = file.Close()
		manager.removeConfigFile(path)
		return "", fmt.Errorf("write cluster config file: %w", writeError)
	}
	if closeError := file.Close(); closeError != nil {
		manager.removeConfigFile(path)
		return "", fmt.Errorf("close cluster config file: %w", closeError)
	}
	return path, nil
}

func (manager *Manager) removeConfigFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		manager.logger.Warn().Err(err).Str("path", path).Msg("remove cluster config file failed")
	}
}
