package kind

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/executor/executortest"
	"github.com/BegaDeveloper/kindops/internal/security"
)

func argValue(args []string, flag string) string {
	for index, arg := range args {
		if arg == flag && index+1 < len(args) {
			return args[index+1]
		}
	}
	return ""
}

func TestCreateCluster_SynthesizesConfigWithWorkers(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	var capturedConfig clusterConfig
	var configPath string
	spy := executortest.NewSpyRunner(func(command executor.Command) (executor.Result, error) {
		configPath = argValue(command.Args, "--config")
		raw, readError := os.ReadFile(configPath)
		if readError != nil {
			t.Errorf("config file must exist while kind runs: %v", readError)
			return executor.Result{ExitCode: 1}, nil
		}
		if decodeError := yaml.Unmarshal(raw, &capturedConfig); decodeError != nil {
			t.Errorf("generated config is not YAML: %v", decodeError)
		}
		return executor.Result{Command: command.String()}, nil
	})
	manager := NewManager(spy, zerolog.Nop(), WithTempDir(tempDir))

	if _, createError := manager.CreateCluster(context.Background(), CreateRequest{Name: "demo", Workers: 2}); createError != nil {
		t.Fatalf("unexpected create error: %v", createError)
	}

	commands := spy.Commands()
	if len(commands) != 1 {
		t.Fatalf("expected one kind invocation, got %d", len(commands))
	}
	if commands[0].Program != DefaultBinary {
		t.Fatalf("expected kind binary, got %q", commands[0].Program)
	}
	expectedPrefix := []string{"create", "cluster", "--name", "demo", "--config"}
	if !reflect.DeepEqual(commands[0].Args[:5], expectedPrefix) {
		t.Fatalf("unexpected args %q", commands[0].Args)
	}
	if filepath.Dir(configPath) != tempDir {
		t.Fatalf("expected config under %s, got %s", tempDir, configPath)
	}

	if capturedConfig.Kind != "Cluster" || capturedConfig.APIVersion != "kind.x-k8s.io/v1alpha4" {
		t.Fatalf("unexpected config header %+v", capturedConfig)
	}
	roles := []string{}
	for _, node := range capturedConfig.Nodes {
		roles = append(roles, node.Role)
	}
	if !reflect.DeepEqual(roles, []string{RoleControlPlane, RoleWorker, RoleWorker}) {
		t.Fatalf("expected one control-plane and two workers, got %v", roles)
	}

	if _, statError := os.Stat(configPath); !os.IsNotExist(statError) {
		t.Fatalf("config file must be removed after create, stat error %v", statError)
	}
}

func TestCreateCluster_RemovesSuppliedConfigOnFailure(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	var configPath string
	var seenContent string
	spy := executortest.NewSpyRunner(func(command executor.Command) (executor.Result, error) {
		configPath = argValue(command.Args, "--config")
		raw, _ := os.ReadFile(configPath)
		seenContent = string(raw)
		return executor.Result{Command: command.String(), Stderr: "ERROR: failed to create cluster: node(s) already exist", ExitCode: 1}, nil
	})
	manager := NewManager(spy, zerolog.Nop(), WithTempDir(tempDir))

	supplied := "kind: Cluster\napiVersion: kind.x-k8s.io/v1alpha4\nnodes:\n- role: control-plane\n"
	_, createError := manager.CreateCluster(context.Background(), CreateRequest{Name: "demo", Config: supplied})

	var executionError *executor.ExecutionError
	if !errors.As(createError, &executionError) {
		t.Fatalf("expected ExecutionError, got %v", createError)
	}
	if !strings.Contains(executionError.Stderr, "already exist") {
		t.Fatalf("expected stderr to be carried, got %q", executionError.Stderr)
	}
	if seenContent != supplied {
		t.Fatalf("kind must see the supplied config verbatim, got %q", seenContent)
	}
	if _, statError := os.Stat(configPath); !os.IsNotExist(statError) {
		t.Fatalf("config file must be removed after failed create, stat error %v", statError)
	}
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Fatalf("expected empty temp dir, found %d entries", len(entries))
	}
}

func TestCreateCluster_RemovesConfigWhenRunnerErrors(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	spy := executortest.NewSpyRunner(func(command executor.Command) (executor.Result, error) {
		return executor.Result{ExitCode: 127}, errors.New("exec: kind: not found")
	})
	manager := NewManager(spy, zerolog.Nop(), WithTempDir(tempDir))

	if _, createError := manager.CreateCluster(context.Background(), CreateRequest{Name: "demo"}); createError == nil {
		t.Fatalf("expected error when kind cannot be started")
	}
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Fatalf("expected empty temp dir, found %d entries", len(entries))
	}
}

func TestCreateCluster_PinsNodeImage(t *testing.T) {
	t.Parallel()

	spy := executortest.NewSpyRunner(executortest.Succeed(""))
	manager := NewManager(spy, zerolog.Nop(), WithTempDir(t.TempDir()))

	if _, createError := manager.CreateCluster(context.Background(), CreateRequest{Name: "demo", NodeVersion: "v1.29.2"}); createError != nil {
		t.Fatalf("unexpected create error: %v", createError)
	}
	args := spy.Commands()[0].Args
	if argValue(args, "--image") != "kindest/node:v1.29.2" {
		t.Fatalf("expected pinned image, got args %q", args)
	}
}

func TestCreateCluster_RejectsInvalidInputWithoutSpawning(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	spy := executortest.NewSpyRunner(executortest.Succeed(""))
	manager := NewManager(spy, zerolog.Nop(), WithTempDir(tempDir))

	requests := []CreateRequest{
		{Name: "a; rm -rf /"},
		{Name: "$(whoami)"},
		{Name: "demo", Workers: -1},
		{Name: "demo", Workers: MaxWorkers + 1},
		{Name: "demo", Workers: 1 << 30},
		{Name: "demo", NodeVersion: "latest; id"},
		{Name: "demo", Config: "kind: Pod\n"},
		{Name: "demo", Config: "nodes: [unterminated"},
	}
	for _, request := range requests {
		_, createError := manager.CreateCluster(context.Background(), request)
		var validationError *security.ValidationError
		if !errors.As(createError, &validationError) {
			t.Fatalf("expected ValidationError for %+v, got %v", request, createError)
		}
	}
	if spy.Calls() != 0 {
		t.Fatalf("expected zero spawned processes, got %d", spy.Calls())
	}
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 0 {
		t.Fatalf("expected no config files, found %d", len(entries))
	}
}

func TestDeleteCluster_NonexistentReturnsFalse(t *testing.T) {
	t.Parallel()

	spy := executortest.NewSpyRunner(executortest.Fail(1, `ERROR: unknown cluster "ghost"`))
	manager := NewManager(spy, zerolog.Nop())

	deleted, deleteError := manager.DeleteCluster(context.Background(), "ghost")
	if deleteError != nil {
		t.Fatalf("nonzero exit must not be an error, got %v", deleteError)
	}
	if deleted {
		t.Fatalf("expected false for nonexistent cluster")
	}
	if !reflect.DeepEqual(spy.Commands()[0].Args, []string{"delete", "cluster", "--name", "ghost"}) {
		t.Fatalf("unexpected args %q", spy.Commands()[0].Args)
	}
}

func TestDeleteCluster_Success(t *testing.T) {
	t.Parallel()

	spy := executortest.NewSpyRunner(executortest.Succeed("Deleting cluster \"demo\" ..."))
	manager := NewManager(spy, zerolog.Nop(), WithBinary("/opt/bin/kind"))

	deleted, deleteError := manager.DeleteCluster(context.Background(), "demo")
	if deleteError != nil || !deleted {
		t.Fatalf("expected successful delete, got deleted=%v error=%v", deleted, deleteError)
	}
	if spy.Commands()[0].Program != "/opt/bin/kind" {
		t.Fatalf("expected configured binary, got %q", spy.Commands()[0].Program)
	}
}

func TestDeleteCluster_RejectsHostileName(t *testing.T) {
	t.Parallel()

	spy := executortest.NewSpyRunner(executortest.Succeed(""))
	manager := NewManager(spy, zerolog.Nop())

	deleted, deleteError := manager.DeleteCluster(context.Background(), "a; rm -rf /")
	if deleted || deleteError == nil {
		t.Fatalf("expected rejection, got deleted=%v error=%v", deleted, deleteError)
	}
	if spy.Calls() != 0 {
		t.Fatalf("expected zero spawned processes, got %d", spy.Calls())
	}
}

func TestListClusters(t *testing.T) {
	t.Parallel()

	spy := executortest.NewSpyRunner(executortest.Succeed("demo\n\nkind\n"))
	manager := NewManager(spy, zerolog.Nop())

	names, listError := manager.ListClusters(context.Background())
	if listError != nil {
		t.Fatalf("unexpected error: %v", listError)
	}
	if !reflect.DeepEqual(names, []string{"demo", "kind"}) {
		t.Fatalf("unexpected names %q", names)
	}
}

func TestListClusters_EmptyAndFailureAreDistinguished(t *testing.T) {
	t.Parallel()

	empty := NewManager(executortest.NewSpyRunner(executortest.Succeed("No kind clusters found.")), zerolog.Nop())
	names, listError := empty.ListClusters(context.Background())
	if listError != nil || len(names) != 0 {
		t.Fatalf("expected empty list without error, got %q %v", names, listError)
	}

	failing := NewManager(executortest.NewSpyRunner(executortest.Fail(1, "docker not running")), zerolog.Nop())
	names, listError = failing.ListClusters(context.Background())
	if !errors.Is(listError, ErrListUnavailable) {
		t.Fatalf("expected ErrListUnavailable, got %v", listError)
	}
	if names == nil || len(names) != 0 {
		t.Fatalf("expected empty non-nil slice on failure, got %#v", names)
	}
}
