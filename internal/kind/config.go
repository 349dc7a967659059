package kind

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/BegaDeveloper/kindops/internal/security"
)

const (
	configKind       = "Cluster"
	configAPIVersion = "kind.x-k8s.io/v1alpha4"

	RoleControlPlane = "control-plane"
	RoleWorker       = "worker"
)

type clusterConfig struct {
	Kind       string        `yaml:"kind"`
	APIVersion string        `yaml:"apiVersion"`
	Nodes      []clusterNode `yaml:"nodes,omitempty"`
}

type clusterNode struct {
	Role string `yaml:"role"`
}

func renderConfig(workers int) (string, error) {
	config := clusterConfig{
		Kind:       configKind,
		APIVersion: configAPIVersion,
		Nodes:      []clusterNode{{Role: RoleControlPlane}},
	}
	for index := 0; index < workers; index++ {
		config.Nodes = append(config.Nodes, clusterNode{Role: RoleWorker})
	}
	payload, err := yaml.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("render cluster config: %w", err)
	}
	return string(payload), nil
}

// validateConfig only checks that a caller-supplied config is YAML describing
// a kind Cluster; kind itself validates the rest.
func validateConfig(content string) error {
	var config map[string]any
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &security.ValidationError{Reason: fmt.Sprintf("cluster config is not valid YAML: %v", err)}
	}
	if config == nil {
		return &security.ValidationError{Reason: "cluster config is empty"}
	}
	if kind, present := config["kind"]; present && kind != configKind {
		return &security.ValidationError{Reason: fmt.Sprintf("cluster config kind must be %q, got %v", configKind, kind)}
	}
	return nil
}
