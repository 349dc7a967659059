// Package inspect runs read-only kubectl commands against a kind cluster and
// reduces their JSON output.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/kind"
	"github.com/BegaDeveloper/kindops/internal/security"
)

const DefaultBinary = "kubectl"

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// ParseError reports inspection output that should have been JSON but was not.
type ParseError struct {
	Command string
	Err     error
}

func (parseError *ParseError) Error() string {
	return fmt.Sprintf("parse output of %s: %v", parseError.Command, parseError.Err)
}

func (parseError *ParseError) Unwrap() error {
	return parseError.Err
}

// Payload is inspection output passed through verbatim.
type Payload struct {
	Data        []byte
	ContentType string
}

type Scope struct {
	AllNamespaces bool
	Namespace     string
}

type PodSummary struct {
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

type ClusterDetails struct {
	NodeCount       int        `json:"node_count"`
	PodSummary      PodSummary `json:"pod_summary"`
	ServiceCount    int        `json:"service_count"`
	DeploymentCount int        `json:"deployment_count"`
}

type itemList struct {
	Items []json.RawMessage `json:"items"`
}

type podList struct {
	Items []struct {
		Status struct {
			Phase string `json:"phase"`
		} `json:"status"`
	} `json:"items"`
}

type Aggregator struct {
	runner  executor.Runner
	kubectl string
	logger  zerolog.Logger
}

func NewAggregator(runner executor.Runner, kubectl string, logger zerolog.Logger) *Aggregator {
	if strings.TrimSpace(kubectl) == "" {
		kubectl = DefaultBinary
	}
	return &Aggregator{
		runner:  runner,
		kubectl: kubectl,
		logger:  logger.With().Str("component", "inspect").Logger(),
	}
}

// RunInspection gates a caller-supplied kubectl command line and runs it
// against the named cluster.
func (aggregator *Aggregator) RunInspection(ctx context.Context, cluster string, command string) (Payload, error) {
	if err := security.ValidateClusterName(cluster); err != nil {
		return Payload{}, err
	}
	inspection, parseError := security.ParseInspection(command)
	if parseError != nil {
		aggregator.logger.Warn().Str("cluster", cluster).Err(parseError).Msg("inspection rejected")
		return Payload{}, parseError
	}
	return aggregator.run(ctx, cluster, inspection)
}

// GetResource lists one of the supported resource kinds.
func (aggregator *Aggregator) GetResource(ctx context.Context, cluster string, resourceKind string, scope Scope) (Payload, error) {
	if err := security.ValidateClusterName(cluster); err != nil {
		return Payload{}, err
	}
	if err := security.ValidateResourceKind(resourceKind); err != nil {
		return Payload{}, err
	}
	args := []string{resourceKind}
	switch {
	case scope.AllNamespaces:
		args = append(args, "-A")
	case scope.Namespace != "":
		if err := security.ValidateNamespace(scope.Namespace); err != nil {
			return Payload{}, err
		}
		args = append(args, "-n", scope.Namespace)
	}
	inspection, buildError := security.BuildInspection("get", args...)
	if buildError != nil {
		return Payload{}, buildError
	}
	return aggregator.run(ctx, cluster, inspection)
}

// GetClusterDetails runs the node, pod, service and deployment listings in
// order. The first failure aborts the whole call.
func (aggregator *Aggregator) GetClusterDetails(ctx context.Context, cluster string) (ClusterDetails, error) {
	details := ClusterDetails{}

	nodes, err := aggregator.countItems(ctx, cluster, "nodes", Scope{})
	if err != nil {
		return ClusterDetails{}, err
	}
	details.NodeCount = nodes

	podPayload, err := aggregator.GetResource(ctx, cluster, "pods", Scope{AllNamespaces: true})
	if err != nil {
		return ClusterDetails{}, err
	}
	summary, err := summarizePods(podPayload.Data)
	if err != nil {
		return ClusterDetails{}, &ParseError{Command: "get pods", Err: err}
	}
	details.PodSummary = summary

	services, err := aggregator.countItems(ctx, cluster, "services", Scope{AllNamespaces: true})
	if err != nil {
		return ClusterDetails{}, err
	}
	details.ServiceCount = services

	deployments, err := aggregator.countItems(ctx, cluster, "deployments", Scope{AllNamespaces: true})
	if err != nil {
		return ClusterDetails{}, err
	}
	details.DeploymentCount = deployments
	return details, nil
}

func (aggregator *Aggregator) countItems(ctx context.Context, cluster string, resourceKind string, scope Scope) (int, error) {
	payload, err := aggregator.GetResource(ctx, cluster, resourceKind, scope)
	if err != nil {
		return 0, err
	}
	list := itemList{}
	if decodeError := json.Unmarshal(payload.Data, &list); decodeError != nil {
		return 0, &ParseError{Command: "get " + resourceKind, Err: decodeError}
	}
	return len(list.Items), nil
}

func summarizePods(data []byte) (PodSummary, error) {
	list := podList{}
	if err := json.Unmarshal(data, &list); err != nil {
		return PodSummary{}, err
	}
	summary := PodSummary{}
	for _, pod := range list.Items {
		switch strings.ToLower(pod.Status.Phase) {
		case "running":
			summary.Running++
		case "succeeded":
			summary.Succeeded++
		case "pending":
			summary.Pending++
		case "failed":
			summary.Failed++
		}
	}
	return summary, nil
}

func (aggregator *Aggregator) run(ctx context.Context, cluster string, inspection security.Inspection) (Payload, error) {
	argv := inspection.TargetedArgv(kind.ContextName(cluster))
	command := executor.NewCommand(aggregator.kubectl, argv...)
	result, runError := aggregator.runner.Run(ctx, command)
	if runError != nil {
		return Payload{}, fmt.Errorf("kubectl %s: %w", inspection.Verb, runError)
	}
	if err := result.Err(); err != nil {
		return Payload{}, err
	}

	data := []byte(result.Stdout)
	if inspection.OutputFormat != security.OutputFormatJSON {
		return Payload{Data: data, ContentType: ContentTypeText}, nil
	}
	if !json.Valid(data) {
		return Payload{}, &ParseError{Command: command.String(), Err: fmt.Errorf("output is not valid JSON")}
	}
	return Payload{Data: data, ContentType: ContentTypeJSON}, nil
}
