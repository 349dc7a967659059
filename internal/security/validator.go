package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type ValidationError struct {
	Reason string
	// Permission marks a request that was well formed but names a command
	// the gate never lets through.
	Permission bool
}

func (validationError *ValidationError) Error() string {
	return validationError.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...), Permission: true}
}

func IsPermissionError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError) && validationError.Permission
}

const (
	maxClusterNameLength = 50
	maxNamespaceLength   = 63
	maxObjectNameLength  = 253
)

var (
	clusterNameRegex = regexp.MustCompile(`^[a-z0-9]([-a-z0-9.]*[a-z0-9])?$`)
	dnsLabelRegex    = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	dnsSubdomainRe   = regexp.MustCompile(`^[a-z0-9]([-a-z0-9.]*[a-z0-9])?$`)
	nodeVersionRegex = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+([-+][0-9A-Za-z.-]+)?$`)
)

var resourceKinds = map[string]bool{
	"nodes":       true,
	"pods":        true,
	"services":    true,
	"deployments": true,
	"namespaces":  true,
}

func ValidateClusterName(name string) error {
	if name == "" {
		return invalid("cluster name is required")
	}
	if len(name) > maxClusterNameLength || !clusterNameRegex.MatchString(name) {
		return invalid("invalid cluster name %q: use lowercase letters, digits, '-' and '.'", name)
	}
	return nil
}

func ValidateNamespace(name string) error {
	if name == "" {
		return invalid("namespace is required")
	}
	if len(name) > maxNamespaceLength || !dnsLabelRegex.MatchString(name) {
		return invalid("invalid namespace name %q", name)
	}
	return nil
}

func ValidatePodName(name string) error {
	if name == "" {
		return invalid("pod name is required")
	}
	if len(name) > maxObjectNameLength || !dnsSubdomainRe.MatchString(name) {
		return invalid("invalid pod name %q", name)
	}
	return nil
}

// NormalizeNodeVersion accepts "1.29.2" or "v1.29.2" and returns the bare
// version used in the kindest/node image tag.
func NormalizeNodeVersion(version string) (string, error) {
	normalized := strings.TrimPrefix(strings.TrimSpace(version), "v")
	if !nodeVersionRegex.MatchString(normalized) {
		return "", invalid("invalid node version %q (expected e.g. 1.29.2)", version)
	}
	return normalized, nil
}

func ValidateResourceKind(kind string) error {
	if !resourceKinds[kind] {
		return invalid("unsupported resource kind %q (expected nodes, pods, services, deployments or namespaces)", kind)
	}
	return nil
}
