package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/BegaDeveloper/kindops/internal/audit"
	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/inspect"
	"github.com/BegaDeveloper/kindops/internal/kind"
	"github.com/BegaDeveloper/kindops/internal/logstream"
	"github.com/BegaDeveloper/kindops/internal/security"
	"github.com/BegaDeveloper/kindops/internal/tasks"
)

const maxRequestBodySize = 1 << 20

type daemonServer struct {
	clusters   *kind.Manager
	inspector  *inspect.Aggregator
	logs       *logstream.Adapter
	tasks      tasks.Registry
	transcript *audit.Store
	metrics    *metricsRegistry
	logger     zerolog.Logger
}

func (server *daemonServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", server.handleHealth)
	if server.metrics != nil {
		mux.Handle("GET /metrics", server.metrics.handler())
	}
	mux.HandleFunc("POST /api/clusters", server.handleCreateCluster)
	mux.HandleFunc("GET /api/clusters", server.handleListClusters)
	mux.HandleFunc("DELETE /api/clusters/{name}", server.handleDeleteCluster)
	mux.HandleFunc("GET /api/clusters/{name}/proxy", server.handleProxy)
	mux.HandleFunc("GET /api/clusters/{name}/details", server.handleDetails)
	mux.HandleFunc("GET /api/clusters/{name}/pods/{pod}/logs", server.handleLogs)
	mux.HandleFunc("GET /api/clusters/{name}/{kind}", server.handleResource)
	mux.HandleFunc("GET /api/tasks/{id}", server.handleTask)
	mux.HandleFunc("GET /api/commands", server.handleCommands)
	return mux
}

func (server *daemonServer) handleHealth(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (server *daemonServer) handleCreateCluster(writer http.ResponseWriter, request *http.Request) {
	payload := createClusterRequest{}
	decoder := json.NewDecoder(io.LimitReader(request.Body, maxRequestBodySize))
	if decodeError := decoder.Decode(&payload); decodeError != nil {
		writeErrorResponse(writer, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("invalid request body: %v", decodeError))
		return
	}
	createRequest := kind.CreateRequest{
		Name:        strings.TrimSpace(payload.ClusterName),
		NodeVersion: payload.NodeVersion,
		Config:      payload.Config,
	}
	if payload.NumWorkers != nil {
		createRequest.Workers = *payload.NumWorkers
	}
	if validationError := createRequest.Validate(); validationError != nil {
		server.writeError(writer, validationError, http.StatusBadRequest)
		return
	}

	clusters := server.clusters
	task := server.tasks.Submit(createRequest.Name, func(ctx context.Context) (string, error) {
		if _, err := clusters.CreateCluster(ctx, createRequest); err != nil {
			return "", fmt.Errorf("error creating cluster: %w", err)
		}
		return fmt.Sprintf("Cluster '%s' created successfully.", createRequest.Name), nil
	})
	writeJSON(writer, http.StatusAccepted, taskAcceptedResponse{
		Message: fmt.Sprintf("Cluster '%s' creation has been queued.", createRequest.Name),
		TaskID:  task.ID,
	})
}

func (server *daemonServer) handleListClusters(writer http.ResponseWriter, request *http.Request) {
	names, listError := server.clusters.ListClusters(request.Context())
	if listError != nil {
		server.writeError(writer, listError, http.StatusInternalServerError)
		return
	}
	response := make([]clusterResponse, 0, len(names))
	for _, name := range names {
		response = append(response, clusterResponse{Name: name})
	}
	writeJSON(writer, http.StatusOK, response)
}

func (server *daemonServer) handleDeleteCluster(writer http.ResponseWriter, request *http.Request) {
	name := request.PathValue("name")
	deleted, deleteError := server.clusters.DeleteCluster(request.Context(), name)
	if deleteError != nil {
		server.writeError(writer, deleteError, http.StatusInternalServerError)
		return
	}
	if !deleted {
		writeErrorResponse(writer, http.StatusNotFound, errCodeNotFound, fmt.Sprintf("Cluster '%s' not found or could not be deleted.", name))
		return
	}
	writeJSON(writer, http.StatusOK, messageResponse{Message: fmt.Sprintf("Cluster '%s' has been deleted successfully.", name)})
}

func (server *daemonServer) handleProxy(writer http.ResponseWriter, request *http.Request) {
	command := strings.TrimSpace(request.URL.Query().Get("command"))
	if command == "" {
		writeErrorResponse(writer, http.StatusBadRequest, errCodeBadRequest, "command query parameter is required")
		return
	}
	payload, inspectError := server.inspector.RunInspection(request.Context(), request.PathValue("name"), command)
	if inspectError != nil {
		server.writeError(writer, inspectError, http.StatusBadRequest)
		return
	}
	writePayload(writer, payload)
}

func (server *daemonServer) handleDetails(writer http.ResponseWriter, request *http.Request) {
	details, detailsError := server.inspector.GetClusterDetails(request.Context(), request.PathValue("name"))
	if detailsError != nil {
		server.writeError(writer, detailsError, http.StatusInternalServerError)
		return
	}
	writeJSON(writer, http.StatusOK, details)
}

func (server *daemonServer) handleResource(writer http.ResponseWriter, request *http.Request) {
	resourceKind := request.PathValue("kind")
	if kindError := security.ValidateResourceKind(resourceKind); kindError != nil {
		writeErrorResponse(writer, http.StatusNotFound, errCodeNotFound, kindError.Error())
		return
	}
	scope := inspect.Scope{Namespace: strings.TrimSpace(request.URL.Query().Get("namespace"))}
	if raw := strings.TrimSpace(request.URL.Query().Get("all_namespaces")); raw != "" {
		allNamespaces, parseError := strconv.ParseBool(raw)
		if parseError != nil {
			writeErrorResponse(writer, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("invalid all_namespaces value %q", raw))
			return
		}
		scope.AllNamespaces = allNamespaces
	}
	payload, resourceError := server.inspector.GetResource(request.Context(), request.PathValue("name"), resourceKind, scope)
	if resourceError != nil {
		server.writeError(writer, resourceError, http.StatusBadRequest)
		return
	}
	writePayload(writer, payload)
}

func (server *daemonServer) handleLogs(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()
	logRequest := logstream.Request{
		Cluster:   request.PathValue("name"),
		Pod:       request.PathValue("pod"),
		Namespace: strings.TrimSpace(query.Get("namespace")),
	}
	if raw := strings.TrimSpace(query.Get("follow")); raw != "" {
		follow, parseError := strconv.ParseBool(raw)
		if parseError != nil {
			writeErrorResponse(writer, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("invalid follow value %q", raw))
			return
		}
		logRequest.Follow = follow
	}
	if raw := strings.TrimSpace(query.Get("tail")); raw != "" {
		tail, parseError := strconv.Atoi(raw)
		if parseError != nil {
			writeErrorResponse(writer, http.StatusBadRequest, errCodeBadRequest, fmt.Sprintf("invalid tail value %q", raw))
			return
		}
		// Any non-positive tail means "all lines".
		logRequest.Tail = max(tail, 0)
	}

	stream, openError := server.logs.Open(request.Context(), logRequest)
	if openError != nil {
		server.writeError(writer, openError, http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	controller := http.NewResponseController(writer)
	writer.Header().Set("Content-Type", inspect.ContentTypeText)
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("X-Content-Type-Options", "nosniff")
	writer.WriteHeader(http.StatusOK)
	_ = controller.Flush()

	for line := range stream.Lines() {
		if _, writeError := io.WriteString(writer, line+"\n"); writeError != nil {
			server.logger.Debug().Err(writeError).Msg("log stream client went away")
			return
		}
		_ = controller.Flush()
	}
	if waitError := stream.Wait(); waitError != nil {
		server.logger.Warn().Err(waitError).Str("cluster", logRequest.Cluster).Str("pod", logRequest.Pod).Str("stderr", stream.Stderr()).Msg("log stream ended with error")
	}
}

func (server *daemonServer) handleTask(writer http.ResponseWriter, request *http.Request) {
	task, taskError := server.tasks.Get(request.PathValue("id"))
	if taskError != nil {
		server.writeError(writer, taskError, http.StatusInternalServerError)
		return
	}
	writeJSON(writer, http.StatusOK, task)
}

func (server *daemonServer) handleCommands(writer http.ResponseWriter, request *http.Request) {
	if server.transcript == nil {
		writeJSON(writer, http.StatusOK, map[string]any{"commands": []audit.Entry{}})
		return
	}
	limit := audit.DefaultListLimit
	if rawLimit := strings.TrimSpace(request.URL.Query().Get("limit")); rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil {
			limit = parsed
		}
	}
	entries, err := server.transcript.List(limit)
	if err != nil {
		server.writeError(writer, err, http.StatusInternalServerError)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"commands": entries})
}

// writeError maps an error to a status and code. executionStatus is the
// status used for a nonzero kubectl or kind exit, which differs by endpoint.
func (server *daemonServer) writeError(writer http.ResponseWriter, err error, executionStatus int) {
	var validationError *security.ValidationError
	var executionError *executor.ExecutionError
	var parseError *inspect.ParseError
	switch {
	case errors.As(err, &validationError) && validationError.Permission:
		if server.metrics != nil {
			server.metrics.inspectionsRejected.Inc()
		}
		writeErrorResponse(writer, http.StatusForbidden, errCodeForbiddenCommand, validationError.Reason)
	case errors.As(err, &validationError):
		writeErrorResponse(writer, http.StatusBadRequest, errCodeBadRequest, validationError.Reason)
	case errors.As(err, &parseError):
		server.logger.Error().Err(err).Msg("inspection output could not be parsed")
		writeErrorResponse(writer, http.StatusInternalServerError, errCodeParseFailed, err.Error())
	case errors.As(err, &executionError):
		code := errCodeCommandFailed
		if executionStatus >= http.StatusInternalServerError {
			code = errCodeExecutionFailed
		}
		writeErrorResponse(writer, executionStatus, code, "Kubectl command failed: "+executionError.Stderr)
	case errors.Is(err, tasks.ErrTaskNotFound):
		writeErrorResponse(writer, http.StatusNotFound, errCodeNotFound, "Task not found")
	case errors.Is(err, kind.ErrListUnavailable):
		server.logger.Error().Err(err).Msg("cluster list unavailable")
		writeErrorResponse(writer, http.StatusServiceUnavailable, errCodeListUnavailable, err.Error())
	default:
		server.logger.Error().Err(err).Msg("internal error")
		writeErrorResponse(writer, http.StatusInternalServerError, errCodeInternalError, err.Error())
	}
}

func writePayload(writer http.ResponseWriter, payload inspect.Payload) {
	writer.Header().Set("Content-Type", payload.ContentType)
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write(payload.Data)
}

func writeErrorResponse(writer http.ResponseWriter, statusCode int, code errorCode, message string) {
	writeJSON(writer, statusCode, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(writer http.ResponseWriter, statusCode int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}
