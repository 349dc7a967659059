package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BegaDeveloper/kindops/internal/audit"
	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/executor/executortest"
	"github.com/BegaDeveloper/kindops/internal/inspect"
	"github.com/BegaDeveloper/kindops/internal/kind"
	"github.com/BegaDeveloper/kindops/internal/logstream"
	"github.com/BegaDeveloper/kindops/internal/tasks"
)

type testDaemon struct {
	server   *daemonServer
	registry *tasks.MemoryRegistry
	handler  http.Handler
	tempDir  string
}

func newTestDaemon(t *testing.T, runner executor.Runner, kubectl string) *testDaemon {
	t.Helper()
	tempDir := t.TempDir()
	metrics := newMetricsRegistry()
	registry := tasks.NewMemoryRegistry(zerolog.Nop(), tasks.WithObserver(metrics.observeTask))
	server := &daemonServer{
		clusters:  kind.NewManager(runner, zerolog.Nop(), kind.WithTempDir(tempDir)),
		inspector: inspect.NewAggregator(runner, kubectl, zerolog.Nop()),
		logs:      logstream.NewAdapter(kubectl, zerolog.Nop()),
		tasks:     registry,
		metrics:   metrics,
		logger:    zerolog.Nop(),
	}
	handler := chain(
		recovery(zerolog.Nop()),
		requestLogging(zerolog.Nop(), metrics),
		cors([]string{"http://localhost:3000"}),
	)(server.routes())
	return &testDaemon{server: server, registry: registry, handler: handler, tempDir: tempDir}
}

func (daemon *testDaemon) do(t *testing.T, method string, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	recorder := httptest.NewRecorder()
	daemon.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(recorder.Body.Bytes(), &value); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return value
}

func expectError(t *testing.T, recorder *httptest.ResponseRecorder, status int, code errorCode) errorResponse {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
	response := decodeBody[errorResponse](t, recorder)
	if response.Error.Code != code {
		t.Fatalf("expected code %s, got %s", code, response.Error.Code)
	}
	return response
}

func TestHealth(t *testing.T) {
	daemon := newTestDaemon(t, executortest.NewSpyRunner(nil), "")
	recorder := daemon.do(t, http.MethodGet, "/health", "")
	if recorder.Code != http.StatusOK || strings.TrimSpace(recorder.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("unexpected health response %d %q", recorder.Code, recorder.Body.String())
	}
}

func TestCreateCluster_QueuesAndCompletes(t *testing.T) {
	spy := executortest.NewSpyRunner(executortest.Succeed(""))
	daemon := newTestDaemon(t, spy, "")

	recorder := daemon.do(t, http.MethodPost, "/api/clusters", `{"cluster_name":"demo","num_workers":2}`)
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	accepted := decodeBody[taskAcceptedResponse](t, recorder)
	if accepted.Message != "Cluster 'demo' creation has been queued." || accepted.TaskID == "" {
		t.Fatalf("unexpected accepted response %+v", accepted)
	}

	daemon.registry.Wait()
	recorder = daemon.do(t, http.MethodGet, "/api/tasks/"+accepted.TaskID, "")
	task := decodeBody[tasks.Task](t, recorder)
	if task.Status != tasks.StateCompleted || !strings.Contains(task.Result, "demo") {
		t.Fatalf("unexpected task %+v", task)
	}
	commands := spy.Commands()
	if len(commands) != 1 || commands[0].Args[0] != "create" {
		t.Fatalf("expected one kind create call, got %v", commands)
	}
	entries, _ := os.ReadDir(daemon.tempDir)
	if len(entries) != 0 {
		t.Fatalf("expected config file cleanup, found %d entries", len(entries))
	}
}

func TestCreateCluster_FailureIsRecordedOnTask(t *testing.T) {
	spy := executortest.NewSpyRunner(executortest.Fail(1, "ERROR: failed to create cluster: docker not running"))
	daemon := newTestDaemon(t, spy, "")

	recorder := daemon.do(t, http.MethodPost, "/api/clusters", `{"cluster_name":"demo"}`)
	accepted := decodeBody[taskAcceptedResponse](t, recorder)
	daemon.registry.Wait()

	task := decodeBody[tasks.Task](t, daemon.do(t, http.MethodGet, "/api/tasks/"+accepted.TaskID, ""))
	if task.Status != tasks.StateFailed {
		t.Fatalf("expected failed task, got %+v", task)
	}
	if !strings.HasPrefix(task.Result, "error creating cluster") || !strings.Contains(task.Result, "docker not running") {
		t.Fatalf("unexpected failure message %q", task.Result)
	}
}

func TestCreateCluster_ValidationRejectsBeforeQueueing(t *testing.T) {
	spy := executortest.NewSpyRunner(executortest.Succeed(""))
	daemon := newTestDaemon(t, spy, "")

	for _, body := range []string{
		`{}`,
		`{"cluster_name":"demo","num_workers":-1}`,
		`{"cluster_name":"demo","num_workers":1099511627776}`,
		`{"cluster_name":"a; rm -rf /"}`,
		`{"cluster_name":"$(whoami)"}`,
		`{"cluster_name":"demo","node_version":"latest"}`,
		`not json`,
	} {
		expectError(t, daemon.do(t, http.MethodPost, "/api/clusters", body), http.StatusBadRequest, errCodeBadRequest)
	}
	daemon.registry.Wait()
	if spy.Calls() != 0 {
		t.Fatalf("expected zero spawned processes, got %d", spy.Calls())
	}
}

func TestListClusters(t *testing.T) {
	daemon := newTestDaemon(t, executortest.NewSpyRunner(executortest.Succeed("demo\nkind")), "")
	recorder := daemon.do(t, http.MethodGet, "/api/clusters", "")
	clusters := decodeBody[[]clusterResponse](t, recorder)
	if len(clusters) != 2 || clusters[0].Name != "demo" || clusters[1].Name != "kind" {
		t.Fatalf("unexpected clusters %+v", clusters)
	}

	empty := newTestDaemon(t, executortest.NewSpyRunner(executortest.Succeed("")), "")
	recorder = empty.do(t, http.MethodGet, "/api/clusters", "")
	if recorder.Code != http.StatusOK || strings.TrimSpace(recorder.Body.String()) != "[]" {
		t.Fatalf("expected empty JSON array, got %d %q", recorder.Code, recorder.Body.String())
	}

	failing := newTestDaemon(t, executortest.NewSpyRunner(executortest.Fail(1, "cannot connect to docker")), "")
	expectError(t, failing.do(t, http.MethodGet, "/api/clusters", ""), http.StatusServiceUnavailable, errCodeListUnavailable)
}

func TestDeleteCluster(t *testing.T) {
	missing := newTestDaemon(t, executortest.NewSpyRunner(executortest.Fail(1, "unknown cluster")), "")
	response := expectError(t, missing.do(t, http.MethodDelete, "/api/clusters/ghost", ""), http.StatusNotFound, errCodeNotFound)
	if response.Error.Message != "Cluster 'ghost' not found or could not be deleted." {
		t.Fatalf("unexpected message %q", response.Error.Message)
	}

	present := newTestDaemon(t, executortest.NewSpyRunner(executortest.Succeed("")), "")
	recorder := present.do(t, http.MethodDelete, "/api/clusters/demo", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if decodeBody[messageResponse](t, recorder).Message != "Cluster 'demo' has been deleted successfully." {
		t.Fatalf("unexpected body %q", recorder.Body.String())
	}
}

func TestProxy_StatusMapping(t *testing.T) {
	spy := executortest.NewSpyRunner(executortest.Succeed(`{"items":[]}`))
	daemon := newTestDaemon(t, spy, "")

	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/proxy?command=delete+pod+web", ""), http.StatusForbidden, errCodeForbiddenCommand)
	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/proxy?command=get+pods+--context+prod", ""), http.StatusForbidden, errCodeForbiddenCommand)
	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/proxy?command=get+pods%3B+id", ""), http.StatusBadRequest, errCodeBadRequest)
	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/proxy", ""), http.StatusBadRequest, errCodeBadRequest)
	if spy.Calls() != 0 {
		t.Fatalf("rejected commands must not spawn, got %d", spy.Calls())
	}

	recorder := daemon.do(t, http.MethodGet, "/api/clusters/demo/proxy?command=get+pods+-A", "")
	if recorder.Code != http.StatusOK || recorder.Header().Get("Content-Type") != inspect.ContentTypeJSON {
		t.Fatalf("unexpected proxy response %d %q", recorder.Code, recorder.Header().Get("Content-Type"))
	}
	if recorder.Body.String() != `{"items":[]}` {
		t.Fatalf("payload must be passed through verbatim, got %q", recorder.Body.String())
	}

	failing := newTestDaemon(t, executortest.NewSpyRunner(executortest.Fail(1, "no such resource")), "")
	response := expectError(t, failing.do(t, http.MethodGet, "/api/clusters/demo/proxy?command=get+widgets", ""), http.StatusBadRequest, errCodeCommandFailed)
	if !strings.Contains(response.Error.Message, "no such resource") {
		t.Fatalf("expected stderr in message, got %q", response.Error.Message)
	}

	garbled := newTestDaemon(t, executortest.NewSpyRunner(executortest.Succeed("<html>")), "")
	expectError(t, garbled.do(t, http.MethodGet, "/api/clusters/demo/proxy?command=get+pods", ""), http.StatusInternalServerError, errCodeParseFailed)
}

func TestDetails(t *testing.T) {
	spy := executortest.NewSpyRunner(func(command executor.Command) (executor.Result, error) {
		if command.Args[1] == "pods" {
			return executor.Result{Stdout: `{"items":[{"status":{"phase":"Running"}},{"status":{"phase":"Pending"}},{"status":{"phase":"Pending"}},{"status":{"phase":"Failed"}}]}`}, nil
		}
		return executor.Result{Stdout: `{"items":[{}]}`}, nil
	})
	daemon := newTestDaemon(t, spy, "")

	recorder := daemon.do(t, http.MethodGet, "/api/clusters/demo/details", "")
	details := decodeBody[inspect.ClusterDetails](t, recorder)
	expected := inspect.ClusterDetails{
		NodeCount:       1,
		PodSummary:      inspect.PodSummary{Running: 1, Pending: 2, Failed: 1},
		ServiceCount:    1,
		DeploymentCount: 1,
	}
	if details != expected {
		t.Fatalf("details = %+v, want %+v", details, expected)
	}

	failing := newTestDaemon(t, executortest.NewSpyRunner(executortest.Fail(1, "connection refused")), "")
	expectError(t, failing.do(t, http.MethodGet, "/api/clusters/demo/details", ""), http.StatusInternalServerError, errCodeExecutionFailed)
}

func TestResourceRoutes(t *testing.T) {
	spy := executortest.NewSpyRunner(executortest.Succeed(`{"items":[]}`))
	daemon := newTestDaemon(t, spy, "")

	if recorder := daemon.do(t, http.MethodGet, "/api/clusters/demo/pods?all_namespaces=true", ""); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if recorder := daemon.do(t, http.MethodGet, "/api/clusters/demo/services?namespace=kube-system", ""); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	commands := spy.Commands()
	if strings.Join(commands[0].Args, " ") != "--context kind-demo get pods -A -o json" {
		t.Fatalf("unexpected args %q", commands[0].Args)
	}
	if strings.Join(commands[1].Args, " ") != "--context kind-demo get services -n kube-system -o json" {
		t.Fatalf("unexpected args %q", commands[1].Args)
	}

	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/secrets", ""), http.StatusNotFound, errCodeNotFound)
	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/pods?all_namespaces=maybe", ""), http.StatusBadRequest, errCodeBadRequest)
}

func TestTaskNotFound(t *testing.T) {
	daemon := newTestDaemon(t, executortest.NewSpyRunner(nil), "")
	expectError(t, daemon.do(t, http.MethodGet, "/api/tasks/does-not-exist", ""), http.StatusNotFound, errCodeNotFound)
}

func TestLogs_StreamsLines(t *testing.T) {
	directory := t.TempDir()
	kubectl := filepath.Join(directory, "kubectl")
	script := "#!/bin/sh\nprintf 'first\\nsecond\\n'\n"
	if err := os.WriteFile(kubectl, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake kubectl: %v", err)
	}
	daemon := newTestDaemon(t, executortest.NewSpyRunner(nil), kubectl)

	server := httptest.NewServer(daemon.handler)
	defer server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	response, err := client.Get(server.URL + "/api/clusters/demo/pods/web/logs?tail=" + strconv.Itoa(5))
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer response.Body.Close()
	body, _ := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", response.StatusCode, body)
	}
	if string(body) != "first\nsecond\n" {
		t.Fatalf("unexpected log body %q", body)
	}
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", response.Header.Get("Content-Type"))
	}

	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/pods/web;id/logs", ""), http.StatusBadRequest, errCodeBadRequest)
	expectError(t, daemon.do(t, http.MethodGet, "/api/clusters/demo/pods/web/logs?follow=sometimes", ""), http.StatusBadRequest, errCodeBadRequest)
}

func TestCommandsTranscript(t *testing.T) {
	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	defer store.Close()

	runner := audit.NewRecordingRunner(executortest.NewSpyRunner(executortest.Succeed("demo")), store, zerolog.Nop())
	daemon := newTestDaemon(t, runner, "")
	daemon.server.transcript = store

	daemon.do(t, http.MethodGet, "/api/clusters", "")
	daemon.do(t, http.MethodDelete, "/api/clusters/demo", "")

	recorder := daemon.do(t, http.MethodGet, "/api/commands?limit=1", "")
	payload := decodeBody[struct {
		Commands []audit.Entry `json:"commands"`
	}](t, recorder)
	if len(payload.Commands) != 1 || payload.Commands[0].Command != "kind delete cluster --name demo" {
		t.Fatalf("unexpected transcript %+v", payload.Commands)
	}
}

func TestCORS(t *testing.T) {
	daemon := newTestDaemon(t, executortest.NewSpyRunner(nil), "")

	preflight := httptest.NewRequest(http.MethodOptions, "/api/clusters", nil)
	preflight.Header.Set("Origin", "http://localhost:3000")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	recorder := httptest.NewRecorder()
	daemon.handler.ServeHTTP(recorder, preflight)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("missing allow-origin header: %v", recorder.Header())
	}

	foreign := httptest.NewRequest(http.MethodOptions, "/api/clusters", nil)
	foreign.Header.Set("Origin", "https://evil.example")
	foreign.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	recorder = httptest.NewRecorder()
	daemon.handler.ServeHTTP(recorder, foreign)
	if recorder.Code != http.StatusForbidden || recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin must be refused, got %d %v", recorder.Code, recorder.Header())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := chain(recovery(zerolog.Nop()))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	expectError(t, recorder, http.StatusInternalServerError, errCodeInternalError)
}

func TestMetricsEndpoint(t *testing.T) {
	daemon := newTestDaemon(t, executortest.NewSpyRunner(executortest.Succeed("")), "")
	daemon.do(t, http.MethodGet, "/api/clusters/demo/proxy?command=delete+pod+web", "")
	daemon.do(t, http.MethodPost, "/api/clusters", `{"cluster_name":"demo"}`)
	daemon.registry.Wait()

	body := daemon.do(t, http.MethodGet, "/metrics", "").Body.String()
	for _, expected := range []string{
		"kindops_inspections_rejected_total 1",
		`kindops_tasks_total{state="completed"} 1`,
		`kindops_http_requests_total{code="403",method="GET"} 1`,
	} {
		if !strings.Contains(body, expected) {
			t.Fatalf("expected %q in metrics output", expected)
		}
	}
}

func TestInstrumentedRunnerCountsOutcomes(t *testing.T) {
	metrics := newMetricsRegistry()
	runner := &instrumentedRunner{next: executortest.NewSpyRunner(executortest.Fail(2, "bad")), metrics: metrics}
	_, _ = runner.Run(context.Background(), executor.NewCommand("kubectl", "get", "pods"))

	recorder := httptest.NewRecorder()
	metrics.handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(recorder.Body.String(), `kindops_commands_total{outcome="nonzero_exit",program="kubectl"} 1`) {
		t.Fatalf("expected nonzero_exit counter, got:\n%s", recorder.Body.String())
	}
}

func TestDaemonLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "kindopsd.lock")
	lock, err := acquireDaemonLock(lockPath)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := acquireDaemonLock(lockPath); err == nil {
		t.Fatalf("second acquire must fail while the lock is held")
	}
	lock.release()

	// 2^22 is above the default Linux pid_max, so no process owns it.
	if err := os.WriteFile(lockPath, []byte("4194304"), 0o600); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}
	stale, err := acquireDaemonLock(lockPath)
	if err != nil {
		t.Fatalf("stale lock must be replaced, got %v", err)
	}
	stale.release()
}

func TestServiceDefinitions(t *testing.T) {
	env := map[string]string{"KINDOPS_ADDR": "127.0.0.1:8000", "KINDOPS_KIND_BINARY": "/usr/local/bin/kind", "EMPTY": ""}

	unit := systemdUnit("/usr/local/bin/kindopsd", env)
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/kindopsd") {
		t.Fatalf("unit missing ExecStart:\n%s", unit)
	}
	addrIndex := strings.Index(unit, `Environment="KINDOPS_ADDR=127.0.0.1:8000"`)
	kindIndex := strings.Index(unit, `Environment="KINDOPS_KIND_BINARY=/usr/local/bin/kind"`)
	if addrIndex < 0 || kindIndex < 0 || addrIndex > kindIndex {
		t.Fatalf("expected sorted environment lines:\n%s", unit)
	}
	if strings.Contains(unit, "EMPTY") {
		t.Fatalf("empty values must be skipped:\n%s", unit)
	}

	plist := launchdPlist("/opt/kindopsd", "/tmp/logs", env)
	if !strings.Contains(plist, "<string>"+serviceLabel+"</string>") || !strings.Contains(plist, "<key>KINDOPS_ADDR</key>") {
		t.Fatalf("unexpected plist:\n%s", plist)
	}
}
