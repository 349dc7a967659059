package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Response types mirror the daemon's JSON bodies. The CLI does not import
// cmd/kindopsd.

type ClusterResponse struct {
	Name string `json:"name"`
}

type TaskResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Result    string `json:"result"`
	Subject   string `json:"subject"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Terminal reports whether the task will not change state again.
func (task TaskResponse) Terminal() bool {
	return task.Status == "completed" || task.Status == "failed"
}

type TaskAcceptedResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

type PodSummary struct {
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
}

type ClusterDetailsResponse struct {
	NodeCount       int        `json:"node_count"`
	PodSummary      PodSummary `json:"pod_summary"`
	ServiceCount    int        `json:"service_count"`
	DeploymentCount int        `json:"deployment_count"`
}

type CommandEntry struct {
	Sequence   uint64 `json:"sequence"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
}

type CreateClusterRequest struct {
	ClusterName string `json:"cluster_name"`
	NodeVersion string `json:"node_version,omitempty"`
	NumWorkers  *int   `json:"num_workers,omitempty"`
	Config      string `json:"config,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx daemon response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (apiError *APIError) Error() string {
	if apiError.Code == "" {
		return fmt.Sprintf("daemon error: HTTP %d", apiError.Status)
	}
	return fmt.Sprintf("%s: %s", apiError.Code, apiError.Message)
}

// LogsOptions selects the log window for StreamLogs.
type LogsOptions struct {
	Namespace string
	Follow    bool
	Tail      int
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall timeout so followed logs can run indefinitely.
	streamClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
}

func (client *Client) Health(ctx context.Context) error {
	return client.getJSON(ctx, "/health", nil)
}

func (client *Client) ListClusters(ctx context.Context) ([]ClusterResponse, error) {
	clusters := []ClusterResponse{}
	err := client.getJSON(ctx, "/api/clusters", &clusters)
	return clusters, err
}

func (client *Client) CreateCluster(ctx context.Context, request CreateClusterRequest) (*TaskAcceptedResponse, error) {
	var accepted TaskAcceptedResponse
	if err := client.doJSON(ctx, http.MethodPost, "/api/clusters", request, &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// DeleteCluster returns the daemon's confirmation message.
func (client *Client) DeleteCluster(ctx context.Context, name string) (string, error) {
	var response messageResponse
	if err := client.doJSON(ctx, http.MethodDelete, "/api/clusters/"+url.PathEscape(name), nil, &response); err != nil {
		return "", err
	}
	return response.Message, nil
}

func (client *Client) GetTask(ctx context.Context, id string) (*TaskResponse, error) {
	var task TaskResponse
	if err := client.getJSON(ctx, "/api/tasks/"+url.PathEscape(id), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// WaitTask polls until the task reaches a terminal state or ctx ends.
func (client *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (*TaskResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := client.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (client *Client) ClusterDetails(ctx context.Context, cluster string) (*ClusterDetailsResponse, error) {
	var details ClusterDetailsResponse
	if err := client.getJSON(ctx, "/api/clusters/"+url.PathEscape(cluster)+"/details", &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// Inspect runs a kubectl inspection command and returns the raw payload with
// its content type.
func (client *Client) Inspect(ctx context.Context, cluster string, command string) ([]byte, string, error) {
	params := url.Values{}
	params.Set("command", command)
	return client.getRaw(ctx, "/api/clusters/"+url.PathEscape(cluster)+"/proxy?"+params.Encode())
}

func (client *Client) Resource(ctx context.Context, cluster string, kind string, namespace string, allNamespaces bool) ([]byte, string, error) {
	params := url.Values{}
	if namespace != "" {
		params.Set("namespace", namespace)
	}
	if allNamespaces {
		params.Set("all_namespaces", "true")
	}
	path := "/api/clusters/" + url.PathEscape(cluster) + "/" + url.PathEscape(kind)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return client.getRaw(ctx, path)
}

func (client *Client) Commands(ctx context.Context, limit int) ([]CommandEntry, error) {
	path := "/api/commands"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	payload := struct {
		Commands []CommandEntry `json:"commands"`
	}{}
	if err := client.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Commands, nil
}

// StreamLogs copies the pod's log stream to out until the daemon ends it or
// ctx is canceled.
func (client *Client) StreamLogs(ctx context.Context, cluster string, pod string, options LogsOptions, out io.Writer) error {
	params := url.Values{}
	if options.Namespace != "" {
		params.Set("namespace", options.Namespace)
	}
	if options.Follow {
		params.Set("follow", "true")
	}
	if options.Tail > 0 {
		params.Set("tail", strconv.Itoa(options.Tail))
	}
	path := "/api/clusters/" + url.PathEscape(cluster) + "/pods/" + url.PathEscape(pod) + "/logs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	response, err := client.send(ctx, client.streamClient, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if err := checkError(response); err != nil {
		return err
	}
	if _, err := io.Copy(out, response.Body); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read log stream: %w", err)
	}
	return nil
}

func (client *Client) getJSON(ctx context.Context, path string, result any) error {
	return client.doJSON(ctx, http.MethodGet, path, nil, result)
}

func (client *Client) getRaw(ctx context.Context, path string) ([]byte, string, error) {
	response, err := client.send(ctx, client.httpClient, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer response.Body.Close()
	if err := checkError(response); err != nil {
		return nil, "", err
	}
	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	return data, response.Header.Get("Content-Type"), nil
}

func (client *Client) doJSON(ctx context.Context, method string, path string, body any, result any) error {
	response, err := client.send(ctx, client.httpClient, method, path, body)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if err := checkError(response); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (client *Client) send(ctx context.Context, httpClient *http.Client, method string, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("cannot reach kindopsd at %s: %w", client.baseURL, err)
	}
	return response, nil
}

func checkError(response *http.Response) error {
	if response.StatusCode < http.StatusBadRequest {
		return nil
	}
	apiError := &APIError{Status: response.StatusCode}
	var payload errorResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(&payload); err == nil {
		apiError.Code = payload.Error.Code
		apiError.Message = payload.Error.Message
	}
	return apiError
}
