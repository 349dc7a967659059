package main

type createClusterRequest struct {
	ClusterName string `json:"cluster_name"`
	NodeVersion string `json:"node_version,omitempty"`
	NumWorkers  *int   `json:"num_workers,omitempty"`
	Config      string `json:"config,omitempty"`
}

type taskAcceptedResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

type clusterResponse struct {
	Name string `json:"name"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorCode string

const (
	errCodeBadRequest       errorCode = "BAD_REQUEST"
	errCodeForbiddenCommand errorCode = "FORBIDDEN_COMMAND"
	errCodeCommandFailed    errorCode = "COMMAND_FAILED"
	errCodeExecutionFailed  errorCode = "EXECUTION_FAILED"
	errCodeParseFailed      errorCode = "PARSE_FAILED"
	errCodeNotFound         errorCode = "NOT_FOUND"
	errCodeListUnavailable  errorCode = "LIST_UNAVAILABLE"
	errCodeInternalError    errorCode = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}
