package main

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BegaDeveloper/kindops/internal/executor"
	"github.com/BegaDeveloper/kindops/internal/tasks"
)

type metricsRegistry struct {
	registry            *prometheus.Registry
	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	tasksTotal          *prometheus.CounterVec
	inspectionsRejected prometheus.Counter
	httpRequestsTotal   *prometheus.CounterVec
}

func newMetricsRegistry() *metricsRegistry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &metricsRegistry{
		registry: registry,
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kindops_commands_total",
			Help: "External commands executed, by program and outcome.",
		}, []string{"program", "outcome"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kindops_command_duration_seconds",
			Help:    "Wall time of external commands.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"program"}),
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kindops_tasks_total",
			Help: "Background tasks by observed state.",
		}, []string{"state"}),
		inspectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "kindops_inspections_rejected_total",
			Help: "Inspection commands refused before execution.",
		}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kindops_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
}

func (metrics *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

func (metrics *metricsRegistry) observeTask(task tasks.Task) {
	metrics.tasksTotal.WithLabelValues(string(task.Status)).Inc()
}

func (metrics *metricsRegistry) observeHTTP(method string, status int) {
	metrics.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

type instrumentedRunner struct {
	next    executor.Runner
	metrics *metricsRegistry
}

func (runner *instrumentedRunner) Run(ctx context.Context, command executor.Command) (executor.Result, error) {
	result, runError := runner.next.Run(ctx, command)
	outcome := "success"
	switch {
	case runError != nil:
		outcome = "error"
	case result.ExitCode != 0:
		outcome = "nonzero_exit"
	}
	runner.metrics.commandsTotal.WithLabelValues(command.Program, outcome).Inc()
	runner.metrics.commandDuration.WithLabelValues(command.Program).Observe(float64(result.DurationMS) / 1000)
	return result, runError
}
