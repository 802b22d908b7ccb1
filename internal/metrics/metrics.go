package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsScheduled tracks jobs submitted per hook and lane
	JobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_jobs_scheduled_total",
			Help: "Total number of jobs scheduled",
		},
		[]string{"hook", "priority"},
	)

	// JobsCompleted tracks successful executions per hook
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
		[]string{"hook"},
	)

	// JobsRetried tracks retry re-schedules per hook
	JobsRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_jobs_retried_total",
			Help: "Total number of job retries scheduled",
		},
		[]string{"hook"},
	)

	// JobsDeadLettered tracks terminal failures per hook and reason
	JobsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue",
		},
		[]string{"hook", "reason"},
	)

	// JobDuration tracks callback execution time
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conveyor_job_duration_seconds",
			Help:    "Job callback execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"hook"},
	)

	// QueueDepth tracks pending jobs per lane
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conveyor_queue_depth",
			Help: "Number of pending jobs per priority lane",
		},
		[]string{"priority"},
	)

	// CircuitState tracks breaker position per dependency (0=closed, 1=half_open, 2=open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conveyor_circuit_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=half_open, 2=open)",
		},
		[]string{"dependency"},
	)

	// RateLimitDecisions tracks admission outcomes per limit type
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_rate_limit_decisions_total",
			Help: "Rate limiter decisions per limit type",
		},
		[]string{"limit_type", "outcome"},
	)

	// IdempotencyClaims tracks claim outcomes per scope
	IdempotencyClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_idempotency_claims_total",
			Help: "Idempotency claim outcomes per scope",
		},
		[]string{"scope", "outcome"},
	)

	// SagaOutcomes tracks terminal saga states per saga type
	SagaOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_saga_outcomes_total",
			Help: "Terminal saga outcomes per saga type",
		},
		[]string{"saga_type", "state"},
	)

	// DBConnectionPoolUsage tracks connection pool saturation
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyor_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
