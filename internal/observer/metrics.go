package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gitlab.com/voxline/api/voxline-call-directory/internal/apperrors"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for standard event metrics
	eventProcessingLabels = []string{"event_type", "profile_id", "consumer_type"}
	// Labels for tracking specific processing actions
	eventActionLabels = []string{"event_type", "profile_id", "consumer_type", "action", "error_type"}

	// Standard Event Counters
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_events_received_total",
			Help: "Total number of call events received from NATS, labeled by consumer type.",
		},
		eventProcessingLabels,
	)
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_events_processed_total",
			Help: "Total number of call events successfully processed and acknowledged.",
		},
		eventProcessingLabels,
	)
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_events_failed_total",
			Help: "Total number of call events that failed processing (resulting in Nak or error).",
		},
		eventProcessingLabels,
	)

	// Histogram for Processing Duration
	EventProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_directory_event_processing_duration_seconds",
			Help:    "Histogram of call event processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		eventProcessingLabels,
	)

	// Histogram for Routing Duration
	EventRoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_directory_event_routing_duration_seconds",
			Help:    "Histogram of time spent routing call events.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		eventProcessingLabels,
	)

	// Counter for Specific Actions
	EventProcessingActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_event_processing_actions_total",
			Help: "Total count of specific actions taken after event processing, labeled by error type.",
		},
		eventActionLabels,
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "profile_id", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_directory_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// Snapshot publication metrics
var (
	snapshotLabels = []string{"repository", "profile_id"}

	snapshotEmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_snapshot_emissions_total",
			Help: "Total number of full-collection snapshots published to subscribers.",
		},
		snapshotLabels,
	)
	snapshotSizeItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "call_directory_snapshot_size_items",
			Help: "Number of items in the most recently published snapshot.",
		},
		snapshotLabels,
	)
	subscriberCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "call_directory_snapshot_subscribers",
			Help: "Current number of snapshot subscribers per repository.",
		},
		snapshotLabels,
	)
)

// Contact-number cache metrics
var (
	cacheCheckLabels = []string{"profile_id", "cache_type", "result"}

	cacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_cache_checks_total",
			Help: "Total number of contact-number cache membership checks, labeled by result.",
		},
		cacheCheckLabels,
	)
)

// Ingest worker pool metrics
var (
	ingestLabels       = []string{"profile_id"}
	ingestStatusLabels = []string{"profile_id", "status"}

	ingestTasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_ingest_tasks_submitted_total",
			Help: "Total number of call-ingest tasks submitted to the worker pool.",
		},
		ingestLabels,
	)
	ingestTasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_ingest_tasks_processed_total",
			Help: "Total number of call-ingest tasks processed, labeled by final status.",
		},
		ingestStatusLabels,
	)
	ingestProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "call_directory_ingest_processing_duration_seconds",
			Help:    "Histogram of processing durations for call-ingest tasks.",
			Buckets: prometheus.DefBuckets,
		},
		ingestLabels,
	)
	ingestQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_directory_ingest_queue_length",
		Help: "Approximate number of tasks waiting in the ingest worker pool queue.",
	})
)

// Load generator metrics (used by cmd/tester only)
var (
	loadgenLabels = []string{"subject", "profile_id"}

	loadgenMessagesAttemptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_loadgen_messages_attempted_total",
			Help: "Total number of messages the load generator attempted to create.",
		},
		loadgenLabels,
	)
	loadgenMessagesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_loadgen_messages_published_total",
			Help: "Total number of messages the load generator successfully published.",
		},
		loadgenLabels,
	)
	loadgenPublishErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_directory_loadgen_publish_errors_total",
			Help: "Total number of load generator publish failures.",
		},
		loadgenLabels,
	)
)

// InitMetrics initializes metric collection. Call during application startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncEventsReceived increments the events received counter.
func IncEventsReceived(eventType, profileID, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsReceivedTotal.WithLabelValues(eventType, sanitizeProfile(profileID), consumerType).Inc()
}

// IncEventsProcessed increments the events processed counter.
func IncEventsProcessed(eventType, profileID, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsProcessedTotal.WithLabelValues(eventType, sanitizeProfile(profileID), consumerType).Inc()
}

// IncEventsFailed increments the events failed counter.
func IncEventsFailed(eventType, profileID, consumerType string) {
	if !metricsEnabled {
		return
	}
	EventsFailedTotal.WithLabelValues(eventType, sanitizeProfile(profileID), consumerType).Inc()
}

// IncEventProcessingAction increments the counter for a specific post-processing action.
func IncEventProcessingAction(eventType, profileID, consumerType, action, errorType string) {
	if !metricsEnabled {
		return
	}
	EventProcessingActionsTotal.WithLabelValues(eventType, sanitizeProfile(profileID), consumerType, action, errorType).Inc()
}

// ObserveEventProcessingDuration records the processing time for a specific event.
func ObserveEventProcessingDuration(eventType, profileID, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventProcessingDurationSeconds.WithLabelValues(eventType, sanitizeProfile(profileID), consumerType).Observe(duration.Seconds())
}

// ObserveEventRoutingDuration records the routing time for a specific event.
func ObserveEventRoutingDuration(eventType, profileID, consumerType string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	EventRoutingDurationSeconds.WithLabelValues(eventType, sanitizeProfile(profileID), consumerType).Observe(duration.Seconds())
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity, profileID string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, sanitizeProfile(profileID), status).Observe(duration.Seconds())
}

// IncSnapshotEmission records a full-collection snapshot publication.
func IncSnapshotEmission(repository, profileID string, size int) {
	if !metricsEnabled {
		return
	}
	snapshotEmissionsTotal.WithLabelValues(repository, sanitizeProfile(profileID)).Inc()
	snapshotSizeItems.WithLabelValues(repository, sanitizeProfile(profileID)).Set(float64(size))
}

// SetSubscriberCount records the current subscriber count for a repository.
func SetSubscriberCount(repository, profileID string, count int) {
	if !metricsEnabled {
		return
	}
	subscriberCount.WithLabelValues(repository, sanitizeProfile(profileID)).Set(float64(count))
}

// IncCacheCheck records the outcome of a contact-number cache check.
func IncCacheCheck(profileID, cacheType, result string) {
	if !metricsEnabled {
		return
	}
	cacheChecksTotal.WithLabelValues(sanitizeProfile(profileID), cacheType, result).Inc()
}

// IncIngestTasksSubmitted increments the counter for tasks submitted to the ingest pool.
func IncIngestTasksSubmitted(profileID string) {
	if !metricsEnabled {
		return
	}
	ingestTasksSubmittedTotal.WithLabelValues(sanitizeProfile(profileID)).Inc()
}

// IncIngestTasksProcessed increments the counter for processed ingest tasks.
func IncIngestTasksProcessed(profileID, status string) {
	if !metricsEnabled {
		return
	}
	ingestTasksProcessedTotal.WithLabelValues(sanitizeProfile(profileID), status).Inc()
}

// ObserveIngestProcessingDuration records the processing time for an ingest task.
func ObserveIngestProcessingDuration(profileID string, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	ingestProcessingDurationSeconds.WithLabelValues(sanitizeProfile(profileID)).Observe(duration.Seconds())
}

// SetIngestQueueLength sets the approximate ingest pool queue length.
func SetIngestQueueLength(length int) {
	if !metricsEnabled {
		return
	}
	ingestQueueLength.Set(float64(length))
}

// IncLoadgenMessagesAttempted increments the counter for attempted load-test messages.
func IncLoadgenMessagesAttempted(subject, profileID string) {
	if !metricsEnabled {
		return
	}
	loadgenMessagesAttemptedTotal.WithLabelValues(subject, sanitizeProfile(profileID)).Inc()
}

// IncLoadgenMessagesPublished increments the counter for published load-test messages.
func IncLoadgenMessagesPublished(subject, profileID string) {
	if !metricsEnabled {
		return
	}
	loadgenMessagesPublishedTotal.WithLabelValues(subject, sanitizeProfile(profileID)).Inc()
}

// IncLoadgenPublishErrors increments the counter for load-test publish failures.
func IncLoadgenPublishErrors(subject, profileID string) {
	if !metricsEnabled {
		return
	}
	loadgenPublishErrorsTotal.WithLabelValues(subject, sanitizeProfile(profileID)).Inc()
}

// sanitizeProfile ensures the profile label is valid or returns a default value.
func sanitizeProfile(profileID string) string {
	if profileID == "" {
		return "unknown"
	}
	return profileID
}

// SanitizeErrorType maps an error message to a general category string for metrics.
func SanitizeErrorType(errMsg string) string {
	if errMsg == "" {
		return "none"
	}
	switch {
	case strings.Contains(errMsg, apperrors.ErrDatabase.Error()):
		return "database"
	case strings.Contains(errMsg, apperrors.ErrValidation.Error()), strings.Contains(errMsg, apperrors.ErrBadRequest.Error()):
		return "validation"
	case strings.Contains(errMsg, apperrors.ErrNotFound.Error()):
		return "not_found"
	case strings.Contains(errMsg, apperrors.ErrDuplicate.Error()):
		return "duplicate"
	case strings.Contains(errMsg, apperrors.ErrTimeout.Error()):
		return "timeout"
	case strings.Contains(errMsg, apperrors.ErrNATS.Error()):
		return "nats"
	case strings.Contains(errMsg, "panic"):
		return "panic"
	case strings.Contains(errMsg, "unmarshal"), strings.Contains(errMsg, "json"):
		return "unmarshal"
	default:
		return "unknown"
	}
}
