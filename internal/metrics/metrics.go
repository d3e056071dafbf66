// Package metrics exposes Prometheus instrumentation for the agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Monitoring cycle metrics
	MonitorCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_monitor_cycles_total",
			Help: "Total number of completed monitoring cycles",
		},
	)

	BulkReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_bulk_reads_total",
			Help: "Bulk ReadPropertyMultiple requests by outcome",
		},
		[]string{"outcome"},
	)

	FallbackReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_fallback_reads_total",
			Help: "Per-point fallback reads after a bulk read miss or failure",
		},
	)

	PointsCollectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_points_collected_total",
			Help: "Point readings persisted to the local store",
		},
	)

	// Store metrics
	BulkInsertFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_bulk_insert_fallbacks_total",
			Help: "Bulk inserts that degraded to per-row inserts",
		},
	)

	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_store_retries_total",
			Help: "Store operation retries by operation name",
		},
		[]string{"op"},
	)

	UploadMissingIDTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_upload_missing_id_total",
			Help: "Rows silently skipped by mark-uploaded because they carry no id",
		},
	)

	// Upload pipeline metrics
	PointsUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_points_uploaded_total",
			Help: "Point readings published to the cloud",
		},
	)

	PointsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_points_deleted_total",
			Help: "Uploaded point rows reclaimed by the cleaner",
		},
	)

	// MQTT metrics
	MQTTPublishBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supervisor_mqtt_publish_bytes",
			Help:    "Serialized MQTT payload sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	MQTTOversizePublishesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_mqtt_oversize_publishes_total",
			Help: "Publishes whose payload exceeded the oversize threshold",
		},
	)

	MQTTReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_mqtt_reconnects_total",
			Help: "MQTT reconnection attempts",
		},
	)

	CommandsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_commands_received_total",
			Help: "Downstream commands received by command name",
		},
		[]string{"command"},
	)

	HeartbeatsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_heartbeats_published_total",
			Help: "Heartbeat payloads published",
		},
	)

	// Actor runtime metrics
	ActorMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_actor_messages_total",
			Help: "Messages enqueued per receiving actor",
		},
		[]string{"actor"},
	)

	ActorInboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "supervisor_actor_inbox_depth",
			Help: "Current inbox depth per actor",
		},
		[]string{"actor"},
	)
)
