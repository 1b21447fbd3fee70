package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 存储操作延迟（秒）
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_op_duration_seconds",
			Help:    "Task store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op", "status"},
	)

	// 订阅快照投递计数
	SnapshotDeliveryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_delivery_count",
			Help: "Total number of live query snapshots delivered",
		},
		[]string{"driver"},
	)

	// 投影重建延迟（秒）
	ProjectionRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "projection_rebuild_duration_seconds",
			Help:    "Task projection rebuild duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14),
		},
	)

	// 变更操作失败计数
	MutationFailureCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mutation_failure_count",
			Help: "Total number of failed task mutations",
		},
		[]string{"op"},
	)

	// 当前各桶的到期提醒数量
	ActiveNotifications = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_notifications",
			Help: "Number of tasks in each due-date notification bucket",
		},
		[]string{"bucket"},
	)
)

// RecordStoreOp 记录存储操作延迟
func RecordStoreOp(op, status string, duration time.Duration) {
	StoreOpDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// IncrementSnapshotDelivery 增加快照投递计数
func IncrementSnapshotDelivery(driver string) {
	SnapshotDeliveryCount.WithLabelValues(driver).Inc()
}

// RecordProjectionRebuild 记录投影重建延迟
func RecordProjectionRebuild(duration time.Duration) {
	ProjectionRebuildDuration.Observe(duration.Seconds())
}

// IncrementMutationFailure 增加变更失败计数
func IncrementMutationFailure(op string) {
	MutationFailureCount.WithLabelValues(op).Inc()
}

// SetActiveNotifications 更新指定桶的提醒数量
func SetActiveNotifications(bucket string, count int) {
	ActiveNotifications.WithLabelValues(bucket).Set(float64(count))
}
