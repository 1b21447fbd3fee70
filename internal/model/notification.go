package model

import "time"

// Bucket 到期提醒分类
type Bucket string

const (
	BucketOverdue  Bucket = "overdue"
	BucketToday    Bucket = "today"
	BucketTomorrow Bucket = "tomorrow"
)

// Severity 提醒严重程度，对应展示层的样式
type Severity string

const (
	SeverityDanger  Severity = "danger"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Notification 每个非空 bucket 至多一条汇总提醒
type Notification struct {
	Bucket    Bucket    `json:"bucket"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}
