package notify

import (
	"time"

	"go.uber.org/zap"

	"taskhub/internal/model"
	"taskhub/pkg/mq"
)

const routingKey = "task.reminder"

// ReminderPayload 发往外部提醒渠道的汇总事件
type ReminderPayload struct {
	UserID    int       `json:"user_id"`
	Bucket    string    `json:"bucket"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher 把到期提醒汇总推到消息队列，交给外部渠道投递。
// mq 未配置时为 nil publisher，所有发布静默跳过。
type Publisher struct {
	pub    *mq.Publisher
	logger *zap.Logger
}

func NewPublisher(pub *mq.Publisher, log *zap.Logger) *Publisher {
	return &Publisher{pub: pub, logger: log}
}

// PublishSummaries 逐条发布非空桶的提醒汇总，单条失败只记日志
func (p *Publisher) PublishSummaries(userID int, notifications []model.Notification) {
	if p.pub == nil || len(notifications) == 0 {
		return
	}
	if !p.pub.IsConnected() {
		p.logger.Warn("Reminder channel disconnected, summaries dropped",
			zap.Int("user_id", userID),
			zap.Int("count", len(notifications)),
		)
		return
	}

	for _, n := range notifications {
		payload := ReminderPayload{
			UserID:    userID,
			Bucket:    string(n.Bucket),
			Severity:  string(n.Severity),
			Message:   n.Message,
			Count:     n.Count,
			CreatedAt: n.CreatedAt,
		}
		if err := p.pub.Publish(routingKey, payload); err != nil {
			p.logger.Error("Failed to publish reminder",
				zap.Error(err),
				zap.Int("user_id", userID),
				zap.String("bucket", string(n.Bucket)),
			)
			continue
		}
		p.logger.Debug("Reminder published",
			zap.Int("user_id", userID),
			zap.String("bucket", string(n.Bucket)),
			zap.Int("count", n.Count),
		)
	}
}
