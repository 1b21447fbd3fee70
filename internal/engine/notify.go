package engine

import (
	"fmt"
	"time"

	"taskhub/internal/model"
)

// deriveNotifications 把当前身份的未完成且带截止时间的任务
// 划分为 逾期 / 今天到期 / 明天到期 三个桶，每个非空桶产出一条
// 带数量和生成时间的汇总提醒。每次重算整体替换上一批。
func deriveNotifications(tasks []model.Task, ownerID int, now time.Time) []model.Notification {
	todayStart := startOfDay(now)
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	dayAfterStart := todayStart.AddDate(0, 0, 2)

	var overdue, today, tomorrow int
	for i := range tasks {
		t := &tasks[i]
		if t.OwnerID != ownerID || t.Completed || t.DueDate == nil {
			continue
		}
		due := *t.DueDate
		switch {
		case due.Before(todayStart):
			overdue++
		case due.Before(tomorrowStart):
			today++
		case due.Before(dayAfterStart):
			tomorrow++
		}
	}

	var notifications []model.Notification
	if overdue > 0 {
		notifications = append(notifications, model.Notification{
			Bucket:    model.BucketOverdue,
			Severity:  model.SeverityDanger,
			Message:   fmt.Sprintf("%d %s overdue", overdue, pluralTask(overdue)),
			Count:     overdue,
			CreatedAt: now,
		})
	}
	if today > 0 {
		notifications = append(notifications, model.Notification{
			Bucket:    model.BucketToday,
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("You have %d %s due today", today, pluralTask(today)),
			Count:     today,
			CreatedAt: now,
		})
	}
	if tomorrow > 0 {
		notifications = append(notifications, model.Notification{
			Bucket:    model.BucketTomorrow,
			Severity:  model.SeverityInfo,
			Message:   fmt.Sprintf("You have %d %s due tomorrow", tomorrow, pluralTask(tomorrow)),
			Count:     tomorrow,
			CreatedAt: now,
		})
	}
	return notifications
}

func pluralTask(n int) string {
	if n == 1 {
		return "task"
	}
	return "tasks"
}
