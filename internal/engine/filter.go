package engine

import (
	"strings"
	"time"

	"taskhub/internal/model"
)

// Filter 互斥的分类过滤器。标签过滤用 TagFilter 构造。
type Filter string

const (
	FilterAll            Filter = "all"
	FilterActive         Filter = "active"
	FilterCompleted      Filter = "completed"
	FilterPriorityHigh   Filter = "high"
	FilterPriorityMedium Filter = "medium"
	FilterPriorityLow    Filter = "low"
	FilterDueToday       Filter = "today"
	FilterDueUpcoming    Filter = "upcoming"
	FilterDueOverdue     Filter = "overdue"
)

const tagFilterPrefix = "tag:"

// TagFilter 构造按标签过滤的 Filter，匹配精确且区分大小写
func TagFilter(name string) Filter {
	return Filter(tagFilterPrefix + name)
}

// matches 判断任务是否落入该过滤器。
// 日期类过滤器以本地日历日为界：today 为 [今日零点, 明日零点)，
// upcoming 为 明日零点及以后（与 today 不重叠），overdue 为 今日零点之前；
// 三者都要求任务未完成且带有截止时间。
func (f Filter) matches(t *model.Task, now time.Time) bool {
	switch f {
	case FilterAll, "":
		return true
	case FilterActive:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	case FilterPriorityHigh, FilterPriorityMedium, FilterPriorityLow:
		return t.Priority == model.Priority(f)
	case FilterDueToday:
		if t.DueDate == nil || t.Completed {
			return false
		}
		todayStart := startOfDay(now)
		return !t.DueDate.Before(todayStart) && t.DueDate.Before(todayStart.AddDate(0, 0, 1))
	case FilterDueUpcoming:
		if t.DueDate == nil || t.Completed {
			return false
		}
		return !t.DueDate.Before(startOfDay(now).AddDate(0, 0, 1))
	case FilterDueOverdue:
		if t.DueDate == nil || t.Completed {
			return false
		}
		return t.DueDate.Before(startOfDay(now))
	}

	if tag, ok := strings.CutPrefix(string(f), tagFilterPrefix); ok {
		return t.HasTag(tag)
	}
	return true
}

// matchesSearch 在文本、描述和标签上做大小写不敏感的子串匹配，
// query 必须已去除首尾空白并转为小写
func matchesSearch(t *model.Task, query string) bool {
	if strings.Contains(strings.ToLower(t.Text), query) {
		return true
	}
	if t.Description != "" && strings.Contains(strings.ToLower(t.Description), query) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func startOfDay(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location())
}
