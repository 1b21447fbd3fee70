package engine

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"taskhub/internal/model"
)

type SortMethod string

const (
	SortDefault      SortMethod = "default"
	SortPriority     SortMethod = "priority"
	SortAlphabetical SortMethod = "alphabetical"
	SortDueDate      SortMethod = "due_date"
	SortCreationDate SortMethod = "creation_date"
)

var priorityRank = map[model.Priority]int{
	model.PriorityHigh:   0,
	model.PriorityMedium: 1,
	model.PriorityLow:    2,
}

// sortTasks 就地稳定排序；SortDefault 保持原有顺序。
// creation_date 按创建时间降序（不再用 id 做新近度代理），
// due_date 升序且无截止时间的任务排在最后。
func sortTasks(tasks []model.Task, method SortMethod) {
	switch method {
	case SortPriority:
		sort.SliceStable(tasks, func(i, j int) bool {
			return priorityRank[tasks[i].Priority] < priorityRank[tasks[j].Priority]
		})
	case SortAlphabetical:
		c := collate.New(language.Und, collate.Loose)
		sort.SliceStable(tasks, func(i, j int) bool {
			return c.CompareString(tasks[i].Text, tasks[j].Text) < 0
		})
	case SortDueDate:
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i].DueDate, tasks[j].DueDate
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return a.Before(*b)
		})
	case SortCreationDate:
		sort.SliceStable(tasks, func(i, j int) bool {
			a, b := tasks[i], tasks[j]
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID > b.ID
			}
			return a.CreatedAt.After(b.CreatedAt)
		})
	}
}
