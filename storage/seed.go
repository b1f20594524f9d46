package storage

import (
	"time"

	"websocket-kanban/domain"
)

// SystemOwner owns the demo tasks. No account can register with this id, so
// only admins see them.
const SystemOwner = "system"

// DemoTasks returns the starter board shown on a fresh install.
func DemoTasks(now time.Time) []domain.Task {
	john, jane := "John Doe", "Jane Smith"
	return []domain.Task{
		{
			ID:          "1",
			Title:       "Setup project structure",
			Description: "Initialize backend and frontend",
			Column:      domain.ColumnTodo,
			Priority:    domain.PriorityHigh,
			Category:    domain.CategoryFeature,
			Attachments: []string{},
			CreatedAt:   now,
			UserID:      SystemOwner,
		},
		{
			ID:          "2",
			Title:       "Fix login bug",
			Description: "Users cannot login on mobile",
			Column:      domain.ColumnInProgress,
			Priority:    domain.PriorityHigh,
			Category:    domain.CategoryBug,
			Attachments: []string{},
			CreatedAt:   now,
			UserID:      SystemOwner,
			Assignee:    &john,
		},
		{
			ID:          "3",
			Title:       "Update documentation",
			Description: "Add API documentation",
			Column:      domain.ColumnDone,
			Priority:    domain.PriorityLow,
			Category:    domain.CategoryEnhancement,
			Attachments: []string{},
			CreatedAt:   now,
			UserID:      SystemOwner,
			Assignee:    &jane,
		},
	}
}
