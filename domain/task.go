package domain

import (
	"strings"
	"time"
)

// Column is the workflow stage of a task on the board.
type Column string

const (
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "inprogress"
	ColumnDone       Column = "done"
)

// Columns lists the board columns in display order.
var Columns = []Column{ColumnTodo, ColumnInProgress, ColumnDone}

// ParseColumn normalizes a column identifier. The hyphenated "in-progress"
// spelling is accepted as an alias of "inprogress".
func ParseColumn(s string) (Column, error) {
	switch c := Column(strings.ToLower(strings.TrimSpace(s))); c {
	case ColumnTodo, ColumnInProgress, ColumnDone:
		return c, nil
	case "in-progress", "in_progress":
		return ColumnInProgress, nil
	}
	return "", &ValidationError{Field: "column", Reason: "unknown column " + quote(s)}
}

// Priority ranks how urgent a task is.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", &ValidationError{Field: "priority", Reason: "unknown priority " + quote(s)}
}

// Category classifies the kind of work a task represents.
type Category string

const (
	CategoryBug         Category = "bug"
	CategoryFeature     Category = "feature"
	CategoryEnhancement Category = "enhancement"
)

var Categories = []Category{CategoryBug, CategoryFeature, CategoryEnhancement}

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryBug, CategoryFeature, CategoryEnhancement:
		return c, nil
	}
	return "", &ValidationError{Field: "category", Reason: "unknown category " + quote(s)}
}

// Task represents a single card on the board.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Column      Column    `json:"column,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	Category    Category  `json:"category,omitempty"`
	Attachments []string  `json:"attachments"`
	CreatedAt   time.Time `json:"createdAt"`
	UserID      string    `json:"userId"`
	Assignee    *string   `json:"assignee"`
}

// Clone returns a deep copy so the caller may hand it out without aliasing
// the attachment slice or assignee pointer.
func (t Task) Clone() Task {
	out := t
	out.Attachments = append(make([]string, 0, len(t.Attachments)), t.Attachments...)
	if t.Assignee != nil {
		a := *t.Assignee
		out.Assignee = &a
	}
	return out
}

// VisibleTo reports whether the identity may see the task: admins see every
// task, everyone else only their own.
func (t Task) VisibleTo(id Identity) bool {
	return id.IsAdmin() || t.UserID == id.UserID
}

// TaskDraft carries the client supplied fields of a new task. Enum fields may
// be left empty, in which case they stay unset on the created record.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Column      string   `json:"column"`
	Priority    string   `json:"priority"`
	Category    string   `json:"category"`
	Attachments []string `json:"attachments"`
	Assignee    *string  `json:"assignee"`
}

// Normalize validates the draft and returns a task carrying its fields.
// Identifier, owner and creation time are left for the store to assign.
func (d TaskDraft) Normalize() (Task, error) {
	t := Task{
		Title:       strings.TrimSpace(d.Title),
		Description: d.Description,
		Attachments: append([]string{}, d.Attachments...),
	}
	if t.Title == "" {
		return Task{}, &ValidationError{Field: "title", Reason: "title is required"}
	}
	var err error
	if d.Column != "" {
		if t.Column, err = ParseColumn(d.Column); err != nil {
			return Task{}, err
		}
	}
	if d.Priority != "" {
		if t.Priority, err = ParsePriority(d.Priority); err != nil {
			return Task{}, err
		}
	}
	if d.Category != "" {
		if t.Category, err = ParseCategory(d.Category); err != nil {
			return Task{}, err
		}
	}
	t.Assignee = normalizeAssignee(d.Assignee)
	return t, nil
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	ID          string    `json:"id"`
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Column      *string   `json:"column"`
	Priority    *string   `json:"priority"`
	Category    *string   `json:"category"`
	Attachments *[]string `json:"attachments"`
	Assignee    *string   `json:"assignee"`
}

// Validate checks the present fields without applying them.
func (p TaskPatch) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return &ValidationError{Field: "id", Reason: "task id is required"}
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title cannot be empty"}
	}
	// an empty enum value clears the field, matching what a draft may omit
	if p.Column != nil && !blank(*p.Column) {
		if _, err := ParseColumn(*p.Column); err != nil {
			return err
		}
	}
	if p.Priority != nil && !blank(*p.Priority) {
		if _, err := ParsePriority(*p.Priority); err != nil {
			return err
		}
	}
	if p.Category != nil && !blank(*p.Category) {
		if _, err := ParseCategory(*p.Category); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the patch would change nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Column == nil && p.Priority == nil &&
		p.Category == nil && p.Attachments == nil && p.Assignee == nil
}

// Apply merges the patch into t field by field and returns the result.
// The patch must have passed Validate.
func (p TaskPatch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Column != nil {
		out.Column = ""
		if !blank(*p.Column) {
			out.Column, _ = ParseColumn(*p.Column)
		}
	}
	if p.Priority != nil {
		out.Priority = ""
		if !blank(*p.Priority) {
			out.Priority, _ = ParsePriority(*p.Priority)
		}
	}
	if p.Category != nil {
		out.Category = ""
		if !blank(*p.Category) {
			out.Category, _ = ParseCategory(*p.Category)
		}
	}
	if p.Attachments != nil {
		out.Attachments = append(make([]string, 0, len(*p.Attachments)), *p.Attachments...)
	}
	if p.Assignee != nil {
		out.Assignee = normalizeAssignee(p.Assignee)
	}
	return out
}

func normalizeAssignee(a *string) *string {
	if a == nil {
		return nil
	}
	v := strings.TrimSpace(*a)
	if v == "" {
		return nil
	}
	return &v
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func quote(s string) string {
	return "\"" + s + "\""
}
