package storage

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"websocket-kanban/domain"
)

// TaskStore is the in-memory source of truth for the board. It is safe for
// concurrent use; mutations are expected to be serialized by the caller so
// that the order of broadcasts matches the order of application.
type TaskStore struct {
	mu    sync.RWMutex
	tasks []domain.Task
	index map[string]int

	now   func() time.Time
	newID func() string
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		index: make(map[string]int),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Create validates the draft, assigns an identifier and creation time, and
// appends the task owned by ownerID.
func (s *TaskStore) Create(draft domain.TaskDraft, ownerID string) (domain.Task, error) {
	task, err := draft.Normalize()
	if err != nil {
		return domain.Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task.ID = s.newID()
	for _, taken := s.index[task.ID]; taken; _, taken = s.index[task.ID] {
		task.ID = s.newID()
	}
	task.CreatedAt = s.now()
	task.UserID = ownerID

	s.index[task.ID] = len(s.tasks)
	s.tasks = append(s.tasks, task)
	return task.Clone(), nil
}

// Update merges the present fields of patch into the stored task. The boolean
// is false when no task has the patch's identifier; the store is unchanged
// in that case.
func (s *TaskStore) Update(patch domain.TaskPatch) (domain.Task, bool, error) {
	if err := patch.Validate(); err != nil {
		return domain.Task{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[patch.ID]
	if !ok {
		return domain.Task{}, false, nil
	}
	s.tasks[i] = patch.Apply(s.tasks[i])
	return s.tasks[i].Clone(), true, nil
}

// Move sets only the column of the task.
func (s *TaskStore) Move(id string, column string) (domain.Task, bool, error) {
	col, err := domain.ParseColumn(column)
	if err != nil {
		return domain.Task{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return domain.Task{}, false, nil
	}
	s.tasks[i].Column = col
	return s.tasks[i].Clone(), true, nil
}

// Delete removes the task and returns it. Unknown identifiers are a no-op.
func (s *TaskStore) Delete(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return domain.Task{}, false
	}
	removed := s.tasks[i]
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.tasks); j++ {
		s.index[s.tasks[j].ID] = j
	}
	return removed, true
}

func (s *TaskStore) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return domain.Task{}, false
	}
	return s.tasks[i].Clone(), true
}

// List returns every task in insertion order.
func (s *TaskStore) List() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Visible returns the tasks the identity may see: all of them for admins,
// only owned ones otherwise.
func (s *TaskStore) Visible(id domain.Identity) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.VisibleTo(id) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Seed installs fully formed tasks, replacing any with the same identifier.
func (s *TaskStore) Seed(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		t = t.Clone()
		if i, ok := s.index[t.ID]; ok {
			s.tasks[i] = t
			continue
		}
		s.index[t.ID] = len(s.tasks)
		s.tasks = append(s.tasks, t)
	}
}
