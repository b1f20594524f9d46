package domain

// Stats summarizes a set of tasks the way the board's progress view shows them.
type Stats struct {
	Total          int              `json:"total"`
	Completed      int              `json:"completed"`
	Remaining      int              `json:"remaining"`
	CompletionRate int              `json:"completionRate"`
	ByColumn       map[Column]int   `json:"byColumn"`
	ByPriority     map[Priority]int `json:"byPriority"`
	ByCategory     map[Category]int `json:"byCategory"`
}

// Summarize counts tasks per column, priority and category. Every known enum
// value is present in the maps, with zero when no task carries it. The
// completion rate is a rounded percentage of tasks in the done column.
func Summarize(tasks []Task) Stats {
	s := Stats{
		ByColumn:   make(map[Column]int, len(Columns)),
		ByPriority: make(map[Priority]int, len(Priorities)),
		ByCategory: make(map[Category]int, len(Categories)),
	}
	for _, c := range Columns {
		s.ByColumn[c] = 0
	}
	for _, p := range Priorities {
		s.ByPriority[p] = 0
	}
	for _, c := range Categories {
		s.ByCategory[c] = 0
	}
	for _, t := range tasks {
		s.Total++
		if t.Column != "" {
			s.ByColumn[t.Column]++
		}
		if t.Priority != "" {
			s.ByPriority[t.Priority]++
		}
		if t.Category != "" {
			s.ByCategory[t.Category]++
		}
		if t.Column == ColumnDone {
			s.Completed++
		}
	}
	s.Remaining = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = (s.Completed*100 + s.Total/2) / s.Total
	}
	return s
}
