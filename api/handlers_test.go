package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"websocket-kanban/domain"
	"websocket-kanban/storage"
)

type recordingActivity struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (r *recordingActivity) Touch(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return r.err
}

func (r *recordingActivity) Touched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.users...)
}

type fixedConns int

func (f fixedConns) Connections() int { return int(f) }

type testServer struct {
	e        *echo.Echo
	auth     *Auth
	accounts *Accounts
	tasks    *storage.TaskStore
	users    *storage.UserStore
	activity *recordingActivity
	logger   *log.Logger
	hook     *test.Hook

	uploadDir string
}

func newTestServer(t *testing.T, admins ...string) *testServer {
	t.Helper()
	logger, hook := test.NewNullLogger()
	accounts, auth, users := newTestAccounts(admins...)
	tasks := storage.NewTaskStore()
	uploadDir := t.TempDir()
	uploader, err := NewUploader(uploadDir, 5*1024*1024, logger)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	activity := &recordingActivity{}

	e := echo.New()
	Register(e, Services{
		Tasks:    tasks,
		Users:    users,
		Accounts: accounts,
		Auth:     auth,
		Activity: activity,
		Uploader: uploader,
		Conns:    fixedConns(2),
	}, logger)

	return &testServer{
		e:         e,
		auth:      auth,
		accounts:  accounts,
		tasks:     tasks,
		users:     users,
		activity:  activity,
		logger:    logger,
		hook:      hook,
		uploadDir: uploadDir,
	}
}

func (s *testServer) do(method, target, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, email, name string) Session {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/register", `{"email":"`+email+`","password":"secret1","name":"`+name+`"}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	var session Session
	if err := sonic.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return session
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return resp.Message
}

func TestRegisterHandler(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")
	if session.Token == "" || session.User.ID == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if strings.Contains(s.do(http.MethodGet, "/api/user", "", session.Token).Body.String(), "password") {
		t.Fatal("password hash leaked in user response")
	}

	rec := s.do(http.MethodPost, "/api/register", `{"email":"ann@example.com","password":"secret1","name":"Again"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate email, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != domain.ErrDuplicateAccount.Error() {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestRegisterHandlerBadInput(t *testing.T) {
	s := newTestServer(t)
	tests := map[string]string{
		"missing fields": `{"email":"a@example.com"}`,
		"invalid json":   `{"email":`,
		"bad email":      `{"email":"nope","password":"secret1","name":"A"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/register", body, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "ann@example.com", "Ann")

	rec := s.do(http.MethodPost, "/api/login", `{"email":"ann@example.com","password":"secret1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/login", `{"email":"ann@example.com","password":"nope-nope"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = s.do(http.MethodPost, "/api/login", `{"email":"ann@example.com"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCurrentUserAuth(t *testing.T) {
	s := newTestServer(t)
	session := s.register(t, "ann@example.com", "Ann")

	if rec := s.do(http.MethodGet, "/api/user", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credential, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/user", "", "a.b.c"); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with invalid credential, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/user", "", session.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var u domain.User
	if err := sonic.Unmarshal(rec.Body.Bytes(), &u); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if u.ID != session.User.ID || u.Email != "ann@example.com" || u.Name != "Ann" || u.CreatedAt.IsZero() {
		t.Fatalf("unexpected user: %+v", u)
	}
	if got := s.activity.Touched(); len(got) != 1 || got[0] != session.User.ID {
		t.Fatalf("expected activity for %s, got %v", session.User.ID, got)
	}
}

func TestCurrentUserUnknownAccountIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	token, err := s.auth.Issue(domain.User{ID: "gone", Email: "gone@example.com", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec := s.do(http.MethodGet, "/api/user", "", token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an account that no longer exists, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != "account no longer exists" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestActivityFailureDoesNotFailRequest(t *testing.T) {
	s := newTestServer(t)
	s.activity.err = errors.New("redis down")
	session := s.register(t, "ann@example.com", "Ann")

	if rec := s.do(http.MethodGet, "/api/user", "", session.Token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var warned bool
	for _, entry := range s.hook.AllEntries() {
		if entry.Level == log.WarnLevel && entry.Message == "failed to record activity" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected activity failure to be logged")
	}
}

func TestListUsersAdminOnly(t *testing.T) {
	s := newTestServer(t, "boss@example.com")
	admin := s.register(t, "boss@example.com", "Boss")
	user := s.register(t, "ann@example.com", "Ann")

	if rec := s.do(http.MethodGet, "/api/users", "", user.Token); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/users", "", admin.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp usersResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(resp.Users))
	}
}

func TestGetTasksAndStatsScopedToCaller(t *testing.T) {
	s := newTestServer(t)
	ann := s.register(t, "ann@example.com", "Ann")
	bob := s.register(t, "bob@example.com", "Bob")

	s.tasks.Create(domain.TaskDraft{Title: "a1", Column: "done", Priority: "high"}, ann.User.ID)
	s.tasks.Create(domain.TaskDraft{Title: "a2", Column: "todo", Priority: "low"}, ann.User.ID)
	s.tasks.Create(domain.TaskDraft{Title: "b1", Column: "todo"}, bob.User.ID)

	rec := s.do(http.MethodGet, "/api/tasks", "", ann.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("expected 2 visible tasks, got %d", len(resp.Tasks))
	}
	for _, task := range resp.Tasks {
		if task.UserID != ann.User.ID {
			t.Fatalf("leaked task %+v", task)
		}
	}

	rec = s.do(http.MethodGet, "/api/stats", "", ann.Token)
	var stats domain.Stats
	if err := sonic.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if stats.Total != 2 || stats.Completed != 1 || stats.CompletionRate != 50 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	s.tasks.Seed(storage.DemoTasks(time.Now()))

	rec := s.do(http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Status != "ok" || resp.Connections != 2 || resp.Tasks != 3 {
		t.Fatalf("unexpected health: %+v", resp)
	}
}
